package mcp_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"screenshare/mcp"
)

type mockPromptServer struct{}

func (mockPromptServer) ListPrompts(
	_ context.Context,
	_ mcp.ListPromptsParams,
	_ mcp.ProgressReporter,
	_ mcp.RequestClientFunc,
) (mcp.ListPromptResult, error) {
	return mcp.ListPromptResult{
		Prompts: []mcp.Prompt{
			{Name: "greeting", Description: "A simple greeting"},
			{Name: "review", Description: "Review something", Arguments: []mcp.PromptArgument{
				{Name: "focus", Description: "What to focus on"},
			}},
		},
	}, nil
}

func (mockPromptServer) GetPrompt(
	_ context.Context,
	params mcp.GetPromptParams,
	_ mcp.ProgressReporter,
	_ mcp.RequestClientFunc,
) (mcp.GetPromptResult, error) {
	if params.Name != "greeting" && params.Name != "review" {
		return mcp.GetPromptResult{}, fmt.Errorf("prompt not found: %s", params.Name)
	}
	return mcp.GetPromptResult{
		Description: params.Name,
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.Content{
					Type: mcp.ContentTypeText,
					Text: "prompt: " + params.Name,
				},
			},
		},
	}, nil
}

func (mockPromptServer) CompletesPrompt(
	_ context.Context,
	params mcp.CompletesCompletionParams,
	_ mcp.RequestClientFunc,
) (mcp.CompletionResult, error) {
	var result mcp.CompletionResult
	for _, v := range []string{"terminal", "editor"} {
		if params.Argument.Value == "" || v[0] == params.Argument.Value[0] {
			result.Completion.Values = append(result.Completion.Values, v)
		}
	}
	return result, nil
}

type mockResourceServer struct{}

func (mockResourceServer) ListResources(
	_ context.Context,
	_ mcp.ListResourcesParams,
	_ mcp.ProgressReporter,
	_ mcp.RequestClientFunc,
) (mcp.ListResourcesResult, error) {
	return mcp.ListResourcesResult{
		Resources: []mcp.Resource{
			{URI: "test://res/1", Name: "res1", MimeType: "text/plain"},
		},
	}, nil
}

func (mockResourceServer) ReadResource(
	_ context.Context,
	params mcp.ReadResourceParams,
	_ mcp.ProgressReporter,
	_ mcp.RequestClientFunc,
) (mcp.ReadResourceResult, error) {
	if params.URI != "test://res/1" {
		return mcp.ReadResourceResult{}, fmt.Errorf("resource not found: %s", params.URI)
	}
	return mcp.ReadResourceResult{
		Contents: []mcp.ResourceContents{
			{URI: params.URI, MimeType: "text/plain", Text: "hello"},
		},
	}, nil
}

type mockResourceSubscriptionHandler struct {
	mu         sync.Mutex
	subscribed []string
	updates    chan string
}

func (h *mockResourceSubscriptionHandler) SubscribeResource(params mcp.SubscribeResourceParams) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subscribed = append(h.subscribed, params.URI)
}

func (h *mockResourceSubscriptionHandler) UnsubscribeResource(params mcp.UnsubscribeResourceParams) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, uri := range h.subscribed {
		if uri == params.URI {
			h.subscribed = append(h.subscribed[:i], h.subscribed[i+1:]...)
			return
		}
	}
}

func (h *mockResourceSubscriptionHandler) SubscribedResourceUpdates() iter.Seq[string] {
	return func(yield func(string) bool) {
		for uri := range h.updates {
			if !yield(uri) {
				return
			}
		}
	}
}

type mockToolServer struct{}

func (mockToolServer) ListTools(
	_ context.Context,
	_ mcp.ListToolsParams,
	_ mcp.ProgressReporter,
	_ mcp.RequestClientFunc,
) (mcp.ListToolsResult, error) {
	return mcp.ListToolsResult{
		Tools: []mcp.Tool{
			{Name: "echo", InputSchema: json.RawMessage(`{"type":"object"}`)},
			{Name: "sample", InputSchema: json.RawMessage(`{"type":"object"}`)},
		},
	}, nil
}

func (mockToolServer) CallTool(
	_ context.Context,
	params mcp.CallToolParams,
	progress mcp.ProgressReporter,
	requestClient mcp.RequestClientFunc,
) (mcp.CallToolResult, error) {
	switch params.Name {
	case "echo":
		var args struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(params.Arguments, &args); err != nil {
			return mcp.CallToolResult{}, err
		}
		if params.Meta.ProgressToken != "" {
			progress(mcp.ProgressParams{
				ProgressToken: params.Meta.ProgressToken,
				Progress:      1,
				Total:         1,
			})
		}
		return mcp.CallToolResult{
			Content: []mcp.Content{{Type: mcp.ContentTypeText, Text: args.Text}},
		}, nil
	case "sample":
		samplingParams := mcp.SamplingParams{
			Messages: []mcp.SamplingMessage{
				{
					Role:    mcp.RoleUser,
					Content: mcp.SamplingContent{Type: mcp.ContentTypeText, Text: "describe"},
				},
			},
			MaxTokens: 100,
		}
		paramsBs, err := json.Marshal(samplingParams)
		if err != nil {
			return mcp.CallToolResult{}, err
		}
		res, err := requestClient(mcp.JSONRPCMessage{
			JSONRPC: mcp.JSONRPCVersion,
			Method:  mcp.MethodSamplingCreateMessage,
			Params:  paramsBs,
		})
		if err != nil {
			return mcp.CallToolResult{}, err
		}
		if res.Error != nil {
			return mcp.CallToolResult{}, res.Error
		}
		var samplingResult mcp.SamplingResult
		if err := json.Unmarshal(res.Result, &samplingResult); err != nil {
			return mcp.CallToolResult{}, err
		}
		return mcp.CallToolResult{
			Content: []mcp.Content{{Type: mcp.ContentTypeText, Text: samplingResult.Content.Text}},
		}, nil
	default:
		return mcp.CallToolResult{}, fmt.Errorf("tool not found: %s", params.Name)
	}
}

type mockLogHandler struct {
	mu    sync.Mutex
	level mcp.LogLevel
	logs  chan mcp.LogParams
}

func (h *mockLogHandler) LogStreams() iter.Seq[mcp.LogParams] {
	return func(yield func(mcp.LogParams) bool) {
		for params := range h.logs {
			if !yield(params) {
				return
			}
		}
	}
}

func (h *mockLogHandler) SetLogLevel(level mcp.LogLevel) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.level = level
}

func (h *mockLogHandler) logLevel() mcp.LogLevel {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.level
}

type mockSamplingHandler struct{}

func (mockSamplingHandler) CreateSampleMessage(_ context.Context, _ mcp.SamplingParams) (mcp.SamplingResult, error) {
	return mcp.SamplingResult{
		Role: mcp.RoleAssistant,
		Content: mcp.SamplingContent{
			Type: mcp.ContentTypeText,
			Text: "sampled response",
		},
		Model:      "test-model",
		StopReason: "endTurn",
	}, nil
}

type mockResourceSubscribedWatcher struct {
	uris chan string
}

func (w mockResourceSubscribedWatcher) OnResourceSubscribedChanged(uri string) {
	select {
	case w.uris <- uri:
	default:
	}
}

type mockProgressListener struct {
	params chan mcp.ProgressParams
}

func (l mockProgressListener) OnProgress(params mcp.ProgressParams) {
	select {
	case l.params <- params:
	default:
	}
}

type mockLogReceiver struct {
	params chan mcp.LogParams
}

func (r mockLogReceiver) OnLog(params mcp.LogParams) {
	select {
	case r.params <- params:
	default:
	}
}

type testFixture struct {
	client       *mcp.Client
	subscription *mockResourceSubscriptionHandler
	logHandler   *mockLogHandler

	subscribedURIs chan string
	progress       chan mcp.ProgressParams
	logs           chan mcp.LogParams
}

// setupFixture wires a full server and client over the named transport, waits for the
// handshake to finish, and registers a cleanup that tears both down.
func setupFixture(t *testing.T, transportName string) testFixture {
	t.Helper()

	subscription := &mockResourceSubscriptionHandler{updates: make(chan string)}
	logHandler := &mockLogHandler{logs: make(chan mcp.LogParams)}

	subscribedURIs := make(chan string, 5)
	progress := make(chan mcp.ProgressParams, 5)
	logs := make(chan mcp.LogParams, 5)

	var serverTransport mcp.ServerTransport
	var clientTransport mcp.ClientTransport

	switch transportName {
	case "StdIO":
		clientReader, serverWriter := io.Pipe()
		serverReader, clientWriter := io.Pipe()
		serverTransport = mcp.NewStdIO(serverReader, serverWriter)
		clientTransport = mcp.NewStdIO(clientReader, clientWriter)
	case "SSE":
		mux := http.NewServeMux()
		httpSrv := httptest.NewServer(mux)
		t.Cleanup(httpSrv.Close)

		sseServer := mcp.NewSSEServer(httpSrv.URL + "/message")
		mux.Handle("/sse", sseServer.HandleSSE())
		mux.Handle("/message", sseServer.HandleMessage())

		serverTransport = sseServer
		clientTransport = mcp.NewSSEClient(httpSrv.URL+"/sse", httpSrv.Client())
	default:
		t.Fatalf("unknown transport: %s", transportName)
	}

	srv := mcp.NewServer(mcp.Info{Name: "test-server", Version: "1.0"}, serverTransport,
		mcp.WithPromptServer(mockPromptServer{}),
		mcp.WithResourceServer(mockResourceServer{}),
		mcp.WithResourceSubscriptionHandler(subscription),
		mcp.WithToolServer(mockToolServer{}),
		mcp.WithLogHandler(logHandler),
	)
	go srv.Serve()

	cli := mcp.NewClient(mcp.Info{Name: "test-client", Version: "1.0"}, clientTransport,
		mcp.WithSamplingHandler(mockSamplingHandler{}),
		mcp.WithResourceSubscribedWatcher(mockResourceSubscribedWatcher{uris: subscribedURIs}),
		mcp.WithProgressListener(mockProgressListener{params: progress}),
		mcp.WithLogReceiver(mockLogReceiver{params: logs}),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := cli.Connect(ctx); err != nil {
		t.Fatalf("failed to connect client: %v", err)
	}

	t.Cleanup(func() {
		cli.Close()
		close(subscription.updates)
		close(logHandler.logs)

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			t.Errorf("failed to shutdown server: %v", err)
		}
	})

	return testFixture{
		client:         cli,
		subscription:   subscription,
		logHandler:     logHandler,
		subscribedURIs: subscribedURIs,
		progress:       progress,
		logs:           logs,
	}
}

func runOverTransports(t *testing.T, fn func(t *testing.T, f testFixture)) {
	for _, transportName := range []string{"StdIO", "SSE"} {
		t.Run(transportName, func(t *testing.T) {
			fn(t, setupFixture(t, transportName))
		})
	}
}

func TestInitialize(t *testing.T) {
	runOverTransports(t, func(t *testing.T, f testFixture) {
		if f.client.ServerInfo().Name != "test-server" {
			t.Errorf("unexpected server name: %s", f.client.ServerInfo().Name)
		}
		if !f.client.PromptServerSupported() {
			t.Error("expected prompts to be supported")
		}
		if !f.client.ResourceServerSupported() {
			t.Error("expected resources to be supported")
		}
		if !f.client.ToolServerSupported() {
			t.Error("expected tools to be supported")
		}
		if !f.client.LoggingServerSupported() {
			t.Error("expected logging to be supported")
		}
	})
}

func TestPrompts(t *testing.T) {
	runOverTransports(t, func(t *testing.T, f testFixture) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		listResult, err := f.client.ListPrompts(ctx, mcp.ListPromptsParams{})
		if err != nil {
			t.Fatalf("failed to list prompts: %v", err)
		}
		if len(listResult.Prompts) != 2 {
			t.Fatalf("unexpected prompt count: %d", len(listResult.Prompts))
		}

		getResult, err := f.client.GetPrompt(ctx, mcp.GetPromptParams{Name: "greeting"})
		if err != nil {
			t.Fatalf("failed to get prompt: %v", err)
		}
		if len(getResult.Messages) != 1 || getResult.Messages[0].Content.Text != "prompt: greeting" {
			t.Errorf("unexpected prompt messages: %+v", getResult.Messages)
		}

		if _, err := f.client.GetPrompt(ctx, mcp.GetPromptParams{Name: "nonexistent"}); err == nil {
			t.Error("expected error for unknown prompt")
		}

		completionResult, err := f.client.CompletesPrompt(ctx, mcp.CompletesCompletionParams{
			Ref:      mcp.CompletionRef{Type: mcp.CompletionRefPrompt, Name: "review"},
			Argument: mcp.CompletionArgument{Name: "focus", Value: "t"},
		})
		if err != nil {
			t.Fatalf("failed to complete prompt: %v", err)
		}
		if len(completionResult.Completion.Values) != 1 || completionResult.Completion.Values[0] != "terminal" {
			t.Errorf("unexpected completion values: %v", completionResult.Completion.Values)
		}
	})
}

func TestResources(t *testing.T) {
	runOverTransports(t, func(t *testing.T, f testFixture) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		listResult, err := f.client.ListResources(ctx, mcp.ListResourcesParams{})
		if err != nil {
			t.Fatalf("failed to list resources: %v", err)
		}
		if len(listResult.Resources) != 1 || listResult.Resources[0].URI != "test://res/1" {
			t.Fatalf("unexpected resources: %+v", listResult.Resources)
		}

		readResult, err := f.client.ReadResource(ctx, mcp.ReadResourceParams{URI: "test://res/1"})
		if err != nil {
			t.Fatalf("failed to read resource: %v", err)
		}
		if len(readResult.Contents) != 1 || readResult.Contents[0].Text != "hello" {
			t.Errorf("unexpected resource contents: %+v", readResult.Contents)
		}

		if _, err := f.client.ReadResource(ctx, mcp.ReadResourceParams{URI: "test://res/2"}); err == nil {
			t.Error("expected error for unknown resource")
		}
	})
}

func TestResourceSubscription(t *testing.T) {
	runOverTransports(t, func(t *testing.T, f testFixture) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := f.client.SubscribeResource(ctx, mcp.SubscribeResourceParams{URI: "test://res/1"}); err != nil {
			t.Fatalf("failed to subscribe resource: %v", err)
		}

		// Trigger an update through the subscription handler and expect the watcher to
		// receive the notification.
		f.subscription.updates <- "test://res/1"

		select {
		case uri := <-f.subscribedURIs:
			if uri != "test://res/1" {
				t.Errorf("unexpected updated resource URI: %s", uri)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("timeout waiting for resource updated notification")
		}

		if err := f.client.UnsubscribeResource(ctx, mcp.UnsubscribeResourceParams{URI: "test://res/1"}); err != nil {
			t.Fatalf("failed to unsubscribe resource: %v", err)
		}
	})
}

func TestTools(t *testing.T) {
	runOverTransports(t, func(t *testing.T, f testFixture) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		listResult, err := f.client.ListTools(ctx, mcp.ListToolsParams{})
		if err != nil {
			t.Fatalf("failed to list tools: %v", err)
		}
		if len(listResult.Tools) != 2 {
			t.Fatalf("unexpected tool count: %d", len(listResult.Tools))
		}

		callResult, err := f.client.CallTool(ctx, mcp.CallToolParams{
			Name:      "echo",
			Arguments: json.RawMessage(`{"text":"hello tools"}`),
		})
		if err != nil {
			t.Fatalf("failed to call tool: %v", err)
		}
		if callResult.IsError {
			t.Fatalf("unexpected tool error: %+v", callResult.Content)
		}
		if len(callResult.Content) != 1 || callResult.Content[0].Text != "hello tools" {
			t.Errorf("unexpected tool result: %+v", callResult.Content)
		}

		// Unknown tools surface as isError results, not protocol errors.
		errResult, err := f.client.CallTool(ctx, mcp.CallToolParams{
			Name:      "bogus",
			Arguments: json.RawMessage(`{}`),
		})
		if err != nil {
			t.Fatalf("failed to call tool: %v", err)
		}
		if !errResult.IsError {
			t.Error("expected isError result for unknown tool")
		}
	})
}

func TestManyRequestsOneSession(t *testing.T) {
	f := setupFixture(t, "StdIO")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// A stdio session serves every request of the server's lifetime, so each one must
	// complete and clean up independently.
	for i := 0; i < 50; i++ {
		result, err := f.client.CallTool(ctx, mcp.CallToolParams{
			Name:      "echo",
			Arguments: json.RawMessage(fmt.Sprintf(`{"text":"call %d"}`, i)),
		})
		if err != nil {
			t.Fatalf("call %d failed: %v", i, err)
		}
		if result.IsError || len(result.Content) != 1 {
			t.Fatalf("call %d returned unexpected result: %+v", i, result)
		}
		if want := fmt.Sprintf("call %d", i); result.Content[0].Text != want {
			t.Fatalf("call %d echoed %q, want %q", i, result.Content[0].Text, want)
		}
	}
}

func TestToolSampling(t *testing.T) {
	runOverTransports(t, func(t *testing.T, f testFixture) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		callResult, err := f.client.CallTool(ctx, mcp.CallToolParams{
			Name:      "sample",
			Arguments: json.RawMessage(`{}`),
		})
		if err != nil {
			t.Fatalf("failed to call tool: %v", err)
		}
		if callResult.IsError {
			t.Fatalf("unexpected tool error: %+v", callResult.Content)
		}
		if len(callResult.Content) != 1 || callResult.Content[0].Text != "sampled response" {
			t.Errorf("unexpected sampling round-trip result: %+v", callResult.Content)
		}
	})
}

func TestToolProgress(t *testing.T) {
	runOverTransports(t, func(t *testing.T, f testFixture) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_, err := f.client.CallTool(ctx, mcp.CallToolParams{
			Name:      "echo",
			Arguments: json.RawMessage(`{"text":"with progress"}`),
			Meta:      mcp.ParamsMeta{ProgressToken: "tok-1"},
		})
		if err != nil {
			t.Fatalf("failed to call tool: %v", err)
		}

		select {
		case params := <-f.progress:
			if params.ProgressToken != "tok-1" {
				t.Errorf("unexpected progress token: %s", params.ProgressToken)
			}
			if params.Progress != 1 || params.Total != 1 {
				t.Errorf("unexpected progress values: %+v", params)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("timeout waiting for progress notification")
		}
	})
}

func TestLogging(t *testing.T) {
	runOverTransports(t, func(t *testing.T, f testFixture) {
		if err := f.client.SetLogLevel(mcp.LogLevelWarning); err != nil {
			t.Fatalf("failed to set log level: %v", err)
		}

		// SetLogLevel has no response, poll until the server applied it.
		deadline := time.Now().Add(5 * time.Second)
		for f.logHandler.logLevel() != mcp.LogLevelWarning {
			if time.Now().After(deadline) {
				t.Fatal("timeout waiting for log level to be applied")
			}
			time.Sleep(10 * time.Millisecond)
		}

		f.logHandler.logs <- mcp.LogParams{
			Level:  mcp.LogLevelError,
			Logger: "test",
			Data:   json.RawMessage(`{"message":"boom"}`),
		}

		select {
		case params := <-f.logs:
			if params.Logger != "test" {
				t.Errorf("unexpected logger name: %s", params.Logger)
			}
			if params.Level != mcp.LogLevelError {
				t.Errorf("unexpected log level: %v", params.Level)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("timeout waiting for log notification")
		}
	})
}
