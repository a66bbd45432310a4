package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// ClientOption is a function that configures a client.
type ClientOption func(*Client)

// Client implements a Model Context Protocol (MCP) client that enables communication
// between LLM applications and external data sources and tools. It manages the
// connection lifecycle, handles protocol messages, and provides access to MCP
// server capabilities.
//
// The client supports various server interactions including prompt management,
// resource handling, tool execution, and logging. It maintains session state and
// provides automatic connection health monitoring through periodic pings.
//
// A Client must be created using NewClient() and requires Connect() to be called
// before any operations can be performed. The client should be properly closed
// using Close() when it's no longer needed.
type Client struct {
	capabilities       ClientCapabilities
	info               Info
	serverInfo         Info
	serverCapabilities ServerCapabilities
	transport          ClientTransport
	session            Session

	samplingHandler SamplingHandler

	promptListWatcher PromptListWatcher

	resourceListWatcher       ResourceListWatcher
	resourceSubscribedWatcher ResourceSubscribedWatcher

	toolListWatcher ToolListWatcher

	progressListener ProgressListener
	logReceiver      LogReceiver

	writeTimeout         time.Duration
	readTimeout          time.Duration
	pingInterval         time.Duration
	pingTimeoutThreshold int

	initialized bool
	logger      *slog.Logger

	closeCtx    context.Context
	closeCancel context.CancelFunc

	waitForResults chan waitForResultReq
	results        chan JSONRPCMessage
}

type waitForResultReq struct {
	msgID   string
	resChan chan<- chan JSONRPCMessage
}

var (
	defaultClientWriteTimeout = 30 * time.Second
	defaultClientReadTimeout  = 30 * time.Second
	defaultClientPingInterval = 30 * time.Second

	defaultClientPingTimeoutThreshold = 3
)

// WithSamplingHandler sets the sampling handler for the client. When set, the client
// advertises the sampling capability and answers sampling/createMessage requests from
// the server with it.
func WithSamplingHandler(handler SamplingHandler) ClientOption {
	return func(c *Client) {
		c.samplingHandler = handler
	}
}

// WithPromptListWatcher sets the prompt list watcher for the client.
func WithPromptListWatcher(watcher PromptListWatcher) ClientOption {
	return func(c *Client) {
		c.promptListWatcher = watcher
	}
}

// WithResourceListWatcher sets the resource list watcher for the client.
func WithResourceListWatcher(watcher ResourceListWatcher) ClientOption {
	return func(c *Client) {
		c.resourceListWatcher = watcher
	}
}

// WithResourceSubscribedWatcher sets the resource subscribe watcher for the client.
func WithResourceSubscribedWatcher(watcher ResourceSubscribedWatcher) ClientOption {
	return func(c *Client) {
		c.resourceSubscribedWatcher = watcher
	}
}

// WithToolListWatcher sets the tool list watcher for the client.
func WithToolListWatcher(watcher ToolListWatcher) ClientOption {
	return func(c *Client) {
		c.toolListWatcher = watcher
	}
}

// WithProgressListener sets the progress listener for the client.
func WithProgressListener(listener ProgressListener) ClientOption {
	return func(c *Client) {
		c.progressListener = listener
	}
}

// WithLogReceiver sets the log receiver for the client.
func WithLogReceiver(receiver LogReceiver) ClientOption {
	return func(c *Client) {
		c.logReceiver = receiver
	}
}

// WithClientWriteTimeout sets the write timeout for the client.
func WithClientWriteTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.writeTimeout = timeout
	}
}

// WithClientReadTimeout sets the read timeout for the client.
func WithClientReadTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.readTimeout = timeout
	}
}

// WithClientPingInterval sets the ping interval for the client.
func WithClientPingInterval(interval time.Duration) ClientOption {
	return func(c *Client) {
		c.pingInterval = interval
	}
}

// WithClientPingTimeoutThreshold sets the ping timeout threshold for the client.
// If the number of consecutive ping timeouts exceeds the threshold, the client will close the session.
func WithClientPingTimeoutThreshold(threshold int) ClientOption {
	return func(c *Client) {
		c.pingTimeoutThreshold = threshold
	}
}

// WithClientLogger sets the logger for the client.
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger.With(
			slog.String("package", "mcp"),
			slog.String("component", "client"),
		)
	}
}

// NewClient creates a new Model Context Protocol (MCP) client with the specified configuration.
//
// The info parameter provides client identification and version information. The transport
// parameter defines how the client communicates with the server.
//
// Optional client behaviors can be configured through ClientOption functions. These include
// handlers for sampling, resource management, tool operations, progress tracking, and
// logging. Timeouts and intervals can also be configured through options.
//
// The client will not be connected until Connect() is called. After creation, use
// Connect() to establish the session with the server and initialize the protocol.
func NewClient(
	info Info,
	transport ClientTransport,
	options ...ClientOption,
) *Client {
	c := &Client{
		info:           info,
		transport:      transport,
		logger:         slog.Default(),
		waitForResults: make(chan waitForResultReq, 10),
		results:        make(chan JSONRPCMessage),
	}
	for _, opt := range options {
		opt(c)
	}

	if c.writeTimeout == 0 {
		c.writeTimeout = defaultClientWriteTimeout
	}
	if c.readTimeout == 0 {
		c.readTimeout = defaultClientReadTimeout
	}
	if c.pingInterval == 0 {
		c.pingInterval = defaultClientPingInterval
	}
	if c.pingTimeoutThreshold == 0 {
		c.pingTimeoutThreshold = defaultClientPingTimeoutThreshold
	}

	c.capabilities = ClientCapabilities{}

	if c.samplingHandler != nil {
		c.capabilities.Sampling = &SamplingCapability{}
	}

	return c
}

// Connect establishes a session with the MCP server and initializes the protocol handshake.
// It starts background routines for message handling and server health checks through
// periodic pings.
//
// The initialization process verifies protocol version compatibility; if the versions do
// not match, Connect returns an error.
//
// Connect must be called after creating a new client and before making any other client
// method calls. It blocks until the handshake completes, the context is cancelled, or the
// session fails to establish.
func (c *Client) Connect(ctx context.Context) error {
	sess, err := c.transport.StartSession(ctx)
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	c.session = sess
	c.closeCtx, c.closeCancel = context.WithCancel(context.Background())

	initMsgID := uuid.New().String()
	ready := make(chan error, 1)

	// The listener must run before the initialize request goes out, so the response is
	// not missed.
	go c.listenMessages(initMsgID, ready)

	if err := c.sendInitialize(ctx, MustString(initMsgID)); err != nil {
		c.closeCancel()
		return fmt.Errorf("failed to send initialize request: %w", err)
	}

	select {
	case <-ctx.Done():
		c.closeCancel()
		return ctx.Err()
	case err := <-ready:
		if err != nil {
			c.closeCancel()
			return err
		}
	}

	return nil
}

// Close shuts down the client by stopping the session and the background routines.
func (c *Client) Close() {
	if c.closeCancel != nil {
		c.closeCancel()
	}
	if c.session != nil {
		c.session.Stop()
	}
}

// ListPrompts retrieves a paginated list of available prompts from the server.
// It returns a ListPromptResult containing prompt metadata and pagination information.
//
// See ListPromptsParams for details on available parameters including cursor for pagination
// and optional progress tracking.
func (c *Client) ListPrompts(ctx context.Context, params ListPromptsParams) (ListPromptResult, error) {
	if !c.initialized {
		return ListPromptResult{}, errors.New("client not initialized")
	}
	if c.serverCapabilities.Prompts == nil {
		return ListPromptResult{}, errors.New("prompts not supported by server")
	}

	paramsBs, err := json.Marshal(params)
	if err != nil {
		return ListPromptResult{}, fmt.Errorf("failed to marshal params: %w", err)
	}
	res, err := c.sendRequest(ctx, JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		Method:  MethodPromptsList,
		Params:  paramsBs,
	})
	if err != nil {
		return ListPromptResult{}, err
	}

	if res.Error != nil {
		return ListPromptResult{}, fmt.Errorf("result error: %w", res.Error)
	}

	var result ListPromptResult
	if err := json.Unmarshal(res.Result, &result); err != nil {
		return ListPromptResult{}, err
	}

	return result, nil
}

// GetPrompt retrieves a specific prompt by name with the given arguments.
// It returns a GetPromptResult containing the prompt's content and metadata.
//
// See GetPromptParams for details on available parameters including prompt name,
// arguments, and optional progress tracking.
func (c *Client) GetPrompt(ctx context.Context, params GetPromptParams) (GetPromptResult, error) {
	if !c.initialized {
		return GetPromptResult{}, errors.New("client not initialized")
	}
	if c.serverCapabilities.Prompts == nil {
		return GetPromptResult{}, errors.New("prompts not supported by server")
	}

	paramsBs, err := json.Marshal(params)
	if err != nil {
		return GetPromptResult{}, fmt.Errorf("failed to marshal params: %w", err)
	}
	res, err := c.sendRequest(ctx, JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		Method:  MethodPromptsGet,
		Params:  paramsBs,
	})
	if err != nil {
		return GetPromptResult{}, err
	}

	if res.Error != nil {
		return GetPromptResult{}, fmt.Errorf("result error: %w", res.Error)
	}

	var result GetPromptResult
	if err := json.Unmarshal(res.Result, &result); err != nil {
		return GetPromptResult{}, err
	}

	return result, nil
}

// CompletesPrompt requests completion suggestions for a prompt argument.
// It returns a CompletionResult containing the completion suggestions.
//
// See CompletesCompletionParams for details on available parameters including
// completion reference and argument information.
func (c *Client) CompletesPrompt(ctx context.Context, params CompletesCompletionParams) (CompletionResult, error) {
	if !c.initialized {
		return CompletionResult{}, errors.New("client not initialized")
	}
	if c.serverCapabilities.Prompts == nil {
		return CompletionResult{}, errors.New("prompts not supported by server")
	}

	paramsBs, err := json.Marshal(params)
	if err != nil {
		return CompletionResult{}, fmt.Errorf("failed to marshal params: %w", err)
	}
	res, err := c.sendRequest(ctx, JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		Method:  MethodCompletionComplete,
		Params:  paramsBs,
	})
	if err != nil {
		return CompletionResult{}, err
	}

	if res.Error != nil {
		return CompletionResult{}, fmt.Errorf("result error: %w", res.Error)
	}

	var result CompletionResult
	if err := json.Unmarshal(res.Result, &result); err != nil {
		return CompletionResult{}, err
	}

	return result, nil
}

// ListResources retrieves a paginated list of available resources from the server.
// It returns a ListResourcesResult containing resource metadata and pagination information.
//
// See ListResourcesParams for details on available parameters including cursor for
// pagination and optional progress tracking.
func (c *Client) ListResources(ctx context.Context, params ListResourcesParams) (ListResourcesResult, error) {
	if !c.initialized {
		return ListResourcesResult{}, errors.New("client not initialized")
	}
	if c.serverCapabilities.Resources == nil {
		return ListResourcesResult{}, errors.New("resources not supported by server")
	}

	paramsBs, err := json.Marshal(params)
	if err != nil {
		return ListResourcesResult{}, fmt.Errorf("failed to marshal params: %w", err)
	}
	res, err := c.sendRequest(ctx, JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		Method:  MethodResourcesList,
		Params:  paramsBs,
	})
	if err != nil {
		return ListResourcesResult{}, err
	}

	if res.Error != nil {
		return ListResourcesResult{}, fmt.Errorf("result error: %w", res.Error)
	}

	var result ListResourcesResult
	if err := json.Unmarshal(res.Result, &result); err != nil {
		return ListResourcesResult{}, err
	}

	return result, nil
}

// ReadResource retrieves the content and metadata of a specific resource.
// It returns a ReadResourceResult containing the resource's content and MIME type.
//
// See ReadResourceParams for details on available parameters including resource URI
// and optional progress tracking.
func (c *Client) ReadResource(ctx context.Context, params ReadResourceParams) (ReadResourceResult, error) {
	if !c.initialized {
		return ReadResourceResult{}, errors.New("client not initialized")
	}
	if c.serverCapabilities.Resources == nil {
		return ReadResourceResult{}, errors.New("resources not supported by server")
	}

	paramsBs, err := json.Marshal(params)
	if err != nil {
		return ReadResourceResult{}, fmt.Errorf("failed to marshal params: %w", err)
	}
	res, err := c.sendRequest(ctx, JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		Method:  MethodResourcesRead,
		Params:  paramsBs,
	})
	if err != nil {
		return ReadResourceResult{}, err
	}

	if res.Error != nil {
		return ReadResourceResult{}, fmt.Errorf("result error: %w", res.Error)
	}

	var result ReadResourceResult
	if err := json.Unmarshal(res.Result, &result); err != nil {
		return ReadResourceResult{}, err
	}

	return result, nil
}

// SubscribeResource registers the client for notifications about changes to a specific resource.
// When the resource is modified, the client will receive notifications through the
// ResourceSubscribedWatcher interface if one was set using WithResourceSubscribedWatcher.
//
// See SubscribeResourceParams for details on available parameters including resource URI.
func (c *Client) SubscribeResource(ctx context.Context, params SubscribeResourceParams) error {
	if !c.initialized {
		return errors.New("client not initialized")
	}
	if c.serverCapabilities.Resources == nil {
		return errors.New("resources not supported by server")
	}

	paramsBs, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to marshal params: %w", err)
	}
	res, err := c.sendRequest(ctx, JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		Method:  MethodResourcesSubscribe,
		Params:  paramsBs,
	})
	if err != nil {
		return err
	}

	if res.Error != nil {
		return fmt.Errorf("result error: %w", res.Error)
	}

	return nil
}

// UnsubscribeResource unregisters the client for notifications about changes to a specific resource.
func (c *Client) UnsubscribeResource(ctx context.Context, params UnsubscribeResourceParams) error {
	if !c.initialized {
		return errors.New("client not initialized")
	}
	if c.serverCapabilities.Resources == nil {
		return errors.New("resources not supported by server")
	}

	paramsBs, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to marshal params: %w", err)
	}
	res, err := c.sendRequest(ctx, JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		Method:  MethodResourcesUnsubscribe,
		Params:  paramsBs,
	})
	if err != nil {
		return err
	}

	if res.Error != nil {
		return fmt.Errorf("result error: %w", res.Error)
	}

	return nil
}

// ListTools retrieves a paginated list of available tools from the server.
// It returns a ListToolsResult containing tool metadata and pagination information.
//
// See ListToolsParams for details on available parameters including cursor for
// pagination and optional progress tracking.
func (c *Client) ListTools(ctx context.Context, params ListToolsParams) (ListToolsResult, error) {
	if !c.initialized {
		return ListToolsResult{}, errors.New("client not initialized")
	}
	if c.serverCapabilities.Tools == nil {
		return ListToolsResult{}, errors.New("tools not supported by server")
	}

	paramsBs, err := json.Marshal(params)
	if err != nil {
		return ListToolsResult{}, fmt.Errorf("failed to marshal params: %w", err)
	}
	res, err := c.sendRequest(ctx, JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		Method:  MethodToolsList,
		Params:  paramsBs,
	})
	if err != nil {
		return ListToolsResult{}, err
	}

	if res.Error != nil {
		return ListToolsResult{}, fmt.Errorf("result error: %w", res.Error)
	}

	var result ListToolsResult
	if err := json.Unmarshal(res.Result, &result); err != nil {
		return ListToolsResult{}, err
	}

	return result, nil
}

// CallTool executes a specific tool and returns its result.
// It provides a way to invoke server-side tools that can perform specialized operations.
//
// See CallToolParams for details on available parameters including tool name,
// arguments, and optional progress tracking.
func (c *Client) CallTool(ctx context.Context, params CallToolParams) (CallToolResult, error) {
	if !c.initialized {
		return CallToolResult{}, errors.New("client not initialized")
	}
	if c.serverCapabilities.Tools == nil {
		return CallToolResult{}, errors.New("tools not supported by server")
	}

	paramsBs, err := json.Marshal(params)
	if err != nil {
		return CallToolResult{}, fmt.Errorf("failed to marshal params: %w", err)
	}
	res, err := c.sendRequest(ctx, JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		Method:  MethodToolsCall,
		Params:  paramsBs,
	})
	if err != nil {
		return CallToolResult{}, err
	}

	if res.Error != nil {
		return CallToolResult{}, fmt.Errorf("result error: %w", res.Error)
	}

	var result CallToolResult
	if err := json.Unmarshal(res.Result, &result); err != nil {
		return CallToolResult{}, err
	}

	return result, nil
}

// SetLogLevel configures the logging level for the MCP server.
// It allows dynamic adjustment of the server's logging verbosity during runtime.
//
// The level parameter specifies the desired logging level. Valid levels are defined
// by the LogLevel type. The server will adjust its logging output to match the
// requested level.
func (c *Client) SetLogLevel(level LogLevel) error {
	if !c.initialized {
		return errors.New("client not initialized")
	}
	if c.serverCapabilities.Logging == nil {
		return errors.New("logging not supported by server")
	}

	params := LogParams{
		Level: level,
	}
	paramsBs, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to marshal params: %w", err)
	}

	sCtx, sCancel := context.WithTimeout(context.Background(), c.writeTimeout)
	defer sCancel()

	return c.session.Send(sCtx, JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		Method:  MethodLoggingSetLevel,
		Params:  paramsBs,
	})
}

// ServerInfo returns the server's info.
func (c *Client) ServerInfo() Info {
	return c.serverInfo
}

// PromptServerSupported returns true if the server supports prompt management.
func (c *Client) PromptServerSupported() bool {
	return c.serverCapabilities.Prompts != nil
}

// ResourceServerSupported returns true if the server supports resource management.
func (c *Client) ResourceServerSupported() bool {
	return c.serverCapabilities.Resources != nil
}

// ToolServerSupported returns true if the server supports tool management.
func (c *Client) ToolServerSupported() bool {
	return c.serverCapabilities.Tools != nil
}

// LoggingServerSupported returns true if the server supports logging.
func (c *Client) LoggingServerSupported() bool {
	return c.serverCapabilities.Logging != nil
}

func (c *Client) start(ctx context.Context) {
	pingTicker := time.NewTicker(c.pingInterval)
	failedPings := 0

	// waitForResults tracks pending requests awaiting responses, keyed by message ID.
	waitForResults := make(map[string]chan JSONRPCMessage)

	for {
		select {
		case <-ctx.Done():
			return
		case <-pingTicker.C:
			if err := c.ping(ctx); err != nil {
				c.logger.Error("failed to send ping", "err", err)
				failedPings++
				if failedPings > c.pingTimeoutThreshold {
					c.logger.Warn("too many ping failures, closing session")
					c.session.Stop()
					return
				}
			} else {
				failedPings = 0
			}
		case req := <-c.waitForResults:
			resChan := make(chan JSONRPCMessage)
			waitForResults[req.msgID] = resChan
			req.resChan <- resChan
		case msg := <-c.results:
			resChan, ok := waitForResults[string(msg.ID)]
			if !ok {
				continue
			}
			resChan <- msg
			delete(waitForResults, string(msg.ID))
		}
	}
}

func (c *Client) ping(ctx context.Context) error {
	wCtx, wCancel := context.WithTimeout(ctx, c.writeTimeout)
	defer wCancel()

	res, err := c.sendRequest(wCtx, JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		Method:  methodPing,
	})
	if err != nil {
		return fmt.Errorf("failed to send ping: %w", err)
	}
	if res.Error != nil {
		return fmt.Errorf("error response: %w", res.Error)
	}

	return nil
}

func (c *Client) listenMessages(initMsgID string, ready chan<- error) {
	for msg := range c.session.Messages() {
		if msg.JSONRPC != JSONRPCVersion {
			c.logger.Error("invalid jsonrpc version", "version", msg.JSONRPC)
			continue
		}

		// We handle different message types through a switch statement.
		// Server requests are processed asynchronously to prevent blocking.
		switch msg.Method {
		case methodPing:
			if err := c.sendResult(c.closeCtx, msg.ID, nil); err != nil {
				c.logger.Error("failed to handle ping", "err", err)
			}
		case MethodSamplingCreateMessage:
			go c.handleSamplingMessages(c.closeCtx, msg)
		case methodNotificationsPromptsListChanged:
			if c.promptListWatcher != nil {
				c.promptListWatcher.OnPromptListChanged()
			}
		case methodNotificationsResourcesListChanged:
			if c.resourceListWatcher != nil {
				c.resourceListWatcher.OnResourceListChanged()
			}
		case methodNotificationsResourcesUpdated:
			if c.resourceSubscribedWatcher != nil {
				var params SubscribeResourceParams
				if err := json.Unmarshal(msg.Params, &params); err != nil {
					c.logger.Error("failed to unmarshal resources subscribe params", "err", err)
					continue
				}
				c.resourceSubscribedWatcher.OnResourceSubscribedChanged(params.URI)
			}
		case methodNotificationsToolsListChanged:
			if c.toolListWatcher != nil {
				c.toolListWatcher.OnToolListChanged()
			}
		case methodNotificationsProgress:
			if c.progressListener == nil {
				continue
			}

			var params ProgressParams
			if err := json.Unmarshal(msg.Params, &params); err != nil {
				c.logger.Error("failed to unmarshal progress params", "err", err)
				continue
			}
			c.progressListener.OnProgress(params)
		case methodNotificationsMessage:
			if c.logReceiver == nil {
				continue
			}

			var params LogParams
			if err := json.Unmarshal(msg.Params, &params); err != nil {
				c.logger.Error("failed to unmarshal log params", "err", err)
				continue
			}
			c.logReceiver.OnLog(params)
		case "":
			if string(msg.ID) == initMsgID {
				if err := c.handleInitialize(c.closeCtx, msg); err != nil {
					ready <- err
					return
				}
				go c.start(c.closeCtx)
				ready <- nil
				continue
			}
			select {
			case <-c.closeCtx.Done():
				return
			case c.results <- msg:
			}
		}
	}
}

func (c *Client) sendInitialize(ctx context.Context, msgID MustString) error {
	params := initializeParams{
		ProtocolVersion: protocolVersion,
		Capabilities:    c.capabilities,
		ClientInfo:      c.info,
	}
	paramsBs, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to marshal initialize params: %w", err)
	}

	return c.session.Send(ctx, JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		ID:      msgID,
		Method:  methodInitialize,
		Params:  paramsBs,
	})
}

func (c *Client) handleInitialize(ctx context.Context, msg JSONRPCMessage) error {
	if msg.Error != nil {
		return fmt.Errorf("initialize error: %w", msg.Error)
	}

	var result initializeResult
	if err := json.Unmarshal(msg.Result, &result); err != nil {
		return fmt.Errorf("failed to unmarshal initialize result: %w", err)
	}

	if result.ProtocolVersion != protocolVersion {
		nErr := fmt.Errorf("protocol version mismatch: %s != %s", result.ProtocolVersion, protocolVersion)
		if err := c.sendError(ctx, msg.ID, JSONRPCError{
			Code:    jsonRPCInvalidParamsCode,
			Message: errMsgUnsupportedProtocolVersion,
			Data:    map[string]any{"error": nErr.Error()},
		}); err != nil {
			nErr = fmt.Errorf("%w: failed to send error on initialize: %w", nErr, err)
		}
		return nErr
	}

	c.serverInfo = result.ServerInfo
	c.serverCapabilities = result.Capabilities
	c.initialized = true

	return c.sendNotification(ctx, methodNotificationsInitialized, nil)
}

func (c *Client) handleSamplingMessages(ctx context.Context, msg JSONRPCMessage) {
	if c.samplingHandler == nil {
		// Respond with an error so the requesting server is not left waiting; it can then
		// fall back to a sampling-free result.
		if err := c.sendError(ctx, msg.ID, JSONRPCError{
			Code:    jsonRPCMethodNotFoundCode,
			Message: "sampling not supported by client",
		}); err != nil {
			c.logger.Error("failed to send error", "err", err)
		}
		return
	}

	var params SamplingParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		c.logger.Error("failed to unmarshal sampling params", "err", err)
		return
	}

	result, err := c.samplingHandler.CreateSampleMessage(ctx, params)
	if err != nil {
		if sErr := c.sendError(ctx, msg.ID, JSONRPCError{
			Code:    jsonRPCInternalErrorCode,
			Message: fmt.Errorf("failed to create sample message: %w", err).Error(),
		}); sErr != nil {
			c.logger.Error("failed to send error", "err", sErr)
		}
		return
	}

	if err := c.sendResult(ctx, msg.ID, result); err != nil {
		c.logger.Error("failed to send result", "err", err)
	}
}

func (c *Client) sendRequest(ctx context.Context, msg JSONRPCMessage) (JSONRPCMessage, error) {
	msgID := uuid.New().String()
	msg.ID = MustString(msgID)

	// We create a channel to receive the response channel, allowing for async request handling
	resChannels := make(chan chan JSONRPCMessage)
	wfrReq := waitForResultReq{
		msgID:   msgID,
		resChan: resChannels,
	}

	select {
	case <-ctx.Done():
		return JSONRPCMessage{}, errors.New("client closed")
	case c.waitForResults <- wfrReq:
	}

	results := <-resChannels

	sCtx, sCancel := context.WithTimeout(ctx, c.writeTimeout)
	defer sCancel()

	if err := c.session.Send(sCtx, msg); err != nil {
		return JSONRPCMessage{}, err
	}

	ticker := time.NewTicker(c.readTimeout)
	defer ticker.Stop()

	var resMsg JSONRPCMessage

	select {
	case <-ticker.C:
		return JSONRPCMessage{}, errors.New("request timeout")
	case <-sCtx.Done():
		err := sCtx.Err()
		if !errors.Is(err, context.Canceled) {
			return JSONRPCMessage{}, err
		}
		err = nil
		nErr := c.sendNotification(context.Background(), methodNotificationsCancelled, notificationsCancelledParams{
			RequestID: MustString(msgID),
			Reason:    userCancelledReason,
		})
		if nErr != nil {
			err = fmt.Errorf("failed to send notification: %w", nErr)
		}
		return JSONRPCMessage{}, err
	case resMsg = <-results:
	}

	return resMsg, nil
}

func (c *Client) sendNotification(ctx context.Context, method string, params any) error {
	paramsBs, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to marshal params: %w", err)
	}

	notif := JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		Method:  method,
		Params:  paramsBs,
	}

	sCtx, sCancel := context.WithTimeout(ctx, c.writeTimeout)
	defer sCancel()

	if err := c.session.Send(sCtx, notif); err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}

	return nil
}

func (c *Client) sendResult(ctx context.Context, id MustString, result any) error {
	resBs, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	msg := JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Result:  resBs,
	}

	sCtx, sCancel := context.WithTimeout(ctx, c.writeTimeout)
	defer sCancel()

	if err := c.session.Send(sCtx, msg); err != nil {
		return fmt.Errorf("failed to send result: %w", err)
	}

	return nil
}

func (c *Client) sendError(ctx context.Context, id MustString, err JSONRPCError) error {
	msg := JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Error:   &err,
	}

	sCtx, sCancel := context.WithTimeout(ctx, c.writeTimeout)
	defer sCancel()

	if err := c.session.Send(sCtx, msg); err != nil {
		return fmt.Errorf("failed to send error: %w", err)
	}

	return nil
}
