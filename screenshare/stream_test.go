package screenshare_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"screenshare/mcp"
	"screenshare/screenshare"
)

func TestStreamStrideKeepsEveryOtherFrame(t *testing.T) {
	f := newFixture(t, screenshare.Config{})

	var result screenshare.StreamResult
	callTool(t, f.srv, "screenshare_stream", screenshare.StreamArgs{
		N:        6,
		PeriodMS: 10,
	}, &result)

	if !result.OK {
		t.Fatalf("stream failed: %s", result.Message)
	}
	if result.FramesCaptured != 6 {
		t.Errorf("captured %d frames, want 6", result.FramesCaptured)
	}
	// Default stride 2 keeps frames 0, 2 and 4.
	if result.FramesKept != 3 {
		t.Errorf("kept %d frames, want 3", result.FramesKept)
	}
	if len(result.Cycles) != 1 {
		t.Fatalf("got %d cycles, want 1", len(result.Cycles))
	}

	paths := result.Cycles[0].Paths
	if len(paths) != 3 {
		t.Fatalf("got %d paths, want 3", len(paths))
	}
	if !sort.StringsAreSorted(paths) {
		t.Errorf("paths not chronological: %v", paths)
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("kept frame missing: %v", err)
		}
		name := filepath.Base(p)
		if name[:4] != "scr_" {
			t.Errorf("frame name %s does not carry the burst prefix", name)
		}
	}
	if result.StoppedEarly {
		t.Error("short stream reported stopped_early")
	}
}

func TestStreamStrideOneKeepsAll(t *testing.T) {
	f := newFixture(t, screenshare.Config{})

	var result screenshare.StreamResult
	callTool(t, f.srv, "screenshare_stream", screenshare.StreamArgs{
		N:        4,
		PeriodMS: 5,
		Stride:   1,
	}, &result)

	if result.FramesKept != 4 {
		t.Errorf("kept %d frames, want 4", result.FramesKept)
	}
}

func TestStreamDurationComputesFrameCount(t *testing.T) {
	f := newFixture(t, screenshare.Config{})

	var result screenshare.StreamResult
	callTool(t, f.srv, "screenshare_stream", screenshare.StreamArgs{
		N:          100,
		PeriodMS:   20,
		DurationMS: 100,
		Stride:     1,
	}, &result)

	// duration_ms overrides n: round(100/20) = 5 frames.
	if result.FramesCaptured != 5 {
		t.Errorf("captured %d frames, want 5", result.FramesCaptured)
	}
}

func TestStreamPacing(t *testing.T) {
	f := newFixture(t, screenshare.Config{})

	period := 30
	n := 4
	start := time.Now()

	var result screenshare.StreamResult
	callTool(t, f.srv, "screenshare_stream", screenshare.StreamArgs{
		N:        n,
		PeriodMS: period,
		Stride:   1,
	}, &result)

	// Frame i waits for t0 + i*period, so the last frame cannot start before
	// (n-1)*period has elapsed.
	if elapsed, minimum := time.Since(start), time.Duration(n-1)*time.Duration(period)*time.Millisecond; elapsed < minimum {
		t.Errorf("stream finished in %s, want at least %s", elapsed, minimum)
	}
}

func TestStreamCyclesWithPause(t *testing.T) {
	f := newFixture(t, screenshare.Config{})

	var result screenshare.StreamResult
	callTool(t, f.srv, "screenshare_stream", screenshare.StreamArgs{
		N:         2,
		PeriodMS:  5,
		Cycles:    3,
		PauseSecs: 0.01,
		Stride:    1,
	}, &result)

	if len(result.Cycles) != 3 {
		t.Fatalf("got %d cycles, want 3", len(result.Cycles))
	}
	for i, c := range result.Cycles {
		if c.Cycle != i+1 {
			t.Errorf("cycle %d numbered %d", i, c.Cycle)
		}
		if len(c.Paths) != 2 {
			t.Errorf("cycle %d kept %d frames, want 2", i, len(c.Paths))
		}
	}
	if result.FramesKept != 6 {
		t.Errorf("kept %d frames, want 6", result.FramesKept)
	}
}

func TestStreamSafetyCap(t *testing.T) {
	f := newFixture(t, screenshare.Config{StreamCap: 80 * time.Millisecond})

	var result screenshare.StreamResult
	callTool(t, f.srv, "screenshare_stream", screenshare.StreamArgs{
		N:        100,
		PeriodMS: 20,
		Stride:   1,
	}, &result)

	if !result.StoppedEarly {
		t.Fatal("stream did not report stopped_early")
	}
	if result.FramesCaptured >= 100 {
		t.Errorf("captured %d frames despite the safety cap", result.FramesCaptured)
	}
	if result.Message == "" {
		t.Error("stopped_early result carries no message")
	}
}

func TestStreamStoppedByStopTool(t *testing.T) {
	f := newFixture(t, screenshare.Config{})

	done := make(chan screenshare.StreamResult, 1)
	go func() {
		args, _ := json.Marshal(screenshare.StreamArgs{N: 100, PeriodMS: 20, Stride: 1})
		res, err := f.srv.CallTool(context.Background(), mcp.CallToolParams{
			Name:      "screenshare_stream",
			Arguments: args,
		}, nil, nil)
		var sr screenshare.StreamResult
		if err == nil && len(res.Content) > 0 {
			_ = json.Unmarshal([]byte(res.Content[0].Text), &sr)
		}
		done <- sr
	}()

	time.Sleep(60 * time.Millisecond)
	callTool(t, f.srv, "screenshare_stop", nil, nil)

	select {
	case result := <-done:
		if result.FramesCaptured >= 100 {
			t.Errorf("captured %d frames despite stop", result.FramesCaptured)
		}
		if result.Message != "stream stopped" {
			t.Errorf("got message %q, want \"stream stopped\"", result.Message)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not stop after screenshare_stop")
	}
}

func TestStreamRejectsConcurrentRuns(t *testing.T) {
	f := newFixture(t, screenshare.Config{})

	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		args, _ := json.Marshal(screenshare.StreamArgs{N: 20, PeriodMS: 20, Stride: 1})
		close(started)
		_, err := f.srv.CallTool(context.Background(), mcp.CallToolParams{
			Name:      "screenshare_stream",
			Arguments: args,
		}, nil, nil)
		done <- err
	}()

	<-started
	time.Sleep(50 * time.Millisecond)

	args, _ := json.Marshal(screenshare.StreamArgs{N: 2, PeriodMS: 5})
	if _, err := f.srv.CallTool(context.Background(), mcp.CallToolParams{
		Name:      "screenshare_stream",
		Arguments: args,
	}, nil, nil); err == nil {
		t.Error("second concurrent stream did not fail")
	}

	callTool(t, f.srv, "screenshare_stop", nil, nil)
	if err := <-done; err != nil {
		t.Fatalf("first stream failed: %v", err)
	}
}

func TestStreamProgressNotifications(t *testing.T) {
	f := newFixture(t, screenshare.Config{})

	var reported []mcp.ProgressParams
	progress := func(params mcp.ProgressParams) {
		reported = append(reported, params)
	}

	args, _ := json.Marshal(screenshare.StreamArgs{N: 4, PeriodMS: 5, Stride: 1})
	res, err := f.srv.CallTool(context.Background(), mcp.CallToolParams{
		Name:      "screenshare_stream",
		Arguments: args,
		Meta:      mcp.ParamsMeta{ProgressToken: "stream-progress"},
	}, progress, nil)
	if err != nil {
		t.Fatalf("stream failed: %v", err)
	}
	if res.IsError {
		t.Fatalf("stream returned error result: %+v", res)
	}

	if len(reported) != 4 {
		t.Fatalf("got %d progress updates, want 4", len(reported))
	}
	last := reported[len(reported)-1]
	if last.ProgressToken != "stream-progress" {
		t.Errorf("progress token %q", last.ProgressToken)
	}
	if last.Progress != 4 || last.Total != 4 {
		t.Errorf("final progress %v/%v, want 4/4", last.Progress, last.Total)
	}
}

func TestStreamSampling(t *testing.T) {
	f := newFixture(t, screenshare.Config{})

	var sampled mcp.SamplingParams
	requestClient := func(msg mcp.JSONRPCMessage) (mcp.JSONRPCMessage, error) {
		if msg.Method != mcp.MethodSamplingCreateMessage {
			t.Errorf("unexpected client request method %s", msg.Method)
		}
		if err := json.Unmarshal(msg.Params, &sampled); err != nil {
			t.Errorf("failed to unmarshal sampling params: %v", err)
		}
		result := mcp.SamplingResult{
			Role: mcp.RoleAssistant,
			Content: mcp.SamplingContent{
				Type: mcp.ContentTypeText,
				Text: "the user is editing a test file",
			},
			Model:      "test-model",
			StopReason: "endTurn",
		}
		resultBs, _ := json.Marshal(result)
		return mcp.JSONRPCMessage{
			JSONRPC: mcp.JSONRPCVersion,
			ID:      msg.ID,
			Result:  resultBs,
		}, nil
	}

	args, _ := json.Marshal(screenshare.StreamArgs{N: 2, PeriodMS: 5, Stride: 1, Mode: "transcribe"})
	res, err := f.srv.CallTool(context.Background(), mcp.CallToolParams{
		Name:      "screenshare_stream",
		Arguments: args,
	}, nil, requestClient)
	if err != nil {
		t.Fatalf("stream failed: %v", err)
	}

	var result screenshare.StreamResult
	if err := json.Unmarshal([]byte(res.Content[0].Text), &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}

	if result.Cycles[0].Reply != "the user is editing a test file" {
		t.Errorf("cycle reply %q, want the sampled text", result.Cycles[0].Reply)
	}
	if len(sampled.Messages) == 0 {
		t.Fatal("sampling request carried no messages")
	}
	if !strings.Contains(sampled.Messages[0].Content.Text, "Transcribe") {
		t.Errorf("sampling text %q does not carry the transcribe instruction", sampled.Messages[0].Content.Text)
	}
}

func TestStreamSamplingUnsupportedFallsBack(t *testing.T) {
	f := newFixture(t, screenshare.Config{})

	requestClient := func(msg mcp.JSONRPCMessage) (mcp.JSONRPCMessage, error) {
		return mcp.JSONRPCMessage{
			JSONRPC: mcp.JSONRPCVersion,
			ID:      msg.ID,
			Error:   &mcp.JSONRPCError{Code: -32601, Message: "Method not found"},
		}, nil
	}

	args, _ := json.Marshal(screenshare.StreamArgs{N: 2, PeriodMS: 5, Stride: 1})
	res, err := f.srv.CallTool(context.Background(), mcp.CallToolParams{
		Name:      "screenshare_stream",
		Arguments: args,
	}, nil, requestClient)
	if err != nil {
		t.Fatalf("stream failed: %v", err)
	}

	var result screenshare.StreamResult
	if err := json.Unmarshal([]byte(res.Content[0].Text), &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}

	if !result.OK {
		t.Error("stream failed because sampling is unsupported")
	}
	if result.Cycles[0].Reply != "" {
		t.Errorf("got reply %q from a client without sampling", result.Cycles[0].Reply)
	}
	if result.Instruction == "" {
		t.Error("result carries no fallback instruction")
	}
}

func TestStreamInvalidMode(t *testing.T) {
	f := newFixture(t, screenshare.Config{})

	args, _ := json.Marshal(screenshare.StreamArgs{Mode: "narrate"})
	if _, err := f.srv.CallTool(context.Background(), mcp.CallToolParams{
		Name:      "screenshare_stream",
		Arguments: args,
	}, nil, nil); err == nil {
		t.Fatal("expected error for invalid mode, got nil")
	}
}
