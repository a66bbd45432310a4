package screenshare

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"screenshare/mcp"
	"screenshare/screen"
)

const (
	defaultStreamFrames = 8
	defaultStreamPeriod = 150 * time.Millisecond
	defaultStreamStride = 2

	samplingMaxTokens = 1000
)

type streamMode string

const (
	modeReply      streamMode = "reply"
	modeTranscribe streamMode = "transcribe"
	modeBoth       streamMode = "both"
)

func parseStreamMode(name string) (streamMode, error) {
	switch name {
	case "", "reply":
		return modeReply, nil
	case "transcribe":
		return modeTranscribe, nil
	case "both":
		return modeBoth, nil
	default:
		return "", fmt.Errorf("unsupported stream mode: %s", name)
	}
}

func (m streamMode) instruction() string {
	switch m {
	case modeTranscribe:
		return "Transcribe the text visible in the captured frames, in order."
	case modeBoth:
		return "Transcribe the text visible in the captured frames, then reply to what the user is doing on screen."
	default:
		return "Reply to what the user is doing on screen, using the captured frames as context."
	}
}

func (s *Server) callStream(
	ctx context.Context,
	params mcp.CallToolParams,
	progress mcp.ProgressReporter,
	requestClient mcp.RequestClientFunc,
) (mcp.CallToolResult, error) {
	var args StreamArgs
	if len(params.Arguments) > 0 {
		if err := json.Unmarshal(params.Arguments, &args); err != nil {
			return mcp.CallToolResult{}, fmt.Errorf("failed to unmarshal arguments: %w", err)
		}
	}

	mode, err := parseStreamMode(args.Mode)
	if err != nil {
		return mcp.CallToolResult{}, err
	}
	format, err := screen.ParseFormat(args.Format)
	if err != nil {
		return mcp.CallToolResult{}, err
	}

	n := args.N
	if n <= 0 {
		n = defaultStreamFrames
	}
	period := time.Duration(args.PeriodMS) * time.Millisecond
	if period <= 0 {
		period = defaultStreamPeriod
	}
	if args.DurationMS > 0 {
		n = int(math.Round(float64(args.DurationMS) / float64(period.Milliseconds())))
		if n < 1 {
			n = 1
		}
	}
	cycles := args.Cycles
	if cycles < 1 {
		cycles = 1
	}
	stride := args.Stride
	if stride <= 0 {
		stride = defaultStreamStride
	}
	pause := time.Duration(args.PauseSecs * float64(time.Second))

	dir := s.saveDir(args.SaveDir)

	if err := s.ensureOpen(ctx); err != nil {
		return mcp.CallToolResult{}, fmt.Errorf("failed to open screen source: %w", err)
	}

	runCtx, st, err := s.registerStream(ctx)
	if err != nil {
		return mcp.CallToolResult{}, err
	}
	defer s.unregisterStream(st)

	s.log(mcp.LogLevelInfo, fmt.Sprintf("stream started: n=%d cycles=%d period=%s stride=%d", n, cycles, period, stride))

	result := StreamResult{
		OK:          true,
		Mode:        string(mode),
		Mime:        format.MIME(),
		PeriodMS:    int(period.Milliseconds()),
		SaveDir:     dir,
		Instruction: mode.instruction(),
	}

	total := float64(n * cycles)

cycleLoop:
	for c := 0; c < cycles; c++ {
		for i := 0; i < args.Warmup; i++ {
			// Warmup grabs are discarded; they only prime the backend.
			if _, err := s.source.Grab(runCtx); err != nil && runCtx.Err() != nil {
				break
			}
		}

		cycle := CycleResult{Cycle: c + 1}
		t0 := time.Now()

		for i := 0; i < n; i++ {
			// Frame i is captured no earlier than t0 + i*period, keyed to the cycle
			// start so per-frame overhead does not accumulate.
			if err := waitUntil(runCtx, t0.Add(time.Duration(i)*period)); err != nil {
				result.Cycles = append(result.Cycles, cycle)
				s.finishInterrupted(&result, err)
				break cycleLoop
			}

			frame, err := s.grabFrame(runCtx)
			if err != nil {
				result.Cycles = append(result.Cycles, cycle)
				if ctxErr := runCtx.Err(); ctxErr != nil {
					s.finishInterrupted(&result, ctxErr)
					break cycleLoop
				}
				result.OK = false
				result.Message = fmt.Sprintf("failed to capture frame: %v", err)
				break cycleLoop
			}
			result.FramesCaptured++

			if i%stride == 0 {
				name := screen.BurstFilename(frame.Timestamp, i, format)
				path, err := s.saveFrame(frame, format, dir, name)
				if err != nil {
					result.Cycles = append(result.Cycles, cycle)
					result.OK = false
					result.Message = err.Error()
					break cycleLoop
				}
				cycle.Paths = append(cycle.Paths, path)
				result.FramesKept++
				s.countSavedFrame(st)
			}

			if params.Meta.ProgressToken != "" && progress != nil {
				progress(mcp.ProgressParams{
					ProgressToken: params.Meta.ProgressToken,
					Progress:      float64(result.FramesCaptured),
					Total:         total,
				})
			}
		}

		if requestClient != nil && len(cycle.Paths) > 0 {
			reply, err := s.sampleCycle(mode, cycle.Paths, requestClient)
			if err != nil {
				// Clients without sampling support answer with an error; the
				// instruction text in the result is the fallback.
				s.log(mcp.LogLevelDebug, fmt.Sprintf("sampling unavailable: %v", err))
			} else {
				cycle.Reply = reply
			}
		}
		result.Cycles = append(result.Cycles, cycle)

		if c+1 < cycles && pause > 0 {
			if err := waitUntil(runCtx, time.Now().Add(pause)); err != nil {
				s.finishInterrupted(&result, err)
				break cycleLoop
			}
		}
	}

	s.log(mcp.LogLevelInfo, fmt.Sprintf("stream finished: captured=%d kept=%d stopped_early=%t",
		result.FramesCaptured, result.FramesKept, result.StoppedEarly))

	return jsonResult(result)
}

// registerStream records the running stream so screenshare_status can report it and
// screenshare_stop can cancel it. Only one stream may run at a time.
func (s *Server) registerStream(ctx context.Context) (context.Context, *streamState, error) {
	s.streamMu.Lock()
	defer s.streamMu.Unlock()

	if s.stream != nil {
		return nil, nil, errors.New("a stream is already running")
	}

	startedAt := time.Now()
	deadline := startedAt.Add(s.cfg.StreamCap)
	runCtx, cancel := context.WithDeadline(ctx, deadline)

	st := &streamState{
		cancel:    cancel,
		startedAt: startedAt,
		deadline:  deadline,
	}
	s.stream = st

	return runCtx, st, nil
}

func (s *Server) unregisterStream(st *streamState) {
	s.streamMu.Lock()
	if s.stream == st {
		s.stream = nil
	}
	s.streamMu.Unlock()

	st.cancel()
}

func (s *Server) countSavedFrame(st *streamState) {
	s.streamMu.Lock()
	st.framesSaved++
	s.streamMu.Unlock()
}

// finishInterrupted annotates the result after the stream context ended: the safety
// deadline sets stopped_early, a cancellation reports a plain stop.
func (s *Server) finishInterrupted(result *StreamResult, err error) {
	if errors.Is(err, context.DeadlineExceeded) {
		result.StoppedEarly = true
		result.Message = "stopped early: safety time limit reached"
		s.log(mcp.LogLevelWarning, "stream stopped early: safety time limit reached")
		return
	}
	result.Message = "stream stopped"
}

// sampleCycle asks the client to reason over the kept frames of one cycle through the
// sampling capability.
func (s *Server) sampleCycle(
	mode streamMode,
	paths []string,
	requestClient mcp.RequestClientFunc,
) (string, error) {
	samplingParams := mcp.SamplingParams{
		Messages: []mcp.SamplingMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.SamplingContent{
					Type: mcp.ContentTypeText,
					Text: mode.instruction() + "\nFrames:\n" + strings.Join(paths, "\n"),
				},
			},
		},
		ModelPreferences: mcp.SamplingModelPreferences{
			CostPriority:         1,
			SpeedPriority:        2,
			IntelligencePriority: 3,
		},
		SystemPrompts: "You are observing a user's screen through periodically captured frames.",
		MaxTokens:     samplingMaxTokens,
	}

	paramsBs, err := json.Marshal(samplingParams)
	if err != nil {
		return "", fmt.Errorf("failed to marshal sampling params: %w", err)
	}

	resMsg, err := requestClient(mcp.JSONRPCMessage{
		JSONRPC: mcp.JSONRPCVersion,
		ID:      mcp.MustString(uuid.New().String()),
		Method:  mcp.MethodSamplingCreateMessage,
		Params:  paramsBs,
	})
	if err != nil {
		return "", fmt.Errorf("failed to request sampling: %w", err)
	}
	if resMsg.Error != nil {
		return "", *resMsg.Error
	}

	var samplingResult mcp.SamplingResult
	if err := json.Unmarshal(resMsg.Result, &samplingResult); err != nil {
		return "", fmt.Errorf("failed to unmarshal sampling result: %w", err)
	}

	return samplingResult.Content.Text, nil
}

func waitUntil(ctx context.Context, target time.Time) error {
	d := time.Until(target)
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
