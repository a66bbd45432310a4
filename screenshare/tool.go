package screenshare

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"screenshare/mcp"
	"screenshare/screen"
)

const defaultMaxDisplayIndex = 10

var toolList = mcp.ListToolsResult{
	Tools: []mcp.Tool{
		{
			Name:        "list_displays",
			Description: "Enumerate available displays with geometry. Index 0 is the virtual display spanning all monitors.",
			InputSchema: listDisplaysSchema,
		},
		{
			Name: "screenshare_start",
			Description: "Initialize the screen source on a display, with an optional crop region and downscale factor. " +
				"Capture tools auto-start the source with defaults, so calling this is only needed to pick a " +
				"non-default display or region.",
			InputSchema: startSchema,
		},
		{
			Name:        "screenshare_status",
			Description: "Report whether the screen source is open, its capture properties, and the state of any running stream.",
			InputSchema: statusSchema,
		},
		{
			Name: "screenshare_capture",
			Description: "Capture one screenshot, save it to save_dir, and return the saved path and metadata. " +
				"No image data is returned inline; read the file or the matching screen://frames/ resource.",
			InputSchema: captureSchema,
		},
		{
			Name: "screenshare_stream",
			Description: "Capture a timed burst of screenshots and return the kept file paths in chronological order. " +
				"Frames are paced by period_ms, thinned by stride, and the total runtime is capped for safety.",
			InputSchema: streamSchema,
		},
		{
			Name:        "screenshare_stop",
			Description: "Release the screen source and cancel any running stream.",
			InputSchema: stopSchema,
		},
	},
}

// ListTools implements mcp.ToolServer interface.
func (s *Server) ListTools(
	context.Context,
	mcp.ListToolsParams,
	mcp.ProgressReporter,
	mcp.RequestClientFunc,
) (mcp.ListToolsResult, error) {
	s.log(mcp.LogLevelDebug, "ListTools")

	return toolList, nil
}

// CallTool implements mcp.ToolServer interface.
func (s *Server) CallTool(
	ctx context.Context,
	params mcp.CallToolParams,
	progress mcp.ProgressReporter,
	requestClient mcp.RequestClientFunc,
) (mcp.CallToolResult, error) {
	s.log(mcp.LogLevelDebug, fmt.Sprintf("CallTool: %s", params.Name))

	switch params.Name {
	case "list_displays":
		return s.callListDisplays(ctx, params)
	case "screenshare_start":
		return s.callStart(ctx, params)
	case "screenshare_status":
		return s.callStatus(ctx, params)
	case "screenshare_capture":
		return s.callCapture(ctx, params)
	case "screenshare_stream":
		return s.callStream(ctx, params, progress, requestClient)
	case "screenshare_stop":
		return s.callStop(ctx, params)
	default:
		return mcp.CallToolResult{}, fmt.Errorf("tool not found: %s", params.Name)
	}
}

func (s *Server) callListDisplays(ctx context.Context, params mcp.CallToolParams) (mcp.CallToolResult, error) {
	var args ListDisplaysArgs
	if len(params.Arguments) > 0 {
		if err := json.Unmarshal(params.Arguments, &args); err != nil {
			return mcp.CallToolResult{}, fmt.Errorf("failed to unmarshal arguments: %w", err)
		}
	}
	if args.MaxIndex <= 0 {
		args.MaxIndex = defaultMaxDisplayIndex
	}

	displays, err := screen.ListDisplays(ctx)
	if err != nil {
		return mcp.CallToolResult{}, fmt.Errorf("failed to list displays: %w", err)
	}

	out := make([]screen.Display, 0, len(displays))
	for _, d := range displays {
		if d.Index > args.MaxIndex {
			break
		}
		out = append(out, d)
	}

	return jsonResult(ListDisplaysResult{Displays: out})
}

func (s *Server) callStart(ctx context.Context, params mcp.CallToolParams) (mcp.CallToolResult, error) {
	var args StartArgs
	if len(params.Arguments) > 0 {
		if err := json.Unmarshal(params.Arguments, &args); err != nil {
			return mcp.CallToolResult{}, fmt.Errorf("failed to unmarshal arguments: %w", err)
		}
	}

	if s.source.IsOpen() {
		props := s.source.Props()
		return jsonResult(StartResult{
			OK:           true,
			Message:      "Screen capture already initialized",
			Props:        props,
			DisplayIndex: props.DisplayIndex,
		})
	}

	displayIndex := s.cfg.DisplayIndex
	if args.DisplayIndex != nil {
		displayIndex = *args.DisplayIndex
	}
	region := screen.Region{Left: args.Left, Top: args.Top, Width: args.Width, Height: args.Height}
	scale := args.Scale
	if scale <= 0 {
		scale = s.cfg.Scale
	}

	if err := s.source.Open(ctx, displayIndex, region, scale); err != nil {
		return mcp.CallToolResult{}, fmt.Errorf("failed to open screen source: %w", err)
	}

	props := s.source.Props()
	return jsonResult(StartResult{
		OK:           true,
		Message:      "Screen source initialized",
		Props:        props,
		DisplayIndex: props.DisplayIndex,
	})
}

func (s *Server) callStatus(_ context.Context, _ mcp.CallToolParams) (mcp.CallToolResult, error) {
	props := s.source.Props()

	status := StatusResult{
		Open:         s.source.IsOpen(),
		DisplayIndex: props.DisplayIndex,
		Props:        props,
	}

	s.streamMu.Lock()
	if s.stream != nil {
		status.Stream = StreamStatus{
			Running:     true,
			FramesSaved: s.stream.framesSaved,
			StartedAt:   s.stream.startedAt.Format(time.RFC3339),
			Deadline:    s.stream.deadline.Format(time.RFC3339),
		}
	}
	s.streamMu.Unlock()

	return jsonResult(status)
}

func (s *Server) callCapture(ctx context.Context, params mcp.CallToolParams) (mcp.CallToolResult, error) {
	var args CaptureArgs
	if len(params.Arguments) > 0 {
		if err := json.Unmarshal(params.Arguments, &args); err != nil {
			return mcp.CallToolResult{}, fmt.Errorf("failed to unmarshal arguments: %w", err)
		}
	}

	format, err := screen.ParseFormat(args.Format)
	if err != nil {
		return mcp.CallToolResult{}, err
	}

	if err := s.ensureOpen(ctx); err != nil {
		return mcp.CallToolResult{}, fmt.Errorf("failed to open screen source: %w", err)
	}

	frame, err := s.grabFrame(ctx)
	if err != nil {
		return mcp.CallToolResult{}, err
	}

	dir := s.saveDir(args.SaveDir)
	name := screen.FrameFilename(frame.Timestamp, format)
	if args.Outfile != "" {
		name = args.Outfile
	}

	path, err := s.saveFrame(frame, format, dir, name)
	if err != nil {
		return mcp.CallToolResult{}, err
	}

	bounds := frame.Image.Bounds()
	return jsonResult(CaptureResult{
		OK:          true,
		Path:        path,
		Mime:        format.MIME(),
		Width:       bounds.Dx(),
		Height:      bounds.Dy(),
		Instruction: args.Prompt,
	})
}

func (s *Server) callStop(_ context.Context, _ mcp.CallToolParams) (mcp.CallToolResult, error) {
	s.cancelStream()
	s.source.Close()
	s.log(mcp.LogLevelInfo, "screen source released")

	return jsonResult(StopResult{OK: true})
}

// grabFrame grabs one frame, re-opening the source once when it was closed underneath
// us, such as by a concurrent screenshare_stop.
func (s *Server) grabFrame(ctx context.Context) (screen.Frame, error) {
	frame, err := s.source.Grab(ctx)
	if err == nil {
		return frame, nil
	}
	if !errors.Is(err, screen.ErrClosed) || ctx.Err() != nil {
		return screen.Frame{}, err
	}

	if openErr := s.ensureOpen(ctx); openErr != nil {
		return screen.Frame{}, fmt.Errorf("failed to re-open screen source: %w", openErr)
	}
	return s.source.Grab(ctx)
}

// saveFrame encodes the frame and writes it under dir, creating the directory when
// needed, and notifies resource watchers about the new frame.
func (s *Server) saveFrame(frame screen.Frame, format screen.Format, dir, name string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create save directory: %w", err)
	}

	var buf bytes.Buffer
	if err := screen.Encode(&buf, frame.Image, format, s.cfg.JPEGQuality); err != nil {
		return "", err
	}

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return "", fmt.Errorf("failed to write frame file: %w", err)
	}

	s.notifyFrameSaved(name)
	return path, nil
}

func jsonResult(v any) (mcp.CallToolResult, error) {
	bs, err := json.Marshal(v)
	if err != nil {
		return mcp.CallToolResult{}, fmt.Errorf("failed to marshal result: %w", err)
	}

	return mcp.CallToolResult{
		Content: []mcp.Content{
			{
				Type: mcp.ContentTypeText,
				Text: string(bs),
			},
		},
		IsError: false,
	}, nil
}
