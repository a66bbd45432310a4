package screenshare

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/adrg/xdg"

	"screenshare/mcp"
	"screenshare/screen"
)

const (
	// DefaultSaveDir is the directory captures land in when no save_dir is given.
	DefaultSaveDir = "~/.screen_frames"
	// DefaultDisplayIndex is the display opened when the source auto-starts.
	DefaultDisplayIndex = 1
	// DefaultStreamCap is the hard limit on a stream's total runtime.
	DefaultStreamCap = 60 * time.Minute
)

// Config carries the server's defaults. The zero value is usable; empty fields fall
// back to the package defaults.
type Config struct {
	// SaveDir is the default directory for saved frames, also served as resources.
	SaveDir string
	// DisplayIndex is the display opened when a capture auto-starts the source.
	DisplayIndex int
	// Scale is the downscale factor applied when the source auto-starts.
	Scale float64
	// JPEGQuality overrides the JPEG encoding quality when positive.
	JPEGQuality int
	// StreamCap bounds the total runtime of a single screenshare_stream call.
	StreamCap time.Duration
}

func (c Config) withDefaults() Config {
	if c.SaveDir == "" {
		c.SaveDir = DefaultSaveDir
	}
	if c.Scale <= 0 {
		c.Scale = screen.MaxScale
	}
	if c.StreamCap <= 0 {
		c.StreamCap = DefaultStreamCap
	}
	return c
}

// Server exposes the local screen over the MCP protocol: display enumeration, single
// snapshots, and time-bounded burst streams. Saved frames are additionally served as
// resources under the screen://frames/ URI space.
//
// Server implements mcp.ToolServer, mcp.PromptServer, mcp.ResourceServer,
// mcp.ResourceSubscriptionHandler, mcp.ResourceListUpdater and mcp.LogHandler.
//
// Callers must call Close when finished so any running stream is cancelled and the
// screen source is released.
type Server struct {
	source *screen.Source
	cfg    Config
	logger *slog.Logger

	logMu    sync.Mutex
	logLevel mcp.LogLevel
	logs     chan mcp.LogParams

	resourceSubscribers *sync.Map // map[resourceURI]struct{}
	frameUpdates        chan string
	listUpdates         chan struct{}

	streamMu sync.Mutex
	stream   *streamState

	done      chan struct{}
	closeOnce sync.Once
}

type streamState struct {
	cancel      context.CancelFunc
	startedAt   time.Time
	deadline    time.Time
	framesSaved int
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server's logger. Default to slog package default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger.With(slog.String("package", "screenshare"))
	}
}

// NewServer creates a screenshare server around the given screen source.
func NewServer(source *screen.Source, cfg Config, options ...Option) *Server {
	s := &Server{
		source:              source,
		cfg:                 cfg.withDefaults(),
		logger:              slog.Default(),
		logLevel:            mcp.LogLevelInfo,
		logs:                make(chan mcp.LogParams, 10),
		resourceSubscribers: new(sync.Map),
		frameUpdates:        make(chan string, 10),
		listUpdates:         make(chan struct{}, 1),
		done:                make(chan struct{}),
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// Close cancels any running stream, releases the screen source, and stops the
// notification streams. Close is idempotent.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		s.cancelStream()
		close(s.done)
		s.source.Close()
	})
}

// ensureOpen opens the screen source with the configured defaults when it is closed,
// which makes "screen source closed" recoverable by just capturing again.
func (s *Server) ensureOpen(ctx context.Context) error {
	if s.source.IsOpen() {
		return nil
	}

	err := s.source.Open(ctx, s.cfg.DisplayIndex, screen.Region{}, s.cfg.Scale)
	if err != nil && !errors.Is(err, screen.ErrAlreadyOpen) {
		return err
	}

	s.log(mcp.LogLevelInfo, "screen source auto-started")
	return nil
}

func (s *Server) cancelStream() {
	s.streamMu.Lock()
	st := s.stream
	s.streamMu.Unlock()

	if st != nil {
		st.cancel()
	}
}

// saveDir resolves the directory frames are saved into, expanding a leading ~.
func (s *Server) saveDir(override string) string {
	dir := override
	if dir == "" {
		dir = s.cfg.SaveDir
	}
	return expandPath(dir)
}

func expandPath(path string) string {
	if path == "~" {
		return xdg.Home
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(xdg.Home, strings.TrimPrefix(path, "~/"))
	}
	return path
}
