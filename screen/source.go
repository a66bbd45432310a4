package screen

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrClosed is returned by Grab when the source has not been opened or was closed.
var ErrClosed = errors.New("screen source closed")

// ErrAlreadyOpen is returned by Open when the source is already open.
var ErrAlreadyOpen = errors.New("screen source already open")

// Props is the capture configuration of an open source.
type Props struct {
	DisplayIndex int     `json:"display_index"`
	Region       Region  `json:"region"`
	Scale        float64 `json:"scale"`
}

// Source is a stateful screen capture handle. It must be opened before frames can be
// grabbed, and every grab after Close fails with ErrClosed. Safe for concurrent use.
type Source struct {
	mu         sync.Mutex
	grabber    Grabber
	displaysFn func(context.Context) ([]Display, error)
	logger     *slog.Logger

	open    bool
	display Display
	props   Props
}

// SourceOption configures a Source.
type SourceOption func(*Source)

// WithSourceLogger sets the source's logger. Default to slog package default logger.
func WithSourceLogger(logger *slog.Logger) SourceOption {
	return func(s *Source) {
		s.logger = logger.With(slog.String("package", "screen"))
	}
}

// WithDisplayLister overrides the display enumeration function. Default to ListDisplays.
func WithDisplayLister(fn func(context.Context) ([]Display, error)) SourceOption {
	return func(s *Source) {
		s.displaysFn = fn
	}
}

// NewSource creates a Source backed by the given grabber.
func NewSource(grabber Grabber, options ...SourceOption) *Source {
	s := &Source{
		grabber:    grabber,
		displaysFn: ListDisplays,
		logger:     slog.Default(),
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// Open configures and opens the source. The display index must name an enumerated
// display (0 selects the virtual display covering all of them), the region crops
// relative to that display, and the scale is clamped into the accepted range.
func (s *Source) Open(ctx context.Context, displayIndex int, region Region, scale float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.open {
		return ErrAlreadyOpen
	}

	displays, err := s.displaysFn(ctx)
	if err != nil {
		return fmt.Errorf("failed to list displays: %w", err)
	}

	var display Display
	found := false
	for _, d := range displays {
		if d.Index == displayIndex {
			display = d
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("display %d not found (%d displays available)", displayIndex, len(displays))
	}

	s.open = true
	s.display = display
	s.props = Props{
		DisplayIndex: displayIndex,
		Region:       region,
		Scale:        ClampScale(scale),
	}

	s.logger.Info("Screen source opened",
		slog.Int("display", displayIndex),
		slog.Float64("scale", s.props.Scale))

	return nil
}

// Close closes the source. Closing a closed source is a no-op.
func (s *Source) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.open {
		return
	}

	s.open = false
	s.logger.Info("Screen source closed")
}

// IsOpen reports whether the source is open.
func (s *Source) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

// Props returns the capture configuration. The zero value is returned when closed.
func (s *Source) Props() Props {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.open {
		return Props{}
	}
	return s.props
}

// Grab captures one frame using the source's configuration. Returns ErrClosed when the
// source is not open.
func (s *Source) Grab(ctx context.Context) (Frame, error) {
	s.mu.Lock()
	if !s.open {
		s.mu.Unlock()
		return Frame{}, ErrClosed
	}
	grabber := s.grabber
	display := s.display
	props := s.props
	s.mu.Unlock()

	img, err := grabber.Grab(ctx, display, props.Region, props.Scale)
	if err != nil {
		return Frame{}, fmt.Errorf("failed to grab frame: %w", err)
	}

	return Frame{Image: img, Timestamp: time.Now()}, nil
}
