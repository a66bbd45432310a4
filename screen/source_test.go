package screen_test

import (
	"context"
	"errors"
	"image"
	"testing"

	"screenshare/screen"
)

type fakeGrabber struct {
	grabs   int
	lastReq struct {
		display screen.Display
		region  screen.Region
		scale   float64
	}
	err error
}

func (g *fakeGrabber) Name() string { return "fake" }

func (g *fakeGrabber) Grab(
	_ context.Context,
	display screen.Display,
	region screen.Region,
	scale float64,
) (image.Image, error) {
	g.grabs++
	g.lastReq.display = display
	g.lastReq.region = region
	g.lastReq.scale = scale
	if g.err != nil {
		return nil, g.err
	}
	return image.NewRGBA(image.Rect(0, 0, 4, 4)), nil
}

func testDisplayLister(_ context.Context) ([]screen.Display, error) {
	physical := []screen.Display{
		{Index: 1, Width: 1920, Height: 1080},
		{Index: 2, Left: 1920, Width: 2560, Height: 1440},
	}
	return append([]screen.Display{screen.VirtualUnion(physical)}, physical...), nil
}

func newTestSource(grabber screen.Grabber) *screen.Source {
	return screen.NewSource(grabber, screen.WithDisplayLister(testDisplayLister))
}

func TestSourceLifecycle(t *testing.T) {
	grabber := &fakeGrabber{}
	src := newTestSource(grabber)

	if src.IsOpen() {
		t.Fatal("new source reports open")
	}

	if _, err := src.Grab(context.Background()); !errors.Is(err, screen.ErrClosed) {
		t.Fatalf("grab on closed source: got %v, want ErrClosed", err)
	}

	if err := src.Open(context.Background(), 1, screen.Region{}, 0.5); err != nil {
		t.Fatalf("failed to open source: %v", err)
	}
	if !src.IsOpen() {
		t.Fatal("opened source reports closed")
	}

	frame, err := src.Grab(context.Background())
	if err != nil {
		t.Fatalf("failed to grab frame: %v", err)
	}
	if frame.Image == nil {
		t.Fatal("grabbed frame has no image")
	}
	if frame.Timestamp.IsZero() {
		t.Fatal("grabbed frame has no timestamp")
	}
	if grabber.lastReq.display.Index != 1 {
		t.Errorf("grabbed display %d, want 1", grabber.lastReq.display.Index)
	}
	if grabber.lastReq.scale != 0.5 {
		t.Errorf("grabbed scale %v, want 0.5", grabber.lastReq.scale)
	}

	src.Close()
	if src.IsOpen() {
		t.Fatal("closed source reports open")
	}

	if _, err := src.Grab(context.Background()); !errors.Is(err, screen.ErrClosed) {
		t.Fatalf("grab after close: got %v, want ErrClosed", err)
	}
}

func TestSourceOpenTwice(t *testing.T) {
	src := newTestSource(&fakeGrabber{})

	if err := src.Open(context.Background(), 0, screen.Region{}, 1.0); err != nil {
		t.Fatalf("failed to open source: %v", err)
	}
	if err := src.Open(context.Background(), 0, screen.Region{}, 1.0); !errors.Is(err, screen.ErrAlreadyOpen) {
		t.Fatalf("second open: got %v, want ErrAlreadyOpen", err)
	}
}

func TestSourceOpenUnknownDisplay(t *testing.T) {
	src := newTestSource(&fakeGrabber{})

	if err := src.Open(context.Background(), 7, screen.Region{}, 1.0); err == nil {
		t.Fatal("expected error for unknown display, got nil")
	}
	if src.IsOpen() {
		t.Fatal("source reports open after failed open")
	}
}

func TestSourceClampsScale(t *testing.T) {
	src := newTestSource(&fakeGrabber{})

	if err := src.Open(context.Background(), 0, screen.Region{}, 3.0); err != nil {
		t.Fatalf("failed to open source: %v", err)
	}

	if props := src.Props(); props.Scale != screen.MaxScale {
		t.Errorf("scale %v, want %v", props.Scale, screen.MaxScale)
	}
}

func TestSourceProps(t *testing.T) {
	src := newTestSource(&fakeGrabber{})

	if props := src.Props(); props != (screen.Props{}) {
		t.Errorf("closed source props %+v, want zero value", props)
	}

	region := screen.Region{Left: 10, Top: 20, Width: 300, Height: 200}
	if err := src.Open(context.Background(), 2, region, 0.8); err != nil {
		t.Fatalf("failed to open source: %v", err)
	}

	props := src.Props()
	if props.DisplayIndex != 2 || props.Region != region || props.Scale != 0.8 {
		t.Errorf("props %+v, want display 2, region %+v, scale 0.8", props, region)
	}
}

func TestSourceGrabError(t *testing.T) {
	grabber := &fakeGrabber{err: errors.New("backend exploded")}
	src := newTestSource(grabber)

	if err := src.Open(context.Background(), 0, screen.Region{}, 1.0); err != nil {
		t.Fatalf("failed to open source: %v", err)
	}

	if _, err := src.Grab(context.Background()); err == nil {
		t.Fatal("expected grab error, got nil")
	}
	if !src.IsOpen() {
		t.Fatal("source closed itself after a grab error")
	}
}
