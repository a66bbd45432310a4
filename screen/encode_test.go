package screen_test

import (
	"bytes"
	"image"
	"image/color"
	"testing"
	"time"

	"screenshare/screen"
)

func testImage() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 32), G: uint8(y * 32), A: 255})
		}
	}
	return img
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    screen.Format
		wantErr bool
	}{
		{"empty selects jpeg", "", screen.FormatJPG, false},
		{"jpg", "jpg", screen.FormatJPG, false},
		{"jpeg alias", "jpeg", screen.FormatJPG, false},
		{"png", "png", screen.FormatPNG, false},
		{"unsupported", "webp", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := screen.ParseFormat(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q, got nil", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEncode(t *testing.T) {
	for _, format := range []screen.Format{screen.FormatJPG, screen.FormatPNG} {
		t.Run(string(format), func(t *testing.T) {
			var buf bytes.Buffer
			if err := screen.Encode(&buf, testImage(), format, 0); err != nil {
				t.Fatalf("failed to encode: %v", err)
			}
			if buf.Len() == 0 {
				t.Fatal("encoded image is empty")
			}

			img, _, err := image.Decode(bytes.NewReader(buf.Bytes()))
			if err != nil {
				t.Fatalf("failed to decode encoded image: %v", err)
			}
			if img.Bounds().Dx() != 8 || img.Bounds().Dy() != 8 {
				t.Errorf("decoded bounds %v, want 8x8", img.Bounds())
			}
		})
	}
}

func TestFormatMIME(t *testing.T) {
	if got := screen.FormatJPG.MIME(); got != "image/jpeg" {
		t.Errorf("got %q, want image/jpeg", got)
	}
	if got := screen.FormatPNG.MIME(); got != "image/png" {
		t.Errorf("got %q, want image/png", got)
	}
}

func TestFrameFilename(t *testing.T) {
	ts := time.Date(2025, 3, 14, 15, 9, 26, 535*int(time.Millisecond), time.UTC)

	got := screen.FrameFilename(ts, screen.FormatJPG)
	want := "screen_20250314_150926_535.jpg"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestBurstFilename(t *testing.T) {
	ts := time.Date(2025, 3, 14, 15, 9, 26, 535*int(time.Millisecond), time.UTC)

	got := screen.BurstFilename(ts, 3, screen.FormatPNG)
	want := "scr_20250314_150926_535_03.png"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}
