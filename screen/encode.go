package screen

import (
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"time"
)

// Format is an image encoding for saved frames.
type Format string

const (
	// FormatJPG encodes frames as JPEG.
	FormatJPG Format = "jpg"
	// FormatPNG encodes frames as PNG.
	FormatPNG Format = "png"
)

// DefaultJPEGQuality balances file size against legibility of on-screen text.
const DefaultJPEGQuality = 92

// ParseFormat parses a format name. An empty name selects JPEG.
func ParseFormat(name string) (Format, error) {
	switch name {
	case "", "jpg", "jpeg":
		return FormatJPG, nil
	case "png":
		return FormatPNG, nil
	default:
		return "", fmt.Errorf("unsupported image format: %s", name)
	}
}

// MIME returns the format's MIME type.
func (f Format) MIME() string {
	if f == FormatPNG {
		return "image/png"
	}
	return "image/jpeg"
}

// Ext returns the format's filename extension, without the dot.
func (f Format) Ext() string {
	return string(f)
}

// Encode writes the image to w in the given format. A non-positive quality selects
// DefaultJPEGQuality; quality is ignored for PNG.
func Encode(w io.Writer, img image.Image, format Format, quality int) error {
	if quality <= 0 {
		quality = DefaultJPEGQuality
	}

	switch format {
	case FormatPNG:
		if err := png.Encode(w, img); err != nil {
			return fmt.Errorf("failed to encode png: %w", err)
		}
	default:
		if err := jpeg.Encode(w, img, &jpeg.Options{Quality: quality}); err != nil {
			return fmt.Errorf("failed to encode jpeg: %w", err)
		}
	}
	return nil
}

// FrameFilename builds the filename for a single captured frame, shaped like
// screen_20060102_150405_000.jpg with millisecond precision.
func FrameFilename(ts time.Time, format Format) string {
	return fmt.Sprintf("screen_%s_%03d.%s",
		ts.Format("20060102_150405"), ts.Nanosecond()/int(time.Millisecond), format.Ext())
}

// BurstFilename builds the filename for the n-th frame of a burst, shaped like
// scr_20060102_150405_000_01.jpg. The frame index keeps names unique and sortable even
// when consecutive frames land in the same millisecond.
func BurstFilename(ts time.Time, n int, format Format) string {
	return fmt.Sprintf("scr_%s_%03d_%02d.%s",
		ts.Format("20060102_150405"), ts.Nanosecond()/int(time.Millisecond), n, format.Ext())
}
