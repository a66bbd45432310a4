package screen

import (
	"image"
	"time"
)

// Display describes a physical display as reported by the windowing system. Index 0 is
// reserved for the virtual display covering the bounding box of all physical displays;
// physical displays are numbered from 1.
type Display struct {
	Index   int  `json:"index"`
	Left    int  `json:"left"`
	Top     int  `json:"top"`
	Width   int  `json:"width"`
	Height  int  `json:"height"`
	Virtual bool `json:"virtual,omitempty"`
}

// Region is a crop rectangle relative to the top-left corner of the chosen display.
// A non-positive Width or Height selects the full display.
type Region struct {
	Left   int `json:"left"`
	Top    int `json:"top"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Full reports whether the region selects the whole display.
func (r Region) Full() bool {
	return r.Width <= 0 || r.Height <= 0
}

// Frame is a single captured image with the time it was grabbed.
type Frame struct {
	Image     image.Image
	Timestamp time.Time
}

const (
	// MinScale is the smallest accepted downscale factor.
	MinScale = 0.1
	// MaxScale is the largest accepted scale factor; upscaling is never performed.
	MaxScale = 1.0
)

// ClampScale clamps a scale factor into the accepted [MinScale, MaxScale] range.
// Non-positive values select MaxScale, meaning no scaling.
func ClampScale(scale float64) float64 {
	if scale <= 0 {
		return MaxScale
	}
	if scale < MinScale {
		return MinScale
	}
	if scale > MaxScale {
		return MaxScale
	}
	return scale
}

// VirtualUnion computes the virtual display covering the bounding box of the given
// physical displays. The returned display carries index 0 and the Virtual flag.
func VirtualUnion(displays []Display) Display {
	if len(displays) == 0 {
		return Display{Index: 0, Virtual: true}
	}

	left, top := displays[0].Left, displays[0].Top
	right := displays[0].Left + displays[0].Width
	bottom := displays[0].Top + displays[0].Height

	for _, d := range displays[1:] {
		if d.Left < left {
			left = d.Left
		}
		if d.Top < top {
			top = d.Top
		}
		if d.Left+d.Width > right {
			right = d.Left + d.Width
		}
		if d.Top+d.Height > bottom {
			bottom = d.Top + d.Height
		}
	}

	return Display{
		Index:   0,
		Left:    left,
		Top:     top,
		Width:   right - left,
		Height:  bottom - top,
		Virtual: true,
	}
}
