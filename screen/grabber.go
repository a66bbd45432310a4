package screen

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"golang.org/x/image/draw"
)

// Grabber captures the pixels of a display region. Implementations shell out to the
// screenshot tool of the running windowing system; crop and scale are applied natively
// when the tool supports it and in-process otherwise.
type Grabber interface {
	// Name returns the backend name, matching the name of the external tool.
	Name() string

	// Grab captures the given region of the display, downscaled by scale. A full
	// region selects the whole display.
	Grab(ctx context.Context, display Display, region Region, scale float64) (image.Image, error)
}

// ErrNoGrabber is returned when no screenshot backend can be found on the system.
var ErrNoGrabber = errors.New("no screenshot backend found (tried grim, gnome-screenshot, screencapture, import, powershell.exe)")

// DetectGrabber picks a screenshot backend for the running system. A non-empty override
// selects the backend by name regardless of the detection order, which is: grim on
// Wayland, screencapture on macOS, gnome-screenshot and ImageMagick import, then
// powershell.exe under WSL.
func DetectGrabber(override string) (Grabber, error) {
	backends := []Grabber{
		grimGrabber{},
		screencaptureGrabber{},
		gnomeScreenshotGrabber{},
		importGrabber{},
		wslGrabber{},
	}

	if override != "" {
		for _, b := range backends {
			if b.Name() == override {
				if _, err := exec.LookPath(b.Name()); err != nil {
					return nil, fmt.Errorf("screenshot backend %s not available: %w", override, err)
				}
				return b, nil
			}
		}
		return nil, fmt.Errorf("unknown screenshot backend: %s", override)
	}

	if os.Getenv("WAYLAND_DISPLAY") != "" {
		if _, err := exec.LookPath("grim"); err == nil {
			return grimGrabber{}, nil
		}
	}

	if runtime.GOOS == "darwin" {
		if _, err := exec.LookPath("screencapture"); err == nil {
			return screencaptureGrabber{}, nil
		}
	}

	if _, err := exec.LookPath("gnome-screenshot"); err == nil {
		return gnomeScreenshotGrabber{}, nil
	}

	if _, err := exec.LookPath("import"); err == nil {
		return importGrabber{}, nil
	}

	if isWSL() {
		if _, err := exec.LookPath("powershell.exe"); err == nil {
			return wslGrabber{}, nil
		}
	}

	return nil, ErrNoGrabber
}

// isWSL reports whether the process runs under the Windows Subsystem for Linux.
func isWSL() bool {
	if _, err := os.Stat("/proc/sys/fs/binfmt_misc/WSLInterop"); err == nil {
		return true
	}
	return os.Getenv("WSL_DISTRO_NAME") != ""
}

// captureRect computes the absolute capture rectangle for a display and region. The
// returned rectangle is empty when the display geometry is unknown and the full display
// is requested, in which case the backend captures everything it can see.
func captureRect(d Display, r Region) image.Rectangle {
	if r.Full() {
		if d.Width <= 0 || d.Height <= 0 {
			return image.Rectangle{}
		}
		return image.Rect(d.Left, d.Top, d.Left+d.Width, d.Top+d.Height)
	}
	return image.Rect(d.Left+r.Left, d.Top+r.Top, d.Left+r.Left+r.Width, d.Top+r.Top+r.Height)
}

type grimGrabber struct{}

func (grimGrabber) Name() string { return "grim" }

func (g grimGrabber) Grab(ctx context.Context, display Display, region Region, scale float64) (image.Image, error) {
	args := []string{"-t", "png"}

	rect := captureRect(display, region)
	if !rect.Empty() {
		args = append(args, "-g", fmt.Sprintf("%d,%d %dx%d", rect.Min.X, rect.Min.Y, rect.Dx(), rect.Dy()))
	}
	if scale < MaxScale {
		args = append(args, "-s", strconv.FormatFloat(scale, 'f', -1, 64))
	}
	args = append(args, "-")

	out, err := runGrabCommand(ctx, "grim", args...)
	if err != nil {
		return nil, err
	}

	// grim crops and scales natively, so the output needs no further processing.
	return png.Decode(bytes.NewReader(out))
}

type gnomeScreenshotGrabber struct{}

func (gnomeScreenshotGrabber) Name() string { return "gnome-screenshot" }

func (g gnomeScreenshotGrabber) Grab(
	ctx context.Context,
	display Display,
	region Region,
	scale float64,
) (image.Image, error) {
	path := filepath.Join(os.TempDir(), fmt.Sprintf("screenshare-grab-%d.png", os.Getpid()))
	defer os.Remove(path)

	// gnome-screenshot always captures the whole virtual screen; crop in-process.
	if _, err := runGrabCommand(ctx, "gnome-screenshot", "-f", path); err != nil {
		return nil, err
	}

	img, err := decodePNGFile(path)
	if err != nil {
		return nil, err
	}

	return cropAndScale(img, captureRect(display, region), scale), nil
}

type screencaptureGrabber struct{}

func (screencaptureGrabber) Name() string { return "screencapture" }

func (g screencaptureGrabber) Grab(
	ctx context.Context,
	display Display,
	region Region,
	scale float64,
) (image.Image, error) {
	path := filepath.Join(os.TempDir(), fmt.Sprintf("screenshare-grab-%d.png", os.Getpid()))
	defer os.Remove(path)

	if _, err := runGrabCommand(ctx, "screencapture", g.captureArgs(display, region, path)...); err != nil {
		return nil, err
	}

	img, err := decodePNGFile(path)
	if err != nil {
		return nil, err
	}

	// Crop and scale are done here since screencapture has no scale flag and -R/-D
	// already selected the region.
	return cropAndScale(img, image.Rectangle{}, scale), nil
}

func (screencaptureGrabber) captureArgs(display Display, region Region, path string) []string {
	args := []string{"-x", "-t", "png"}

	rect := captureRect(display, region)
	switch {
	case !region.Full() && !rect.Empty():
		args = append(args, "-R", fmt.Sprintf("%d,%d,%d,%d", rect.Min.X, rect.Min.Y, rect.Dx(), rect.Dy()))
	case display.Index > 0:
		args = append(args, "-D", strconv.Itoa(display.Index))
	case !rect.Empty():
		// The virtual display has no screencapture index; capture its bounding box.
		args = append(args, "-R", fmt.Sprintf("%d,%d,%d,%d", rect.Min.X, rect.Min.Y, rect.Dx(), rect.Dy()))
	}

	return append(args, path)
}

type importGrabber struct{}

func (importGrabber) Name() string { return "import" }

func (g importGrabber) Grab(ctx context.Context, display Display, region Region, scale float64) (image.Image, error) {
	args := []string{"-window", "root"}

	rect := captureRect(display, region)
	if !rect.Empty() {
		args = append(args, "-crop", fmt.Sprintf("%dx%d+%d+%d", rect.Dx(), rect.Dy(), rect.Min.X, rect.Min.Y))
	}
	args = append(args, "png:-")

	out, err := runGrabCommand(ctx, "import", args...)
	if err != nil {
		return nil, err
	}

	img, err := png.Decode(bytes.NewReader(out))
	if err != nil {
		return nil, err
	}

	return cropAndScale(img, image.Rectangle{}, scale), nil
}

// wslGrabber captures the Windows desktop from inside WSL by driving powershell.exe.
// The script writes a PNG to the Windows temp directory and prints its path, which
// wslpath translates back into the Linux mount.
type wslGrabber struct{}

const wslCaptureScript = `Add-Type -AssemblyName System.Windows.Forms
Add-Type -AssemblyName System.Drawing
$bounds = [System.Windows.Forms.Screen]::PrimaryScreen.Bounds
$bmp = New-Object System.Drawing.Bitmap($bounds.Width, $bounds.Height)
$g = [System.Drawing.Graphics]::FromImage($bmp)
$g.CopyFromScreen($bounds.Location, [System.Drawing.Point]::Empty, $bounds.Size)
$g.Dispose()
$tmp = [System.IO.Path]::Combine([System.IO.Path]::GetTempPath(), "wsl_scrn_{0:yyyyMMdd_HHmmss_fff}.png" -f (Get-Date))
$bmp.Save($tmp, [System.Drawing.Imaging.ImageFormat]::Png)
$bmp.Dispose()
Write-Output $tmp`

func (wslGrabber) Name() string { return "powershell.exe" }

func (g wslGrabber) Grab(ctx context.Context, display Display, region Region, scale float64) (image.Image, error) {
	out, err := runGrabCommand(ctx, "powershell.exe", "-NoProfile", "-Command", wslCaptureScript)
	if err != nil {
		return nil, err
	}

	winPath := strings.TrimSpace(string(out))
	mounted, err := runGrabCommand(ctx, "wslpath", "-u", winPath)
	if err != nil {
		return nil, err
	}

	path := strings.TrimSpace(string(mounted))
	defer os.Remove(path)

	img, err := decodePNGFile(path)
	if err != nil {
		return nil, err
	}

	// PowerShell captures the whole primary screen; crop and scale in-process.
	return cropAndScale(img, captureRect(display, region), scale), nil
}

func runGrabCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		if stderr.Len() > 0 {
			return nil, fmt.Errorf("%s failed: %w: %s", name, err, stderr.String())
		}
		return nil, fmt.Errorf("%s failed: %w", name, err)
	}

	return out, nil
}

func decodePNGFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture file: %w", err)
	}
	defer f.Close()

	img, err := png.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode capture file: %w", err)
	}

	return img, nil
}

// cropAndScale applies an in-process crop and downscale for backends that cannot do it
// natively. An empty rect skips the crop, and a scale of MaxScale skips the scaling.
func cropAndScale(img image.Image, rect image.Rectangle, scale float64) image.Image {
	if !rect.Empty() {
		rect = rect.Intersect(img.Bounds())
		if !rect.Empty() && rect != img.Bounds() {
			cropped := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
			draw.Draw(cropped, cropped.Bounds(), img, rect.Min, draw.Src)
			img = cropped
		}
	}

	if scale >= MaxScale {
		return img
	}

	bounds := img.Bounds()
	width := int(math.Max(1, math.Round(float64(bounds.Dx())*scale)))
	height := int(math.Max(1, math.Round(float64(bounds.Dy())*scale)))

	scaled := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(scaled, scaled.Bounds(), img, bounds, draw.Src, nil)

	return scaled
}
