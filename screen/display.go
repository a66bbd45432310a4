package screen

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// ListDisplays enumerates the available displays. The result always starts with the
// index-0 virtual display covering all physical displays, followed by the physical
// displays numbered from 1.
//
// Enumeration shells out to xrandr when available. When no enumeration tool can be
// found, a single physical display with unknown geometry is assumed, which still lets
// full-screen grabs work since the grab backends size the capture themselves.
func ListDisplays(ctx context.Context) ([]Display, error) {
	physical, err := detectDisplays(ctx)
	if err != nil {
		return nil, err
	}

	displays := make([]Display, 0, len(physical)+1)
	displays = append(displays, VirtualUnion(physical))
	displays = append(displays, physical...)

	return displays, nil
}

func detectDisplays(ctx context.Context) ([]Display, error) {
	if _, err := exec.LookPath("xrandr"); err == nil {
		out, err := exec.CommandContext(ctx, "xrandr", "--listmonitors").Output()
		if err == nil {
			displays, perr := parseMonitors(string(out))
			if perr == nil && len(displays) > 0 {
				return displays, nil
			}
		}
	}

	// No enumeration tool available; assume a single display with unknown geometry.
	return []Display{{Index: 1}}, nil
}

// parseMonitors parses `xrandr --listmonitors` output, e.g.
//
//	Monitors: 2
//	 0: +*eDP-1 1920/344x1080/194+0+0  eDP-1
//	 1: +HDMI-1 2560/598x1440/336+1920+0  HDMI-1
func parseMonitors(out string) ([]Display, error) {
	var displays []Display

	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "Monitors:") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}

		d, err := parseMonitorGeometry(fields[2])
		if err != nil {
			return nil, fmt.Errorf("failed to parse monitor line %q: %w", line, err)
		}
		d.Index = len(displays) + 1
		displays = append(displays, d)
	}

	if len(displays) == 0 {
		return nil, fmt.Errorf("no monitors found")
	}

	return displays, nil
}

// parseMonitorGeometry parses the geometry field of a monitor line, shaped like
// "1920/344x1080/194+0+0" (width/mm-width x height/mm-height + x + y).
func parseMonitorGeometry(geom string) (Display, error) {
	xParts := strings.SplitN(geom, "x", 2)
	if len(xParts) != 2 {
		return Display{}, fmt.Errorf("invalid geometry: %s", geom)
	}

	width, err := strconv.Atoi(strings.SplitN(xParts[0], "/", 2)[0])
	if err != nil {
		return Display{}, fmt.Errorf("invalid width in geometry %s: %w", geom, err)
	}

	plusParts := strings.Split(xParts[1], "+")
	if len(plusParts) != 3 {
		return Display{}, fmt.Errorf("invalid geometry: %s", geom)
	}

	height, err := strconv.Atoi(strings.SplitN(plusParts[0], "/", 2)[0])
	if err != nil {
		return Display{}, fmt.Errorf("invalid height in geometry %s: %w", geom, err)
	}

	left, err := strconv.Atoi(plusParts[1])
	if err != nil {
		return Display{}, fmt.Errorf("invalid x offset in geometry %s: %w", geom, err)
	}

	top, err := strconv.Atoi(plusParts[2])
	if err != nil {
		return Display{}, fmt.Errorf("invalid y offset in geometry %s: %w", geom, err)
	}

	return Display{Left: left, Top: top, Width: width, Height: height}, nil
}
