package screenshare

import "screenshare/screen"

// ListDisplaysArgs is an argument struct for the list_displays tool.
type ListDisplaysArgs struct {
	MaxIndex int `json:"max_index"`
}

// StartArgs is an argument struct for the screenshare_start tool.
//
// DisplayIndex is a pointer so the default display can be told apart from an explicit
// request for display 0, the virtual display spanning all monitors.
type StartArgs struct {
	DisplayIndex *int    `json:"display_index"`
	Left         int     `json:"left"`
	Top          int     `json:"top"`
	Width        int     `json:"width"`
	Height       int     `json:"height"`
	Scale        float64 `json:"scale"`
}

// CaptureArgs is an argument struct for the screenshare_capture tool.
type CaptureArgs struct {
	SaveDir string `json:"save_dir"`
	Format  string `json:"format"`
	Prompt  string `json:"prompt"`
	Outfile string `json:"outfile"`
}

// StreamArgs is an argument struct for the screenshare_stream tool.
type StreamArgs struct {
	N          int     `json:"n"`
	PeriodMS   int     `json:"period_ms"`
	DurationMS int     `json:"duration_ms"`
	Cycles     int     `json:"cycles"`
	PauseSecs  float64 `json:"pause_secs"`
	Stride     int     `json:"stride"`
	Warmup     int     `json:"warmup"`
	SaveDir    string  `json:"save_dir"`
	Format     string  `json:"format"`
	Mode       string  `json:"mode"`
}

// ListDisplaysResult is the result payload of the list_displays tool.
type ListDisplaysResult struct {
	Displays []screen.Display `json:"displays"`
}

// StartResult is the result payload of the screenshare_start tool.
type StartResult struct {
	OK           bool         `json:"ok"`
	Message      string       `json:"message"`
	Props        screen.Props `json:"props"`
	DisplayIndex int          `json:"display_index"`
}

// StreamStatus describes the running stream in a StatusResult.
type StreamStatus struct {
	Running     bool   `json:"running"`
	FramesSaved int    `json:"frames_saved"`
	StartedAt   string `json:"started_at,omitempty"`
	Deadline    string `json:"deadline,omitempty"`
}

// StatusResult is the result payload of the screenshare_status tool.
type StatusResult struct {
	Open         bool         `json:"open"`
	DisplayIndex int          `json:"display_index"`
	Props        screen.Props `json:"props"`
	Stream       StreamStatus `json:"stream"`
}

// CaptureResult is the result payload of the screenshare_capture tool.
type CaptureResult struct {
	OK          bool   `json:"ok"`
	Path        string `json:"path"`
	Mime        string `json:"mime"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	Instruction string `json:"instruction,omitempty"`
}

// CycleResult holds the kept frames of one stream cycle, in chronological order, plus
// the sampled reply when the client supports sampling.
type CycleResult struct {
	Cycle int      `json:"cycle"`
	Paths []string `json:"paths"`
	Reply string   `json:"reply,omitempty"`
}

// StreamResult is the result payload of the screenshare_stream tool.
type StreamResult struct {
	OK             bool          `json:"ok"`
	Mode           string        `json:"mode"`
	Cycles         []CycleResult `json:"cycles"`
	FramesCaptured int           `json:"frames_captured"`
	FramesKept     int           `json:"frames_kept"`
	Mime           string        `json:"mime"`
	PeriodMS       int           `json:"period_ms"`
	SaveDir        string        `json:"save_dir"`
	StoppedEarly   bool          `json:"stopped_early"`
	Message        string        `json:"message,omitempty"`
	Instruction    string        `json:"instruction"`
}

// StopResult is the result payload of the screenshare_stop tool.
type StopResult struct {
	OK bool `json:"ok"`
}

var listDisplaysSchema = []byte(`
  {
    "type": "object",
    "properties": {
      "max_index": {
        "type": "integer",
        "description": "Highest display index to report",
        "default": 10
      }
    }
  }
`)

var startSchema = []byte(`
  {
    "type": "object",
    "properties": {
      "display_index": {
        "type": "integer",
        "description": "0 = virtual display spanning all monitors, 1..N = specific display from list_displays",
        "default": 1
      },
      "left": { "type": "integer", "default": 0 },
      "top": { "type": "integer", "default": 0 },
      "width": {
        "type": "integer",
        "description": "Crop width relative to the chosen display; 0 or negative selects the full display",
        "default": 0
      },
      "height": {
        "type": "integer",
        "description": "Crop height relative to the chosen display; 0 or negative selects the full display",
        "default": 0
      },
      "scale": {
        "type": "number",
        "description": "Downscale factor between 0.1 and 1.0",
        "default": 1.0
      }
    }
  }
`)

var statusSchema = []byte(`
  {
    "type": "object",
    "properties": {}
  }
`)

var captureSchema = []byte(`
  {
    "type": "object",
    "properties": {
      "save_dir": {
        "type": "string",
        "description": "Directory the frame is saved into",
        "default": "~/.screen_frames"
      },
      "format": {
        "type": "string",
        "enum": ["jpg", "png"],
        "default": "jpg"
      },
      "prompt": {
        "type": "string",
        "description": "Instruction echoed back for the host to apply to the captured frame"
      },
      "outfile": {
        "type": "string",
        "description": "Explicit output filename, overriding the generated timestamped name"
      }
    }
  }
`)

var streamSchema = []byte(`
  {
    "type": "object",
    "properties": {
      "n": {
        "type": "integer",
        "description": "Frames to capture per cycle",
        "default": 8
      },
      "period_ms": {
        "type": "integer",
        "description": "Delay between frames in milliseconds",
        "default": 150
      },
      "duration_ms": {
        "type": "integer",
        "description": "When positive, n is computed as round(duration_ms / period_ms)",
        "default": 0
      },
      "cycles": {
        "type": "integer",
        "description": "Number of capture cycles",
        "default": 1
      },
      "pause_secs": {
        "type": "number",
        "description": "Pause between cycles in seconds",
        "default": 0
      },
      "stride": {
        "type": "integer",
        "description": "Keep every stride-th captured frame; 2 keeps every other frame",
        "default": 2
      },
      "warmup": {
        "type": "integer",
        "description": "Discarded warmup grabs before each cycle",
        "default": 0
      },
      "save_dir": { "type": "string" },
      "format": {
        "type": "string",
        "enum": ["jpg", "png"],
        "default": "jpg"
      },
      "mode": {
        "type": "string",
        "enum": ["reply", "transcribe", "both"],
        "default": "reply"
      }
    }
  }
`)

var stopSchema = []byte(`
  {
    "type": "object",
    "properties": {}
  }
`)
