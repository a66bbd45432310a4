package screenshare

import (
	"context"
	"fmt"
	"strings"

	"screenshare/mcp"
)

const screenshareUsage = `Screen sharing tools:
- list_displays: enumerate displays (index 0 spans all monitors)
- screenshare_start: open the screen source on a display, optionally cropped and downscaled
- screenshare_status: report source and stream state
- screenshare_capture: save one screenshot and return its path
- screenshare_stream: save a timed burst of screenshots, thinned by stride, and return the kept paths
- screenshare_stop: release the source and cancel a running stream

Capture tools auto-start the source with defaults, so screenshare_capture works without
calling screenshare_start first. Saved frames are also readable as screen://frames/ resources.`

var promptList = []mcp.Prompt{
	{
		Name:        "screenshare",
		Description: "Explains how to use the screen sharing tools",
	},
	{
		Name:        "screenshare_review",
		Description: "Asks the assistant to review the most recently captured frames",
		Arguments: []mcp.PromptArgument{
			{
				Name:        "focus",
				Description: "What to pay attention to in the frames",
			},
		},
	},
}

var promptCompletions = map[string][]string{
	"focus": {"code", "errors", "terminal", "ui"},
}

// ListPrompts implements mcp.PromptServer interface.
func (s *Server) ListPrompts(
	_ context.Context,
	_ mcp.ListPromptsParams,
	_ mcp.ProgressReporter,
	_ mcp.RequestClientFunc,
) (mcp.ListPromptResult, error) {
	s.log(mcp.LogLevelDebug, "ListPrompts")

	return mcp.ListPromptResult{
		Prompts: promptList,
	}, nil
}

// GetPrompt implements mcp.PromptServer interface.
func (s *Server) GetPrompt(
	_ context.Context,
	params mcp.GetPromptParams,
	_ mcp.ProgressReporter,
	_ mcp.RequestClientFunc,
) (mcp.GetPromptResult, error) {
	s.log(mcp.LogLevelDebug, fmt.Sprintf("GetPrompt: %s", params.Name))

	switch params.Name {
	case "screenshare":
		return mcp.GetPromptResult{
			Description: "Screen sharing usage help",
			Messages: []mcp.PromptMessage{
				{
					Role: mcp.RoleUser,
					Content: mcp.Content{
						Type: mcp.ContentTypeText,
						Text: screenshareUsage,
					},
				},
			},
		}, nil
	case "screenshare_review":
		text := "Review the most recently captured screen frames under screen://frames " +
			"and describe what the user is doing."
		if focus := params.Arguments["focus"]; focus != "" {
			text += fmt.Sprintf(" Pay particular attention to: %s.", focus)
		}
		return mcp.GetPromptResult{
			Description: "Review of recent screen captures",
			Messages: []mcp.PromptMessage{
				{
					Role: mcp.RoleUser,
					Content: mcp.Content{
						Type: mcp.ContentTypeText,
						Text: text,
					},
				},
			},
		}, nil
	default:
		return mcp.GetPromptResult{}, fmt.Errorf("prompt not found: %s", params.Name)
	}
}

// CompletesPrompt implements mcp.PromptServer interface.
func (s *Server) CompletesPrompt(
	_ context.Context,
	params mcp.CompletesCompletionParams,
	_ mcp.RequestClientFunc,
) (mcp.CompletionResult, error) {
	s.log(mcp.LogLevelDebug, fmt.Sprintf("CompletesPrompt: %s/%s", params.Ref.Name, params.Argument.Name))

	if params.Ref.Name != "screenshare_review" {
		return mcp.CompletionResult{}, nil
	}

	var values []string
	for _, c := range promptCompletions[params.Argument.Name] {
		if strings.HasPrefix(c, params.Argument.Value) {
			values = append(values, c)
		}
	}

	return mcp.CompletionResult{
		Completion: struct {
			Values  []string `json:"values"`
			HasMore bool     `json:"hasMore,omitempty"`
			Total   int      `json:"total,omitempty"`
		}{
			Values: values,
		},
	}, nil
}
