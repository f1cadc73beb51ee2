package mcp

import "github.com/maraichr/cellforge/internal/mcp/session"

// NavigationHints suggests next tool calls based on current results.
type NavigationHints struct {
	Steps []NavigationStep `json:"steps"`
}

// NavigationStep is a suggested next MCP tool call.
type NavigationStep struct {
	Tool        string `json:"tool"`
	Description string `json:"description"`
}

// SuggestNextSteps returns hints for the tool that was just called. sess may
// be nil.
func SuggestNextSteps(toolName string, sess *session.Session) *NavigationHints {
	var steps []NavigationStep
	hasWorkbook := sess != nil && sess.Workbook != ""

	switch toolName {
	case "use_workbook", "describe_workbook":
		steps = append(steps,
			NavigationStep{Tool: "read_range", Description: "Look at the cells you want to transform"},
			NavigationStep{Tool: "preview_range", Description: "Try an instruction on a few cells"},
		)
	case "read_range":
		steps = append(steps, NavigationStep{Tool: "preview_range", Description: "Try an instruction on these cells"})
	case "preview_range":
		steps = append(steps, NavigationStep{Tool: "start_run", Description: "Apply the instruction to the whole range"})
	case "start_run":
		steps = append(steps, NavigationStep{Tool: "get_run", Description: "Follow progress and read results"})
	case "get_run":
		if sess != nil {
			if _, ok := sess.LastRun(); ok {
				steps = append(steps, NavigationStep{Tool: "cancel_run", Description: "Stop the run if it is going wrong"})
			}
		}
	case "list_prompts", "list_models", "transform_text":
		if hasWorkbook {
			steps = append(steps, NavigationStep{Tool: "preview_range", Description: "Use it on the session workbook"})
		} else {
			steps = append(steps, NavigationStep{Tool: "use_workbook", Description: "Pick a workbook to work on"})
		}
	}

	if len(steps) == 0 {
		return nil
	}
	return &NavigationHints{Steps: steps}
}
