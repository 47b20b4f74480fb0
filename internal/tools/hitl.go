package tools

import (
	"context"
	"encoding/json"
	"strings"
)

// HITLToolName is the registered name of the human-in-the-loop tool.
const HITLToolName = "hitl_request"

// HITLTool pauses the agent until a human picks one of the offered
// options. Execution blocks on the pending request; cancellation or a
// timeout upstream resolves it with the first option.
type HITLTool struct{}

// NewHITLTool creates the human-in-the-loop tool.
func NewHITLTool() *HITLTool { return &HITLTool{} }

func (t *HITLTool) Name() string { return HITLToolName }

func (t *HITLTool) Description() string {
	return "Ask the human a question with a fixed set of options and wait " +
		"for their choice before continuing."
}

func (t *HITLTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"prompt": {
				"type": "string",
				"description": "Question shown to the human"
			},
			"options": {
				"type": "array",
				"items": {"type": "string"},
				"minItems": 1,
				"description": "Choices offered to the human"
			}
		},
		"required": ["prompt", "options"]
	}`)
}

func (t *HITLTool) RequiresApproval() bool { return false }

type hitlArgs struct {
	Prompt  string   `json:"prompt"`
	Options []string `json:"options"`
}

func (t *HITLTool) Execute(ctx context.Context, inv *Invocation) (*Result, error) {
	var args hitlArgs
	if err := json.Unmarshal(inv.Args, &args); err != nil {
		return errorResult("invalid hitl_request arguments: " + err.Error()), nil
	}
	if strings.TrimSpace(args.Prompt) == "" {
		return errorResult("prompt is required"), nil
	}
	if len(args.Options) == 0 {
		return errorResult("at least one option is required"), nil
	}

	requestID, choice := inv.Runtime.EnqueueHITL(args.Prompt, args.Options, nil)

	select {
	case <-ctx.Done():
		return errorResult("human request canceled: " + ctx.Err().Error()), nil
	case selected, ok := <-choice:
		if !ok {
			return errorResult("human request dismissed"), nil
		}
		return jsonResult(map[string]any{
			"requestId": requestID,
			"choice":    selected,
		}), nil
	}
}
