package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/agent-world/agent-world/internal/skills"
)

// LoadSkillToolName is the registered name of the skill loading tool.
const LoadSkillToolName = "load_skill"

// LoadSkillTool returns a skill's full instructions wrapped in an
// execution envelope. Skill bodies are re-read from disk at load time
// so edits take effect without a resync.
type LoadSkillTool struct {
	registry *skills.Registry
}

// NewLoadSkillTool creates the skill loading tool backed by registry.
func NewLoadSkillTool(registry *skills.Registry) *LoadSkillTool {
	return &LoadSkillTool{registry: registry}
}

func (t *LoadSkillTool) Name() string { return LoadSkillToolName }

func (t *LoadSkillTool) Description() string {
	return "Load the full instructions of a skill by id. " +
		"Follow the returned instructions immediately."
}

func (t *LoadSkillTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"skill": {
				"type": "string",
				"description": "Id of the skill to load"
			}
		},
		"required": ["skill"]
	}`)
}

func (t *LoadSkillTool) RequiresApproval() bool { return false }

type loadSkillArgs struct {
	Skill string `json:"skill"`
}

func (t *LoadSkillTool) Execute(ctx context.Context, inv *Invocation) (*Result, error) {
	var args loadSkillArgs
	if err := json.Unmarshal(inv.Args, &args); err != nil {
		return errorResult("invalid load_skill arguments: " + err.Error()), nil
	}
	id := strings.TrimSpace(args.Skill)
	if id == "" {
		return errorResult("skill id is required"), nil
	}

	skill, ok := t.registry.Get(id)
	if !ok {
		return jsonResult(map[string]any{
			"status":    "not_found",
			"skill":     id,
			"available": t.availableIDs(),
		}), nil
	}

	content, err := t.registry.LoadContent(id)
	if err != nil {
		return errorResult(fmt.Sprintf("failed to read skill %q: %v", id, err)), nil
	}

	var b strings.Builder
	b.WriteString("<skill_context>\n")
	fmt.Fprintf(&b, "Skill: %s\n", skill.ID)
	fmt.Fprintf(&b, "Description: %s\n", skill.Description)
	b.WriteString("</skill_context>\n\n")
	b.WriteString("<instructions>\n")
	b.WriteString(content)
	b.WriteString("\n</instructions>\n\n")
	b.WriteString("<execution_directive>\n")
	b.WriteString("Apply these instructions to the current task now. ")
	b.WriteString("Do not summarize them back to the user.\n")
	b.WriteString("</execution_directive>")
	return &Result{Content: b.String()}, nil
}

func (t *LoadSkillTool) availableIDs() []string {
	list := t.registry.List()
	ids := make([]string, 0, len(list))
	for _, s := range list {
		ids = append(ids, s.ID)
	}
	sort.Strings(ids)
	return ids
}
