package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/agent-world/agent-world/pkg/models"
)

// CreateAgentToolName is the registered name of the agent spawning tool.
const CreateAgentToolName = "create_agent"

// agentPromptTemplate shapes spawned agents into the @-mention handoff
// convention so multi-agent chains keep moving.
const agentPromptTemplate = "You are agent %s. Your role is %s.\n\n" +
	"Always respond in exactly this structure:\n@%s\n{Your response}"

// CreateAgentTool lets an agent spawn another agent in its world. The
// new agent inherits the world's default provider and model unless the
// caller overrides them, and a human notification is queued after the
// agent is created.
type CreateAgentTool struct{}

// NewCreateAgentTool creates the agent spawning tool.
func NewCreateAgentTool() *CreateAgentTool { return &CreateAgentTool{} }

func (t *CreateAgentTool) Name() string { return CreateAgentToolName }

func (t *CreateAgentTool) Description() string {
	return "Create a new agent in the current world with a name, role, " +
		"and the agent to hand off to after each response."
}

func (t *CreateAgentTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"name": {
				"type": "string",
				"description": "Display name of the new agent"
			},
			"role": {
				"type": "string",
				"description": "What the new agent is responsible for"
			},
			"nextAgent": {
				"type": "string",
				"description": "Agent to mention after each response; defaults to the creator"
			},
			"provider": {
				"type": "string",
				"description": "LLM provider override"
			},
			"model": {
				"type": "string",
				"description": "Model override"
			}
		},
		"required": ["name", "role"]
	}`)
}

func (t *CreateAgentTool) RequiresApproval() bool { return true }

type createAgentArgs struct {
	Name      string `json:"name"`
	Role      string `json:"role"`
	NextAgent string `json:"nextAgent"`
	Provider  string `json:"provider"`
	Model     string `json:"model"`
}

func (t *CreateAgentTool) Execute(ctx context.Context, inv *Invocation) (*Result, error) {
	var args createAgentArgs
	if err := json.Unmarshal(inv.Args, &args); err != nil {
		return errorResult("invalid create_agent arguments: " + err.Error()), nil
	}
	name := strings.TrimSpace(args.Name)
	role := strings.TrimSpace(args.Role)
	if name == "" || role == "" {
		return errorResult("name and role are required"), nil
	}

	next := strings.TrimSpace(args.NextAgent)
	if next == "" {
		next = inv.AgentID
	}

	provider, model := args.Provider, args.Model
	if provider == "" || model == "" {
		dp, dm := inv.Runtime.DefaultProviderModel()
		if provider == "" {
			provider = dp
		}
		if model == "" {
			model = dm
		}
	}

	agent := &models.Agent{
		ID:           models.SlugID(name),
		Name:         name,
		Provider:     provider,
		Model:        model,
		AutoReply:    false,
		SystemPrompt: fmt.Sprintf(agentPromptTemplate, name, role, next),
	}

	created, err := inv.Runtime.CreateAgent(ctx, agent)
	if err != nil {
		return errorResult("create agent: " + err.Error()), nil
	}

	// Notify the human; the choice is informational so the channel is
	// not waited on.
	inv.Runtime.EnqueueHITL(
		fmt.Sprintf("Agent '%s' was created by %s.", created.Name, inv.AgentID),
		[]string{"dismiss"},
		map[string]any{"refreshAfterDismiss": true, "agentId": created.ID},
	)

	return jsonResult(map[string]any{
		"status":   "created",
		"id":       created.ID,
		"name":     created.Name,
		"provider": created.Provider,
		"model":    created.Model,
	}), nil
}
