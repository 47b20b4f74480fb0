package tools

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/agent-world/agent-world/internal/skills"
	"github.com/agent-world/agent-world/pkg/models"
)

func TestHITLWaitsForChoice(t *testing.T) {
	rt := newFakeRuntime(t.TempDir())
	rt.hitlChoice = "approve"

	res, err := NewHITLTool().Execute(context.Background(), &Invocation{
		Runtime: rt,
		Args:    rawArgs(map[string]any{"prompt": "Deploy?", "options": []string{"approve", "reject"}}),
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError {
		t.Fatalf("error result: %s", res.Content)
	}
	var out struct {
		RequestID string `json:"requestId"`
		Choice    string `json:"choice"`
	}
	if err := json.Unmarshal([]byte(res.Content), &out); err != nil {
		t.Fatal(err)
	}
	if out.Choice != "approve" || out.RequestID != "req-1" {
		t.Errorf("result = %+v", out)
	}
}

func TestHITLDismissedChannel(t *testing.T) {
	rt := newFakeRuntime(t.TempDir())
	rt.hitlClose = true

	res, err := NewHITLTool().Execute(context.Background(), &Invocation{
		Runtime: rt,
		Args:    rawArgs(map[string]any{"prompt": "Deploy?", "options": []string{"yes"}}),
	})
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError || !strings.Contains(res.Content, "dismissed") {
		t.Errorf("result = %+v", res)
	}
}

func TestHITLRequiresOptions(t *testing.T) {
	rt := newFakeRuntime(t.TempDir())
	res, err := NewHITLTool().Execute(context.Background(), &Invocation{
		Runtime: rt,
		Args:    rawArgs(map[string]any{"prompt": "Deploy?", "options": []string{}}),
	})
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError {
		t.Error("empty options accepted")
	}
	if len(rt.hitlPrompts) != 0 {
		t.Error("request enqueued despite invalid args")
	}
}

func TestCreateAgentDefaults(t *testing.T) {
	rt := newFakeRuntime(t.TempDir())

	res, err := NewCreateAgentTool().Execute(context.Background(), &Invocation{
		AgentID: "coordinator",
		Runtime: rt,
		Args:    rawArgs(map[string]any{"name": "Code Reviewer", "role": "review pull requests"}),
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError {
		t.Fatalf("error result: %s", res.Content)
	}

	if len(rt.created) != 1 {
		t.Fatalf("created %d agents, want 1", len(rt.created))
	}
	agent := rt.created[0]
	if agent.ID != "code-reviewer" {
		t.Errorf("id = %q", agent.ID)
	}
	if agent.Provider != "anthropic" || agent.Model != "claude-sonnet-4-20250514" {
		t.Errorf("inherited provider/model = %q/%q", agent.Provider, agent.Model)
	}
	if agent.AutoReply {
		t.Error("spawned agent has autoReply on")
	}
	wantPrompt := "You are agent Code Reviewer. Your role is review pull requests.\n\n" +
		"Always respond in exactly this structure:\n@coordinator\n{Your response}"
	if agent.SystemPrompt != wantPrompt {
		t.Errorf("system prompt = %q", agent.SystemPrompt)
	}

	if len(rt.hitlMeta) != 1 {
		t.Fatalf("hitl requests = %d, want 1", len(rt.hitlMeta))
	}
	if refresh, _ := rt.hitlMeta[0]["refreshAfterDismiss"].(bool); !refresh {
		t.Error("notification missing refreshAfterDismiss")
	}
}

func TestCreateAgentExplicitNextAgent(t *testing.T) {
	rt := newFakeRuntime(t.TempDir())

	_, err := NewCreateAgentTool().Execute(context.Background(), &Invocation{
		AgentID: "coordinator",
		Runtime: rt,
		Args: rawArgs(map[string]any{
			"name": "Tester", "role": "run tests", "nextAgent": "deployer",
		}),
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(rt.created[0].SystemPrompt, "@deployer") {
		t.Errorf("system prompt = %q", rt.created[0].SystemPrompt)
	}
}

func TestLoadSkill(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, ".agents", "skills", "deploy-checklist")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	doc := "---\nname: deploy-checklist\ndescription: Pre-deploy checks\n---\nRun the checklist."
	if err := os.WriteFile(filepath.Join(dir, "SKILL.md"), []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	reg := skills.NewRegistry(root, testLogger())
	if err := reg.Sync(context.Background()); err != nil {
		t.Fatal(err)
	}

	tool := NewLoadSkillTool(reg)
	res, err := tool.Execute(context.Background(), &Invocation{
		Runtime: newFakeRuntime(root),
		Args:    rawArgs(map[string]string{"skill": "deploy-checklist"}),
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError {
		t.Fatalf("error result: %s", res.Content)
	}
	for _, want := range []string{"<skill_context>", "<instructions>", "Run the checklist.", "<execution_directive>"} {
		if !strings.Contains(res.Content, want) {
			t.Errorf("envelope missing %q", want)
		}
	}

	res, err = tool.Execute(context.Background(), &Invocation{
		Runtime: newFakeRuntime(root),
		Args:    rawArgs(map[string]string{"skill": "missing"}),
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(res.Content, "not_found") {
		t.Errorf("missing skill result = %s", res.Content)
	}
	if !strings.Contains(res.Content, "deploy-checklist") {
		t.Errorf("available skills not listed: %s", res.Content)
	}
}

func TestShellStreamEventShape(t *testing.T) {
	skipWithoutShellTools(t)
	rt := newFakeRuntime(t.TempDir())
	execShell(t, rt, map[string]any{"command": "echo", "parameters": []string{"x"}})

	if len(rt.streamed) == 0 {
		t.Fatal("no stream events")
	}
	ev := rt.streamed[0]
	if ev.Type != models.StreamToolStream || ev.ToolCallID != "call-1" || ev.ToolName != ShellToolName {
		t.Errorf("event = %+v", ev)
	}
}
