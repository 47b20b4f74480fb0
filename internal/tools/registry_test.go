package tools

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
)

type echoTool struct {
	schema json.RawMessage
	calls  int
}

func (e *echoTool) Name() string            { return "echo" }
func (e *echoTool) Description() string     { return "echoes its input" }
func (e *echoTool) RequiresApproval() bool  { return false }
func (e *echoTool) Schema() json.RawMessage { return e.schema }
func (e *echoTool) Execute(ctx context.Context, inv *Invocation) (*Result, error) {
	e.calls++
	return &Result{Content: string(inv.Args)}, nil
}

func objectSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {"text": {"type": "string"}},
		"required": ["text"]
	}`)
}

func TestRegistryExecuteValidArgs(t *testing.T) {
	reg := NewRegistry()
	tool := &echoTool{schema: objectSchema()}
	reg.Register(tool)

	res, err := reg.Execute(context.Background(), "echo", &Invocation{
		Args: rawArgs(map[string]string{"text": "hi"}),
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError {
		t.Fatalf("unexpected error result: %s", res.Content)
	}
	if tool.calls != 1 {
		t.Errorf("calls = %d, want 1", tool.calls)
	}
}

func TestRegistryExecuteInvalidArgs(t *testing.T) {
	reg := NewRegistry()
	tool := &echoTool{schema: objectSchema()}
	reg.Register(tool)

	res, err := reg.Execute(context.Background(), "echo", &Invocation{
		Args: rawArgs(map[string]int{"text": 42}),
	})
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError {
		t.Error("schema violation not reported")
	}
	if tool.calls != 0 {
		t.Errorf("tool ran despite invalid args, calls = %d", tool.calls)
	}
}

func TestRegistryExecuteUnknownTool(t *testing.T) {
	res, err := NewRegistry().Execute(context.Background(), "ghost", &Invocation{})
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError || !strings.Contains(res.Content, "unknown tool") {
		t.Errorf("result = %+v", res)
	}
}

func TestRegistryExecuteCaps(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&echoTool{schema: objectSchema()})

	longName := strings.Repeat("x", MaxToolNameLength+1)
	res, err := reg.Execute(context.Background(), longName, &Invocation{})
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError {
		t.Error("oversized name accepted")
	}

	huge := json.RawMessage(`{"text":"` + strings.Repeat("a", MaxToolArgsSize) + `"}`)
	res, err = reg.Execute(context.Background(), "echo", &Invocation{Args: huge})
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError {
		t.Error("oversized args accepted")
	}
}

func TestRegistryEmptyArgsDefaultObject(t *testing.T) {
	reg := NewRegistry()
	tool := &echoTool{schema: json.RawMessage(`{"type":"object"}`)}
	reg.Register(tool)

	res, err := reg.Execute(context.Background(), "echo", &Invocation{})
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError {
		t.Fatalf("empty args rejected: %s", res.Content)
	}
}

func TestRegistryUnregister(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&echoTool{schema: objectSchema()})
	reg.Unregister("echo")
	if _, ok := reg.Get("echo"); ok {
		t.Error("tool still registered")
	}
	if len(reg.List()) != 0 {
		t.Errorf("List() = %d tools, want 0", len(reg.List()))
	}
}
