package tools

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/agent-world/agent-world/pkg/models"
)

// ShellToolName is the registered name of the shell execution tool.
const ShellToolName = "shell_cmd"

// maxStreamLineSize caps a single streamed output line (1MB).
const maxStreamLineSize = 1 << 20

// ShellTool runs a single executable with literal arguments inside the
// world's working directory. There is no shell interpretation: the
// command and parameters are validated and passed straight to exec,
// and inline-eval interpreter flags are rejected.
type ShellTool struct{}

// NewShellTool creates the shell execution tool.
func NewShellTool() *ShellTool { return &ShellTool{} }

func (t *ShellTool) Name() string { return ShellToolName }

func (t *ShellTool) Description() string {
	return "Execute a command with arguments in the working directory. " +
		"No shell interpretation: metacharacters, inline code evaluation, " +
		"and paths outside the working directory are rejected."
}

func (t *ShellTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"command": {
				"type": "string",
				"description": "Executable name or path to run"
			},
			"parameters": {
				"type": "array",
				"items": {"type": "string"},
				"description": "Literal arguments passed to the command"
			},
			"directory": {
				"type": "string",
				"description": "Directory to run in; must be inside the working directory"
			},
			"timeout": {
				"type": "integer",
				"minimum": 1,
				"description": "Timeout in milliseconds"
			}
		},
		"required": ["command"]
	}`)
}

func (t *ShellTool) RequiresApproval() bool { return true }

type shellArgs struct {
	Command    string   `json:"command"`
	Parameters []string `json:"parameters"`
	Directory  string   `json:"directory"`
	Timeout    int      `json:"timeout"`
}

// shellOutcome is the minimal result fed back to the model. Full output
// reaches clients through the stream events; the model only sees the
// exit status.
type shellOutcome struct {
	Status   string `json:"status"`
	ExitCode int    `json:"exit_code"`
	TimedOut bool   `json:"timed_out"`
	Canceled bool   `json:"canceled"`
	Reason   string `json:"reason,omitempty"`
}

func (t *ShellTool) Execute(ctx context.Context, inv *Invocation) (*Result, error) {
	var args shellArgs
	if err := json.Unmarshal(inv.Args, &args); err != nil {
		return errorResult("invalid shell_cmd arguments: " + err.Error()), nil
	}

	command, err := validateCommand(args.Command)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	if err := rejectInlineEval(command, args.Parameters); err != nil {
		return errorResult(err.Error()), nil
	}

	workingDir := inv.Runtime.WorkingDirectory()
	dir, err := resolveDirectory(workingDir, args.Directory)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	if err := validateArguments(workingDir, args.Parameters); err != nil {
		return errorResult(err.Error()), nil
	}

	timeout := inv.Runtime.ShellTimeout()
	if args.Timeout > 0 {
		timeout = time.Duration(args.Timeout) * time.Millisecond
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, command, args.Parameters...)
	cmd.Dir = dir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return errorResult("stdout pipe: " + err.Error()), nil
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return errorResult("stderr pipe: " + err.Error()), nil
	}

	if err := cmd.Start(); err != nil {
		return errorResult(fmt.Sprintf("failed to start %s: %v", command, err)), nil
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go t.streamOutput(inv, "stdout", stdout, &wg)
	go t.streamOutput(inv, "stderr", stderr, &wg)
	wg.Wait()

	waitErr := cmd.Wait()

	outcome := shellOutcome{Status: "completed"}
	switch {
	case runCtx.Err() == context.DeadlineExceeded:
		outcome = shellOutcome{
			Status:   "timed_out",
			ExitCode: -1,
			TimedOut: true,
			Reason:   fmt.Sprintf("command exceeded %s timeout", timeout),
		}
	case errors.Is(runCtx.Err(), context.Canceled):
		outcome = shellOutcome{
			Status:   "canceled",
			ExitCode: -1,
			Canceled: true,
			Reason:   "execution canceled",
		}
	case waitErr != nil:
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			outcome = shellOutcome{
				Status:   "failed",
				ExitCode: exitErr.ExitCode(),
				Reason:   fmt.Sprintf("exit code %d", exitErr.ExitCode()),
			}
		} else {
			outcome = shellOutcome{Status: "failed", ExitCode: -1, Reason: waitErr.Error()}
		}
	}

	result := jsonResult(outcome)
	result.IsError = outcome.Status != "completed"
	return result, nil
}

// streamOutput forwards process output lines to clients as tool-stream
// events. The model never sees this text; clients render it live.
func (t *ShellTool) streamOutput(inv *Invocation, stream string, r interface{ Read([]byte) (int, error) }, wg *sync.WaitGroup) {
	defer wg.Done()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxStreamLineSize)
	for scanner.Scan() {
		inv.Runtime.EmitToolStream(&models.StreamEvent{
			Type:       models.StreamToolStream,
			AgentName:  inv.AgentID,
			ToolName:   ShellToolName,
			ToolCallID: inv.ToolCallID,
			Stream:     stream,
			Content:    scanner.Text(),
		})
	}
}
