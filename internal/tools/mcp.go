package tools

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agent-world/agent-world/pkg/models"
)

// MCP protocol constants.
const (
	mcpProtocolVersion = "2024-11-05"
	mcpClientName      = "agent-world"
	mcpClientVersion   = "1.0.0"
	mcpRequestTimeout  = 30 * time.Second
)

// jsonrpcRequest is a JSON-RPC 2.0 request envelope.
type jsonrpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// jsonrpcResponse is a JSON-RPC 2.0 response envelope.
type jsonrpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *jsonrpcError   `json:"error,omitempty"`
}

type jsonrpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *jsonrpcError) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// mcpTransport sends one JSON-RPC message and returns the matching
// response. Notifications pass a nil response slot.
type mcpTransport interface {
	send(ctx context.Context, req *jsonrpcRequest) (*jsonrpcResponse, error)
	close() error
}

// MCPClient speaks the Model Context Protocol to one external tool
// server over stdio or HTTP.
type MCPClient struct {
	serverID  string
	transport mcpTransport
}

// NewMCPClient connects to the configured server and performs the
// initialize handshake.
func NewMCPClient(ctx context.Context, cfg models.MCPServerConfig) (*MCPClient, error) {
	var transport mcpTransport
	var err error
	switch cfg.Transport {
	case "stdio":
		transport, err = newStdioTransport(cfg)
	case "http":
		transport, err = newHTTPTransport(cfg)
	default:
		return nil, fmt.Errorf("mcp server %s: unknown transport %q", cfg.ID, cfg.Transport)
	}
	if err != nil {
		return nil, err
	}

	c := &MCPClient{serverID: cfg.ID, transport: transport}
	if err := c.initialize(ctx); err != nil {
		transport.close()
		return nil, fmt.Errorf("mcp server %s: initialize: %w", cfg.ID, err)
	}
	return c, nil
}

func (c *MCPClient) initialize(ctx context.Context) error {
	_, err := c.call(ctx, "initialize", map[string]any{
		"protocolVersion": mcpProtocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo": map[string]any{
			"name":    mcpClientName,
			"version": mcpClientVersion,
		},
	})
	if err != nil {
		return err
	}
	_, err = c.transport.send(ctx, &jsonrpcRequest{
		JSONRPC: "2.0",
		Method:  "notifications/initialized",
	})
	return err
}

func (c *MCPClient) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, mcpRequestTimeout)
	defer cancel()
	resp, err := c.transport.send(ctx, &jsonrpcRequest{
		JSONRPC: "2.0",
		ID:      uuid.NewString(),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	return resp.Result, nil
}

// mcpToolInfo is one entry from tools/list.
type mcpToolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// ListTools returns the server's tool catalog.
func (c *MCPClient) ListTools(ctx context.Context) ([]mcpToolInfo, error) {
	raw, err := c.call(ctx, "tools/list", map[string]any{})
	if err != nil {
		return nil, err
	}
	var result struct {
		Tools []mcpToolInfo `json:"tools"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode tools/list: %w", err)
	}
	return result.Tools, nil
}

// CallTool invokes a remote tool and flattens its content blocks into
// text.
func (c *MCPClient) CallTool(ctx context.Context, name string, args json.RawMessage) (string, bool, error) {
	params := map[string]any{"name": name}
	if len(args) > 0 {
		var decoded map[string]any
		if err := json.Unmarshal(args, &decoded); err != nil {
			return "", false, fmt.Errorf("invalid arguments: %w", err)
		}
		params["arguments"] = decoded
	}
	raw, err := c.call(ctx, "tools/call", params)
	if err != nil {
		return "", false, err
	}
	var result struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		IsError bool `json:"isError"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", false, fmt.Errorf("decode tools/call: %w", err)
	}
	var b bytes.Buffer
	for _, block := range result.Content {
		if block.Type == "text" {
			if b.Len() > 0 {
				b.WriteByte('\n')
			}
			b.WriteString(block.Text)
		}
	}
	return b.String(), result.IsError, nil
}

// Close shuts the transport down.
func (c *MCPClient) Close() error { return c.transport.close() }

// RegisterMCPTools lists the server's tools and registers a proxy for
// each in reg, named "<serverID>.<tool>". Returns the registered names
// so they can be unregistered when the world shuts down.
func RegisterMCPTools(ctx context.Context, reg *Registry, client *MCPClient) ([]string, error) {
	infos, err := client.ListTools(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		proxy := &mcpProxyTool{
			client:      client,
			remoteName:  info.Name,
			name:        client.serverID + "." + info.Name,
			description: info.Description,
			schema:      info.InputSchema,
		}
		reg.Register(proxy)
		names = append(names, proxy.name)
	}
	return names, nil
}

// mcpProxyTool exposes one remote MCP tool through the local registry.
type mcpProxyTool struct {
	client      *MCPClient
	remoteName  string
	name        string
	description string
	schema      json.RawMessage
}

func (t *mcpProxyTool) Name() string        { return t.name }
func (t *mcpProxyTool) Description() string { return t.description }

func (t *mcpProxyTool) Schema() json.RawMessage {
	if len(t.schema) == 0 {
		return json.RawMessage(`{"type":"object"}`)
	}
	return t.schema
}

// External tools always pass the approval gate.
func (t *mcpProxyTool) RequiresApproval() bool { return true }

func (t *mcpProxyTool) Execute(ctx context.Context, inv *Invocation) (*Result, error) {
	content, isErr, err := t.client.CallTool(ctx, t.remoteName, inv.Args)
	if err != nil {
		return errorResult(fmt.Sprintf("mcp tool %s: %v", t.name, err)), nil
	}
	return &Result{Content: content, IsError: isErr}, nil
}

// stdioTransport runs the server as a child process and exchanges
// newline-delimited JSON over its stdin/stdout.
type stdioTransport struct {
	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
}

func newStdioTransport(cfg models.MCPServerConfig) (*stdioTransport, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("mcp server %s: stdio transport needs a command", cfg.ID)
	}
	cmd := exec.Command(cfg.Command, cfg.Args...)
	cmd.Env = os.Environ()
	for k, v := range cfg.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("mcp server %s: start %s: %w", cfg.ID, cfg.Command, err)
	}
	return &stdioTransport{
		cmd:    cmd,
		stdin:  stdin,
		stdout: bufio.NewReader(stdout),
	}, nil
}

func (t *stdioTransport) send(ctx context.Context, req *jsonrpcRequest) (*jsonrpcResponse, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	payload = append(payload, '\n')
	if _, err := t.stdin.Write(payload); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}
	// Notifications get no response.
	if req.ID == "" {
		return nil, nil
	}

	type readResult struct {
		resp *jsonrpcResponse
		err  error
	}
	done := make(chan readResult, 1)
	go func() {
		for {
			line, err := t.stdout.ReadBytes('\n')
			if err != nil {
				done <- readResult{err: fmt.Errorf("read response: %w", err)}
				return
			}
			if len(bytes.TrimSpace(line)) == 0 {
				continue
			}
			var resp jsonrpcResponse
			if err := json.Unmarshal(line, &resp); err != nil {
				continue // server log noise on stdout
			}
			if resp.ID != req.ID {
				continue
			}
			done <- readResult{resp: &resp}
			return
		}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-done:
		return r.resp, r.err
	}
}

func (t *stdioTransport) close() error {
	t.stdin.Close()
	if t.cmd.Process != nil {
		t.cmd.Process.Kill()
	}
	return t.cmd.Wait()
}

// httpTransport posts each message to the server endpoint.
type httpTransport struct {
	url     string
	headers map[string]string
	client  *http.Client
}

func newHTTPTransport(cfg models.MCPServerConfig) (*httpTransport, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("mcp server %s: http transport needs a url", cfg.ID)
	}
	return &httpTransport{
		url:     cfg.URL,
		headers: cfg.Headers,
		client:  &http.Client{Timeout: mcpRequestTimeout},
	}, nil
}

func (t *httpTransport) send(ctx context.Context, req *jsonrpcRequest) (*jsonrpcResponse, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	for k, v := range t.headers {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	if req.ID == "" {
		io.Copy(io.Discard, httpResp.Body)
		return nil, nil
	}
	if httpResp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(httpResp.Body, 4096))
		return nil, fmt.Errorf("http %d: %s", httpResp.StatusCode, bytes.TrimSpace(body))
	}
	var resp jsonrpcResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &resp, nil
}

func (t *httpTransport) close() error { return nil }
