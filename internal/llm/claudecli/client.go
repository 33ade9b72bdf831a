// Package claudecli implements the llm.Client contract over the Claude
// Code CLI, driving it as a subprocess in single-turn stream-json mode.
// Declared tools reach the CLI through the loopback MCP bridge named in
// MCPServerURL, which carries the full schemas; tool execution stays
// with the orchestrator, which observes tool_use blocks in the stream
// and routes them through its own invoker.
package claudecli

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/helmsman-dev/helmsman/internal/llm"
)

type Options struct {
	CLIPath string // defaults to "claude" on PATH
	Model   string
	Cwd     string
	// MCPServerURL points the CLI at the in-process tool bridge. Empty
	// leaves the CLI without declared tools.
	MCPServerURL string
}

type Client struct {
	opts Options
}

func New(opts Options) *Client {
	if opts.CLIPath == "" {
		opts.CLIPath = "claude"
	}
	return &Client{opts: opts}
}

func (c *Client) Chat(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	cliPath, err := exec.LookPath(c.opts.CLIPath)
	if err != nil {
		return nil, fmt.Errorf("claude CLI not found at %q (install with: npm install -g @anthropic-ai/claude-code): %w", c.opts.CLIPath, err)
	}

	args := []string{
		"--print",
		"--output-format", "stream-json",
		"--verbose",
		"--max-turns", "1",
	}
	if c.opts.Model != "" {
		args = append(args, "--model", c.opts.Model)
	}
	if req.System != "" {
		args = append(args, "--append-system-prompt", req.System)
	}
	if c.opts.MCPServerURL != "" && len(req.Tools) > 0 {
		args = append(args, "--mcp-config", mcpConfig(c.opts.MCPServerURL), "--strict-mcp-config")
	}
	for _, tool := range req.Tools {
		args = append(args, "--allow-tool", "mcp__helmsman__"+tool.Name)
	}

	cmd := exec.CommandContext(ctx, cliPath, args...)
	if c.opts.Cwd != "" {
		cmd.Dir = c.opts.Cwd
	}
	cmd.Stdin = strings.NewReader(renderConversation(req))

	out, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var exitErr *exec.ExitError
		detail := ""
		if ok := asExitError(err, &exitErr); ok {
			detail = strings.TrimSpace(string(exitErr.Stderr))
		}
		return nil, fmt.Errorf("claude CLI failed: %w: %s", err, detail)
	}

	return parseStream(out)
}

// mcpConfig renders the inline server declaration the CLI accepts in
// place of a config file path.
func mcpConfig(url string) string {
	cfg := map[string]any{
		"mcpServers": map[string]any{
			"helmsman": map[string]any{"type": "http", "url": url},
		},
	}
	data, _ := json.Marshal(cfg)
	return string(data)
}

func asExitError(err error, target **exec.ExitError) bool {
	e, ok := err.(*exec.ExitError)
	if ok {
		*target = e
	}
	return ok
}

// renderConversation flattens the message history into the prompt fed to
// the CLI. Tool results are labelled so the model can correlate them
// with its earlier calls.
func renderConversation(req *llm.ChatRequest) string {
	var sb strings.Builder
	for _, msg := range req.Messages {
		switch msg.Role {
		case llm.RoleUser:
			sb.WriteString(msg.Content)
		case llm.RoleAssistant:
			sb.WriteString("[assistant] ")
			sb.WriteString(msg.Content)
		case llm.RoleTool:
			status := "ok"
			if msg.IsError {
				status = "error"
			}
			fmt.Fprintf(&sb, "[tool_result id=%s status=%s]\n%s", msg.ToolCallID, status, msg.Content)
		}
		sb.WriteString("\n\n")
	}
	return sb.String()
}

// parseStream reads the newline-delimited JSON emitted by the CLI and
// folds it into a single ChatResponse.
func parseStream(out []byte) (*llm.ChatResponse, error) {
	resp := &llm.ChatResponse{}
	var contents []string

	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var raw struct {
			Type    string `json:"type"`
			Message struct {
				Content []json.RawMessage `json:"content"`
			} `json:"message"`
			Usage map[string]int `json:"usage"`
		}
		if err := json.Unmarshal([]byte(line), &raw); err != nil {
			return nil, fmt.Errorf("failed to decode CLI output line %q: %w", line, err)
		}

		switch raw.Type {
		case "assistant":
			for _, blockRaw := range raw.Message.Content {
				var block struct {
					Type  string         `json:"type"`
					Text  string         `json:"text"`
					ID    string         `json:"id"`
					Name  string         `json:"name"`
					Input map[string]any `json:"input"`
				}
				if err := json.Unmarshal(blockRaw, &block); err != nil {
					return nil, fmt.Errorf("failed to decode content block: %w", err)
				}
				switch block.Type {
				case "text":
					contents = append(contents, block.Text)
				case "tool_use":
					resp.ToolCalls = append(resp.ToolCalls, llm.ToolCall{
						ID:   block.ID,
						Name: strings.TrimPrefix(block.Name, "mcp__helmsman__"),
						Args: block.Input,
					})
				}
			}
		case "result":
			if len(raw.Usage) > 0 {
				resp.Usage = &llm.Usage{
					InputTokens:  raw.Usage["input_tokens"],
					OutputTokens: raw.Usage["output_tokens"],
				}
			}
		}
	}

	resp.Content = strings.Join(contents, "\n")
	return resp, nil
}
