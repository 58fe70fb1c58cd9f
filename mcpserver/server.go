package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/GalSened/mcp-filesystem-server/config"
	"github.com/GalSened/mcp-filesystem-server/sandbox"
)

// MCPServer represents the MCP server
type MCPServer struct {
	config    *config.Config
	logger    *zap.Logger
	fs        *sandbox.FS
	runner    *sandbox.Runner
	mcpServer *server.MCPServer
}

// New creates a new MCPServer
func New(cfg *config.Config, logger *zap.Logger, fs *sandbox.FS, runner *sandbox.Runner) (*MCPServer, error) {
	s := &MCPServer{
		config: cfg,
		logger: logger,
		fs:     fs,
		runner: runner,
	}

	// Log configuration parameters on startup
	logger.Info("configuration loaded",
		zap.String("server.transport", cfg.Server.Transport),
		zap.String("server.http_host", cfg.Server.HTTPHost),
		zap.Int("server.http_port", cfg.Server.HTTPPort),
		zap.String("server.http_path", cfg.Server.HTTPPath),
		zap.String("sandbox.root", cfg.Sandbox.Root),
		zap.Strings("policy.allow", cfg.Policy.Allow),
		zap.Strings("policy.deny", cfg.Policy.Deny),
		zap.Bool("run.enabled", cfg.Run.Enabled),
		zap.Int("run.timeout_sec", cfg.Run.TimeoutSec),
		zap.Int("run.max_output_bytes", cfg.Run.MaxOutputBytes),
	)

	// Create the MCP server
	s.mcpServer = server.NewMCPServer("mcp-filesystem", "A sandboxed filesystem server")

	s.registerFileTools()
	if cfg.Run.Enabled {
		s.registerRunTool()
	}

	return s, nil
}

// registerFileTools registers the filesystem tools
func (s *MCPServer) registerFileTools() {
	s.mcpServer.AddTool(mcp.Tool{
		Name:        "list_dir",
		Description: "List directory entries under the sandbox root",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"path": map[string]any{
					"type":        "string",
					"description": "Directory path relative to the sandbox root",
				},
				"glob_pattern": map[string]any{
					"type":        "string",
					"description": "Filter entries by name glob (default '*')",
				},
				"include_hidden": map[string]any{
					"type":        "boolean",
					"description": "Include dot-prefixed entries",
				},
			},
		},
	}, s.handleListDir)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "read_text",
		Description: "Read a text file",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"path": map[string]any{
					"type":        "string",
					"description": "File path relative to the sandbox root",
				},
				"encoding": map[string]any{
					"type":        "string",
					"description": "Text encoding (default utf-8)",
				},
			},
			Required: []string{"path"},
		},
	}, s.handleReadText)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "write_text",
		Description: "Write text to a file under the sandbox root",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"path": map[string]any{
					"type":        "string",
					"description": "File path relative to the sandbox root",
				},
				"content": map[string]any{
					"type":        "string",
					"description": "Text content to write",
				},
				"create_dirs": map[string]any{
					"type":        "boolean",
					"description": "Create missing parent directories (default true)",
				},
				"overwrite": map[string]any{
					"type":        "boolean",
					"description": "Replace an existing file (default true)",
				},
				"encoding": map[string]any{
					"type":        "string",
					"description": "Text encoding (default utf-8)",
				},
			},
			Required: []string{"path", "content"},
		},
	}, s.handleWriteText)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "mkdir",
		Description: "Create a directory under the sandbox root",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"path": map[string]any{
					"type":        "string",
					"description": "Directory path relative to the sandbox root",
				},
				"parents": map[string]any{
					"type":        "boolean",
					"description": "Create missing ancestors (default true)",
				},
				"exist_ok": map[string]any{
					"type":        "boolean",
					"description": "Do not fail when the directory exists (default true)",
				},
			},
			Required: []string{"path"},
		},
	}, s.handleMkdir)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "mv",
		Description: "Move or rename a file or directory within the sandbox root",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"src": map[string]any{
					"type":        "string",
					"description": "Source path relative to the sandbox root",
				},
				"dst": map[string]any{
					"type":        "string",
					"description": "Destination path relative to the sandbox root",
				},
				"overwrite": map[string]any{
					"type":        "boolean",
					"description": "Replace an existing destination (default false)",
				},
			},
			Required: []string{"src", "dst"},
		},
	}, s.handleMv)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "rm",
		Description: "Remove a file or directory under the sandbox root",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"path": map[string]any{
					"type":        "string",
					"description": "Path relative to the sandbox root",
				},
				"recursive": map[string]any{
					"type":        "boolean",
					"description": "Required to remove a directory (default false)",
				},
			},
			Required: []string{"path"},
		},
	}, s.handleRm)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "stat",
		Description: "Return basic stat() for a path under the sandbox root",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"path": map[string]any{
					"type":        "string",
					"description": "Path relative to the sandbox root",
				},
			},
			Required: []string{"path"},
		},
	}, s.handleStat)
}

// registerRunTool registers the feature-gated run tool
func (s *MCPServer) registerRunTool() {
	s.mcpServer.AddTool(mcp.Tool{
		Name:        "run",
		Description: "Run an allowlisted command with a timeout and output cap",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"cmd": map[string]any{
					"type":        "string",
					"description": "Command to run; its basename must be allowlisted",
				},
				"args": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string"},
					"description": "Arguments; must begin with the required prefix for the command",
				},
				"cwd": map[string]any{
					"type":        "string",
					"description": "Working directory relative to the sandbox root (default '.')",
				},
				"timeout_sec": map[string]any{
					"type":        "number",
					"description": "Wall-clock timeout in seconds (default from server config)",
				},
			},
			Required: []string{"cmd"},
		},
	}, s.handleRun)
}

func (s *MCPServer) handleListDir(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path := request.GetString("path", ".")
	pattern := request.GetString("glob_pattern", "*")
	includeHidden := request.GetBool("include_hidden", false)

	result, err := s.fs.List(path, pattern, includeHidden)
	if err != nil {
		return s.errorResult("list_dir", err), nil
	}
	return s.jsonResult(result)
}

func (s *MCPServer) handleReadText(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := request.RequireString("path")
	if err != nil {
		return nil, fmt.Errorf("path parameter is required: %w", err)
	}
	encoding := request.GetString("encoding", "utf-8")

	result, err := s.fs.ReadText(path, encoding)
	if err != nil {
		return s.errorResult("read_text", err), nil
	}
	return s.jsonResult(result)
}

func (s *MCPServer) handleWriteText(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := request.RequireString("path")
	if err != nil {
		return nil, fmt.Errorf("path parameter is required: %w", err)
	}
	content, err := request.RequireString("content")
	if err != nil {
		return nil, fmt.Errorf("content parameter is required: %w", err)
	}
	createDirs := request.GetBool("create_dirs", true)
	overwrite := request.GetBool("overwrite", true)
	encoding := request.GetString("encoding", "utf-8")

	result, err := s.fs.WriteText(path, content, createDirs, overwrite, encoding)
	if err != nil {
		return s.errorResult("write_text", err), nil
	}
	return s.jsonResult(map[string]any{
		"written": true,
		"path":    result.Path,
		"bytes":   result.Bytes,
	})
}

func (s *MCPServer) handleMkdir(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := request.RequireString("path")
	if err != nil {
		return nil, fmt.Errorf("path parameter is required: %w", err)
	}
	parents := request.GetBool("parents", true)
	existOk := request.GetBool("exist_ok", true)

	result, err := s.fs.MakeDir(path, parents, existOk)
	if err != nil {
		return s.errorResult("mkdir", err), nil
	}
	return s.jsonResult(map[string]any{
		"created": true,
		"path":    result.Path,
	})
}

func (s *MCPServer) handleMv(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	src, err := request.RequireString("src")
	if err != nil {
		return nil, fmt.Errorf("src parameter is required: %w", err)
	}
	dst, err := request.RequireString("dst")
	if err != nil {
		return nil, fmt.Errorf("dst parameter is required: %w", err)
	}
	overwrite := request.GetBool("overwrite", false)

	result, err := s.fs.Move(src, dst, overwrite)
	if err != nil {
		return s.errorResult("mv", err), nil
	}
	return s.jsonResult(map[string]any{
		"moved": true,
		"src":   result.Src,
		"dst":   result.Dst,
	})
}

func (s *MCPServer) handleRm(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := request.RequireString("path")
	if err != nil {
		return nil, fmt.Errorf("path parameter is required: %w", err)
	}
	recursive := request.GetBool("recursive", false)

	result, err := s.fs.Remove(path, recursive)
	if err != nil {
		return s.errorResult("rm", err), nil
	}
	return s.jsonResult(map[string]any{
		"removed": true,
		"path":    result.Path,
	})
}

func (s *MCPServer) handleStat(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := request.RequireString("path")
	if err != nil {
		return nil, fmt.Errorf("path parameter is required: %w", err)
	}

	result, err := s.fs.Stat(path)
	if err != nil {
		return s.errorResult("stat", err), nil
	}
	return s.jsonResult(result)
}

func (s *MCPServer) handleRun(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	cmd, err := request.RequireString("cmd")
	if err != nil {
		return nil, fmt.Errorf("cmd parameter is required: %w", err)
	}
	args := request.GetStringSlice("args", nil)
	cwd := request.GetString("cwd", ".")
	timeoutSec := request.GetFloat("timeout_sec", float64(s.config.Run.TimeoutSec))

	workingDir, err := s.fs.ResolveWorkingDir(cwd)
	if err != nil {
		return s.errorResult("run", err), nil
	}

	result, err := s.runner.Run(ctx, sandbox.RunRequest{
		Command:    cmd,
		Args:       args,
		WorkingDir: workingDir,
		Timeout:    time.Duration(timeoutSec * float64(time.Second)),
	})
	if err != nil {
		return s.errorResult("run", err), nil
	}

	payload := map[string]any{
		"ok":          result.OK,
		"rc":          result.ReturnCode,
		"stdout":      result.Stdout,
		"stderr":      result.Stderr,
		"elapsed_sec": result.ElapsedSec,
	}
	if result.Err != "" {
		payload["error"] = result.Err
	}
	return s.jsonResult(payload)
}

// jsonResult marshals a tool payload into a text content result.
func (s *MCPServer) jsonResult(payload any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal tool result: %w", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: string(data)},
		},
	}, nil
}

// errorResult turns a sandbox error into an IsError tool result with a
// stable message, keeping raw platform error text out of responses.
func (s *MCPServer) errorResult(tool string, err error) *mcp.CallToolResult {
	s.logger.Warn("tool request rejected",
		zap.String("tool", tool),
		zap.Error(err))
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: errorMessage(err)},
		},
		IsError: true,
	}
}

// errorMessage maps the sandbox error taxonomy onto caller-facing text.
func errorMessage(err error) string {
	switch {
	case errors.Is(err, sandbox.ErrPathEscape):
		return "Path escapes sandbox root"
	case errors.Is(err, sandbox.ErrPolicyDenied):
		return err.Error()
	case errors.Is(err, sandbox.ErrNotFound):
		return "Not found"
	case errors.Is(err, sandbox.ErrAlreadyExists):
		return "Already exists"
	case errors.Is(err, sandbox.ErrIsADirectory):
		return "Is a directory (use recursive=true to remove)"
	case errors.Is(err, sandbox.ErrNotADirectory):
		return "Not a directory"
	case errors.Is(err, sandbox.ErrRunDisabled):
		return "run() is disabled by server policy"
	case errors.Is(err, sandbox.ErrCommandNotAllowed):
		return err.Error()
	case errors.Is(err, sandbox.ErrArgPrefix):
		return err.Error()
	}
	return err.Error()
}

// ServeStdio starts the server on stdio
func (s *MCPServer) ServeStdio() error {
	s.logger.Info("starting MCP server on stdio")
	return server.ServeStdio(s.mcpServer)
}

// ServeHTTP starts the server on the streamable HTTP transport
func (s *MCPServer) ServeHTTP() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.HTTPHost, s.config.Server.HTTPPort)
	s.logger.Info("starting MCP server on HTTP",
		zap.String("addr", addr),
		zap.String("path", s.config.Server.HTTPPath))

	httpServer := server.NewStreamableHTTPServer(s.mcpServer,
		server.WithEndpointPath(s.config.Server.HTTPPath))
	return httpServer.Start(addr)
}

// ServeSSE starts the server on the SSE transport
func (s *MCPServer) ServeSSE() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.HTTPHost, s.config.Server.HTTPPort)
	s.logger.Info("starting MCP server on SSE", zap.String("addr", addr))

	sseServer := server.NewSSEServer(s.mcpServer)
	return sseServer.Start(addr)
}

// GetMCPServer returns the underlying MCP server for fx
func (s *MCPServer) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}
