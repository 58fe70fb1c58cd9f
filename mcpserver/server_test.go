package mcpserver

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/GalSened/mcp-filesystem-server/config"
	"github.com/GalSened/mcp-filesystem-server/sandbox"
)

func newTestServer(t *testing.T, runEnabled bool) *MCPServer {
	t.Helper()
	root := t.TempDir()

	cfg := &config.Config{
		Server: config.ServerConfig{
			Transport: "stdio",
			HTTPHost:  "127.0.0.1",
			HTTPPort:  8080,
			HTTPPath:  "/mcp",
		},
		Sandbox: config.SandboxConfig{Root: root},
		Policy: config.PolicyConfig{
			Allow: sandbox.DefaultAllowGlobs,
			Deny:  sandbox.DefaultDenyGlobs,
		},
		Run: config.RunConfig{
			Enabled:        runEnabled,
			TimeoutSec:     10,
			MaxOutputBytes: 200000,
			Allowlist:      sandbox.DefaultCommandAllowlist,
		},
		Logging: config.LoggingConfig{Mode: "development", Level: "debug"},
	}

	logger := zaptest.NewLogger(t)
	resolver, err := sandbox.NewResolver(cfg.Sandbox.Root)
	require.NoError(t, err)
	policy, err := sandbox.NewPolicy(resolver, cfg.Policy.Deny, cfg.Policy.Allow)
	require.NoError(t, err)
	fs := sandbox.NewFS(logger, resolver, policy)
	runner := sandbox.NewRunner(logger, sandbox.RunnerConfig{
		Enabled:        cfg.Run.Enabled,
		Allowlist:      cfg.Run.Allowlist,
		DefaultTimeout: cfg.GetRunTimeout(),
		MaxOutputBytes: cfg.Run.MaxOutputBytes,
	})

	srv, err := New(cfg, logger, fs, runner)
	require.NoError(t, err)
	return srv
}

func toolRequest(name string, args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.Len(t, result.Content, 1)
	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return text.Text
}

func TestNewMCPServer(t *testing.T) {
	srv := newTestServer(t, false)
	require.NotNil(t, srv)
	assert.NotNil(t, srv.config)
	assert.NotNil(t, srv.logger)
	assert.NotNil(t, srv.fs)
	assert.NotNil(t, srv.runner)
	assert.NotNil(t, srv.mcpServer)
	assert.NotNil(t, srv.GetMCPServer())
}

func TestWriteReadListFlow(t *testing.T) {
	srv := newTestServer(t, false)
	ctx := context.Background()

	writeRes, err := srv.handleWriteText(ctx, toolRequest("write_text", map[string]any{
		"path":    "notes/hello.txt",
		"content": "hello sandbox",
	}))
	require.NoError(t, err)
	require.False(t, writeRes.IsError)

	var written struct {
		Written bool   `json:"written"`
		Path    string `json:"path"`
		Bytes   int    `json:"bytes"`
	}
	require.NoError(t, json.Unmarshal([]byte(resultText(t, writeRes)), &written))
	assert.True(t, written.Written)
	assert.Equal(t, len("hello sandbox"), written.Bytes)

	readRes, err := srv.handleReadText(ctx, toolRequest("read_text", map[string]any{
		"path": "notes/hello.txt",
	}))
	require.NoError(t, err)
	require.False(t, readRes.IsError)

	var read struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	require.NoError(t, json.Unmarshal([]byte(resultText(t, readRes)), &read))
	assert.Equal(t, "hello sandbox", read.Content)

	listRes, err := srv.handleListDir(ctx, toolRequest("list_dir", map[string]any{
		"path": "notes",
	}))
	require.NoError(t, err)
	require.False(t, listRes.IsError)

	var listing sandbox.ListResult
	require.NoError(t, json.Unmarshal([]byte(resultText(t, listRes)), &listing))
	require.Len(t, listing.Entries, 1)
	assert.Equal(t, "hello.txt", listing.Entries[0].Name)
}

func TestBoundaryViolationsAreToolErrors(t *testing.T) {
	srv := newTestServer(t, false)
	ctx := context.Background()

	t.Run("PathEscape", func(t *testing.T) {
		res, err := srv.handleReadText(ctx, toolRequest("read_text", map[string]any{
			"path": "../../etc/passwd",
		}))
		require.NoError(t, err)
		assert.True(t, res.IsError)
		assert.Equal(t, "Path escapes sandbox root", resultText(t, res))
	})

	t.Run("PolicyDenied", func(t *testing.T) {
		res, err := srv.handleReadText(ctx, toolRequest("read_text", map[string]any{
			"path": "repo/.git/config",
		}))
		require.NoError(t, err)
		assert.True(t, res.IsError)
		assert.Contains(t, resultText(t, res), "denied by policy")
	})

	t.Run("RmDirWithoutRecursive", func(t *testing.T) {
		_, err := srv.handleMkdir(ctx, toolRequest("mkdir", map[string]any{"path": "adir"}))
		require.NoError(t, err)

		res, err := srv.handleRm(ctx, toolRequest("rm", map[string]any{"path": "adir"}))
		require.NoError(t, err)
		assert.True(t, res.IsError)
		assert.Contains(t, resultText(t, res), "recursive=true")
	})
}

func TestRunTool(t *testing.T) {
	srv := newTestServer(t, true)
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		res, err := srv.handleRun(ctx, toolRequest("run", map[string]any{
			"cmd":  "sh",
			"args": []any{"-lc", "echo hi"},
		}))
		require.NoError(t, err)
		require.False(t, res.IsError)

		var payload struct {
			OK         bool    `json:"ok"`
			RC         *int    `json:"rc"`
			Stdout     string  `json:"stdout"`
			ElapsedSec float64 `json:"elapsed_sec"`
		}
		require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &payload))
		assert.True(t, payload.OK)
		require.NotNil(t, payload.RC)
		assert.Equal(t, 0, *payload.RC)
		assert.Contains(t, payload.Stdout, "hi")
	})

	t.Run("WrongPrefix", func(t *testing.T) {
		res, err := srv.handleRun(ctx, toolRequest("run", map[string]any{
			"cmd":  "sh",
			"args": []any{"-c", "echo hi"},
		}))
		require.NoError(t, err)
		assert.True(t, res.IsError)
		assert.Contains(t, resultText(t, res), "prefix")
	})

	t.Run("Timeout", func(t *testing.T) {
		start := time.Now()
		res, err := srv.handleRun(ctx, toolRequest("run", map[string]any{
			"cmd":         "sh",
			"args":        []any{"-lc", "sleep 5"},
			"timeout_sec": 0.3,
		}))
		require.NoError(t, err)
		require.False(t, res.IsError)

		var payload struct {
			OK    bool   `json:"ok"`
			RC    *int   `json:"rc"`
			Error string `json:"error"`
		}
		require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &payload))
		assert.False(t, payload.OK)
		assert.Nil(t, payload.RC)
		assert.Equal(t, "timeout", payload.Error)
		assert.Less(t, time.Since(start), 3*time.Second)
	})

	t.Run("DisabledServer", func(t *testing.T) {
		disabled := newTestServer(t, false)
		res, err := disabled.handleRun(ctx, toolRequest("run", map[string]any{
			"cmd":  "sh",
			"args": []any{"-lc", "echo hi"},
		}))
		require.NoError(t, err)
		assert.True(t, res.IsError)
		assert.Contains(t, resultText(t, res), "disabled")
	})
}

func TestErrorMessageMapping(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{sandbox.ErrPathEscape, "Path escapes sandbox root"},
		{sandbox.ErrNotFound, "Not found"},
		{sandbox.ErrAlreadyExists, "Already exists"},
		{sandbox.ErrIsADirectory, "Is a directory (use recursive=true to remove)"},
		{sandbox.ErrNotADirectory, "Not a directory"},
		{sandbox.ErrRunDisabled, "run() is disabled by server policy"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, errorMessage(tc.err))
	}
}
