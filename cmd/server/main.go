package main

import (
	"github.com/joho/godotenv"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/GalSened/mcp-filesystem-server/config"
	"github.com/GalSened/mcp-filesystem-server/logger"
	"github.com/GalSened/mcp-filesystem-server/mcpserver"
	"github.com/GalSened/mcp-filesystem-server/sandbox"
)

func main() {
	// Pick up MCP_FS_ROOT and friends from a local .env if present.
	_ = godotenv.Load()

	app := fx.New(
		// Provide dependencies
		fx.Provide(
			// Config
			config.New,

			// Logger with configuration
			logger.NewFromConfig,

			// Sandbox core: resolver, policy, file operations, runner
			func(cfg *config.Config) (*sandbox.Resolver, error) {
				return sandbox.NewResolver(cfg.Sandbox.Root)
			},
			func(cfg *config.Config, resolver *sandbox.Resolver) (*sandbox.Policy, error) {
				return sandbox.NewPolicy(resolver, cfg.Policy.Deny, cfg.Policy.Allow)
			},
			sandbox.NewFS,
			func(log *zap.Logger, cfg *config.Config) *sandbox.Runner {
				return sandbox.NewRunner(log, sandbox.RunnerConfig{
					Enabled:        cfg.Run.Enabled,
					Allowlist:      cfg.Run.Allowlist,
					DefaultTimeout: cfg.GetRunTimeout(),
					MaxOutputBytes: cfg.Run.MaxOutputBytes,
				})
			},

			// MCP Server
			mcpserver.New,
		),

		// Start the appropriate transport based on config
		fx.Invoke(
			func(cfg *config.Config, srv *mcpserver.MCPServer) {
				switch cfg.Server.Transport {
				case "stdio":
					go func() {
						if err := srv.ServeStdio(); err != nil {
							panic(err)
						}
					}()
				case "http":
					go func() {
						if err := srv.ServeHTTP(); err != nil {
							panic(err)
						}
					}()
				case "sse":
					go func() {
						if err := srv.ServeSSE(); err != nil {
							panic(err)
						}
					}()
				default:
					panic("unsupported transport: " + cfg.Server.Transport)
				}
			},
		),

		// Use the application logger for fx logs
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log}
		}),
	)

	// Start the application
	app.Run()
}
