// Package config provides application configuration management.
//
// The config package handles loading and validation of the application's
// configuration from YAML files and the server's environment variables
// (MCP_FS_ROOT, MCP_TRANSPORT, ENABLE_RUN_COMMANDS and friends). It covers
// transport settings, the sandbox root, the allow/deny policy pattern sets
// and the run-tool execution policy. Configuration is loaded once at
// startup and never mutated afterwards.
//
// Usage:
//
//	cfg, err := config.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("Server transport: %s\n", cfg.Server.Transport)
package config
