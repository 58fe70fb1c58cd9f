// Package mcpserver provides the Model Context Protocol (MCP) server implementation.
//
// The mcpserver package implements an MCP-compliant server that exposes the
// sandboxed filesystem tools (list_dir, read_text, write_text, mkdir, mv,
// rm, stat) and the feature-gated run tool. It uses the mark3labs/mcp-go
// library to handle the protocol details; every tool call is routed through
// the sandbox package's resolver and policy before any filesystem or
// process access happens.
//
// The server supports stdio, streamable HTTP and SSE transports as
// configured by the application configuration.
//
// Usage:
//
//	server, err := mcpserver.New(config, logger, fs, runner)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	err = server.ServeStdio() // or server.ServeHTTP(), server.ServeSSE()
package mcpserver
