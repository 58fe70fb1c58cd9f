// Package main is the entry point for the MCP filesystem server.
//
// The server implements a safe-by-default Model Context Protocol (MCP)
// server that mediates filesystem access and, when explicitly enabled,
// allowlisted command execution on behalf of an MCP client. Every operation
// is confined to a sandbox root directory with path traversal protection
// and a deny-then-allow policy over glob patterns. The server supports
// stdio, HTTP and SSE transports.
//
// The application uses Uber's fx framework for dependency injection and
// lifecycle management, with zap for structured logging and viper for
// configuration.
package main
