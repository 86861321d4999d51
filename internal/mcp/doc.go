// Package mcp exposes the orchestrator as MCP tools.
//
// This implementation uses the MCP SDK (github.com/modelcontextprotocol/go-sdk/mcp)
// and registers ultrathink_process, ultrathink_stats and the tool discovery
// tools tool_search and tool_list. Output text is scrubbed for credentials
// before it is returned to clients.
package mcp
