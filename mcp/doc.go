// Package mcp implements the Model Context Protocol (MCP), the wire protocol used to expose
// tools, resources, and prompts to LLM applications. This implementation follows the official
// specification from https://spec.modelcontextprotocol.io/specification/.
//
// The package provides the protocol core: JSON-RPC message types, server and client
// implementations, and transports over standard input/output and Server-Sent Events (SSE).
// Concrete servers are built on top of it by implementing the ToolServer, ResourceServer,
// and PromptServer interfaces.
package mcp
