// Package mcplite implements the client side of the Model Context Protocol
// (MCP), the standardized protocol for integrating Large Language Model (LLM)
// applications with external data sources and tools. This implementation
// follows the official specification from
// https://spec.modelcontextprotocol.io/specification/.
//
// A Client drives the protocol over a pluggable Transport: SSEClient speaks
// HTTP with a Server-Sent Events stream for server-to-client traffic, and
// StdIO speaks newline-delimited JSON over an arbitrary reader and writer.
// Responses are correlated to requests by ID, server notifications and
// server-initiated requests are surfaced as typed events, and tool calls can
// carry progress tokens for servers that report progress on long-running
// work.
package mcplite
