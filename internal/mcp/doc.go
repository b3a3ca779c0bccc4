// Package mcp exposes tutord's query and ingestion operations as MCP tools.
//
// This implementation uses the MCP SDK (github.com/modelcontextprotocol/go-sdk/mcp)
// over the stdio transport, so editor and agent clients can ask textbook
// questions and trigger reindexing without going through the HTTP API. The
// tool surface mirrors POST /api/v1/query and POST /api/v1/ingest.
package mcp
