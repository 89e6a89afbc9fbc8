// Package mcp exposes repository indexing and retrieval as MCP tools over
// stdio, using the MCP SDK (github.com/modelcontextprotocol/go-sdk/mcp).
//
// Tools:
//   - repository_index: clone, chunk, embed and store a GitHub repository
//   - repository_create: register a repository without indexing it
//   - repository_query: semantic search over one indexed repository
//   - repository_delete_index: remove a repository's vectors
//   - repository_list: list known repositories and their status
//   - repository_onboarding_context: merged documentation context
package mcp
