// Package mcpbridge supervises a fleet of Model Context Protocol (MCP)
// tool-server child processes from a single Go process. It spawns each server
// over stdio, performs the initialize handshake, and aggregates every
// advertised tool into one catalog keyed by qualified names of the form
// "{server}.{tool}", so callers can route an invocation without knowing which
// child owns it.
//
// # Core entry points
//
//   - Manager is the long-lived orchestration type. Construct it with
//     NewManager, bring servers up with LoadServers (or LoadDescriptors),
//     invoke tools with CallTool, and tear everything down with Cleanup.
//   - ServerDescriptor declares how one child process is launched; LoadConfig
//     reads the standard "mcpServers" JSON document into descriptors.
//   - Options tune handshake and call timeouts, the shutdown grace period,
//     tool-name qualification, and logging.
//
// Every spawn, handshake, and teardown runs on one dedicated goroutine (the
// stack runner) that owns an ordered release stack, so a session is always
// released in the same execution context that acquired it. Other goroutines
// interact with the runner only through its action queue and one-shot result
// slots; the catalog and session index are readable everywhere as snapshots.
//
// Connection failures during load are recoverable: the failed server is
// logged and left out of the catalog while the rest come up. Only a load that
// yields zero usable servers is fatal. Cleanup is idempotent and never
// reports an error; teardown faults are logged and swallowed.
package mcpbridge
