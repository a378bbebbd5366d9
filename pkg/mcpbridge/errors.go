package mcpbridge

import (
	"errors"
	"fmt"
)

// errManagerClosed is returned when an operation is attempted after Cleanup
// has stopped the stack runner. The manager is single-use.
var errManagerClosed = errors.New("mcpbridge: manager is closed")

// errRunnerStopped is returned by enqueue when the runner loop has exited.
var errRunnerStopped = errors.New("mcpbridge: stack runner stopped")

// ConfigError reports a missing or malformed server configuration file, or a
// descriptor that cannot be used to launch a server. It is fatal at load
// start.
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("mcpbridge: config %s: %v", e.Path, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// ConnectStage identifies the phase of session establishment that failed.
type ConnectStage string

const (
	StageSpawn     ConnectStage = "spawn"
	StageHandshake ConnectStage = "handshake"
	StageToolList  ConnectStage = "tool list"
)

// ConnectError reports a failed connection attempt to a single server. It is
// recoverable: the stack runner hands it back to the caller, which logs it
// and continues with the remaining servers.
type ConnectError struct {
	Server string
	Stage  ConnectStage
	Err    error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("mcpbridge: connect %q: %s: %v", e.Server, e.Stage, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// FatalLoadError is returned by LoadServers when not a single configured
// server could be reached. A manager with no tool source is unusable.
// Attempted is zero when every configured server was disabled.
type FatalLoadError struct {
	Attempted int
}

func (e *FatalLoadError) Error() string {
	if e.Attempted == 0 {
		return "mcpbridge: no enabled servers to connect to"
	}
	return fmt.Sprintf("mcpbridge: failed to connect to any of %d servers", e.Attempted)
}

// ToolNotFoundError reports a qualified tool name with no catalog entry. No
// I/O is attempted.
type ToolNotFoundError struct {
	Tool string
}

func (e *ToolNotFoundError) Error() string {
	return fmt.Sprintf("mcpbridge: tool %q not found", e.Tool)
}

// ServerUnavailableError reports that a tool's owning session is gone, which
// happens when an invocation races with cleanup.
type ServerUnavailableError struct {
	Server string
	Tool   string
}

func (e *ServerUnavailableError) Error() string {
	return fmt.Sprintf("mcpbridge: server %q for tool %q is unavailable", e.Server, e.Tool)
}

// ToolInvocationError wraps a transport or protocol failure during a tool
// call. Invocations are never retried automatically.
type ToolInvocationError struct {
	Tool string
	Err  error
}

func (e *ToolInvocationError) Error() string {
	return fmt.Sprintf("mcpbridge: call %q: %v", e.Tool, e.Err)
}

func (e *ToolInvocationError) Unwrap() error { return e.Err }
