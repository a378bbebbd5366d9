package mcpbridge

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"
)

// sessionHandle pairs one child tool-server process with its initialized
// protocol session. Handles are exclusively owned by the stack runner; other
// goroutines reference a session only through the manager's index, keyed by
// server name.
type sessionHandle struct {
	server      string
	session     *mcp.ClientSession
	cmd         *exec.Cmd
	initialized bool
}

// release closes the session and takes down the child's process group. Errors
// are logged, never returned: teardown must always complete.
func (h *sessionHandle) release(grace time.Duration, logger *zap.Logger) {
	if h.session != nil {
		if err := h.session.Close(); err != nil {
			logger.Warn("session close failed", zap.String("server", h.server), zap.Error(err))
		}
	}
	if h.cmd != nil && h.cmd.Process != nil {
		if err := terminateProcessGroup(h.cmd.Process.Pid, grace); err != nil {
			logger.Warn("process group termination failed", zap.String("server", h.server), zap.Error(err))
		}
	}
	h.initialized = false
}

// transportBuilder produces the transport used to reach a server, along with
// the underlying command when one is spawned. Tests substitute in-memory
// transports here so no real processes are launched.
type transportBuilder func(desc ServerDescriptor) (mcp.Transport, *exec.Cmd, error)

// buildCommandTransport prepares a stdio transport for the descriptor's
// command. The child is placed in its own process group so teardown can
// signal the whole tree. The process itself is started by the transport when
// the client connects.
func buildCommandTransport(desc ServerDescriptor) (mcp.Transport, *exec.Cmd, error) {
	if desc.Command == "" {
		return nil, nil, fmt.Errorf("command missing for %q", desc.Name)
	}
	if _, err := exec.LookPath(desc.Command); err != nil {
		return nil, nil, err
	}
	cmd := exec.Command(desc.Command, desc.Args...)
	cmd.Dir = desc.Cwd
	if len(desc.Env) > 0 {
		env := os.Environ()
		for k, v := range desc.Env {
			env = append(env, fmt.Sprintf("%s=%s", k, v))
		}
		cmd.Env = env
	}
	configureProcessGroup(cmd)
	return &mcp.CommandTransport{Command: cmd}, cmd, nil
}

// connectServer performs the full session establishment for one descriptor:
// spawn, initialize handshake, tools/list. Each failure is typed with the
// stage it occurred in; the caller decides whether it is fatal. Runs on the
// stack runner goroutine only.
func (m *Manager) connectServer(desc ServerDescriptor) (*sessionHandle, []ToolDescriptor, error) {
	transport, cmd, err := m.transport(desc)
	if err != nil {
		return nil, nil, &ConnectError{Server: desc.Name, Stage: StageSpawn, Err: err}
	}

	client := mcp.NewClient(&mcp.Implementation{
		Name:    m.opts.ClientName,
		Version: m.opts.ClientVersion,
	}, nil)

	handshakeCtx, cancel := context.WithTimeout(context.Background(), m.opts.HandshakeTimeout)
	defer cancel()
	session, err := client.Connect(handshakeCtx, transport, nil)
	if err != nil {
		return nil, nil, &ConnectError{Server: desc.Name, Stage: StageHandshake, Err: err}
	}

	listCtx, cancelList := context.WithTimeout(context.Background(), m.opts.HandshakeTimeout)
	defer cancelList()
	res, err := session.ListTools(listCtx, nil)
	if err != nil {
		_ = session.Close()
		return nil, nil, &ConnectError{Server: desc.Name, Stage: StageToolList, Err: err}
	}

	var tools []ToolDescriptor
	for _, tool := range res.Tools {
		if tool == nil {
			continue
		}
		tools = append(tools, ToolDescriptor{
			QualifiedName: m.opts.Qualifier.QualifiedName(desc.Name, tool.Name),
			Server:        desc.Name,
			Name:          tool.Name,
			Description:   tool.Description,
			InputSchema:   tool.InputSchema,
		})
	}

	handle := &sessionHandle{server: desc.Name, session: session, cmd: cmd, initialized: true}
	return handle, tools, nil
}
