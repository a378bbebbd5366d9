package mcpbridge

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"
)

// Options configure a Manager instance.
type Options struct {
	// ClientName and ClientVersion are advertised to each server during the
	// initialize handshake.
	ClientName    string
	ClientVersion string
	// HandshakeTimeout bounds spawn, initialize, and tools/list per server.
	// Generous by default to tolerate servers that compile or download
	// dependencies on first start.
	HandshakeTimeout time.Duration
	// CallTimeout bounds a single tool invocation. Zero selects the default;
	// a negative value disables the bound.
	CallTimeout time.Duration
	// ShutdownGrace is how long a terminated process group may linger before
	// it is forcefully killed.
	ShutdownGrace time.Duration
	// QueueSize caps the stack runner's action queue.
	QueueSize int
	// Qualifier controls how aggregated tool names are formed. Defaults to
	// DotQualifier, producing "{server}.{tool}".
	Qualifier Qualifier
	// Logger receives structured diagnostics. Defaults to a no-op logger.
	Logger *zap.Logger
	// HTTPClient is an auxiliary client owned by the manager and closed
	// during Cleanup. Optional.
	HTTPClient *http.Client
}

func (o *Options) withDefaults() Options {
	var opts Options
	if o != nil {
		opts = *o
	}
	if opts.ClientName == "" {
		opts.ClientName = "mcpbridge"
	}
	if opts.ClientVersion == "" {
		opts.ClientVersion = "1.0.0"
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 10 * time.Minute
	}
	if opts.CallTimeout < 0 {
		opts.CallTimeout = 0
	} else if opts.CallTimeout == 0 {
		opts.CallTimeout = 10 * time.Minute
	}
	if opts.ShutdownGrace <= 0 {
		opts.ShutdownGrace = 3 * time.Second
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 8
	}
	if opts.Qualifier == nil {
		opts.Qualifier = DotQualifier{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return opts
}

// Manager orchestrates a fleet of MCP tool-server child processes behind one
// aggregated tool catalog. All lifecycle work is funneled through a single
// stack runner goroutine; the manager itself only enqueues actions, awaits
// their outcomes, and serves read-only lookups.
type Manager struct {
	opts      Options
	logger    *zap.Logger
	transport transportBuilder
	catalog   *toolCatalog

	sessionMu sync.RWMutex
	sessions  map[string]*sessionHandle

	mu      sync.Mutex
	runner  *stackRunner
	cleaned bool
}

// NewManager constructs a Manager. Nil options fall back to defaults.
func NewManager(opts *Options) *Manager {
	options := opts.withDefaults()
	return &Manager{
		opts:      options,
		logger:    options.Logger,
		transport: buildCommandTransport,
		catalog:   newToolCatalog(),
		sessions:  make(map[string]*sessionHandle),
	}
}

// LoadServers reads the configuration at path and brings up every enabled
// server. Configuration problems are fatal; individual connection failures
// are logged and skipped. A load that yields zero usable servers returns
// FatalLoadError.
func (m *Manager) LoadServers(ctx context.Context, path string) error {
	descriptors, err := LoadConfig(path)
	if err != nil {
		return err
	}
	return m.LoadDescriptors(ctx, descriptors)
}

// LoadDescriptors brings up the given servers one at a time, in order. Each
// connect is enqueued on the stack runner and awaited before the next is
// submitted, bounding the blast radius of a slow or hanging server. Failed
// servers are absent from the catalog; there is no automatic retry.
func (m *Manager) LoadDescriptors(ctx context.Context, descriptors []ServerDescriptor) error {
	runner, err := m.ensureRunner(ctx)
	if err != nil {
		return err
	}

	attempted, succeeded := 0, 0
	for _, desc := range descriptors {
		if desc.Disabled {
			m.logger.Info("skipping disabled server", zap.String("server", desc.Name))
			continue
		}
		attempted++

		slot := newResultSlot()
		if err := runner.enqueue(ctx, connectAction{desc: desc, slot: slot}); err != nil {
			return err
		}
		outcome, err := slot.await(ctx, runner.done)
		if err != nil {
			return err
		}
		if outcome.err != nil {
			m.logger.Error("failed to connect to server",
				zap.String("server", desc.Name), zap.Error(outcome.err))
			continue
		}
		succeeded++
		m.logger.Info("connected to server",
			zap.String("server", desc.Name), zap.Int("tools", len(outcome.tools)))
	}

	m.logger.Info("server load complete",
		zap.Int("connected", succeeded), zap.Int("attempted", attempted))
	if succeeded == 0 {
		return &FatalLoadError{Attempted: attempted}
	}
	return nil
}

// ensureRunner starts the stack runner exactly once. Concurrent callers race
// only on who performs the start; every caller blocks until the runner
// signals readiness.
func (m *Manager) ensureRunner(ctx context.Context) (*stackRunner, error) {
	m.mu.Lock()
	if m.cleaned {
		m.mu.Unlock()
		return nil, errManagerClosed
	}
	runner := m.runner
	if runner == nil {
		runner = newStackRunner(m.opts.QueueSize, m.acquireSession, m.releaseSession, m.logger)
		m.runner = runner
		go runner.run()
	}
	m.mu.Unlock()

	select {
	case <-runner.ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case <-runner.done:
		return nil, errManagerClosed
	default:
	}
	return runner, nil
}

// acquireSession runs on the stack runner goroutine. On success it registers
// the session and its tools before the outcome is delivered, so the
// "session exists iff connect completed" invariant holds for observers.
func (m *Manager) acquireSession(desc ServerDescriptor) (*sessionHandle, []ToolDescriptor, error) {
	handle, tools, err := m.connectServer(desc)
	if err != nil {
		return nil, nil, err
	}
	m.sessionMu.Lock()
	m.sessions[desc.Name] = handle
	m.sessionMu.Unlock()
	m.catalog.UpdateServer(desc.Name, tools)
	return handle, tools, nil
}

// releaseSession runs on the stack runner goroutine during drain. The index
// entries may already be gone when Cleanup cleared them eagerly.
func (m *Manager) releaseSession(handle *sessionHandle) {
	m.catalog.RemoveServer(handle.server)
	m.sessionMu.Lock()
	delete(m.sessions, handle.server)
	m.sessionMu.Unlock()
	handle.release(m.opts.ShutdownGrace, m.logger)
}

// CallTool routes an invocation to the session owning the qualified tool name
// and returns the primary textual payload of the response: by convention,
// the first content element's text.
func (m *Manager) CallTool(ctx context.Context, qualifiedName string, arguments map[string]any) (string, error) {
	tool, ok := m.catalog.Lookup(qualifiedName)
	if !ok {
		return "", &ToolNotFoundError{Tool: qualifiedName}
	}

	m.sessionMu.RLock()
	handle := m.sessions[tool.Server]
	m.sessionMu.RUnlock()
	if handle == nil {
		return "", &ServerUnavailableError{Server: tool.Server, Tool: qualifiedName}
	}

	callCtx, cancel := withTimeout(ctx, m.opts.CallTimeout)
	defer cancel()
	res, err := handle.session.CallTool(callCtx, &mcp.CallToolParams{
		Name:      tool.Name,
		Arguments: arguments,
	})
	if err != nil {
		return "", &ToolInvocationError{Tool: qualifiedName, Err: err}
	}
	return firstText(qualifiedName, res)
}

func firstText(tool string, res *mcp.CallToolResult) (string, error) {
	if res == nil || len(res.Content) == 0 {
		return "", &ToolInvocationError{Tool: tool, Err: errors.New("result has no content")}
	}
	text, ok := res.Content[0].(*mcp.TextContent)
	if !ok {
		return "", &ToolInvocationError{Tool: tool, Err: errors.New("first content element is not text")}
	}
	return text.Text, nil
}

// Cleanup tears down every session and stops the stack runner. It is
// idempotent and never fails: the catalog and session index are cleared
// eagerly so concurrent callers fail fast instead of reaching a half-torn-down
// session, and every teardown error is logged and swallowed.
func (m *Manager) Cleanup(ctx context.Context) {
	m.mu.Lock()
	if m.cleaned {
		m.mu.Unlock()
		return
	}
	m.cleaned = true
	runner := m.runner
	m.mu.Unlock()

	if m.opts.HTTPClient != nil {
		m.opts.HTTPClient.CloseIdleConnections()
	}

	m.catalog.Clear()
	m.sessionMu.Lock()
	m.sessions = make(map[string]*sessionHandle)
	m.sessionMu.Unlock()

	if runner == nil {
		m.logger.Info("cleanup complete", zap.Bool("runner_started", false))
		return
	}
	if err := runner.enqueue(ctx, shutdownAction{}); err != nil {
		m.logger.Warn("shutdown enqueue failed", zap.Error(err))
	}
	select {
	case <-runner.drained:
	case <-ctx.Done():
		m.logger.Warn("cleanup wait interrupted", zap.Error(ctx.Err()))
		return
	}
	select {
	case <-runner.done:
	case <-ctx.Done():
		m.logger.Warn("runner exit wait interrupted", zap.Error(ctx.Err()))
		return
	}
	m.logger.Info("cleanup complete")
}

// Tools returns a snapshot of every aggregated tool, sorted by qualified
// name.
func (m *Manager) Tools() []ToolDescriptor {
	return m.catalog.Snapshot()
}

// HasTool reports whether a qualified name is present in the catalog.
func (m *Manager) HasTool(qualifiedName string) bool {
	_, ok := m.catalog.Lookup(qualifiedName)
	return ok
}

// Servers returns the names of the currently connected servers, sorted.
func (m *Manager) Servers() []string {
	m.sessionMu.RLock()
	defer m.sessionMu.RUnlock()
	names := make([]string, 0, len(m.sessions))
	for name := range m.sessions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HTTPClient exposes the auxiliary client configured at construction, if any.
func (m *Manager) HTTPClient() *http.Client {
	return m.opts.HTTPClient
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}
