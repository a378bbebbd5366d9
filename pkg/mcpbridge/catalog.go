package mcpbridge

import (
	"fmt"
	"sort"
	"sync"
)

// Qualifier generates the externally visible identifiers for upstream tools.
// Implementations must be deterministic and collision-free for a given
// server/tool pair.
type Qualifier interface {
	QualifiedName(server, tool string) string
}

// DotQualifier joins the server name and the tool's native name with a
// configurable separator (defaults to "."). Server names are unique, so the
// resulting identifiers never collide across servers.
type DotQualifier struct {
	Separator string
}

func (q DotQualifier) separator() string {
	if q.Separator == "" {
		return "."
	}
	return q.Separator
}

func (q DotQualifier) QualifiedName(server, tool string) string {
	return fmt.Sprintf("%s%s%s", server, q.separator(), tool)
}

// ToolDescriptor describes one aggregated tool: its qualified name, the
// server that owns it, the native name used on the wire, and the advertised
// metadata. The input schema is carried opaquely.
type ToolDescriptor struct {
	QualifiedName string
	Server        string
	Name          string
	Description   string
	InputSchema   any
}

// toolCatalog indexes aggregated tools by qualified name, with a per-server
// reverse index so one server's entries can be dropped as a unit. It is
// mutated only by the stack runner (and by Cleanup's eager clear); any
// goroutine may read it.
type toolCatalog struct {
	mu          sync.RWMutex
	tools       map[string]ToolDescriptor
	serverTools map[string][]string
}

func newToolCatalog() *toolCatalog {
	return &toolCatalog{
		tools:       make(map[string]ToolDescriptor),
		serverTools: make(map[string][]string),
	}
}

// UpdateServer replaces the catalog entries for one server with the given
// descriptors.
func (c *toolCatalog) UpdateServer(server string, descriptors []ToolDescriptor) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.removeServerLocked(server)
	names := make([]string, 0, len(descriptors))
	for _, desc := range descriptors {
		c.tools[desc.QualifiedName] = desc
		names = append(names, desc.QualifiedName)
	}
	c.serverTools[server] = names
}

// RemoveServer drops every entry owned by the given server and returns the
// removed qualified names.
func (c *toolCatalog) RemoveServer(server string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.removeServerLocked(server)
}

func (c *toolCatalog) removeServerLocked(server string) []string {
	names := c.serverTools[server]
	if len(names) == 0 {
		return nil
	}
	for _, name := range names {
		delete(c.tools, name)
	}
	delete(c.serverTools, server)
	return append([]string(nil), names...)
}

// Lookup resolves a qualified name to its descriptor.
func (c *toolCatalog) Lookup(qualifiedName string) (ToolDescriptor, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	desc, ok := c.tools[qualifiedName]
	return desc, ok
}

// Snapshot returns every descriptor sorted by qualified name.
func (c *toolCatalog) Snapshot() []ToolDescriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]ToolDescriptor, 0, len(c.tools))
	for _, desc := range c.tools {
		out = append(out, desc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QualifiedName < out[j].QualifiedName })
	return out
}

// Clear removes every entry.
func (c *toolCatalog) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tools = make(map[string]ToolDescriptor)
	c.serverTools = make(map[string][]string)
}

// Len reports the number of aggregated tools.
func (c *toolCatalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.tools)
}
