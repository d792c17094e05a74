// Package tools provides the tool registry and dispatcher. Tool servers group
// related tools; perception selects servers by name and the loop resolves the
// selection into a concrete tool set.
package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"recall/internal/logging"
)

// Handler executes one tool call.
type Handler func(ctx context.Context, args map[string]interface{}) (string, error)

// Tool is one callable capability.
type Tool struct {
	Name        string
	Description string
	Server      string
	Handler     Handler
}

// Server groups tools under a name that perception can select.
type Server struct {
	Name        string
	Description string
	Tools       []Tool
}

// Dispatcher resolves server selections and routes tool calls by name.
type Dispatcher struct {
	mu      sync.RWMutex
	servers map[string]Server
	order   []string
}

// NewDispatcher builds a dispatcher over the given servers.
func NewDispatcher(servers ...Server) *Dispatcher {
	d := &Dispatcher{servers: make(map[string]Server, len(servers))}
	for _, s := range servers {
		d.Register(s)
	}
	return d
}

// Register adds or replaces a server.
func (d *Dispatcher) Register(s Server) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.servers[s.Name]; !exists {
		d.order = append(d.order, s.Name)
	}
	for i := range s.Tools {
		s.Tools[i].Server = s.Name
	}
	d.servers[s.Name] = s
}

// ServerNames returns registered server names in registration order.
func (d *Dispatcher) ServerNames() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, len(d.order))
	copy(names, d.order)
	return names
}

// ServerSummaries renders one line per server for the perception prompt.
func (d *Dispatcher) ServerSummaries() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var b strings.Builder
	for _, name := range d.order {
		s := d.servers[name]
		fmt.Fprintf(&b, "- %s: %s (%d tools)\n", s.Name, s.Description, len(s.Tools))
	}
	return b.String()
}

// ToolsFromServers resolves selected server names into their tools. Unknown
// names are skipped; the result preserves server order.
func (d *Dispatcher) ToolsFromServers(names []string) []Tool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var resolved []Tool
	for _, name := range names {
		s, ok := d.servers[name]
		if !ok {
			logging.Tools("unknown tool server %q in selection, skipping", name)
			continue
		}
		resolved = append(resolved, s.Tools...)
	}
	return resolved
}

// Summarize renders tool descriptions for the planning prompt.
func Summarize(selected []Tool) string {
	if len(selected) == 0 {
		return "None"
	}
	var b strings.Builder
	for _, t := range selected {
		fmt.Fprintf(&b, "- %s.%s: %s\n", t.Server, t.Name, t.Description)
	}
	return b.String()
}

// Call dispatches a tool invocation by qualified or bare name. The sandbox
// uses this as its only escape hatch into the host.
func (d *Dispatcher) Call(ctx context.Context, name string, args map[string]interface{}) (string, error) {
	tool, ok := d.lookup(name)
	if !ok {
		return "", fmt.Errorf("unknown tool: %s", name)
	}

	logging.Tools("dispatching %s.%s", tool.Server, tool.Name)
	result, err := tool.Handler(ctx, args)
	if err != nil {
		return "", fmt.Errorf("tool %s failed: %w", name, err)
	}
	return result, nil
}

func (d *Dispatcher) lookup(name string) (Tool, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	// Qualified "server.tool" form first.
	if server, tool, ok := strings.Cut(name, "."); ok {
		if s, exists := d.servers[server]; exists {
			for _, t := range s.Tools {
				if t.Name == tool {
					return t, true
				}
			}
		}
	}

	// Bare name: first match in sorted server order for determinism.
	names := make([]string, len(d.order))
	copy(names, d.order)
	sort.Strings(names)
	for _, sn := range names {
		for _, t := range d.servers[sn].Tools {
			if t.Name == name {
				return t, true
			}
		}
	}
	return Tool{}, false
}
