package dicekv

import (
	"fmt"
	"slices"
	"strings"
	"sync"
)

// Factory binds a command to a socket and a client id.
// Factories must accept a nil socket: Register probes them that way.
type Factory func(conn *Socket, clientID string) Command

// Registry maps command names to factories. Names are case-insensitive.
// It is append-only: a name can be registered once.
type Registry struct {
	mu       sync.RWMutex
	commands map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{commands: make(map[string]Factory)}
}

// DefaultRegistry returns a registry holding every built-in command.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, spec := range builtinCommands {
		if err := r.Register(spec.name, spec.factory()); err != nil {
			panic(err)
		}
	}
	return r
}

func normalizeName(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}

// Register adds a command. The factory is probed once, unbound, to check it
// produces a command with the same name and the executor capability matching
// its kind.
func (r *Registry) Register(name string, factory Factory) error {
	name = normalizeName(name)
	if name == "" {
		return &CommandError{Message: "command name is required"}
	}
	if factory == nil {
		return &CommandError{Command: name, Message: "factory is nil"}
	}
	if err := probe(name, factory); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.commands[name]; ok {
		return &CommandError{Command: name, Message: "already registered"}
	}
	r.commands[name] = factory
	return nil
}

func probe(name string, factory Factory) error {
	cmd := factory(nil, "")
	if cmd == nil {
		return &CommandError{Command: name, Message: "factory returned no command"}
	}
	if got := normalizeName(cmd.Name()); got != name {
		return &CommandError{Command: name, Message: fmt.Sprintf("factory produces command %q", got)}
	}

	if cmd.Watchable() {
		if _, ok := cmd.(WatchExecutor); !ok {
			return &CommandError{Command: name, Message: "watch command does not implement WatchExecutor"}
		}
		return nil
	}
	if _, ok := cmd.(Executor); !ok {
		return &CommandError{Command: name, Message: "command does not implement Executor"}
	}
	return nil
}

// Get returns the factory registered under name.
func (r *Registry) Get(name string) (Factory, error) {
	name = normalizeName(name)

	r.mu.RLock()
	factory, ok := r.commands[name]
	r.mu.RUnlock()

	if !ok {
		return nil, &CommandError{Command: name, Message: "not registered"}
	}
	return factory, nil
}

// List returns the registered names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.commands))
	for name := range r.commands {
		names = append(names, name)
	}
	r.mu.RUnlock()

	slices.Sort(names)
	return names
}

// Lookup validates args against the command registered under name, without
// binding it to a socket.
func (r *Registry) Lookup(name string, args []string) (Command, error) {
	factory, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	cmd := factory(nil, "")
	if err := cmd.Validate(args); err != nil {
		return nil, err
	}
	return cmd, nil
}

// Executor binds the request/response command name to conn.
func (r *Registry) Executor(name string, conn *Socket, clientID string) (Executor, error) {
	factory, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	cmd := factory(conn, clientID)
	exec, ok := cmd.(Executor)
	if !ok || cmd.Watchable() {
		return nil, &CommandError{Command: cmd.Name(), Message: "is a watch command"}
	}
	return exec, nil
}

// WatchExecutor binds the watch command name to conn.
func (r *Registry) WatchExecutor(name string, conn *Socket, clientID string) (WatchExecutor, error) {
	factory, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	cmd := factory(conn, clientID)
	exec, ok := cmd.(WatchExecutor)
	if !ok || !cmd.Watchable() {
		return nil, &CommandError{Command: cmd.Name(), Message: "is not a watch command"}
	}
	return exec, nil
}
