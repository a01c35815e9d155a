// Package console dispatches the colon-prefixed meta commands of manual
// mode, e.g. `:install "iMe 1900000001.hex"`.
package console

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/google/shlex"
)

// Prefix marks a meta command
const Prefix = ":"

var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrUsage          = errors.New("usage")
)

// Handler runs a meta command with its shell-style arguments
type Handler func(args []string) error

// Command is a registered meta command
type Command struct {
	Name    string
	Usage   string // Argument synopsis, e.g. "<file>"
	Help    string
	Handler Handler
}

// Registry holds the meta commands
type Registry struct {
	mu       sync.RWMutex
	commands map[string]*Command
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		commands: make(map[string]*Command),
	}
}

// Register adds a command. Registering a name twice replaces it.
func (r *Registry) Register(name, usage, help string, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.commands[name] = &Command{
		Name:    name,
		Usage:   usage,
		Help:    help,
		Handler: handler,
	}
}

// Get retrieves a command by name
func (r *Registry) Get(name string) (*Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cmd, ok := r.commands[name]
	return cmd, ok
}

// Count returns the number of registered commands
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.commands)
}

// Names returns the command names in order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.commands))
	for name := range r.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsMeta reports whether line is a meta command rather than G-code
func IsMeta(line string) bool {
	return strings.HasPrefix(strings.TrimSpace(line), Prefix)
}

// Dispatch tokenises line and calls the matching handler
func (r *Registry) Dispatch(line string) error {
	line = strings.TrimPrefix(strings.TrimSpace(line), Prefix)

	args, err := shlex.Split(line)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUsage, err)
	}
	if len(args) == 0 {
		return fmt.Errorf("%w: empty command", ErrUsage)
	}

	cmd, ok := r.Get(args[0])
	if !ok {
		return fmt.Errorf("%w: %s%s", ErrUnknownCommand, Prefix, args[0])
	}
	return cmd.Handler(args[1:])
}

// PrintHelp writes a summary of every command
func (r *Registry) PrintHelp(w io.Writer) {
	for _, name := range r.Names() {
		cmd, _ := r.Get(name)
		synopsis := Prefix + name
		if cmd.Usage != "" {
			synopsis += " " + cmd.Usage
		}
		fmt.Fprintf(w, "  %-22s - %s\n", synopsis, cmd.Help)
	}
}

// Expect checks the argument count of a handler
func Expect(args []string, n int, usage string) error {
	if len(args) != n {
		return fmt.Errorf("%w: %s", ErrUsage, usage)
	}
	return nil
}
