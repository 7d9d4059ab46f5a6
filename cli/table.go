package cli

import (
	"sort"

	"github.com/puzpuzpuz/xsync/v3"
)

// Handler executes one command. It receives the invocation context and the
// argument list following the command name, and returns a result code. All
// user-visible output goes through ctx.Output.
type Handler func(ctx *Context, args []string) Result

// Table maps command names to handlers. It is safe for concurrent use, so
// commands may be registered while the interpreter is serving.
type Table struct {
	commands *xsync.MapOf[string, Handler]
}

// NewTable creates an empty command table.
func NewTable() *Table {
	return &Table{commands: xsync.NewMapOf[string, Handler]()}
}

// Register adds or replaces the handler for name. A nil handler removes the
// entry.
func (t *Table) Register(name string, handler Handler) {
	if handler == nil {
		t.commands.Delete(name)
		return
	}

	t.commands.Store(name, handler)
}

// Lookup returns the handler registered for name.
func (t *Table) Lookup(name string) (Handler, bool) {
	return t.commands.Load(name)
}

// Names returns all registered command names in lexical order.
func (t *Table) Names() []string {
	names := make([]string, 0, t.commands.Size())
	t.commands.Range(func(name string, _ Handler) bool {
		names = append(names, name)
		return true
	})

	sort.Strings(names)

	return names
}
