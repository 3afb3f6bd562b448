// Package interactive provides the interactive command-line interface
// for the object entry dashboard.
package interactive

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/muzero-hyperloop/oelive/cmd/oe-dashboard/widget"
	"github.com/muzero-hyperloop/oelive/pkg/bridge"
	"github.com/muzero-hyperloop/oelive/pkg/connection"
	"github.com/muzero-hyperloop/oelive/pkg/subscription"
)

// requestTimeout bounds every bridge call made by a command.
const requestTimeout = 5 * time.Second

// Backend is what the shell needs from the bridge link.
type Backend interface {
	bridge.Bridge
	bridge.Metadata
	bridge.Writer

	Addr() string
	State() connection.State
	Client() *bridge.Client
}

// Dashboard handles interactive mode for oe-dashboard.
type Dashboard struct {
	backend  Backend
	registry *subscription.Registry
	board    *widget.Board
	rl       *readline.Instance
	out      io.Writer
}

// New creates a new interactive dashboard.
func New(backend Backend, registry *subscription.Registry, board *widget.Board) (*Dashboard, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "oe> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}

	return &Dashboard{
		backend:  backend,
		registry: registry,
		board:    board,
		rl:       rl,
		out:      rl.Stdout(),
	}, nil
}

// Stdout returns a writer that properly coordinates with the readline input.
// Use this for log output to avoid interfering with the command prompt.
func (d *Dashboard) Stdout() io.Writer {
	return d.rl.Stdout()
}

// Run starts the interactive command loop.
func (d *Dashboard) Run(ctx context.Context, cancel context.CancelFunc) {
	defer d.rl.Close()

	d.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := d.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(d.out, "Exiting...")
			cancel()
			return
		}

		if d.Execute(ctx, line) {
			fmt.Fprintln(d.out, "Exiting...")
			cancel()
			return
		}
	}
}

// Execute runs one command line and reports whether the user asked to
// quit.
func (d *Dashboard) Execute(ctx context.Context, line string) (quit bool) {
	parts := strings.Fields(strings.TrimSpace(line))
	if len(parts) == 0 {
		return false
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "help", "?":
		d.printHelp()

	case "nodes", "n":
		d.cmdNodes(ctx)

	case "node":
		d.cmdNode(ctx, args)

	case "info", "i":
		d.cmdInfo(ctx, args)

	case "watch", "w":
		d.cmdWatch(args)

	case "unwatch", "uw":
		d.cmdUnwatch(args)

	case "widgets", "ls":
		d.cmdWidgets()

	case "get", "g":
		d.cmdGet(ctx, args)

	case "set", "s":
		d.cmdSet(ctx, args)

	case "status":
		d.cmdStatus()

	case "quit", "exit", "q":
		return true

	default:
		fmt.Fprintf(d.out, "Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	return false
}

func (d *Dashboard) printHelp() {
	fmt.Fprintln(d.out, `
Object Entry Dashboard Commands:
  Network:
    nodes                       - List nodes of the network
    node <node>                 - List object entries of a node
    info <node> <entry>         - Show object entry metadata

  Live values:
    watch <node> <entry>        - Open a widget on an object entry
    unwatch <widget-id>         - Close a widget
    widgets                     - List open widgets

  One-shot:
    get <node> <entry>          - Request a fresh value
    set <node> <entry> <value>  - Set an object entry

  General:
    status                      - Show link and subscription status
    help                        - Show this help
    quit                        - Exit dashboard

  Keys can also be written as node/entry. Struct values are written as
  name=value,name=value.`)
}

// parseKey reads a key from args as either "node/entry" or "node entry"
// and returns the remaining arguments.
func parseKey(args []string) (subscription.Key, []string, error) {
	if len(args) == 0 {
		return subscription.Key{}, nil, fmt.Errorf("%w: missing node and entry", subscription.ErrInvalidKey)
	}
	if strings.Contains(args[0], "/") {
		k, err := subscription.ParseKey(args[0])
		return k, args[1:], err
	}
	if len(args) < 2 {
		return subscription.Key{}, nil, fmt.Errorf("%w: missing entry", subscription.ErrInvalidKey)
	}
	k := subscription.NewKey(args[0], args[1])
	return k, args[2:], k.Validate()
}

func (d *Dashboard) cmdNodes(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	info, err := d.backend.NetworkInfo(ctx)
	if err != nil {
		fmt.Fprintf(d.out, "Error: %v\n", err)
		return
	}

	fmt.Fprintf(d.out, "\nNetwork %s (%d nodes):\n", info.Name, len(info.Nodes))
	fmt.Fprintln(d.out, "-------------------------------------------")
	for _, name := range info.Nodes {
		node, err := d.backend.NodeInfo(ctx, name)
		if err != nil {
			fmt.Fprintf(d.out, "  %-24s (%v)\n", name, err)
			continue
		}
		fmt.Fprintf(d.out, "  %-24s id %-4d %2d entries  %s\n", name, node.ID, len(node.Entries), node.Description)
	}
}

func (d *Dashboard) cmdNode(ctx context.Context, args []string) {
	if len(args) != 1 {
		fmt.Fprintln(d.out, "Usage: node <node>")
		return
	}
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	node, err := d.backend.NodeInfo(ctx, args[0])
	if err != nil {
		fmt.Fprintf(d.out, "Error: %v\n", err)
		return
	}

	fmt.Fprintf(d.out, "\nNode %s (id %d)\n", node.Name, node.ID)
	if node.Description != "" {
		fmt.Fprintf(d.out, "  %s\n", node.Description)
	}
	fmt.Fprintln(d.out, "-------------------------------------------")
	for _, name := range node.Entries {
		e, err := d.backend.EntryInfo(ctx, node.Name, name)
		if err != nil {
			fmt.Fprintf(d.out, "  %-24s (%v)\n", name, err)
			continue
		}
		fmt.Fprintf(d.out, "  %-24s %-4s %-20s %s\n", name, e.Access, e.Type, e.Unit)
	}
}

func (d *Dashboard) cmdInfo(ctx context.Context, args []string) {
	key, _, err := parseKey(args)
	if err != nil {
		fmt.Fprintf(d.out, "Error: %v\nUsage: info <node> <entry>\n", err)
		return
	}
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	e, err := d.backend.EntryInfo(ctx, key.Node, key.Entry)
	if err != nil {
		fmt.Fprintf(d.out, "Error: %v\n", err)
		return
	}

	fmt.Fprintf(d.out, "\n%s\n", key)
	fmt.Fprintf(d.out, "  Type:        %s\n", e.Type)
	fmt.Fprintf(d.out, "  Access:      %s\n", e.Access)
	if e.Unit != "" {
		fmt.Fprintf(d.out, "  Unit:        %s\n", e.Unit)
	}
	if e.Description != "" {
		fmt.Fprintf(d.out, "  Description: %s\n", e.Description)
	}
	if st := d.registry.State(key); st != subscription.StateIdle {
		fmt.Fprintf(d.out, "  Listener:    %s (%d consumers)\n", st, d.registry.RefCount(key))
	}
}

func (d *Dashboard) cmdWatch(args []string) {
	key, _, err := parseKey(args)
	if err != nil {
		fmt.Fprintf(d.out, "Error: %v\nUsage: watch <node> <entry>\n", err)
		return
	}

	w, err := d.board.Watch(key)
	if err != nil {
		fmt.Fprintf(d.out, "Error: %v\n", err)
		return
	}
	fmt.Fprintf(d.out, "Widget #%d watching %s\n", w.ID, key)
}

func (d *Dashboard) cmdUnwatch(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(d.out, "Usage: unwatch <widget-id>")
		return
	}
	id, err := strconv.Atoi(strings.TrimPrefix(args[0], "#"))
	if err != nil {
		fmt.Fprintf(d.out, "Invalid widget ID: %s\n", args[0])
		return
	}
	if err := d.board.Unwatch(id); err != nil {
		fmt.Fprintf(d.out, "Error: %v\n", err)
		return
	}
	fmt.Fprintf(d.out, "Widget #%d closed\n", id)
}

func (d *Dashboard) cmdWidgets() {
	widgets := d.board.Widgets()
	if len(widgets) == 0 {
		fmt.Fprintln(d.out, "No widgets open")
		return
	}

	fmt.Fprintf(d.out, "\nWidgets (%d):\n", len(widgets))
	fmt.Fprintln(d.out, "-------------------------------------------")
	for _, w := range widgets {
		value := "-"
		if s, ok := w.Last(); ok {
			value = s.Value.String()
		}
		fmt.Fprintf(d.out, "  #%-3d %-36s %-8s %6d updates  %s\n",
			w.ID, w.Key, d.board.State(w), w.Updates(), value)
	}
}

func (d *Dashboard) cmdGet(ctx context.Context, args []string) {
	key, _, err := parseKey(args)
	if err != nil {
		fmt.Fprintf(d.out, "Error: %v\nUsage: get <node> <entry>\n", err)
		return
	}
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	s, err := d.backend.RequestValue(ctx, key.Node, key.Entry)
	if err != nil {
		fmt.Fprintf(d.out, "Error: %v\n", err)
		return
	}
	fmt.Fprintf(d.out, "%s = %s (at %s)\n", key, s.Value, s.Timestamp.Format("15:04:05.000"))
}

func (d *Dashboard) cmdSet(ctx context.Context, args []string) {
	key, rest, err := parseKey(args)
	if err != nil || len(rest) == 0 {
		if err != nil {
			fmt.Fprintf(d.out, "Error: %v\n", err)
		}
		fmt.Fprintln(d.out, "Usage: set <node> <entry> <value>")
		return
	}
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	info, err := d.backend.EntryInfo(ctx, key.Node, key.Entry)
	if err != nil {
		fmt.Fprintf(d.out, "Error: %v\n", err)
		return
	}
	v, err := info.Type.ParseValue(strings.Join(rest, " "))
	if err != nil {
		fmt.Fprintf(d.out, "Invalid value for %s: %v\n", info.Type, err)
		return
	}
	if err := d.backend.SetValue(ctx, key.Node, key.Entry, v); err != nil {
		fmt.Fprintf(d.out, "Error: %v\n", err)
		return
	}
	fmt.Fprintf(d.out, "%s set to %s\n", key, v)
}

func (d *Dashboard) cmdStatus() {
	fmt.Fprintln(d.out, "\nDashboard Status:")
	fmt.Fprintln(d.out, "-------------------------------------------")
	fmt.Fprintf(d.out, "  Bridge: %s (%s)\n", d.backend.Addr(), d.backend.State())
	if c := d.backend.Client(); c != nil {
		fmt.Fprintf(d.out, "  Connection: %s\n", c.ConnID())
		if rtt := c.LastRTT(); rtt > 0 {
			fmt.Fprintf(d.out, "  RTT: %s\n", rtt.Round(time.Microsecond))
		}
	}
	fmt.Fprintf(d.out, "  Widgets: %d\n", len(d.board.Widgets()))

	snapshot := d.registry.Snapshot()
	fmt.Fprintf(d.out, "  Listeners: %d\n", len(snapshot))
	for _, st := range snapshot {
		flags := ""
		if st.TeardownPending {
			flags = " teardown-pending"
		}
		if st.Last == nil {
			flags += " no-value"
		}
		stream := string(st.StreamID)
		if stream == "" {
			stream = "-"
		}
		fmt.Fprintf(d.out, "    %-36s %-8s refs %-3d stream %s%s\n", st.Key, st.State, st.RefCount, stream, flags)
	}
}
