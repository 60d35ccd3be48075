// Command drawctl drives a canvas server from the terminal.
//
// Usage:
//
//	drawctl push [-full] [-watch] <spec.yaml>   reconcile a diagram spec
//	drawctl validate <spec.yaml>         parse a spec without pushing
//	drawctl elements                     dump the live scene as JSON
//	drawctl health                       check the server
//	drawctl clear                        wipe the canvas
//	drawctl refresh                      tell viewers to reload
//	drawctl watch                        follow the event stream
//	drawctl mcp                          serve the MCP tools on stdio
//	drawctl yaml                         print the spec format reference
//
// The server address comes from -addr or CANVAS_ADDR (default
// http://localhost:3000).
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/maretko/drawbridge/diagram"
	"github.com/maretko/drawbridge/mcptools"
	"github.com/maretko/drawbridge/reconcile"
	"github.com/maretko/drawbridge/viewer"
	"github.com/maretko/drawbridge/watch"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "push":
		err = runPush(ctx, os.Args[2:])
	case "validate":
		err = runValidate(os.Args[2:])
	case "elements", "query":
		err = runElements(ctx, os.Args[2:])
	case "health":
		err = runHealth(ctx, os.Args[2:])
	case "clear":
		err = runClear(ctx, os.Args[2:])
	case "refresh":
		err = runRefresh(ctx, os.Args[2:])
	case "watch":
		err = runWatch(ctx, os.Args[2:])
	case "mcp":
		err = runMCP(ctx, os.Args[2:])
	case "yaml":
		fmt.Print(yamlReference)
	case "-h", "--help", "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "drawctl: unknown command %q\n", os.Args[1])
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "drawctl: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: drawctl <push|validate|elements|health|clear|refresh|watch|mcp|yaml> [flags]")
}

// yamlReference is printed by `drawctl yaml` as a copy-paste starting point.
const yamlReference = `# drawbridge spec format
#
# pos is [x, y] or [x, y, "WxH"]. Connectors reference shape ids and are
# keyed "<from>-to-<to>"; texts without an id are keyed "_text_<index>".

shapes:
  - id: api                     # logical key, required
    type: rectangle             # rectangle | ellipse | diamond
    pos: [100, 100, "200x80"]
    label: "API Gateway"        # optional, rendered as bound text
    fontSize: 16                # label font, default 16
    fontFamily: Helvetica       # Virgil | Helvetica | Cascadia
    color:
      stroke: "#1e1e1e"
      bg: "#a5d8ff"
    style:
      fillStyle: solid          # solid | hachure | cross-hatch
      strokeWidth: 2
      strokeStyle: solid        # solid | dashed | dotted
      roughness: 1
      opacity: 100
  - id: db
    type: ellipse
    pos: [400, 100, "200x80"]
    label: "Postgres"

texts:
  - text: "System overview"     # free-standing text, default fontSize 20
    pos: [100, 40]
    fontSize: 24

connectors:
  - from: api                   # required, must name a declared shape
    to: db                      # required, must name a declared shape
    type: arrow                 # arrow | line, default arrow
    label: "queries"
    endArrowhead: arrow         # arrow | triangle | bar | dot | none
`


// addrFlag registers the shared -addr flag on a subcommand flag set.
func addrFlag(fs *flag.FlagSet) *string {
	def := os.Getenv("CANVAS_ADDR")
	if def == "" {
		def = reconcile.DefaultBaseURL
	}
	return fs.String("addr", def, "canvas server base URL")
}

func runPush(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("push", flag.ExitOnError)
	addr := addrFlag(fs)
	full := fs.Bool("full", false, "clear the canvas and recreate everything")
	follow := fs.Bool("watch", false, "keep running and re-push when the spec file changes")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("push: want exactly one spec file, got %d", fs.NArg())
	}
	specPath := fs.Arg(0)

	rec := reconcile.NewReconciler(reconcile.NewClient(*addr))
	push := func(full bool) error {
		report, err := rec.Push(ctx, specPath, full)
		if err != nil {
			return err
		}
		fmt.Println(report.Summary())
		for _, f := range report.Failures {
			fmt.Fprintf(os.Stderr, "  failed: %v\n", f)
		}
		if len(report.Failures) > 0 {
			return fmt.Errorf("push: %d entries failed", len(report.Failures))
		}
		return nil
	}

	if err := push(*full); err != nil {
		if !*follow {
			return err
		}
		// In watch mode a bad first push (typo mid-edit, server hiccup)
		// is not fatal: report it and wait for the next save.
		fmt.Fprintf(os.Stderr, "drawctl: %v\n", err)
	}
	if !*follow {
		return nil
	}

	fmt.Printf("watching %s\n", specPath)
	w := watch.New(watch.FileFingerprint(specPath), watch.Options{
		Debounce: 500 * time.Millisecond,
	})
	w.Run(ctx, func() error { return push(false) })
	return nil
}

func runValidate(args []string) error {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("validate: want exactly one spec file, got %d", fs.NArg())
	}

	doc, err := diagram.Load(fs.Arg(0))
	if err != nil {
		return err
	}
	entries := doc.Entries()
	for _, e := range entries {
		fmt.Printf("%-10s %s\n", e.Kind, e.Key)
	}
	fmt.Printf("%d entries, spec is valid\n", len(entries))
	return nil
}

func runElements(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("elements", flag.ExitOnError)
	addr := addrFlag(fs)
	fs.Parse(args)

	els, err := reconcile.NewClient(*addr).Elements(ctx)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(els)
}

func runHealth(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	addr := addrFlag(fs)
	fs.Parse(args)

	h, err := reconcile.NewClient(*addr).Health(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("status=%s elements=%d viewers=%d\n", h.Status, h.ElementsCount, h.WebsocketClients)
	return nil
}

func runClear(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("clear", flag.ExitOnError)
	addr := addrFlag(fs)
	fs.Parse(args)

	n, err := reconcile.NewClient(*addr).Clear(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("cleared %d elements\n", n)
	return nil
}

func runRefresh(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("refresh", flag.ExitOnError)
	addr := addrFlag(fs)
	fs.Parse(args)

	if err := reconcile.NewClient(*addr).Refresh(ctx); err != nil {
		return err
	}
	fmt.Println("refresh sent")
	return nil
}

// runWatch attaches a viewer model and prints the element count on every
// change until interrupted or the server asks for a reload.
func runWatch(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	addr := addrFlag(fs)
	fs.Parse(args)

	wsURL := "ws" + strings.TrimPrefix(*addr, "http") + "/ws"
	var model *viewer.Model
	model = viewer.NewModel(viewer.WithOnChange(func() {
		fmt.Printf("scene: %d elements (%s)\n", model.Len(), model.State())
	}))

	client, err := viewer.Attach(ctx, wsURL, model)
	if err != nil {
		return err
	}
	defer client.Close()
	fmt.Printf("watching %s\n", wsURL)

	select {
	case <-ctx.Done():
		return nil
	case <-client.Done():
		if model.State() == viewer.StateReloading {
			return fmt.Errorf("watch: server requested reload, reattach to resync")
		}
		return nil
	}
}

// runMCP serves the canvas tool set over stdio, for use as an MCP server
// in an agent configuration.
func runMCP(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("mcp", flag.ExitOnError)
	addr := addrFlag(fs)
	fs.Parse(args)

	srv := mcp.NewServer(&mcp.Implementation{
		Name:    "drawbridge",
		Version: "1.0.0",
	}, nil)
	tools := mcptools.New(reconcile.NewClient(*addr))
	tools.Register(srv)

	return srv.Run(ctx, &mcp.StdioTransport{})
}
