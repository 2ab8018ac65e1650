// arcanectl is an interactive CLI for opening an ArcaneDB directory (or an
// in-memory instance) and running vertex/edge operations against it.
//
// Usage:
//
//	arcanectl --dir ./data                 Open (creating if absent) a durable instance
//	arcanectl --mem                        Open a throwaway in-memory instance
//
// Flags:
//
//	--dir string          directory to store WAL/pages/manifest under
//	--mem                 use an in-memory instance instead of --dir
//	--concurrency string  "occ" (default) or "2pl"
//
// Commands (in REPL):
//
//	begin-ro                          start a read-only transaction
//	begin-rw                          start a read-write transaction
//	get-vertex <id>                   read a vertex's value
//	insert-vertex <id> <value>        insert/overwrite a vertex (rw only)
//	delete-vertex <id>                tombstone a vertex (rw only)
//	get-edge <src> <dst>              read an edge's value
//	insert-edge <src> <dst> <value>   insert/overwrite an edge (rw only)
//	delete-edge <src> <dst>           tombstone an edge (rw only)
//	edges <src> [limit]               list src's outgoing edges, dst-ascending
//	commit                            commit the current transaction
//	status                            show whether a transaction is open
//	help                              show this help
//	exit / quit / q                   exit
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mattn/go-runewidth"
	"github.com/peterh/liner"
	flag "github.com/spf13/pflag"

	"github.com/arcanedb/arcanedb"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	fs := flag.NewFlagSet("arcanectl", flag.ExitOnError)

	dir := fs.String("dir", "", "directory to store WAL/pages/manifest under")
	mem := fs.Bool("mem", false, "use an in-memory instance instead of --dir")
	concurrency := fs.String("concurrency", "occ", `concurrency mode: "occ" or "2pl"`)

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: arcanectl (--dir <path> | --mem) [--concurrency occ|2pl]\n\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(os.Args[1:]); err != nil {
		return err
	}

	if *dir == "" && !*mem {
		fs.Usage()

		return errors.New("must pass --dir or --mem")
	}

	opts := arcanedb.DefaultOptions()
	if !*mem {
		opts.Dir = *dir
	}

	switch strings.ToLower(*concurrency) {
	case "occ", "":
		opts.Concurrency = arcanedb.ConcurrencyOCC
	case "2pl":
		opts.Concurrency = arcanedb.Concurrency2PL
	default:
		return fmt.Errorf("unknown --concurrency %q (want occ or 2pl)", *concurrency)
	}

	db, err := arcanedb.Open(opts)
	if err != nil {
		return fmt.Errorf("opening db: %w", err)
	}
	defer db.Close()

	repl := &REPL{db: db, concurrency: opts.Concurrency, dir: *dir, mem: *mem}

	return repl.Run()
}

// REPL is the interactive command loop. At most one transaction is open at a
// time; begin-ro/begin-rw refuses while one is open, and it must be
// committed first (there is no explicit rollback in the public API).
type REPL struct {
	db          *arcanedb.DB
	concurrency arcanedb.ConcurrencyMode
	dir         string
	mem         bool

	liner *liner.State

	ro *arcanedb.RoTxn
	rw *arcanedb.RwTxn
}

func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return filepath.Join(home, ".arcanectl_history")
}

// Run starts the REPL loop.
func (r *REPL) Run() error {
	r.liner = liner.NewLiner()
	defer r.liner.Close()

	r.liner.SetCtrlCAborts(true)
	r.liner.SetCompleter(r.completer)

	if f, err := os.Open(historyFile()); err == nil {
		r.liner.ReadHistory(f)
		f.Close()
	}

	where := r.dir
	if r.mem {
		where = "(in-memory)"
	}

	fmt.Printf("arcanectl - ArcaneDB CLI (dir=%s, concurrency=%s)\n", where, r.concurrency)
	fmt.Println("Type 'help' for available commands.")
	fmt.Println()

	for {
		line, err := r.liner.Prompt(r.prompt())
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				fmt.Println("\nBye!")

				break
			}

			return fmt.Errorf("reading input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		r.liner.AppendHistory(line)

		parts := strings.Fields(line)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		switch cmd {
		case "exit", "quit", "q":
			fmt.Println("Bye!")
			r.saveHistory()

			return nil

		case "help", "?":
			r.printHelp()

		case "begin-ro":
			r.cmdBeginRo()

		case "begin-rw":
			r.cmdBeginRw()

		case "get-vertex":
			r.cmdGetVertex(args)

		case "insert-vertex":
			r.cmdInsertVertex(args)

		case "delete-vertex":
			r.cmdDeleteVertex(args)

		case "get-edge":
			r.cmdGetEdge(args)

		case "insert-edge":
			r.cmdInsertEdge(args)

		case "delete-edge":
			r.cmdDeleteEdge(args)

		case "edges":
			r.cmdEdges(args)

		case "commit":
			r.cmdCommit()

		case "status":
			r.cmdStatus()

		case "clear", "cls":
			fmt.Print("\033[H\033[2J")

		default:
			fmt.Printf("Unknown command: %s (type 'help' for commands)\n", cmd)
		}
	}

	r.saveHistory()

	return nil
}

func (r *REPL) prompt() string {
	switch {
	case r.rw != nil:
		return "arcanectl(rw)> "
	case r.ro != nil:
		return "arcanectl(ro)> "
	default:
		return "arcanectl> "
	}
}

func (r *REPL) saveHistory() {
	if path := historyFile(); path != "" {
		if f, err := os.Create(path); err == nil {
			r.liner.WriteHistory(f)
			f.Close()
		}
	}
}

func (r *REPL) completer(line string) []string {
	commands := []string{
		"begin-ro", "begin-rw",
		"get-vertex", "insert-vertex", "delete-vertex",
		"get-edge", "insert-edge", "delete-edge",
		"edges", "commit", "status",
		"clear", "cls", "help", "exit", "quit", "q",
	}

	var completions []string

	lower := strings.ToLower(line)
	for _, cmd := range commands {
		if strings.HasPrefix(cmd, lower) {
			completions = append(completions, cmd)
		}
	}

	return completions
}

func (r *REPL) printHelp() {
	fmt.Println("Commands:")
	fmt.Println("  begin-ro                          Start a read-only transaction")
	fmt.Println("  begin-rw                          Start a read-write transaction")
	fmt.Println("  get-vertex <id>                    Read a vertex's value")
	fmt.Println("  insert-vertex <id> <value>         Insert/overwrite a vertex (rw only)")
	fmt.Println("  delete-vertex <id>                 Tombstone a vertex (rw only)")
	fmt.Println("  get-edge <src> <dst>                Read an edge's value")
	fmt.Println("  insert-edge <src> <dst> <value>     Insert/overwrite an edge (rw only)")
	fmt.Println("  delete-edge <src> <dst>             Tombstone an edge (rw only)")
	fmt.Println("  edges <src> [limit]                 List src's outgoing edges")
	fmt.Println("  commit                              Commit the current transaction")
	fmt.Println("  status                              Show whether a transaction is open")
	fmt.Println("  help                                Show this help")
	fmt.Println("  exit / quit / q                     Exit")
}

// currentRo returns whatever transaction is open, read-only or not, as a
// read surface; begin-ro/begin-rw must have been called first.
func (r *REPL) currentRo() *arcanedb.RoTxn {
	if r.rw != nil {
		return &r.rw.RoTxn
	}

	return r.ro
}

func (r *REPL) cmdBeginRo() {
	if r.ro != nil || r.rw != nil {
		fmt.Println("A transaction is already open; commit it first.")

		return
	}

	ro := r.db.BeginRo(arcanedb.TxnOptions{})
	r.ro = ro
	fmt.Println("OK: read-only transaction started")
}

func (r *REPL) cmdBeginRw() {
	if r.ro != nil || r.rw != nil {
		fmt.Println("A transaction is already open; commit it first.")

		return
	}

	r.rw = r.db.BeginRw(arcanedb.TxnOptions{})
	fmt.Println("OK: read-write transaction started")
}

func (r *REPL) cmdCommit() {
	ro := r.currentRo()
	if ro == nil {
		fmt.Println("No transaction is open.")

		return
	}

	status, err := ro.Commit()

	r.ro = nil
	r.rw = nil

	if err != nil {
		fmt.Printf("%s: %v\n", status, err)

		return
	}

	fmt.Printf("OK: %s\n", status)
}

func (r *REPL) cmdStatus() {
	switch {
	case r.rw != nil:
		fmt.Println("A read-write transaction is open.")
	case r.ro != nil:
		fmt.Println("A read-only transaction is open.")
	default:
		fmt.Println("No transaction is open.")
	}
}

func (r *REPL) cmdGetVertex(args []string) {
	ro := r.currentRo()
	if ro == nil {
		fmt.Println("No transaction is open; run begin-ro or begin-rw first.")

		return
	}

	if len(args) < 1 {
		fmt.Println("Usage: get-vertex <id>")

		return
	}

	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		fmt.Printf("Error parsing id: %v\n", err)

		return
	}

	value, err := ro.GetVertex(id)
	if errors.Is(err, arcanedb.ErrNotFound) {
		fmt.Println("(not found)")

		return
	}

	if err != nil {
		fmt.Printf("Error: %v\n", err)

		return
	}

	fmt.Printf("%s\n", value)
}

func (r *REPL) cmdInsertVertex(args []string) {
	if r.rw == nil {
		fmt.Println("No read-write transaction is open; run begin-rw first.")

		return
	}

	if len(args) < 2 {
		fmt.Println("Usage: insert-vertex <id> <value>")

		return
	}

	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		fmt.Printf("Error parsing id: %v\n", err)

		return
	}

	value := strings.Join(args[1:], " ")

	if err := r.rw.InsertVertex(id, []byte(value)); err != nil {
		fmt.Printf("Error: %v\n", err)

		return
	}

	fmt.Printf("OK: staged insert of vertex %d\n", id)
}

func (r *REPL) cmdDeleteVertex(args []string) {
	if r.rw == nil {
		fmt.Println("No read-write transaction is open; run begin-rw first.")

		return
	}

	if len(args) < 1 {
		fmt.Println("Usage: delete-vertex <id>")

		return
	}

	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		fmt.Printf("Error parsing id: %v\n", err)

		return
	}

	if err := r.rw.DeleteVertex(id); err != nil {
		fmt.Printf("Error: %v\n", err)

		return
	}

	fmt.Printf("OK: staged delete of vertex %d\n", id)
}

func (r *REPL) cmdGetEdge(args []string) {
	ro := r.currentRo()
	if ro == nil {
		fmt.Println("No transaction is open; run begin-ro or begin-rw first.")

		return
	}

	if len(args) < 2 {
		fmt.Println("Usage: get-edge <src> <dst>")

		return
	}

	src, dst, err := parseSrcDst(args[0], args[1])
	if err != nil {
		fmt.Printf("Error: %v\n", err)

		return
	}

	value, err := ro.GetEdge(src, dst)
	if errors.Is(err, arcanedb.ErrNotFound) {
		fmt.Println("(not found)")

		return
	}

	if err != nil {
		fmt.Printf("Error: %v\n", err)

		return
	}

	fmt.Printf("%s\n", value)
}

func (r *REPL) cmdInsertEdge(args []string) {
	if r.rw == nil {
		fmt.Println("No read-write transaction is open; run begin-rw first.")

		return
	}

	if len(args) < 3 {
		fmt.Println("Usage: insert-edge <src> <dst> <value>")

		return
	}

	src, dst, err := parseSrcDst(args[0], args[1])
	if err != nil {
		fmt.Printf("Error: %v\n", err)

		return
	}

	value := strings.Join(args[2:], " ")

	if err := r.rw.InsertEdge(src, dst, []byte(value)); err != nil {
		fmt.Printf("Error: %v\n", err)

		return
	}

	fmt.Printf("OK: staged insert of edge (%d, %d)\n", src, dst)
}

func (r *REPL) cmdDeleteEdge(args []string) {
	if r.rw == nil {
		fmt.Println("No read-write transaction is open; run begin-rw first.")

		return
	}

	if len(args) < 2 {
		fmt.Println("Usage: delete-edge <src> <dst>")

		return
	}

	src, dst, err := parseSrcDst(args[0], args[1])
	if err != nil {
		fmt.Printf("Error: %v\n", err)

		return
	}

	if err := r.rw.DeleteEdge(src, dst); err != nil {
		fmt.Printf("Error: %v\n", err)

		return
	}

	fmt.Printf("OK: staged delete of edge (%d, %d)\n", src, dst)
}

func (r *REPL) cmdEdges(args []string) {
	ro := r.currentRo()
	if ro == nil {
		fmt.Println("No transaction is open; run begin-ro or begin-rw first.")

		return
	}

	if len(args) < 1 {
		fmt.Println("Usage: edges <src> [limit]")

		return
	}

	src, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		fmt.Printf("Error parsing src: %v\n", err)

		return
	}

	limit := -1
	if len(args) >= 2 {
		limit, err = strconv.Atoi(args[1])
		if err != nil {
			fmt.Printf("Error parsing limit: %v\n", err)

			return
		}
	}

	it, err := ro.EdgeIterator(src)
	if err != nil {
		fmt.Printf("Error: %v\n", err)

		return
	}

	n := 0

	dstWidth := len("dst")

	var edges []arcanedb.Edge

	for limit < 0 || n < limit {
		e, ok := it.Next()
		if !ok {
			break
		}

		edges = append(edges, e)

		if w := runewidth.StringWidth(strconv.FormatInt(e.Dst, 10)); w > dstWidth {
			dstWidth = w
		}

		n++
	}

	if len(edges) == 0 {
		fmt.Println("(no edges)")

		return
	}

	for _, e := range edges {
		fmt.Printf("%-*d  %s\n", dstWidth, e.Dst, e.Value)
	}
}

func parseSrcDst(srcStr, dstStr string) (int64, int64, error) {
	src, err := strconv.ParseInt(srcStr, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("parsing src: %w", err)
	}

	dst, err := strconv.ParseInt(dstStr, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("parsing dst: %w", err)
	}

	return src, dst, nil
}
