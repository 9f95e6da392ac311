package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dmitrijs2005/ledgersync/internal/client/models"
)

// printlnFn is a test seam for user-facing output. In tests, replace it with a stub.
var printlnFn = fmt.Println

// execIface defines the minimal command surface the REPL needs to operate.
// The real App type satisfies this interface; tests can provide a lightweight stub.
type execIface interface {
	isLoggedIn() bool
	Register(ctx context.Context, username string) error
	Login(ctx context.Context, username string) error
	Logout(ctx context.Context) error
	Whoami(ctx context.Context) error
	Create(ctx context.Context, table string, fields models.Fields, id string) error
	Draft(table string, fields models.Fields) error
	Commit(ctx context.Context, table, id string) error
	Update(ctx context.Context, table, id string, fields models.Fields) error
	Delete(ctx context.Context, table, id string) error
	Abandon(ctx context.Context, table, id string) error
	List(ctx context.Context, table string, includeDeleted bool) error
	Show(ctx context.Context, table, id string) error
	Flush(ctx context.Context) error
	Queue(ctx context.Context) error
	Retry(ctx context.Context) error
	Discard(ctx context.Context, entryID string) error
}

const (
	helpSignedOut = "Available commands: register [user], login [user], queue, exit"
	helpSignedIn  = "Available commands: create <table> [name=value...], draft <table> [name=value...], commit <table> <id>,\n" +
		"  update <table> <id> [name=value...], delete <table> <id>, abandon <table> <id>,\n" +
		"  (l)ist <table> [--deleted], show <table> <id>, flush, queue, retry, discard <entry>, whoami, logout, exit"
)

// usage describes the arguments a command needs. min is the number of
// positional arguments before the optional name=value fields.
var usage = map[string]struct {
	min  int
	text string
}{
	"create":  {1, "create <table> [name=value...]"},
	"draft":   {1, "draft <table> [name=value...]"},
	"commit":  {2, "commit <table> <id>"},
	"update":  {2, "update <table> <id> [name=value...]"},
	"delete":  {2, "delete <table> <id>"},
	"abandon": {2, "abandon <table> <id>"},
	"list":    {1, "list <table> [--deleted]"},
	"l":       {1, "list <table> [--deleted]"},
	"show":    {2, "show <table> <id>"},
	"discard": {1, "discard <entry>"},
}

// runREPL starts a simple read-eval-print loop.
//
// It reads a line from reader, parses the first token as the command, and
// dispatches to methods on 'a'. Prompts issued by handlers read from the same
// reader. Handler errors are printed and the loop goes on. The loop exits on
// EOF or when the user types "exit" or "quit".
func runREPL(ctx context.Context, a execIface, statusFn func() string, reader *bufio.Reader) {
	for {
		printlnFn(fmt.Sprintf("ls %s > ", statusFn()))
		line, err := reader.ReadString('\n')
		if err != nil && (!errors.Is(err, io.EOF) || line == "") {
			return
		}
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		cmd, args := parts[0], parts[1:]

		if u, ok := usage[cmd]; ok && len(args) < u.min {
			printlnFn("Usage:", u.text)
			continue
		}

		err = nil
		switch cmd {
		case "help":
			if a.isLoggedIn() {
				printlnFn(helpSignedIn)
			} else {
				printlnFn(helpSignedOut)
			}

		case "register":
			err = a.Register(ctx, optional(args, 0))

		case "login":
			err = a.Login(ctx, optional(args, 0))

		case "logout":
			err = a.Logout(ctx)

		case "whoami":
			err = a.Whoami(ctx)

		case "create":
			err = withFields(args[1:], func(f models.Fields) error { return a.Create(ctx, args[0], f, "") })

		case "draft":
			err = withFields(args[1:], func(f models.Fields) error { return a.Draft(args[0], f) })

		case "commit":
			err = a.Commit(ctx, args[0], args[1])

		case "update":
			err = withFields(args[2:], func(f models.Fields) error { return a.Update(ctx, args[0], args[1], f) })

		case "delete":
			err = a.Delete(ctx, args[0], args[1])

		case "abandon":
			err = a.Abandon(ctx, args[0], args[1])

		case "l", "list":
			err = a.List(ctx, args[0], len(args) > 1 && args[1] == "--deleted")

		case "show":
			err = a.Show(ctx, args[0], args[1])

		case "flush", "sync":
			err = a.Flush(ctx)

		case "queue":
			err = a.Queue(ctx)

		case "retry":
			err = a.Retry(ctx)

		case "discard":
			err = a.Discard(ctx, args[0])

		case "exit", "quit":
			printlnFn("Bye!")
			return

		default:
			printlnFn("Unknown command:", cmd)
		}

		if err != nil {
			printlnFn(errColor.Sprint("Error: ", err))
		}
	}
}

func optional(args []string, i int) string {
	if i < len(args) {
		return args[i]
	}
	return ""
}

func withFields(args []string, fn func(models.Fields) error) error {
	if len(args) == 0 {
		return fn(nil)
	}
	f, err := models.FieldsFromArgs(args)
	if err != nil {
		return err
	}
	return fn(f)
}

// Shell runs the interactive prompt with the connectivity watcher, the
// background flusher and the session monitor alive until it returns.
func (a *App) Shell(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go a.StartOnlineStatusWatcher(ctx, a.cfg.OnlineCheckInterval)
	go a.StartFlusher(ctx, a.cfg.FlushInterval)
	go a.watchSessions(ctx)
	go a.sessions.RunRefresher(ctx, time.Minute)

	printlnFn("Welcome to ledgersync (type 'help' for commands)")
	runREPL(ctx, a, a.getStatus, a.reader)
	return nil
}
