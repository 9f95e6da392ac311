package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/dmitrijs2005/ledgersync/internal/buildinfo"
	"github.com/dmitrijs2005/ledgersync/internal/client/config"
	"github.com/dmitrijs2005/ledgersync/internal/client/models"
	"github.com/dmitrijs2005/ledgersync/internal/logging"
	"github.com/spf13/cobra"
)

// ErrOperationsParked reports queued operations that stopped replaying
// because they were rejected or ran out of attempts.
var ErrOperationsParked = errors.New("queued operations were parked")

const exitParked = 3

type appFactory func(ctx context.Context, cfg *config.Config, log logging.Logger) (*App, error)

// command holds the App built by the root command's pre-run hook, so every
// subcommand shares one instance.
type command struct {
	newApp appFactory
	app    *App
}

func (c *command) close() error {
	if c.app == nil {
		return nil
	}
	err := c.app.Close()
	c.app = nil
	return err
}

// Execute runs the command line with args and closes whatever it opened.
func Execute(ctx context.Context, args []string, in io.Reader, out, errOut io.Writer) error {
	c := &command{newApp: NewApp}
	root := c.root()
	root.SetArgs(args)
	root.SetIn(in)
	root.SetOut(out)
	root.SetErr(errOut)
	defer func() { _ = c.close() }()
	return root.ExecuteContext(ctx)
}

func (c *command) root() *cobra.Command {
	root := &cobra.Command{
		Use:           "ledgersync",
		Short:         "Offline-first client for the ledgersync record store",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := config.RegisterFlags(root.PersistentFlags())

	root.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		cfg, err := flags.Load()
		if err != nil {
			return err
		}
		level, err := logging.ParseLevel(cfg.LogLevel)
		if err != nil {
			return err
		}
		log := logging.New(cmd.ErrOrStderr(), "text", level)

		app, err := c.newApp(cmd.Context(), cfg, log)
		if err != nil {
			return err
		}
		app.out = cmd.OutOrStdout()
		app.reader = bufio.NewReader(cmd.InOrStdin())
		c.app = app
		return nil
	}

	root.AddCommand(
		c.registerCmd(),
		c.loginCmd(),
		c.logoutCmd(),
		c.whoamiCmd(),
		c.createCmd(),
		c.updateCmd(),
		c.deleteCmd(),
		c.abandonCmd(),
		c.listCmd(),
		c.showCmd(),
		c.flushCmd(),
		c.queueCmd(),
		c.shellCmd(),
		versionCmd(),
	)
	return root
}

func (c *command) registerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "register [username]",
		Short: "Create an account and sign in",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.app.Register(cmd.Context(), optional(args, 0))
		},
	}
}

func (c *command) loginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login [username]",
		Short: "Sign in and flush queued changes",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.app.Login(cmd.Context(), optional(args, 0))
		},
	}
}

func (c *command) logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.app.Logout(cmd.Context())
		},
	}
}

func (c *command) whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.app.Whoami(cmd.Context())
		},
	}
}

func (c *command) createCmd() *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "create <table> [name=value...]",
		Short: "Create a record; queued when the store is unreachable",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withFields(args[1:], func(f models.Fields) error {
				return c.app.Create(cmd.Context(), args[0], f, id)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "use this record id instead of generating one")
	return cmd
}

func (c *command) updateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "update <table> <id> [name=value...]",
		Short: "Patch a record; name=null removes the field",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withFields(args[2:], func(f models.Fields) error {
				return c.app.Update(cmd.Context(), args[0], args[1], f)
			})
		},
	}
}

func (c *command) deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <table> <id>",
		Short: "Soft-delete a confirmed record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.app.Delete(cmd.Context(), args[0], args[1])
		},
	}
}

func (c *command) abandonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "abandon <table> <id>",
		Short: "Drop a record whose create was never sent",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.app.Abandon(cmd.Context(), args[0], args[1])
		},
	}
}

func (c *command) listCmd() *cobra.Command {
	var deleted bool
	cmd := &cobra.Command{
		Use:     "list <table>",
		Aliases: []string{"l"},
		Short:   "List the records of a table",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.app.List(cmd.Context(), args[0], deleted)
		},
	}
	cmd.Flags().BoolVar(&deleted, "deleted", false, "include soft-deleted records")
	return cmd
}

func (c *command) showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <table> <id>",
		Short: "Show one record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.app.Show(cmd.Context(), args[0], args[1])
		},
	}
}

func (c *command) flushCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "flush",
		Aliases: []string{"sync"},
		Short:   "Replay queued changes now",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.app.Flush(cmd.Context())
		},
	}
}

func (c *command) queueCmd() *cobra.Command {
	queue := &cobra.Command{
		Use:   "queue",
		Short: "Inspect the durable queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.app.Queue(cmd.Context())
		},
	}
	queue.AddCommand(
		&cobra.Command{
			Use:   "retry",
			Short: "Requeue operations that ran out of attempts",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return c.app.Retry(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "discard <entry>",
			Short: "Remove a rejected or exhausted operation",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.app.Discard(cmd.Context(), args[0])
			},
		},
	)
	return queue
}

func (c *command) shellCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Interactive prompt with background sync",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.app.Shell(cmd.Context())
		},
	}
}

// versionCmd needs no database, so it replaces the root pre-run hook.
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:               "version",
		Short:             "Print build information",
		Args:              cobra.NoArgs,
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, _ []string) {
			buildinfo.PrintBuildData(cmd.OutOrStdout())
		},
	}
}

// ExitCode maps an error from Execute to a process exit status.
func ExitCode(w io.Writer, err error) int {
	if err == nil {
		return 0
	}
	fmt.Fprintln(w, errColor.Sprint("Error: ", err))
	if errors.Is(err, ErrOperationsParked) {
		return exitParked
	}
	return 1
}
