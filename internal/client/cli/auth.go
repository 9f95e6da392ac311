package cli

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/ledgersync/internal/client/remote"
	"github.com/dmitrijs2005/ledgersync/internal/client/services"
	"github.com/dmitrijs2005/ledgersync/internal/shared"
)

func (a *App) askUsername(username string) (string, error) {
	if username != "" {
		return username, nil
	}
	return getSimpleText(a.reader, "Enter username", a.out)
}

// Register prompts for the missing credentials, creates the account and
// signs it in. The password is wiped before returning.
func (a *App) Register(ctx context.Context, username string) error {
	username, err := a.askUsername(username)
	if err != nil {
		return err
	}
	password, err := getPassword(a.out)
	if err != nil {
		return err
	}
	defer shared.WipeByteArray(password)

	s, err := a.sessions.Register(ctx, username, string(password))
	if err != nil {
		return err
	}
	a.setMode(ModeOnline)
	fmt.Fprintln(a.out, okColor.Sprintf("registered and signed in as %s", s.UserID))
	return nil
}

// Login signs in with a username and password. Queued operations are
// flushed right away so work done offline reaches the store.
func (a *App) Login(ctx context.Context, username string) error {
	username, err := a.askUsername(username)
	if err != nil {
		return err
	}
	password, err := getPassword(a.out)
	if err != nil {
		return err
	}
	defer shared.WipeByteArray(password)

	s, err := a.sessions.SignIn(ctx, services.ProviderPassword, username, string(password))
	if err != nil {
		if remote.IsConnectivity(err) {
			a.setMode(ModeOffline)
		}
		return fmt.Errorf("login unsuccessful: %w", err)
	}
	a.setMode(ModeOnline)
	fmt.Fprintln(a.out, okColor.Sprintf("signed in as %s", s.UserID))

	res, err := a.flush(ctx)
	if err != nil {
		a.log.Warn(ctx, "flush after login failed", "error", err)
		return nil
	}
	if s, f := res.Counts(); s+f > 0 {
		printFlushResult(a.out, res)
	}
	return nil
}

// Logout forgets the session. The queue is kept: its operations belong to
// the owner stamped on them and replay after the next login.
func (a *App) Logout(ctx context.Context) error {
	if err := a.sessions.SignOut(ctx); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "signed out")
	return nil
}

func (a *App) Whoami(ctx context.Context) error {
	s, ok := a.sessions.Current()
	if !ok {
		fmt.Fprintln(a.out, "not signed in")
		return nil
	}
	fmt.Fprintf(a.out, "%s (session expires %s)\n", s.UserID, s.ExpiresAt.Local().Format("2006-01-02 15:04"))
	return nil
}
