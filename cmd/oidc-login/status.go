package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/jrsteele09/go-auth-client/login"
	"github.com/jrsteele09/go-auth-client/sessions"
)

func newStatusCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show what the storage backend holds for a session",
		Long: `Show what the storage backend holds for a session.
Only the persistent backends (STORAGE_BACKEND=bbolt or redis) outlive the login process.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd.Context(), root)
		},
	}
}

func runStatus(ctx context.Context, root *rootOptions) error {
	session, err := storedSession(root)
	if err != nil {
		return err
	}
	defer session.Close()

	info, err := session.StoredInfo(ctx)
	if err != nil {
		return err
	}
	if info == nil {
		fmt.Printf("%s %s\n", text.FgYellow.Sprint("No stored session"), root.sessionID)
		return nil
	}
	renderInfo(*info)
	return nil
}

func newLogoutCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget a stored session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			session, err := storedSession(root)
			if err != nil {
				return err
			}
			defer session.Close()
			if err := session.Logout(cmd.Context()); err != nil {
				return err
			}
			fmt.Printf("%s %s\n", text.FgGreen.Sprint("Logged out"), root.sessionID)
			return nil
		},
	}
}

func storedSession(root *rootOptions) (*login.Session, error) {
	if root.sessionID == "" {
		return nil, errors.Wrap(login.ErrInvalidRequest, "--session-id is required")
	}
	return login.New(root.cfg, login.WithSessionInfo(sessions.Info{SessionID: root.sessionID}))
}

func renderInfo(info sessions.Info) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{text.FgHiCyan.Sprint("FIELD"), text.FgHiCyan.Sprint("VALUE")})

	loggedIn := text.FgYellow.Sprint("no")
	if info.IsLoggedIn {
		loggedIn = text.FgGreen.Sprint("yes")
	}
	expires := "-"
	if !info.ExpirationDate.IsZero() {
		expires = info.ExpirationDate.Local().Format(time.RFC3339)
	}
	t.AppendRows([]table.Row{
		{"Session ID", info.SessionID},
		{"Logged in", loggedIn},
		{"WebID", valueOrDash(info.WebID)},
		{"Client", valueOrDash(info.ClientAppID)},
		{"Expires", expires},
	})
	t.Render()
}

func valueOrDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
