package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/briandowns/spinner"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/jrsteele09/go-auth-client/login"
	"github.com/jrsteele09/go-auth-client/oauth2"
	"github.com/jrsteele09/go-auth-client/sessions"
)

const maxFetchBody = 4096

type loginOptions struct {
	silent   bool
	prompt   string
	fetchURL string
}

func newLoginCmd(root *rootOptions) *cobra.Command {
	opts := &loginOptions{}
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in through the system browser",
		Long: `Log in through the system browser.

Examples:
  oidc-login login --issuer https://login.example.com
  oidc-login login --session-id 6f1c... --silent
  oidc-login login --prompt login
  oidc-login login --fetch https://pod.example.com/private/`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runLogin(cmd.Context(), root, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.silent, "silent", false, "send prompt=none and keep the stored client")
	cmd.Flags().StringVar(&opts.prompt, "prompt", "", "prompt sent to the provider: consent, login or none")
	cmd.Flags().StringVar(&opts.fetchURL, "fetch", "", "issue one authenticated GET to this URL after login")
	return cmd
}

func runLogin(ctx context.Context, root *rootOptions, opts *loginOptions) error {
	if root.issuer == "" {
		return errors.Wrap(login.ErrInvalidRequest, "no issuer: pass --issuer or set OIDC_ISSUER")
	}
	prompt, err := opts.resolvePrompt()
	if err != nil {
		return err
	}
	displayAppname(root.cfg.GetAppName())

	var stackOpts []login.StackOption
	if root.sessionID != "" {
		stackOpts = append(stackOpts, login.WithSessionInfo(sessions.Info{SessionID: root.sessionID}))
	}
	session, err := login.New(root.cfg, stackOpts...)
	if err != nil {
		return err
	}
	defer session.Close()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	loginOpts := login.LoginOptions{
		OidcIssuer:   root.issuer,
		TokenType:    oauth2.ParseTokenType(root.cfg.GetTokenType()),
		ClientID:     root.cfg.GetClientID(),
		ClientSecret: root.cfg.GetClientSecret(),
		ClientName:   root.cfg.GetClientName(),
		Scopes:       root.cfg.GetScopes(),
		Prompt:       prompt,
	}

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Suffix = " Waiting for the browser login to complete..."
	s.Start()
	err = session.Login(ctx, loginOpts)
	s.Stop()
	if err != nil {
		fmt.Println(text.FgRed.Sprint("Login failed"))
		return err
	}

	info := session.Info()
	if !info.IsLoggedIn {
		fmt.Println(text.FgYellow.Sprint("The provider completed the flow without logging in"))
	} else {
		fmt.Println(text.FgGreen.Sprint("Logged in"))
	}
	renderInfo(info)

	if opts.fetchURL == "" {
		return nil
	}
	return fetchOnce(ctx, session, opts.fetchURL)
}

// resolvePrompt maps the flags onto a prompt. Empty leaves the login default in place.
func (o *loginOptions) resolvePrompt() (oauth2.Prompt, error) {
	prompt := oauth2.Prompt(o.prompt)
	switch prompt {
	case "", oauth2.PromptConsent, oauth2.PromptLogin, oauth2.PromptNone:
	default:
		return "", errors.Wrapf(login.ErrInvalidRequest, "unknown prompt %q", o.prompt)
	}
	if !o.silent {
		return prompt, nil
	}
	if prompt != "" && prompt != oauth2.PromptNone {
		return "", errors.Wrapf(login.ErrInvalidRequest, "--silent cannot be combined with --prompt %s", o.prompt)
	}
	return oauth2.PromptNone, nil
}

func fetchOnce(ctx context.Context, session *login.Session, target string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return errors.Wrap(err, "[fetchOnce] building request")
	}
	resp, err := session.Fetch(req)
	if err != nil {
		return errors.Wrap(err, "[fetchOnce] sending request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBody))
	if err != nil {
		return errors.Wrap(err, "[fetchOnce] reading response")
	}
	status := text.FgGreen
	if resp.StatusCode >= http.StatusBadRequest {
		status = text.FgRed
	}
	fmt.Printf("%s %s\n%s\n", status.Sprint(resp.Status), target, body)
	return nil
}
