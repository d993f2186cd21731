package main

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/jrsteele09/go-auth-client/internal/config"
	"github.com/jrsteele09/go-auth-client/internal/logging"
	"github.com/jrsteele09/go-auth-client/login"
)

const (
	exitCodeError       = 1
	exitCodeInvalid     = 2
	exitCodeLoginFailed = 3
)

type rootOptions struct {
	configPath string
	sessionID  string
	issuer     string
	cfg        config.Config
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "oidc-login",
		Short: "Log in to an OpenID provider from the terminal",
		Long: `oidc-login runs the authorization code flow with PKCE against an OpenID provider.
The system browser is sent to the provider and the redirect is received on a
loopback listener. Access tokens are DPoP-bound unless TOKEN_TYPE=Bearer.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.load()
		},
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "YAML config file; environment variables take precedence")
	cmd.PersistentFlags().StringVar(&opts.sessionID, "session-id", "", "session to log in, inspect or log out")
	cmd.PersistentFlags().StringVar(&opts.issuer, "issuer", "", "OpenID provider, overrides OIDC_ISSUER")

	cmd.AddCommand(newLoginCmd(opts), newStatusCmd(opts), newLogoutCmd(opts))
	return cmd
}

func (o *rootOptions) load() error {
	if o.configPath == "" {
		o.cfg = config.New()
	} else {
		cfg, err := config.NewFromFile(o.configPath)
		if err != nil {
			return err
		}
		o.cfg = cfg
	}
	logging.Init(o.cfg.GetLogLevel(), true, os.Stderr)
	if o.issuer == "" {
		o.issuer = o.cfg.GetIssuer()
	}
	return nil
}

func exitCode(err error) int {
	switch {
	case errors.Is(err, login.ErrInvalidRequest), errors.Is(err, login.ErrInvalidClient):
		return exitCodeInvalid
	case errors.Is(err, login.ErrHostFlowFailure), errors.Is(err, login.ErrRedirectHandling):
		return exitCodeLoginFailed
	default:
		return exitCodeError
	}
}
