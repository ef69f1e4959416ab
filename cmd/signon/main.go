package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/freehandle/signon/config"
	"github.com/freehandle/signon/login"
	"github.com/freehandle/signon/signer"
	"github.com/spf13/cobra"
)

var (
	configPath   string
	useOperation bool
	accessToken  string
	credentials  string
	verbose      bool
)

var rootCmd = &cobra.Command{
	Use:          "signon",
	Short:        "Log in to a chain account from the terminal",
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelWarn
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	},
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign the login challenge and establish a session",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig[config.ClientConfig](configPath)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		client, err := newClient(cfg)
		if err != nil {
			return err
		}
		defer client.Close()
		user, err := client.controller.Login(ctx, client.form(useOperation))
		if err != nil {
			return explain(err)
		}
		return printJSON(user)
	},
}

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Show the current session",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig[config.ClientConfig](configPath)
		if err != nil {
			return err
		}
		sessions, err := openSessions(cfg)
		if err != nil {
			return err
		}
		if cfg.Gateway == "" {
			user, ok := sessions.Load(agent())
			if !ok {
				user = &login.User{}
			}
			return printJSON(user)
		}
		remote, err := newRemote(cfg, sessions)
		if err != nil {
			return err
		}
		user, err := remote.Session(cmd.Context())
		if err != nil {
			return explain(err)
		}
		if !user.IsLoggedIn {
			// the gateway session expired
			if err := sessions.Delete(agent()); err != nil {
				return err
			}
		}
		return printJSON(user)
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "End the session and forget cached keys",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig[config.ClientConfig](configPath)
		if err != nil {
			return err
		}
		client, err := newClient(cfg)
		if err != nil {
			return err
		}
		defer client.Close()
		if client.remote != nil {
			if err := client.remote.Logout(cmd.Context()); err != nil {
				return explain(err)
			}
		}
		return client.controller.Logout(cmd.Context(), agent())
	},
}

// explain turns the error kind into the action the user can take.
func explain(err error) error {
	kind, _ := signer.KindOf(err)
	switch kind {
	case signer.KindCancelled:
		return errors.New("login cancelled")
	case signer.KindBackendUnavailable:
		return fmt.Errorf("signing backend unavailable, check it is running or installed: %w", err)
	case signer.KindReplayedChallenge:
		return fmt.Errorf("challenge already used, run login again: %w", err)
	}
	var redirect *signer.RedirectError
	if errors.As(err, &redirect) {
		return fmt.Errorf("authorize at %s and pass the access token with --access-token", redirect.URL)
	}
	return err
}

func printJSON(v any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "signon.yaml", "client configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	loginCmd.Flags().BoolVar(&useOperation, "operation", false, "sign the challenge inside a login transaction")
	loginCmd.Flags().StringVar(&accessToken, "access-token", "", "hosted signer access token")
	loginCmd.Flags().StringVar(&credentials, "credentials", "", "PEM ed25519 key identifying this client to the custody daemon")
	rootCmd.AddCommand(loginCmd, sessionCmd, logoutCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
