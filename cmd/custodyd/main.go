package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/freehandle/signon/config"
	"github.com/freehandle/signon/custody"
	"github.com/freehandle/signon/protocol/authority"
	"github.com/freehandle/signon/socket"
	"github.com/freehandle/signon/util"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var rootCmd = &cobra.Command{
	Use:   "custodyd",
	Short: "Key custody daemon",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve <config-file>",
	Short: "Unlock the vault and serve signing sessions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig[config.CustodyConfig](args[0])
		if err != nil {
			return err
		}
		vault, err := openVault(cfg.VaultPath)
		if err != nil {
			return err
		}
		defer vault.Close()
		keys, err := custody.NewKeyring(vault)
		if err != nil {
			return err
		}
		listener, err := socket.Listen(fmt.Sprintf(":%d", cfg.Port))
		if err != nil {
			return err
		}
		daemon := custody.NewDaemon(keys, vault.SecretKey, config.FirewallToValidConnections(cfg.Firewall), time.Duration(cfg.SessionTTL)*time.Second)
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		slog.Info("custody daemon listening", "port", cfg.Port, "token", vault.SecretKey.PublicKey())
		return daemon.Serve(ctx, listener)
	},
}

var (
	addUsername string
	addKeyType  string
)

var addCmd = &cobra.Command{
	Use:   "add <vault-file>",
	Short: "Seal a user's key in the vault under the user's password",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		level, err := authority.ParseLevel(addKeyType)
		if err != nil {
			return err
		}
		if level != authority.Posting && level != authority.Active {
			return errors.New("custody holds posting and active keys only")
		}
		vault, err := openVault(args[0])
		if err != nil {
			return err
		}
		defer vault.Close()
		keys, err := custody.NewKeyring(vault)
		if err != nil {
			return err
		}
		wif, err := readSecret(fmt.Sprintf("%s key for @%s: ", level, addUsername))
		if err != nil {
			return err
		}
		password, err := readSecret(fmt.Sprintf("password @%s will unlock it with: ", addUsername))
		if err != nil {
			return err
		}
		if err := keys.Add(addUsername, level, password, wif); err != nil {
			return err
		}
		fmt.Printf("%s key for @%s sealed\n", level, addUsername)
		return nil
	},
}

var removeCmd = &cobra.Command{
	Use:   "remove <vault-file>",
	Short: "Remove a user's key from the vault",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		vault, err := openVault(args[0])
		if err != nil {
			return err
		}
		defer vault.Close()
		keys, err := custody.NewKeyring(vault)
		if err != nil {
			return err
		}
		return keys.Remove(addUsername, authority.Level(addKeyType))
	},
}

func readSecret(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	secret, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(string(secret))
	if text == "" {
		return "", errors.New("empty input")
	}
	return text, nil
}

func openVault(path string) (*util.SecureVault, error) {
	password, err := readSecret("vault password: ")
	if err != nil {
		return nil, err
	}
	return util.OpenOrCreateVault([]byte(password), path)
}

func init() {
	for _, cmd := range []*cobra.Command{addCmd, removeCmd} {
		cmd.Flags().StringVarP(&addUsername, "username", "u", "", "account name")
		cmd.Flags().StringVarP(&addKeyType, "key-type", "k", "posting", "posting or active")
		cmd.MarkFlagRequired("username")
	}
	rootCmd.AddCommand(serveCmd, addCmd, removeCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
