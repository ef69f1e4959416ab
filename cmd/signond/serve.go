package main

import (
	"context"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/freehandle/signon/challenge"
	"github.com/freehandle/signon/config"
	"github.com/freehandle/signon/crypto"
	"github.com/freehandle/signon/gateway"
	"github.com/freehandle/signon/login"
	"github.com/freehandle/signon/protocol"
	"github.com/freehandle/signon/protocol/chain"
	"github.com/gorilla/sessions"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve <config-file>",
	Short: "Serve the login verification endpoint",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig[config.ServerConfig](args[0])
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg)
	},
}

func serve(ctx context.Context, cfg *config.ServerConfig) error {
	chainID := protocol.MainnetChainID
	if cfg.ChainID != "" {
		chainID, _ = crypto.HashFromHex(cfg.ChainID)
	}
	pack, _ := protocol.ParsePackType(cfg.Pack)

	journal := challenge.NewMemoryJournal()
	if cfg.JournalPath != "" {
		var err error
		if journal, err = challenge.OpenFileJournal(cfg.JournalPath); err != nil {
			return err
		}
	}
	defer journal.Close()

	sessionKey := crypto.Nonce()
	if cfg.SessionKey != "" {
		sessionKey, _ = hex.DecodeString(cfg.SessionKey)
	} else {
		slog.Warn("no session key configured, sessions will not survive a restart")
	}
	store := sessions.NewCookieStore(sessionKey)
	store.Options.HttpOnly = true
	store.Options.Secure = cfg.SecureCookies
	store.Options.SameSite = http.SameSiteLaxMode

	node := chain.NewRPCClient(cfg.ChainEndpoint)
	defer node.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	ttl := time.Duration(cfg.ChallengeTTL) * time.Second
	server := gateway.NewServer(challenge.NewIssuer(journal, ttl), login.NewVerifier(node, chainID, pack), store, registry)
	if ttl > 0 {
		server.ChallengeTTL = ttl
	}
	server.SecureCookies = cfg.SecureCookies

	httpServer := &http.Server{
		Addr:              cfg.Address,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errs := make(chan error, 1)
	go func() {
		slog.Info("signond listening", "address", cfg.Address, "chain", cfg.ChainEndpoint, "pack", pack)
		errs <- httpServer.ListenAndServe()
	}()
	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}
	shutdown, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdown); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	slog.Info("signond stopped")
	return nil
}
