package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/opd-ai/bookbot/generator"
	"github.com/opd-ai/bookbot/logging"
	srvtls "github.com/opd-ai/bookbot/srv/tls"
	"github.com/opd-ai/bookbot/srv/ui"
	"github.com/opd-ai/bookbot/store"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	var addr string
	var useTLS bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and progress websocket",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.Server.Addr = addr
			}
			if cmd.Flags().Changed("tls") {
				cfg.Server.TLS = useTLS
			}
			return ctx.withStore(func(st *store.Store) error {
				return serve(cmd.Context(), ctx, st)
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (defaults to server.addr)")
	cmd.Flags().BoolVar(&useTLS, "tls", false, "Serve HTTPS with a self-signed certificate")
	return cmd
}

func serve(ctx context.Context, cc *commandContext, st *store.Store) error {
	cfg := cc.config
	log := logging.Component(cc.logger, "server")

	hub := ui.NewHub(cfg.Server.HistoryTTL)
	gen := cc.orchestrator(st, generator.WithProgressor(hub))
	bookUI := ui.NewBookUI(st, gen, cc.compiler(), hub, ui.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		RateLimit:      cfg.Server.RateLimit,
		RateWindow:     cfg.Server.RateWindow,
		Logger:         cc.logger,
		Now:            cc.now,
	})
	defer bookUI.Close()

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      bookUI,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	var certs srvtls.Pair
	if cfg.Server.TLS {
		var hosts []string
		if host, _, err := net.SplitHostPort(cfg.Server.Addr); err == nil && host != "" {
			hosts = append(hosts, host)
		}
		var err error
		if certs, err = srvtls.EnsureCertificates(cfg.Server.CertDir, srvtls.Options{Hosts: hosts, Now: cc.now}); err != nil {
			return fmt.Errorf("prepare certificates: %w", err)
		}
		server.TLSConfig = srvtls.Config()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("http server starting", slog.String("addr", server.Addr), slog.Bool("tls", cfg.Server.TLS))
		var err error
		if cfg.Server.TLS {
			err = server.ListenAndServeTLS(certs.CertFile, certs.KeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("server forced to shutdown", slog.Any("error", err))
			return err
		}
		return nil
	})

	err := g.Wait()
	log.Info("server exited")
	return err
}
