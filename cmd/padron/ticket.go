package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/padronkit/padron-core/internal/metrics"
	"github.com/padronkit/padron-core/pkg/wsaa"
)

var (
	ticketForce       bool
	keepCheckInterval time.Duration
	keepMetricsAddr   string
)

var ticketCmd = &cobra.Command{
	Use:   "ticket",
	Short: "Manage WSAA access tickets",
	Long: `Request and renew access tickets from the WSAA authentication service.

An access ticket (token and sign) is valid for the service it was requested
for until its expiration time. The authority rejects a new request while a
ticket for the same service is still valid, so tickets are persisted in the
credential store and reused.`,
}

var ticketRequestCmd = &cobra.Command{
	Use:   "request",
	Short: "Obtain an access ticket, reusing a stored one when still fresh",
	Example: `  # Reuse a stored ticket or request a new one
  padron ticket request --cert cert.pem --key key.pem --cuit 20123456786

  # Request against homologation, ignoring any stored ticket
  padron ticket request --env testing --force`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		s, err := newSession(cmd.Context(), cfg, sessionOptions{})
		if err != nil {
			return err
		}
		defer s.close()

		if ticketForce {
			_, err = s.keeper.Refresh(cmd.Context())
		} else {
			_, err = s.keeper.Credential(cmd.Context())
		}
		if err != nil {
			return err
		}
		return printStatus(s.keeper.Status())
	},
}

var ticketKeepCmd = &cobra.Command{
	Use:   "keep",
	Short: "Run a daemon that keeps the stored ticket renewed",
	Long: `Run a daemon that renews the access ticket before it expires and keeps
the credential store current, so other processes sharing the store always find
a fresh ticket.

With --metrics-addr the daemon serves Prometheus metrics on /metrics.`,
	Example: `  # Keep a ticket in Redis renewed, exposing metrics
  padron ticket keep --store redis --redis-url redis://localhost:6379/0 --metrics-addr :9090`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		reg := prometheus.NewRegistry()
		m := metrics.New(reg)

		s, err := newSession(ctx, cfg, sessionOptions{Observer: m, CheckInterval: keepCheckInterval})
		if err != nil {
			return err
		}
		defer s.close()

		if keepMetricsAddr != "" {
			srv := serveMetrics(keepMetricsAddr, reg)
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}()
		}

		log.Info().
			Str("service", cfg.Service).
			Str("environment", cfg.Environment).
			Str("cuit", cfg.CUIT).
			Dur("renew_before", cfg.RenewBefore).
			Dur("check_interval", keepCheckInterval).
			Msg("starting ticket keeper")

		return s.keeper.Run(ctx)
	},
}

func serveMetrics(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("addr", addr).Msg("metrics server failed")
		}
	}()
	log.Info().Str("addr", addr).Msg("serving metrics")
	return srv
}

type statusOutput struct {
	State      string    `json:"state"`
	Service    string    `json:"service"`
	Source     string    `json:"source,omitempty"`
	ObtainedAt time.Time `json:"obtainedAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

func printStatus(st wsaa.Status) error {
	out, err := json.MarshalIndent(statusOutput{
		State:      string(st.State),
		Service:    st.Service,
		Source:     st.Source,
		ObtainedAt: st.ObtainedAt,
		ExpiresAt:  st.ExpiresAt,
	}, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func init() {
	rootCmd.AddCommand(ticketCmd)
	ticketCmd.AddCommand(ticketRequestCmd)
	ticketCmd.AddCommand(ticketKeepCmd)

	ticketRequestCmd.Flags().BoolVar(&ticketForce, "force", false, "Request a new ticket even if a fresh one is cached")

	ticketKeepCmd.Flags().DurationVar(&keepCheckInterval, "interval", time.Minute, "Interval between freshness checks")
	ticketKeepCmd.Flags().StringVar(&keepMetricsAddr, "metrics-addr", "", "Address to serve /metrics on (disabled if empty)")
}
