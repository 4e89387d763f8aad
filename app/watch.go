package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/GoPowerDNS-Admin/authsession/internal/daemon"
	"github.com/GoPowerDNS-Admin/authsession/internal/session"
)

const metricsShutdownTimeout = 5 * time.Second

var (
	metricsAddr string

	watchCmd = &cobra.Command{
		Use:   "watch",
		Short: "Keep the session alive and print auth changes",
		Long: `Keep the session alive: the token is refreshed before it expires,
the backend session is validated periodically and changes made by other
invocations are followed. Runs until interrupted.`,
		PreRunE: loadConfig,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if metricsAddr != "" {
				srv := serveMetrics(metricsAddr)

				defer func() {
					sctx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
					defer cancel()

					_ = srv.Shutdown(sctx)
				}()
			}

			cmd.SetContext(ctx)

			return withDaemon(cmd, func(ctx context.Context, d *daemon.Daemon) error {
				out := cmd.OutOrStdout()

				unsubscribe := d.Manager.OnAuthChange(func(evt session.Event) {
					printEvent(cmd, evt)
				})
				defer unsubscribe()

				printState(out, d.Manager)

				<-ctx.Done()

				fmt.Fprintln(out, "stopped")

				return nil
			})
		},
	}
)

func init() { //nolint: gochecknoinits
	watchCmd.Flags().StringVar(&metricsAddr, "metrics", "", "Serve prometheus metrics on this address")
	watchCmd.Flags().StringVar(&provider, "provider", "", "Provider to use when no session is persisted")

	rootCmd.AddCommand(watchCmd)
}

func serveMetrics(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("addr", addr).Msg("metrics server failed")
		}
	}()

	log.Info().Str("addr", addr).Msg("serving metrics")

	return srv
}

func printEvent(cmd *cobra.Command, evt session.Event) {
	out := cmd.OutOrStdout()

	line := evt.Type.String()
	if evt.User != nil {
		line += " user=" + evt.User.Username
	}

	if evt.Remote {
		line += " remote"
	}

	if evt.Err != nil {
		line += " cause=" + evt.Err.Error()
	}

	if evt.RedirectURL != "" {
		line += " redirect=" + evt.RedirectURL
	}

	fmt.Fprintf(out, "%s %s\n", time.Now().Format(time.TimeOnly), line)
}
