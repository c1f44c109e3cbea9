package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/phlexileads/pushchannel/debug"
	"github.com/phlexileads/pushchannel/socket"
)

func newListenCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "listen <type>...",
		Short: "Print push messages of the given types as JSON lines",
		Example: "  phlexi-push listen leadUpdate leadCreated leadDeleted\n" +
			"  phlexi-push listen notification -v",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.listen(ctx, cmd.OutOrStdout(), args)
		},
	}
}

func (a *app) listen(ctx context.Context, out io.Writer, eventTypes []string) error {
	logger := debug.Logger()

	creds, err := a.openCredentials()
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	client := a.newClient(creds, socket.WithMetrics(socket.MustNewMetrics(reg)))

	printer := &linePrinter{w: out}
	for _, t := range eventTypes {
		client.Listen(ctx, t, printer.print)
	}
	client.AddConnectionStatusListener(socket.NewStatusListener(func(connected bool) {
		logger.Info("push channel status", "connected", connected)
	}))

	logger.Info("listening", "types", eventTypes, "base_url", a.cfg.Endpoint.BaseURL)
	client.Connect()

	g, gctx := errgroup.WithContext(ctx)

	if addr := a.cfg.Metrics.ListenAddr; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		srv := &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}

		g.Go(func() error {
			logger.Info("serving metrics", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		client.Disconnect()
		logger.Info("listener stopped")
		return nil
	})

	return g.Wait()
}

// linePrinter writes each message as one compact JSON line.
type linePrinter struct {
	mu sync.Mutex
	w  io.Writer
}

func (p *linePrinter) print(msg socket.Message) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, msg.Raw); err != nil {
		debug.Logger().Warn("listen: frame not printable", "type", msg.Type, "err", err)
		return
	}
	buf.WriteByte('\n')

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := p.w.Write(buf.Bytes()); err != nil {
		debug.Logger().Warn("listen: write failed", "err", err)
	}
}
