// Package cli wires Cobra subcommands to the push channel client; it holds no
// protocol logic of its own.
package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/phlexileads/pushchannel/debug"
	"github.com/phlexileads/pushchannel/internal/config"
	"github.com/phlexileads/pushchannel/internal/credentials"
	"github.com/phlexileads/pushchannel/socket"
	"github.com/phlexileads/pushchannel/socket/transport"
)

// app carries what PersistentPreRunE loaded to the subcommands.
type app struct {
	cfg *config.Config
}

// NewRootCmd creates the root command and registers all subcommands.
func NewRootCmd() *cobra.Command {
	var verbose bool
	a := &app{}

	root := &cobra.Command{
		Use:   "phlexi-push",
		Short: "PhlexiLeads push channel client",
		// main renders fatal errors through the logger.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			debug.SetOutput(cmd.ErrOrStderr())

			// config only prints the merged file and must work with a broken one.
			if cmd.Name() == "config" {
				return nil
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}

			level := cfg.Log.SlogLevel()
			if verbose {
				level = slog.LevelDebug
			}
			debug.SetLevel(level)

			a.cfg = cfg
			return nil
		},
	}

	root.AddCommand(newListenCmd(a))
	root.AddCommand(newSendCmd(a))
	root.AddCommand(newCredsCmd(a))
	root.AddCommand(newConfigCmd())
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	return root
}

func (a *app) openCredentials() (*credentials.Store, error) {
	return credentials.Open(a.cfg.StatePath())
}

// newClient builds a client from config. It does not connect.
func (a *app) newClient(creds socket.Credentials, extra ...socket.ClientOption) *socket.Client {
	ep := a.cfg.Endpoint
	dialer := transport.NewWebSocketDialer(
		transport.WithHandshakeTimeout(ep.HandshakeTimeout),
		transport.WithWriteTimeout(ep.WriteTimeout),
		transport.WithReadTimeout(ep.ReadTimeout),
	)

	opts := []socket.ClientOption{
		socket.WithDialer(dialer),
		socket.WithMaxReconnectAttempts(a.cfg.Reconnect.MaxAttempts),
		socket.WithReconnectDelay(a.cfg.Reconnect.Delay),
		socket.WithManualConnect(),
	}
	return socket.NewClient(ep.BaseURL, creds, append(opts, extra...)...)
}
