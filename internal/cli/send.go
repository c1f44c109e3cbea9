package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newSendCmd(a *app) *cobra.Command {
	var wait time.Duration

	cmd := &cobra.Command{
		Use:   "send <type> [payload-json]",
		Short: "Connect, send one message and disconnect",
		Example: `  phlexi-push send ping
  phlexi-push send leadImport '{"file":"leads.csv"}' --wait 10s`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload := json.RawMessage("null")
			if len(args) == 2 {
				if !json.Valid([]byte(args[1])) {
					return fmt.Errorf("payload is not valid JSON: %q", args[1])
				}
				payload = json.RawMessage(args[1])
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), wait)
			defer cancel()
			if err := a.send(ctx, args[0], payload); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sent %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().DurationVar(&wait, "wait", 5*time.Second, "How long to wait for the connection")

	return cmd
}

func (a *app) send(ctx context.Context, eventType string, payload json.RawMessage) error {
	creds, err := a.openCredentials()
	if err != nil {
		return err
	}

	client := a.newClient(creds)
	defer client.Disconnect()

	status := client.WatchStatus(ctx)
	defer status.Close()

	client.Connect()
	if err := status.Wait(ctx, true); err != nil {
		return fmt.Errorf("push channel did not connect: %w", err)
	}

	client.Send(eventType, payload)
	return nil
}
