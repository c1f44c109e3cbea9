package cli

import (
	"fmt"
	"maps"
	"slices"

	"github.com/spf13/cobra"

	"github.com/phlexileads/pushchannel/socket"
)

func newCredsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "creds",
		Short: "Manage the token and project the push endpoint is built from",
	}

	cmd.AddCommand(newCredsSetCmd(a, "set-token <token>", "Store the auth token", socket.KeyAuthToken))
	cmd.AddCommand(newCredsSetCmd(a, "set-project <id>", "Select the project to receive events for", socket.KeySelectedProjectID))
	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Remove the stored token and project",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := a.openCredentials()
			if err != nil {
				return err
			}
			for _, key := range []string{socket.KeyAuthToken, socket.KeySelectedProjectID} {
				if err := store.Delete(key); err != nil {
					return err
				}
			}
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print stored values with the token masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := a.openCredentials()
			if err != nil {
				return err
			}
			values, err := store.All()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "file: %s\n", store.Path())
			for _, k := range slices.Sorted(maps.Keys(values)) {
				v := values[k]
				if k == socket.KeyAuthToken {
					v = mask(v)
				}
				fmt.Fprintf(out, "%s = %s\n", k, v)
			}
			return nil
		},
	})

	return cmd
}

func newCredsSetCmd(a *app, use, short, key string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openCredentials()
			if err != nil {
				return err
			}
			return store.Set(key, args[0])
		},
	}
}

func mask(token string) string {
	if len(token) <= 4 {
		return "****"
	}
	return token[:4] + "****"
}
