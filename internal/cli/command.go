package cli

import (
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/me/ccsched/internal/server"
)

func newCommandCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "command [name]",
		Short: "Send a debug command to a running compositor",
		Long:  "Command applies a debug command on the compositor's impl thread and prints the resulting state. Without a name it lists the available commands.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			if len(args) == 0 {
				resp, err := client.Get(cmd.Context(), "/api/v1/commands/")
				if err != nil {
					return fmt.Errorf("list commands: %w", err)
				}
				var data struct {
					Commands []string `json:"commands"`
				}
				if err := json.Unmarshal(resp.Data, &data); err != nil {
					return fmt.Errorf("parse response: %w", err)
				}
				for _, name := range data.Commands {
					fmt.Fprintln(out, name)
				}
				return nil
			}

			name := args[0]
			resp, err := client.Post(cmd.Context(), "/api/v1/commands/"+url.PathEscape(name))
			if err != nil {
				return fmt.Errorf("command %s: %w", name, err)
			}

			var st server.Status
			if err := json.Unmarshal(resp.Data, &st); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}
			fmt.Fprintf(out, "Applied %s\n", name)
			printStatus(out, &st)
			return nil
		},
	}
}
