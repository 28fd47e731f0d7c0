package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Run one heartbeat round and print it",
	Long: `Probe the local daemons and the clusters whose mon on this host is in
quorum, exactly as one heartbeat round of the agent does, and print the result.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")

		a, err := newAgent(cfg)
		if err != nil {
			return fmt.Errorf("failed to create agent: %v", err)
		}

		round, err := a.heartbeater.Heartbeat(cmd.Context())
		if err != nil {
			return err
		}
		if round.Skipped != nil {
			fmt.Fprintf(os.Stderr, "Skipped: %v\n", round.Skipped)
		}

		return render(os.Stdout, output, map[string]any{
			"fqdn":     a.fqdn,
			"server":   round.Server,
			"clusters": round.Clusters,
		})
	},
}

func init() {
	statusCmd.Flags().StringP("output", "o", "yaml", "Output format (yaml or json)")
}
