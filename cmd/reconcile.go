package main

import (
	"context"
	"fmt"
	"log"

	"github.com/spf13/cobra"
)

// reconcileCommands runs one missing-credit sweep and prints the report.
func reconcileCommands(p *paydInstance) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "write earnings credits for paid orders that have none",
		Run: func(cmd *cobra.Command, args []string) {
			report, err := p.payd.ReconcileMissingCredits(context.Background(), limit)
			if err != nil {
				log.Fatalf("reconcile failed: %v", err)
			}
			fmt.Printf("orders: %d, credits written: %d, failed: %d\n",
				report.Orders, report.CreditsWritten, report.Failed)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum orders to reconcile (0 uses the configured batch size)")
	return cmd
}
