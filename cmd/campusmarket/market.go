package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/campusgrid/energy-exchange/core"
)

func marketCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "market", Short: "market snapshots"}
	c := &cobra.Command{
		Use:   "snapshot [epoch-id]",
		Short: "print an epoch's best-bid/best-ask/volume snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, closeFn, err := buildEngine(cmd)
			if err != nil {
				return err
			}
			defer closeFn()
			n, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid epoch id %q", args[0])
			}
			var summary core.EpochSummary
			err = engine.WithTx(func(tx core.Tx) error {
				summary = engine.Book.Summary(tx, core.EpochID(n))
				return nil
			})
			if err != nil {
				return err
			}
			fmt.Printf("epoch=%d best_bid=%d best_ask=%d open_volume=%d traded_volume=%d\n",
				summary.EpochID, summary.BestBid, summary.BestAsk, summary.OpenVolume, summary.TradedVolume)
			return nil
		},
	}
	cmd.AddCommand(c)
	return cmd
}
