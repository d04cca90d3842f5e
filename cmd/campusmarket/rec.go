package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/campusgrid/energy-exchange/core"
)

func recCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "rec", Short: "REC certificate reporting and retirement"}
	cmd.AddCommand(recListCmd(), recRetireCmd())
	return cmd
}

func recListCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "list [meter-id]",
		Short: "list REC certificates issued against a meter",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, closeFn, err := buildEngine(cmd)
			if err != nil {
				return err
			}
			defer closeFn()
			var recs []core.RECCertificate
			err = engine.WithTx(func(tx core.Tx) error {
				recs = engine.Ledger.ListRECsByMeter(tx, core.MeterID(args[0]))
				return nil
			})
			if err != nil {
				return err
			}
			for _, r := range recs {
				fmt.Printf("%s\t%d\t%s\t%s\n", r.ID, r.EnergyAmount, r.RenewableSource, statusLabel(r.Status))
			}
			return nil
		},
	}
	return c
}

func recRetireCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "retire [cert-id]",
		Short: "retire an Active REC certificate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, closeFn, err := buildEngine(cmd)
			if err != nil {
				return err
			}
			defer closeFn()
			caller, err := callerPrincipal(cmd)
			if err != nil {
				return err
			}
			return engine.WithTx(func(tx core.Tx) error {
				return engine.Ledger.RetireREC(tx, core.RecID(args[0]), caller.ID, time.Now())
			})
		},
	}
	addCallerFlags(c)
	return c
}

func statusLabel(s core.CertStatus) string {
	switch s {
	case core.CertActive:
		return "Active"
	case core.CertRetired:
		return "Retired"
	case core.CertCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}
