package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/campusgrid/energy-exchange/core"
)

func orderCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "order", Short: "submit and cancel orders"}
	cmd.AddCommand(orderSubmitSellCmd(), orderSubmitBuyCmd(), orderCancelCmd())
	return cmd
}

func orderSubmitSellCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "submit-sell [amount] [limit-price]",
		Short: "submit a sell order (caller must be an Active Prosumer)",
		Args:  cobra.ExactArgs(2),
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
			amount, limit, err := parseAmountPrice(args)
			if err != nil {
				return err
			}
			var id core.OrderID
			err = engine.WithTx(func(tx core.Tx) error {
				var e error
				id, e = engine.Book.SubmitSell(tx, caller, caller.ID, amount, limit, time.Now())
				return e
			})
			if err != nil {
				return err
			}
			fmt.Println(uint64(id))
			return nil
		},
	}
	addCallerFlags(c)
	return c
}

func orderSubmitBuyCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "submit-buy [amount] [limit-price]",
		Short: "submit a buy order",
		Args:  cobra.ExactArgs(2),
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
			amount, limit, err := parseAmountPrice(args)
			if err != nil {
				return err
			}
			var id core.OrderID
			err = engine.WithTx(func(tx core.Tx) error {
				var e error
				id, e = engine.Book.SubmitBuy(tx, caller, caller.ID, amount, limit, time.Now())
				return e
			})
			if err != nil {
				return err
			}
			fmt.Println(uint64(id))
			return nil
		},
	}
	addCallerFlags(c)
	return c
}

func orderCancelCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "cancel [order-id]",
		Short: "cancel an order (owner only)",
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
			n, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid order id %q", args[0])
			}
			return engine.WithTx(func(tx core.Tx) error {
				return engine.Book.Cancel(tx, caller, core.OrderID(n))
			})
		},
	}
	addCallerFlags(c)
	return c
}

func parseAmountPrice(args []string) (amount, limit uint64, err error) {
	amount, err = strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid amount %q", args[0])
	}
	limit, err = strconv.ParseUint(args[1], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid limit price %q", args[1])
	}
	return amount, limit, nil
}
