package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func runCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "run",
		Short: "run the scheduler daemon: upkeep ticks, epoch clearing, request expiry",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, closeFn, err := buildEngine(cmd)
			if err != nil {
				return err
			}
			defer closeFn()
			if err := engine.Bootstrap(time.Now()); err != nil {
				return err
			}
			cronSpec, _ := cmd.Flags().GetString("cron-spec")
			if err := engine.Scheduler.Start(cronSpec); err != nil {
				return err
			}
			fmt.Println("campusmarket scheduler running, press ctrl-c to stop")
			waitForSignal()
			engine.Scheduler.Stop()
			return nil
		},
	}
	c.Flags().String("cron-spec", "@every 1s", "robfig/cron schedule driving the upkeep tick")
	return c
}
