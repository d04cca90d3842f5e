package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/campusgrid/energy-exchange/core"
)

func registryCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "registry", Short: "manage participants, meters, and validators"}
	cmd.AddCommand(registryRegisterCmd(), registryMeterAssignCmd(), registryValidatorAddCmd())
	return cmd
}

func registryRegisterCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "register-participant",
		Short: "register a new participant",
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
			kindStr, _ := cmd.Flags().GetString("kind")
			kind, err := parseKind(kindStr)
			if err != nil {
				return err
			}
			location, _ := cmd.Flags().GetString("location")

			var id core.ParticipantID
			err = engine.WithTx(func(tx core.Tx) error {
				var e error
				id, e = engine.Registry.RegisterParticipant(tx, caller, kind, location, time.Now())
				return e
			})
			if err != nil {
				return err
			}
			fmt.Println(id.Hex())
			return nil
		},
	}
	addCallerFlags(c)
	c.Flags().String("kind", "consumer", "participant kind: prosumer|consumer|validator|operator|admin")
	c.Flags().String("location", "", "department/location tag")
	return c
}

func registryMeterAssignCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "assign-meter [meter-id] [owner-id] [kind]",
		Short: "assign a meter to a participant",
		Args:  cobra.ExactArgs(3),
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
			owner, err := parseParticipantID(args[1])
			if err != nil {
				return err
			}
			kind, err := parseMeterKind(args[2])
			if err != nil {
				return err
			}
			return engine.WithTx(func(tx core.Tx) error {
				return engine.Registry.AssignMeter(tx, caller, core.MeterID(args[0]), owner, kind, engine.Cfg.MaxMetersPerParticipant, time.Now())
			})
		},
	}
	addCallerFlags(c)
	return c
}

func registryValidatorAddCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "add-validator [pubkey-hex] [authority-name]",
		Short: "appoint a new Active validator",
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
			key, err := parseValidatorKey(args[0])
			if err != nil {
				return err
			}
			return engine.WithTx(func(tx core.Tx) error {
				return engine.Registry.AddValidator(tx, caller, key, args[1], time.Now())
			})
		},
	}
	addCallerFlags(c)
	return c
}

func parseMeterKind(s string) (core.MeterKind, error) {
	switch s {
	case "solar":
		return core.MeterSolar, nil
	case "wind":
		return core.MeterWind, nil
	case "hydro":
		return core.MeterHydro, nil
	case "load":
		return core.MeterLoad, nil
	case "grid":
		return core.MeterGrid, nil
	default:
		return 0, fmt.Errorf("unknown meter kind %q", s)
	}
}
