// Command campusmarket is the CLI surface for the campus energy
// marketplace trading and settlement engine: registry administration,
// order submission/cancellation, REC issuance reporting, market snapshots,
// and the scheduler daemon.
package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/campusgrid/energy-exchange/core"
	"github.com/campusgrid/energy-exchange/pkg/config"
)

func main() {
	root := &cobra.Command{Use: "campusmarket", Short: "campus energy marketplace trading and settlement engine"}
	root.PersistentFlags().String("env", "", "config overlay name (MARKET_ENV)")
	root.AddCommand(registryCmd())
	root.AddCommand(orderCmd())
	root.AddCommand(recCmd())
	root.AddCommand(marketCmd())
	root.AddCommand(runCmd())
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildEngine loads configuration, opens the configured store, and
// returns a ready core.Engine — every subcommand's entry point.
func buildEngine(cmd *cobra.Command) (*core.Engine, func(), error) {
	env, _ := cmd.Flags().GetString("env")
	cfg, err := config.Load(env)
	if err != nil {
		return nil, nil, err
	}
	lvl, lerr := logrus.ParseLevel(cfg.Logging.Level)
	if lerr == nil {
		logrus.SetLevel(lvl)
	}

	var store core.TxStore
	closeFn := func() {}
	switch cfg.Storage.Driver {
	case "sqlite":
		s, err := core.OpenSQLiteStore(cfg.Storage.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		store = s
		closeFn = func() { _ = s.Close() }
	default:
		store = core.NewMemStore()
	}

	mcfg, err := cfg.ToMarketConfig()
	if err != nil {
		return nil, nil, err
	}
	sink := core.NewLogSink(logrus.StandardLogger())
	engine := core.NewEngine(store, mcfg, sink)
	return engine, closeFn, nil
}

// waitForSignal blocks until SIGINT/SIGTERM, used by `run` to keep the
// scheduler daemon alive.
func waitForSignal() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	<-ch
}

// parseParticipantID decodes a hex-encoded 256-bit participant id,
// accepting an optional "0x" prefix.
func parseParticipantID(s string) (core.ParticipantID, error) {
	var id core.ParticipantID
	raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil || len(raw) != len(id) {
		return id, fmt.Errorf("invalid participant id %q: want %d-byte hex", s, len(id))
	}
	copy(id[:], raw)
	return id, nil
}

// callerPrincipal builds the Principal every mutating command needs from
// --caller-id/--caller-kind flags. The CLI has no authentication adapter
// of its own; it trusts the operator's claimed identity.
func callerPrincipal(cmd *cobra.Command) (core.Principal, error) {
	idStr, _ := cmd.Flags().GetString("caller-id")
	kindStr, _ := cmd.Flags().GetString("caller-kind")
	id, err := parseParticipantID(idStr)
	if err != nil {
		return core.Principal{}, err
	}
	kind, err := parseKind(kindStr)
	if err != nil {
		return core.Principal{}, err
	}
	return core.Principal{ID: id, Kind: kind}, nil
}

func parseKind(s string) (core.ParticipantKind, error) {
	switch strings.ToLower(s) {
	case "prosumer":
		return core.KindProsumer, nil
	case "consumer":
		return core.KindConsumer, nil
	case "validator":
		return core.KindValidator, nil
	case "operator":
		return core.KindOperator, nil
	case "admin":
		return core.KindAdmin, nil
	default:
		return 0, fmt.Errorf("unknown participant kind %q", s)
	}
}

func addCallerFlags(cmd *cobra.Command) {
	cmd.Flags().String("caller-id", "", "hex-encoded participant id of the caller")
	cmd.Flags().String("caller-kind", "admin", "caller kind: prosumer|consumer|validator|operator|admin")
}

// parseValidatorKey decodes a hex-encoded Ed25519 validator public key.
func parseValidatorKey(s string) (core.ValidatorKey, error) {
	var k core.ValidatorKey
	raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil || len(raw) != len(k) {
		return k, fmt.Errorf("invalid validator key %q: want %d-byte hex", s, len(k))
	}
	copy(k[:], raw)
	return k, nil
}
