package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/quantive/signalscan/internal/app"
	"github.com/quantive/signalscan/internal/config"
	"github.com/quantive/signalscan/internal/health"
	"github.com/quantive/signalscan/internal/patch"
)

const appName = "signalscan"

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	rootCmd := &cobra.Command{
		Use:   appName,
		Short: "Multi-user trading-signal scanner",
		Long: `signalscan periodically evaluates each user's watchlist against their
strategies, produces entry/stop/target signals, persists them and
dispatches Telegram notifications. A REST+WebSocket API serves the
dashboard.`,
		SilenceUsage: true,
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the full daemon: ingestor, scheduler, worker and API",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp()
			if err != nil {
				return err
			}
			return a.Serve(signalContext())
		},
	}

	workerCmd := &cobra.Command{
		Use:   "worker",
		Short: "Run only the notification worker against the shared queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp()
			if err != nil {
				return err
			}
			return a.ServeWorker(signalContext())
		},
	}

	var scanSymbol, scanUser string
	scanCmd := &cobra.Command{
		Use:   "scan",
		Short: "Run a single scan cycle and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp()
			if err != nil {
				return err
			}
			return a.ScanOnce(signalContext(), scanUser, scanSymbol)
		},
	}
	scanCmd.Flags().StringVar(&scanSymbol, "symbol", "", "Scan only this symbol")
	scanCmd.Flags().StringVar(&scanUser, "user", "", "Scan only this user")

	healthCmd := &cobra.Command{
		Use:   "health",
		Short: "Print the health snapshot; exit 0 iff status is ok",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp()
			if err != nil {
				return err
			}
			snap := a.Health.Snapshot(time.Now())
			fmt.Println(string(snap.JSON()))
			if snap.Status != health.StatusOK {
				os.Exit(1)
			}
			return nil
		},
	}

	rootCmd.AddCommand(serveCmd, workerCmd, scanCmd, healthCmd, patchCmd())

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

func patchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "patch",
		Short: "Apply or roll back strategy fix patches",
	}

	var patchID, patchJSON string
	var dryRun bool

	applyCmd := &cobra.Command{
		Use:   "apply",
		Short: "Apply a registered patch (or an inline patch document)",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp()
			if err != nil {
				return err
			}
			var sug patch.Suggestion
			switch {
			case patchJSON != "":
				if err := json.Unmarshal([]byte(patchJSON), &sug); err != nil {
					return fmt.Errorf("parse --patch-json: %w", err)
				}
				if sug.PatchType == "" {
					sug.PatchType = patch.TypeDetectorRename
				}
			case patchID != "":
				found, ok := a.Patches.Get(patchID)
				if !ok {
					return fmt.Errorf("unknown patch id %s", patchID)
				}
				sug = found
			default:
				return fmt.Errorf("one of --patch-id or --patch-json is required")
			}
			res, err := a.PatchEng.Apply(sug, dryRun)
			if err != nil {
				return err
			}
			return printJSON(res)
		},
	}
	applyCmd.Flags().StringVar(&patchJSON, "patch-json", "", "Inline patch document")

	rollbackCmd := &cobra.Command{
		Use:   "rollback",
		Short: "Restore the backup written by a previous apply",
		RunE: func(cmd *cobra.Command, args []string) error {
			if patchID == "" {
				return fmt.Errorf("--patch-id is required")
			}
			a, err := buildApp()
			if err != nil {
				return err
			}
			res, err := a.PatchEng.Rollback(patchID, dryRun)
			if err != nil {
				return err
			}
			return printJSON(res)
		},
	}

	cmd.PersistentFlags().StringVar(&patchID, "patch-id", "", "Patch id from the suggestion registry")
	cmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "Validate and report without touching files")
	cmd.AddCommand(applyCmd, rollbackCmd)
	return cmd
}

func buildApp() (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return app.New(cfg)
}

func signalContext() context.Context {
	ctx, _ := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	return ctx
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
