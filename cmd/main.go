// Command terminctl runs maintenance operations against the configured stores.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	_ "terminsync/docs"
	"terminsync/internal/app"
	"terminsync/internal/config"
	"terminsync/internal/logging"
)

var (
	ownerID       int64
	intervalHours float64
)

var rootCmd = &cobra.Command{
	Use:           "terminctl",
	Short:         "Operations for the partner appointment sync service",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Run a reconciliation sweep now",
	Long: `Reconcile the shared collection against private appointments.

With --owner only that owner is swept; without it every owner with sync
enabled is swept one after another, the same pass the scheduler runs.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
			if ownerID != 0 {
				ws, err := a.Owners.Workspace(ctx, ownerID)
				if err != nil {
					return err
				}
				return printJSON(ws.Engine.ReconcileAll(ctx))
			}
			return printJSON(a.Scheduler.RunOnce(ctx))
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the sync status of one owner",
	RunE: func(cmd *cobra.Command, args []string) error {
		if ownerID == 0 {
			return fmt.Errorf("--owner is required")
		}
		return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
			ws, err := a.Owners.Workspace(ctx, ownerID)
			if err != nil {
				return err
			}
			snap, err := ws.Appointments.SyncStatus(ctx)
			if err != nil {
				return err
			}
			return printJSON(snap)
		})
	},
}

var ownersCmd = &cobra.Command{
	Use:   "owners",
	Short: "List owner accounts",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
			list, err := a.Owners.List(ctx)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tEMAIL\tPRIVATE\tBUSINESS\tSYNC")
			for _, o := range list {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%t\n", o.ID, o.Email, o.PrivateCollection, o.BusinessCollection, o.SyncEnabled)
			}
			return w.Flush()
		})
	},
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the background sweep without the HTTP API",
	Long: `Start the periodic sweep over all sync-enabled owners and keep it
running until interrupted. On SIGINT or SIGTERM the scheduler stops and the
running pass is allowed to finish.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if intervalHours < 0 {
			return fmt.Errorf("--interval-hours must not be negative")
		}
		return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
			interval := time.Duration(intervalHours * float64(time.Hour))
			if err := a.Scheduler.Start(interval); err != nil {
				return err
			}
			fmt.Printf("background sync every %s, Ctrl+C to stop\n", a.Scheduler.Interval())
			<-ctx.Done()

			stopCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			return a.Scheduler.Stop(stopCtx)
		})
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the background sweep",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := setup()
		if err != nil {
			return err
		}
		defer log.Close()
		a, err := app.New(cmd.Context(), cfg, log)
		if err != nil {
			return err
		}
		return a.Serve(cmd.Context())
	},
}

func init() {
	reconcileCmd.Flags().Int64Var(&ownerID, "owner", 0, "owner id (default: all sync-enabled owners)")
	statusCmd.Flags().Int64Var(&ownerID, "owner", 0, "owner id")
	workerCmd.Flags().Float64Var(&intervalHours, "interval-hours", 0, "hours between passes (default: SYNC_INTERVAL_HOURS)")
	rootCmd.AddCommand(reconcileCmd, statusCmd, ownersCmd, workerCmd, serveCmd)
}

func setup() (*config.Config, *logging.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	return cfg, logging.New(logging.Options{Level: cfg.Log.Level, File: cfg.Log.File}), nil
}

// withApp opens the stores without starting the server or the scheduler.
func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Close()
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		a.Close(closeCtx)
	}()
	return fn(ctx, a)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
