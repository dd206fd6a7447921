package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dharsanguruparan/MediaVault/internal/config"
	"github.com/dharsanguruparan/MediaVault/internal/database"
	"github.com/dharsanguruparan/MediaVault/internal/quota"
	"github.com/dharsanguruparan/MediaVault/internal/repository"
	"github.com/dharsanguruparan/MediaVault/internal/s3storage"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "mediavault: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "mediavault",
		Short:        "MediaVault development CLI",
		Long:         "MediaVault CLI bootstraps backing services (database schema, object-store buckets), inspects tenant usage, and wraps the common go workflows.",
		SilenceUsage: true,
	}
	cmd.AddCommand(
		newMigrateCmd(),
		newBucketsCmd(),
		newUsageCmd(),
		newTestCmd(),
		newRunCmd(),
	)
	return cmd
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			pool, err := database.Connect(ctx, cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("connect database: %w", err)
			}
			defer pool.Close()
			if err := database.EnsureSchema(ctx, pool); err != nil {
				return err
			}
			fmt.Println("schema up to date")
			return nil
		},
	}
}

func newBucketsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "buckets",
		Short: "Create the audio and transcript buckets",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			store, err := s3storage.New(cfg)
			if err != nil {
				return err
			}
			if err := store.EnsureBuckets(ctx); err != nil {
				return err
			}
			fmt.Println("buckets ready")
			return nil
		},
	}
}

func newUsageCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "usage <tenant>",
		Short: "Show a tenant's quota counters",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			pool, err := database.Connect(ctx, cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("connect database: %w", err)
			}
			defer pool.Close()
			ledger := quota.NewLedger(repository.NewQuotaRepository(pool, cfg.DefaultLimits))
			rec, err := ledger.Usage(ctx, args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(rec)
		},
	}
}

func newTestCmd() *cobra.Command {
	var race bool
	var cover bool
	cmd := &cobra.Command{
		Use:   "test [packages]",
		Short: "Run Go tests (defaults to ./...)",
		RunE: func(cmd *cobra.Command, args []string) error {
			pkgs := args
			if len(pkgs) == 0 {
				pkgs = []string{"./..."}
			}
			goArgs := []string{"test"}
			if race {
				goArgs = append(goArgs, "-race")
			}
			if cover {
				goArgs = append(goArgs, "-cover")
			}
			goArgs = append(goArgs, pkgs...)
			return runCommand(cmd.Context(), "go", goArgs...)
		},
	}
	cmd.Flags().BoolVar(&race, "race", false, "Enable Go race detector")
	cmd.Flags().BoolVar(&cover, "cover", false, "Collect coverage data")
	return cmd
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run individual Go binaries directly",
	}
	for _, svc := range []struct{ name, path string }{
		{"api", "./cmd/api"},
		{"worker", "./cmd/worker"},
	} {
		svc := svc
		cmd.AddCommand(&cobra.Command{
			Use:   svc.name,
			Short: fmt.Sprintf("go run %s", svc.path),
			RunE: func(cmd *cobra.Command, args []string) error {
				goArgs := append([]string{"run", svc.path}, args...)
				return runCommand(cmd.Context(), "go", goArgs...)
			},
		})
	}
	return cmd
}

func runCommand(ctx context.Context, name string, args ...string) error {
	execCmd := exec.CommandContext(ctx, name, args...)
	execCmd.Stdout = os.Stdout
	execCmd.Stderr = os.Stderr
	execCmd.Stdin = os.Stdin
	return execCmd.Run()
}
