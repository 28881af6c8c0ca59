// File: cmd/maskauth/commands.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tribal-authentica/maskauth/internal/dashboard"
	"github.com/tribal-authentica/maskauth/internal/storage"
	"github.com/tribal-authentica/maskauth/pkg/utils"
)

// operationContext bounds a single CLI operation by the chain request timeout
func (app *Application) operationContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(app.ctx, app.config.Chain.RequestTimeout)
}

func newSubmissionsCmd() *cobra.Command {
	var (
		format string
		id     int64
	)

	cmd := &cobra.Command{
		Use:   "submissions",
		Short: "List submissions with their transaction and status",
		RunE: func(cmd *cobra.Command, args []string) error {
			presenter, err := dashboard.NewPresenter(format)
			if err != nil {
				return err
			}

			app, err := setupApplication(cmd)
			if err != nil {
				return err
			}
			defer app.Stop()

			ctx, cancel := app.operationContext()
			defer cancel()

			if id >= 0 {
				detail, err := app.service.Detail(ctx, uint64(id))
				if err != nil {
					return err
				}
				return presenter.Submission(cmd.OutOrStdout(), detail)
			}

			views, err := app.service.Views(ctx)
			if err != nil {
				return err
			}
			return presenter.Submissions(cmd.OutOrStdout(), views)
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "table", "output format (table, json)")
	cmd.Flags().Int64Var(&id, "id", -1, "show a single submission")
	return cmd
}

func newSubmitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "submit <mask-name>",
		Short: "Submit a mask for authentication",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := setupApplication(cmd)
			if err != nil {
				return err
			}
			defer app.Stop()

			ctx, cancel := app.operationContext()
			defer cancel()

			txHash, err := app.service.SubmitMask(ctx, args[0])
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Mask submitted successfully!\nTransaction: %s\n", txHash)
			return nil
		},
	}
}

func newVoteCmd() *cobra.Command {
	var approve, reject bool

	cmd := &cobra.Command{
		Use:   "vote <submission-id>",
		Short: "Approve or reject a submission",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if approve == reject {
				return utils.NewAppError(utils.ErrCodeValidation, "Exactly one of --approve or --reject is required")
			}

			id, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return utils.NewAppError(utils.ErrCodeValidation, "Invalid submission id", args[0])
			}

			app, err := setupApplication(cmd)
			if err != nil {
				return err
			}
			defer app.Stop()

			ctx, cancel := app.operationContext()
			defer cancel()

			result, err := app.service.CastVote(ctx, id, approve)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Vote sent for submission %d\nTransaction: %s\n", id, result.TxHash)
			if result.Submission != nil {
				status := result.Submission.Status
				fmt.Fprintf(out, "Status: %s (%d votes, %d%% approval)\n", status.Label, status.TotalVotes, status.ApprovalRounded)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&approve, "approve", false, "approve the submission")
	cmd.Flags().BoolVar(&reject, "reject", false, "reject the submission")
	return cmd
}

func newIndexCmd() *cobra.Command {
	var once bool

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Mirror MaskSubmitted events into storage up to the confirmed head",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			cfg.Indexer.Enabled = true
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			app, err := NewApplication(cfg)
			if err != nil {
				return err
			}
			defer app.Stop()

			ctx, stop := signal.NotifyContext(app.ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			if once {
				result, err := app.indexer.SyncOnce(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Indexed blocks %d-%d: %d events (%d blocks behind)\n",
					result.FromBlock, result.ToBlock, result.EventsIndexed, result.BlocksBehind)
				return nil
			}

			result, err := app.indexer.CatchUp(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Indexed up to block %d: %d events in %s\n",
				result.ToBlock, result.EventsIndexed, result.ProcessingTime)
			return nil
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "index a single batch")
	return cmd
}

// checkCmd tests connectivity and configuration
var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Test connectivity and configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()

		app, err := setupApplication(cmd)
		if err != nil {
			return err
		}
		defer app.Stop()

		ctx, cancel := app.operationContext()
		defer cancel()

		fmt.Fprintf(out, "Testing node connection to %s...\n", app.config.Chain.NodeURL)
		if err := app.connection.HealthCheckWithContext(ctx); err != nil {
			return err
		}
		stats := app.connection.Stats()
		fmt.Fprintf(out, "✓ Connected to chain %d at block %d\n", stats.ChainID, stats.LatestBlock)

		count, err := app.contract.SubmissionCount(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "✓ Contract %s has %d submissions\n", app.contract.Address().Hex(), count)

		if addr, ok := app.contract.WalletAddress(); ok {
			fmt.Fprintf(out, "✓ Validator wallet %s\n", addr.Hex())
		} else {
			fmt.Fprintln(out, "- No validator wallet configured (read-only)")
		}

		if app.storage != nil {
			storageStats, err := app.storage.GetStorageStats(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "✓ Storage (%s): %d events indexed up to block %d\n",
				app.config.Storage.Type, storageStats.TotalEvents, storageStats.LatestBlock)
		}

		fmt.Fprintln(out, "\nAll connectivity tests passed! ✓")
		return nil
	},
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "maskauth %s\n", AppVersion)
	},
}

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
}

// validateConfigCmd validates the configuration
var validateConfigCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return fmt.Errorf("configuration validation failed: %w", err)
		}
		if cfg.UsesIndex() {
			if err := storage.ValidateStorageConfig(&cfg.Storage); err != nil {
				return fmt.Errorf("configuration validation failed: %w", err)
			}
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Configuration is valid!\n")
		fmt.Fprintf(out, "Environment: %s\n", cfg.App.Environment)
		fmt.Fprintf(out, "Node: %s (chain %d)\n", cfg.Chain.NodeURL, cfg.Chain.ChainID)
		fmt.Fprintf(out, "Contract: %s (deploy block %d)\n", cfg.ContractAddress().Hex(), cfg.Contract.DeployBlock)
		fmt.Fprintf(out, "Event source: %s\n", cfg.Dashboard.EventSource)
		fmt.Fprintf(out, "Vote locks: %s\n", cfg.Voting.LockBackend)
		fmt.Fprintf(out, "Wallet: %t\n", cfg.Wallet.PrivateKey != "")
		for _, warning := range cfg.Warnings() {
			fmt.Fprintf(out, "Warning: %s\n", warning)
		}
		return nil
	},
}
