package main

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/stepwise-cli/stepwise/internal/builtins"
	"github.com/stepwise-cli/stepwise/internal/config"
	"github.com/stepwise-cli/stepwise/internal/engine"
	"github.com/stepwise-cli/stepwise/internal/events"
	"github.com/stepwise-cli/stepwise/internal/jobs"
	"github.com/stepwise-cli/stepwise/internal/models"
	"github.com/stepwise-cli/stepwise/internal/registry"
	"github.com/stepwise-cli/stepwise/internal/storage"
	"github.com/stepwise-cli/stepwise/internal/subst"
	"github.com/stepwise-cli/stepwise/internal/tui"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "stepwise",
		Short:        "Declarative step-based job runner",
		Long:         "Stepwise executes jobs defined as YAML step sequences, with variable substitution,\na closed call allowlist, and an append-only event trail.",
		SilenceUsage: true,
		RunE:         runTUI,
	}

	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newJobsCommand())
	rootCmd.AddCommand(newListCommand())
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newDeleteCommand())
	rootCmd.AddCommand(newEventsCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runTUI(cmd *cobra.Command, args []string) error {
	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.EnsureDataDir(); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	store, err := storage.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer store.Close()

	app := tui.NewApp(store)
	p := tea.NewProgram(app, tea.WithAltScreen())

	_, err = p.Run()
	return err
}

func newRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <job-id>",
		Short: "Execute a job by ID",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID := args[0]
			vars, _ := cmd.Flags().GetStringArray("var")
			dryRun, _ := cmd.Flags().GetBool("dry-run")
			verbose, _ := cmd.Flags().GetBool("verbose")

			variables := make(map[string]string)
			for _, v := range vars {
				key, value, ok := strings.Cut(v, "=")
				if !ok {
					return fmt.Errorf("invalid variable format %q, use KEY=VALUE", v)
				}
				variables[key] = value
			}

			cfg, err := config.New()
			if err != nil {
				return err
			}
			if err := cfg.EnsureDataDir(); err != nil {
				return err
			}

			store, err := storage.New(cfg.DBPath)
			if err != nil {
				return err
			}
			defer store.Close()

			log, err := events.Open(cfg.EventLogPath)
			if err != nil {
				return err
			}

			reg := registry.New()
			builtins.Register(reg, store)

			eng := engine.New(cfg.JobsDir, reg, log)
			eng.History = store

			res, runErr := eng.Run(cmd.Context(), engine.Request{
				JobID:     jobID,
				Variables: variables,
				DryRun:    dryRun,
			})

			if res != nil {
				printResult(res, verbose)
			}
			if runErr != nil {
				printErrorHints(cmd, runErr)
				return runErr
			}
			if dryRun {
				fmt.Println("\n[dry run] no changes made")
			}
			return nil
		},
	}

	cmd.Flags().StringArrayP("var", "V", nil, "Variable in KEY=VALUE format (can be repeated)")
	cmd.Flags().Bool("dry-run", false, "Resolve and validate every step without invoking anything")
	cmd.Flags().BoolP("verbose", "v", false, "Show each step's call and arguments")
	return cmd
}

func printResult(res *models.Result, verbose bool) {
	fmt.Printf("Job: %s\n", res.JobID)
	fmt.Printf("Run ID: %s\n", res.RunID)
	fmt.Printf("Status: %s\n\n", res.Status)

	for i, step := range res.Steps {
		icon := "✗"
		switch step.Status {
		case models.StepStatusSuccess:
			icon = "✓"
		case models.StepStatusSkipped:
			icon = "○"
		}
		fmt.Printf("  %s Step %d: %s\n", icon, i+1, step.Step)
		if verbose || step.Status == models.StepStatusFailed {
			fmt.Printf("    call: %s\n", step.Call)
		}
		if verbose && len(step.Args) > 0 {
			fmt.Printf("    args: %v\n", step.Args)
		}
		if step.Error != "" {
			fmt.Printf("    error: %s\n", step.Error)
		}
		if len(step.Result) > 0 {
			keys := make([]string, 0, len(step.Result))
			for k := range step.Result {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Printf("    %s: %v\n", k, step.Result[k])
			}
		}
	}
}

// printErrorHints adds context the bare error message lacks; the error
// itself is printed by cobra on return.
func printErrorHints(cmd *cobra.Command, err error) {
	var unresolved *subst.UnresolvedError
	if errors.As(err, &unresolved) {
		fmt.Fprintln(cmd.ErrOrStderr(), "Use --var KEY=VALUE to provide missing variables")
	}
}

func newJobsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "jobs",
		Short: "List available jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.New()
			if err != nil {
				return err
			}

			infos, err := jobs.List(cfg.JobsDir)
			if err != nil {
				return err
			}

			if len(infos) == 0 {
				fmt.Printf("No jobs found in %s\n", cfg.JobsDir)
				return nil
			}

			for _, info := range infos {
				fmt.Printf("%-24s %s\n", info.ID, info.Description)
			}
			return nil
		},
	}
}

func newListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List recent runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.New()
			if err != nil {
				return err
			}
			if err := cfg.EnsureDataDir(); err != nil {
				return err
			}

			store, err := storage.New(cfg.DBPath)
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.ListRuns(20)
			if err != nil {
				return err
			}

			if len(runs) == 0 {
				fmt.Println("No runs found.")
				return nil
			}

			for _, run := range runs {
				mode := ""
				if run.DryRun {
					mode = " (dry run)"
				}
				fmt.Printf("%s [%s]%s\n", run.RunID, run.Status, mode)
			}
			return nil
		},
	}
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status <run-id>",
		Short: "Show run status and step outcomes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.New()
			if err != nil {
				return err
			}
			if err := cfg.EnsureDataDir(); err != nil {
				return err
			}

			store, err := storage.New(cfg.DBPath)
			if err != nil {
				return err
			}
			defer store.Close()

			run, err := store.GetRun(args[0])
			if err != nil {
				return fmt.Errorf("failed to get run: %w", err)
			}

			fmt.Printf("Run: %s\n", run.RunID)
			fmt.Printf("Job: %s\n", run.JobID)
			fmt.Printf("Status: %s\n", run.Status)
			if run.DryRun {
				fmt.Println("Mode: dry run")
			}
			if run.Error != "" {
				fmt.Printf("Error: %s\n", run.Error)
			}

			if len(run.Steps) > 0 {
				fmt.Println("\nSteps:")
				for i, step := range run.Steps {
					fmt.Printf("  %d. %s (%s) [%s]\n", i+1, step.Step, step.Call, step.Status)
					if step.Error != "" {
						fmt.Printf("     error: %s\n", step.Error)
					}
				}
			}
			return nil
		},
	}
}

func newDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <run-id>",
		Short: "Delete a run from history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.New()
			if err != nil {
				return err
			}
			if err := cfg.EnsureDataDir(); err != nil {
				return err
			}

			store, err := storage.New(cfg.DBPath)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.DeleteRun(args[0]); err != nil {
				return fmt.Errorf("failed to delete run: %w", err)
			}

			fmt.Printf("Deleted run %s\n", args[0])
			return nil
		},
	}
}

func newEventsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show the event trail",
		RunE: func(cmd *cobra.Command, args []string) error {
			runID, _ := cmd.Flags().GetString("run")

			cfg, err := config.New()
			if err != nil {
				return err
			}

			evs, err := events.Read(cfg.EventLogPath)
			if err != nil {
				return err
			}

			for _, ev := range evs {
				if runID != "" && ev.CorrelationID != runID {
					continue
				}
				line := fmt.Sprintf("%s  %-14s %-10s %s",
					ev.Timestamp.Format("2006-01-02 15:04:05"),
					ev.Type, ev.Status, ev.CorrelationID)
				if ev.ErrorMessage != "" {
					line += "  " + ev.ErrorMessage
				}
				fmt.Println(line)
			}
			return nil
		},
	}

	cmd.Flags().String("run", "", "Only show events for this run ID")
	return cmd
}
