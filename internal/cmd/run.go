package cmd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/dispatch/internal/backend"
	"github.com/felixgeelhaar/dispatch/internal/config"
	"github.com/felixgeelhaar/dispatch/internal/driver"
	dispatcherrors "github.com/felixgeelhaar/dispatch/internal/errors"
	"github.com/felixgeelhaar/dispatch/internal/log"
	"github.com/felixgeelhaar/dispatch/internal/metrics"
	"github.com/felixgeelhaar/dispatch/internal/planner"
	"github.com/felixgeelhaar/dispatch/internal/ratelimit"
)

var (
	runPlanPath     string
	runBackend      string
	runRepoRoot     string
	runContextFiles []string
	runAllowScopes  []string
	runDenyScopes   []string
)

var runCmd = &cobra.Command{
	Use:   "run [instruction]",
	Short: "Execute a plan file or a one-shot task",
	Long: `Execute delegated work against a backend CLI.

With --plan, the steps of the plan file are executed sequentially or in
parallel according to its mode. Without --plan, the remaining arguments
form the instruction for a single one-shot task.`,
	Example: `  dispatch run --plan refactor.yaml
  dispatch run --backend claude "add a health endpoint to the server"
  dispatch run --allow 'internal/**' "rename the Store interface"`,
	RunE: runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	executor, err := buildExecutor(cfg)
	if err != nil {
		return err
	}

	if runPlanPath != "" {
		return runPlanFile(cmd, executor, cfg)
	}
	return runOneShot(cmd, executor, cfg, args)
}

func runPlanFile(cmd *cobra.Command, executor *planner.Executor, cfg *config.Config) error {
	plan, err := config.LoadPlan(runPlanPath)
	if err != nil {
		return err
	}
	if plan.Backend == "" {
		plan.Backend = cfg.Backend
	}
	if runBackend != "" {
		plan.Backend = runBackend
	}

	result, execErr := executor.Execute(cmd.Context(), plan)
	if result != nil {
		printPlanResult(cmd, result)
	}
	return execErr
}

func runOneShot(cmd *cobra.Command, executor *planner.Executor, cfg *config.Config, args []string) error {
	instruction := strings.TrimSpace(strings.Join(args, " "))
	if instruction == "" {
		return dispatcherrors.NewPlanInvalidError("no instruction given: pass one as arguments or use --plan")
	}

	repoRoot := runRepoRoot
	if repoRoot == "" {
		wd, err := os.Getwd()
		if err != nil {
			return err
		}
		repoRoot = wd
	}

	backendName := runBackend
	if backendName == "" {
		backendName = cfg.Backend
	}

	task := backend.NewTask(instruction, repoRoot)
	task.ContextFiles = runContextFiles
	task.AllowScopes = runAllowScopes
	task.DenyScopes = runDenyScopes

	sr := executor.ExecuteTask(cmd.Context(), backendName, task)
	printStepResult(cmd, sr)
	return sr.Err
}

// buildExecutor assembles the registry, balancer and driver from config.
func buildExecutor(cfg *config.Config) (*planner.Executor, error) {
	defaultRule, err := cfg.DefaultRule()
	if err != nil {
		return nil, err
	}
	opRules, err := cfg.OperationRules()
	if err != nil {
		return nil, err
	}
	retryPolicy, err := cfg.RetryPolicy()
	if err != nil {
		return nil, err
	}
	grace, err := cfg.GracePeriod()
	if err != nil {
		return nil, err
	}

	m := metrics.GetDefault()
	logger := log.DefaultLogger()

	balancer := ratelimit.NewBalancer(defaultRule,
		ratelimit.WithRules(opRules),
		ratelimit.WithRetryPolicy(retryPolicy),
		ratelimit.WithMetrics(m),
		ratelimit.WithLogger(logger))

	d := driver.New(
		driver.WithMaxOutputBytes(cfg.Driver.MaxOutputBytes),
		driver.WithGracePeriod(grace),
		driver.WithTreeWatch(cfg.Driver.WatchTree),
		driver.WithMetrics(m),
		driver.WithLogger(logger))

	return planner.NewExecutor(backend.NewRegistry(), d, balancer,
		planner.WithMetrics(m),
		planner.WithLogger(logger)), nil
}

func printPlanResult(cmd *cobra.Command, result *planner.Result) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Plan %s: %s (%s in %s)\n", result.PlanID, result.Status, result.Summary, result.Duration.Round(time.Millisecond))
	for _, sr := range result.Steps {
		printStepResult(cmd, sr)
	}
}

func printStepResult(cmd *cobra.Command, sr planner.StepResult) {
	out := cmd.OutOrStdout()
	name := sr.Name
	if name == "" {
		name = sr.StepID
	}
	fmt.Fprintf(out, "  [%s] %s: %s\n", sr.Outcome, name, sr.Summary)
	for _, path := range sr.Touched {
		fmt.Fprintf(out, "      touched %s\n", path)
	}
	if sr.Err != nil {
		fmt.Fprintf(out, "      error: %v\n", sr.Err)
	}
}

func init() {
	runCmd.Flags().StringVar(&runPlanPath, "plan", "", "plan file to execute")
	runCmd.Flags().StringVar(&runBackend, "backend", "", "backend to use (overrides config and plan)")
	runCmd.Flags().StringVar(&runRepoRoot, "repo", "", "repository root for one-shot tasks (default: working directory)")
	runCmd.Flags().StringSliceVar(&runContextFiles, "context", nil, "files the backend should read first")
	runCmd.Flags().StringSliceVar(&runAllowScopes, "allow", nil, "glob patterns the task may modify")
	runCmd.Flags().StringSliceVar(&runDenyScopes, "deny", nil, "glob patterns the task must not modify")
	rootCmd.AddCommand(runCmd)
}
