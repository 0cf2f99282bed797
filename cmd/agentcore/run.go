package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/agentos-io/agentcore/pkg/runner"
)

// newRunCmd drives one closed-loop pipeline run. The final result is
// printed as a single JSON document on stdout, which is also the wire
// format the subprocess runner tails.
func newRunCmd(flags *rootFlags) *cobra.Command {
	var (
		req          runner.RunRequest
		tempPlanner  float64
		tempExecutor float64
		tempCritic   float64
		tempReviser  float64
		retries      int
		maxRows      int
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the plan/execute/review loop once",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}
			if req.SRSPath == "" {
				return fmt.Errorf("--srs is required")
			}

			setIfChanged(cmd, "temp-planner", &req.TempPlanner, tempPlanner)
			setIfChanged(cmd, "temp-executor", &req.TempExecutor, tempExecutor)
			setIfChanged(cmd, "temp-critic", &req.TempCritic, tempCritic)
			setIfChanged(cmd, "temp-reviser", &req.TempReviser, tempReviser)
			if cmd.Flags().Changed("retries") {
				req.Retries = &retries
			}
			if cmd.Flags().Changed("max-rows") {
				req.MaxRows = &maxRows
			}

			res, err := runner.ExecuteRun(cmd.Context(), cfg, nil, req)
			if err != nil {
				return err
			}
			return printJSON(res)
		},
	}

	cmd.Flags().StringVar(&req.SRSPath, "srs", "", "Path to the task spec JSON")
	cmd.Flags().StringVar(&req.DataPath, "data", "", "Path to the input CSV")
	cmd.Flags().StringVar(&req.OutPath, "out", "", "Report output path")
	cmd.Flags().StringVar(&req.Planner, "planner", "", "Planner implementation")
	cmd.Flags().StringVar(&req.Executor, "executor", "", "Executor implementation")
	cmd.Flags().StringVar(&req.Critic, "critic", "", "Critic implementation")
	cmd.Flags().StringVar(&req.Reviser, "reviser", "", "Reviser implementation")
	cmd.Flags().StringVar(&req.Provider, "provider", "", "LLM provider override")
	cmd.Flags().BoolVar(&req.EmitScript, "emit-script", false, "Write an offline reproduction script")
	cmd.Flags().Float64Var(&tempPlanner, "temp-planner", 0, "Planner temperature override")
	cmd.Flags().Float64Var(&tempExecutor, "temp-executor", 0, "Executor temperature override")
	cmd.Flags().Float64Var(&tempCritic, "temp-critic", 0, "Critic temperature override")
	cmd.Flags().Float64Var(&tempReviser, "temp-reviser", 0, "Reviser temperature override")
	cmd.Flags().IntVar(&retries, "retries", 0, "LLM retry count override")
	cmd.Flags().IntVar(&maxRows, "max-rows", 0, "CSV excerpt row cap override")
	return cmd
}

// setIfChanged binds an optional float flag: only explicitly passed
// values override the configured temperature.
func setIfChanged(cmd *cobra.Command, name string, dst **float64, val float64) {
	if cmd.Flags().Changed(name) {
		v := val
		*dst = &v
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	return enc.Encode(v)
}
