package cli

import (
	"fmt"

	"sales-forecast/core/models"

	"github.com/spf13/cobra"
)

func newTrainCmd(newClient clientFactory) *cobra.Command {
	var follow bool
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Start a training pipeline execution",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := callContext(cmd)
			arn, err := newClient().Train(ctx)
			cancel()
			if err != nil {
				return err
			}
			printf(cmd.OutOrStdout(), "execution %s\n", arn)
			if !follow {
				return nil
			}
			return followExecution(cmd, newClient, arn)
		},
	}
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "stream progress until the execution finishes")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "watch EXECUTION_ARN",
			Short: "Stream the progress of an execution",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return followExecution(cmd, newClient, args[0])
			},
		},
		&cobra.Command{
			Use:   "status EXECUTION_ARN",
			Short: "Show the steps of an execution",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx, cancel := callContext(cmd)
				defer cancel()
				snapshot, err := newClient().TrainStatus(ctx, args[0])
				if err != nil {
					return err
				}
				printSnapshot(cmd, *snapshot)
				return nil
			},
		},
		&cobra.Command{
			Use:   "history EXECUTION_ARN",
			Short: "Show the recorded transitions of an execution",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx, cancel := callContext(cmd)
				defer cancel()
				history, err := newClient().TrainHistory(ctx, args[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				printf(out, "%s (%s) %s\n", history.ExecutionArn, history.PipelineName, history.OverallStatus)
				for _, e := range history.Events {
					step := e.StepName
					if step == "" {
						step = "-"
					}
					from := "-"
					if e.FromStatus != nil {
						from = *e.FromStatus
					}
					printf(out, "%s  %-20s %-12s -> %-12s %s\n", e.At.Format("2006-01-02 15:04:05"), step, from, e.ToStatus, e.Reason)
				}
				return nil
			},
		},
		newFeaturesStatusCmd(newClient),
		&cobra.Command{
			Use:   "estimate",
			Short: "Show the worst-case compute cost of one training run",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx, cancel := callContext(cmd)
				defer cancel()
				est, err := newClient().TrainEstimate(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for _, s := range est.Steps {
					printf(out, "%-12s %d x %-14s %6.1fh  $%.2f\n", s.Step, s.Count, s.InstanceType, s.MaxHours, s.MaxCost)
				}
				printf(out, "total        $%.2f\n", est.TotalMaxCost)
				return nil
			},
		},
	)
	return cmd
}

func newFeaturesStatusCmd(newClient clientFactory) *cobra.Command {
	var job string
	cmd := &cobra.Command{
		Use:   "features RUN_ID",
		Short: "Show the state of a feature-engineering ETL run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := callContext(cmd)
			defer cancel()
			run, err := newClient().FeatureEngineeringStatus(ctx, job, args[0])
			if err != nil {
				return err
			}
			printf(cmd.OutOrStdout(), "%s %s %s\n", run.JobName, run.RunID, run.Status)
			return nil
		},
	}
	cmd.Flags().StringVar(&job, "job", "", "ETL job name (default: the server's configured job)")
	return cmd
}

// followExecution renders finished steps on a progress bar
func followExecution(cmd *cobra.Command, newClient clientFactory, arn string) error {
	bar := newProgressBar(4, "training", cmd.ErrOrStderr())
	var last models.ExecutionSnapshot
	err := newClient().TrainProgress(cmd.Context(), arn, func(s models.ExecutionSnapshot) {
		last = s
		done := 0
		current := ""
		for _, step := range s.Steps {
			if step.Status.IsTerminal() {
				done++
			} else {
				current = step.Name
			}
		}
		if current != "" {
			bar.Describe(current)
		}
		_ = bar.Set(done)
	})
	_ = bar.Finish()
	fmt.Fprintln(cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	printSnapshot(cmd, last)
	if last.OverallStatus != models.ExecutionSucceeded {
		return fmt.Errorf("execution ended %s: %s", last.OverallStatus, last.FailureReason)
	}
	return nil
}

func printSnapshot(cmd *cobra.Command, s models.ExecutionSnapshot) {
	out := cmd.OutOrStdout()
	printf(out, "status %s\n", s.OverallStatus)
	for _, step := range s.Steps {
		printf(out, "  %-20s %s", step.Name, step.Status)
		if step.FailureReason != "" {
			printf(out, "  %s", step.FailureReason)
		}
		printf(out, "\n")
	}
}
