package cli

import (
	"encoding/csv"
	"fmt"

	"sales-forecast/core/models"

	"github.com/spf13/cobra"
)

func newPredictCmd(newClient clientFactory) *cobra.Command {
	var (
		modelArn string
		input    string
		follow   bool
	)
	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Run batch inference with an approved model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := callContext(cmd)
			job, err := newClient().Predict(ctx, modelArn, input)
			cancel()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			printf(out, "job %s\n", job.JobName)
			printf(out, "output %s\n", job.OutputURI)
			if job.EstimatedHourlyUSD != nil {
				printf(out, "estimated $%.3f/hour\n", *job.EstimatedHourlyUSD)
			}
			if !follow {
				return nil
			}
			return followTransform(cmd, newClient, job.JobName)
		},
	}
	cmd.Flags().StringVarP(&modelArn, "model", "m", "", "approved model package ARN")
	cmd.Flags().StringVarP(&input, "input", "i", "", "s3:// location of the input data")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "stream progress until the job finishes")
	_ = cmd.MarkFlagRequired("model")
	_ = cmd.MarkFlagRequired("input")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "watch JOB_NAME",
			Short: "Stream the progress of a transform job",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return followTransform(cmd, newClient, args[0])
			},
		},
		&cobra.Command{
			Use:   "status JOB_NAME",
			Short: "Show the status of a transform job",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx, cancel := callContext(cmd)
				defer cancel()
				status, err := newClient().PredictStatus(ctx, args[0])
				if err != nil {
					return err
				}
				printf(cmd.OutOrStdout(), "%s %s %d%%\n", status.JobName, status.Status, status.Progress)
				return nil
			},
		},
		&cobra.Command{
			Use:   "results JOB_NAME",
			Short: "Print the predictions of a completed job as csv",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx, cancel := callContext(cmd)
				defer cancel()
				results, err := newClient().PredictResults(ctx, args[0])
				if err != nil {
					return err
				}
				w := csv.NewWriter(cmd.OutOrStdout())
				if err := w.Write(results.Columns); err != nil {
					return err
				}
				for _, p := range results.Predictions {
					row := make([]string, len(results.Columns))
					for i, col := range results.Columns {
						row[i] = p[col]
					}
					if err := w.Write(row); err != nil {
						return err
					}
				}
				w.Flush()
				return w.Error()
			},
		},
	)
	return cmd
}

func followTransform(cmd *cobra.Command, newClient clientFactory, jobName string) error {
	bar := newProgressBar(100, jobName, cmd.ErrOrStderr())
	var last models.TransformStatus
	err := newClient().PredictProgress(cmd.Context(), jobName, func(s models.TransformStatus) {
		last = s
		bar.Describe(string(s.Status))
		_ = bar.Set(s.Progress)
	})
	_ = bar.Finish()
	fmt.Fprintln(cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	printf(cmd.OutOrStdout(), "%s %s\n", last.JobName, last.Status)
	if last.Status != models.TransformCompleted {
		return fmt.Errorf("transform job ended %s: %s", last.Status, last.FailureReason)
	}
	return nil
}
