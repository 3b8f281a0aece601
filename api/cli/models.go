package cli

import (
	"sales-forecast/core/models"

	"github.com/spf13/cobra"
)

func newModelsCmd(newClient clientFactory) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models",
		Short: "Review registered model versions",
	}

	var approved bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List model versions awaiting approval (or approved ones)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			status := models.ApprovalPending
			if approved {
				status = models.ApprovalApproved
			}
			ctx, cancel := callContext(cmd)
			defer cancel()
			versions, err := newClient().Models(ctx, status)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(versions) == 0 {
				printf(out, "No %s models\n", status)
				return nil
			}
			for _, v := range versions {
				printf(out, "%-3d %-22s %s  %s\n", v.Version, v.ApprovalStatus, v.CreationTime.Format("2006-01-02 15:04"), v.Arn)
			}
			return nil
		},
	}
	list.Flags().BoolVar(&approved, "approved", false, "list approved versions")

	decide := func(use, short string, status models.ApprovalStatus) *cobra.Command {
		var comment string
		c := &cobra.Command{
			Use:   use + " MODEL_PACKAGE_ARN",
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx, cancel := callContext(cmd)
				defer cancel()
				cl := newClient()
				var (
					v   *models.ModelVersion
					err error
				)
				if status == models.ApprovalApproved {
					v, err = cl.Approve(ctx, args[0], comment)
				} else {
					v, err = cl.Reject(ctx, args[0], comment)
				}
				if err != nil {
					return err
				}
				printf(cmd.OutOrStdout(), "%s %s\n", v.Arn, v.ApprovalStatus)
				return nil
			},
		}
		c.Flags().StringVarP(&comment, "comment", "c", "", "reason recorded with the decision")
		return c
	}

	metrics := &cobra.Command{
		Use:   "metrics MODEL_PACKAGE_ARN",
		Short: "Show the evaluation metrics of a model version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := callContext(cmd)
			defer cancel()
			report, err := newClient().Metrics(ctx, args[0])
			if err != nil {
				return err
			}
			m := report.RegressionMetrics
			out := cmd.OutOrStdout()
			printf(out, "mse  %.4f\n", m.MSE.Value)
			printf(out, "mae  %.4f\n", m.MAE.Value)
			printf(out, "r2   %.4f\n", m.R2.Value)
			printf(out, "mape %.4f\n", m.MAPE.Value)
			return nil
		},
	}

	cmd.AddCommand(
		list,
		decide("approve", "Approve a model version for inference", models.ApprovalApproved),
		decide("reject", "Reject a model version", models.ApprovalRejected),
		metrics,
	)
	return cmd
}
