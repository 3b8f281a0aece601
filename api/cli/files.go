package cli

import (
	"github.com/spf13/cobra"
)

func newFilesCmd(newClient clientFactory) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "files",
		Short: "Browse stored data",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:       "list BUCKET_TYPE",
			Short:     "List a bucket: raw, processed, feature-store or artifacts",
			Args:      cobra.ExactArgs(1),
			ValidArgs: []string{"raw", "processed", "feature-store", "artifacts"},
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx, cancel := callContext(cmd)
				defer cancel()
				files, err := newClient().ListFiles(ctx, args[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for _, f := range files {
					printf(out, "%10d  %s  %s\n", f.Size, f.LastModified.Format("2006-01-02 15:04"), f.Key)
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "inputs",
			Short: "List objects usable as inference input",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx, cancel := callContext(cmd)
				defer cancel()
				inputs, err := newClient().Inputs(ctx)
				if err != nil {
					return err
				}
				for _, in := range inputs {
					printf(cmd.OutOrStdout(), "%s\n", in)
				}
				return nil
			},
		},
	)
	return cmd
}

func newCostsCmd(newClient clientFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "costs",
		Short: "Show the accrued compute cost of training and inference jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := callContext(cmd)
			defer cancel()
			costs, err := newClient().Costs(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, jc := range costs.Jobs {
				state := "running"
				if jc.Finished {
					state = "finished"
				}
				printf(out, "%-9s  %-8s  $%.4f  %s\n", jc.Kind, state, jc.RunningCost, jc.JobID)
			}
			printf(out, "total  $%.4f\n", costs.TotalCost)
			return nil
		},
	}
}
