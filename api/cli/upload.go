package cli

import (
	"errors"

	"sales-forecast/api/client"

	"github.com/spf13/cobra"
)

func newUploadCmd(newClient clientFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "upload FILE...",
		Short: "Upload csv, xlsx or pdf files for ingestion",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := callContext(cmd)
			defer cancel()

			resp, err := newClient().Upload(ctx, args...)
			var apiErr *client.APIError
			if err != nil && (resp == nil || !errors.As(err, &apiErr)) {
				return err
			}

			out := cmd.OutOrStdout()
			for _, f := range resp.Files {
				switch {
				case f.Error != "":
					printf(out, "%-30s %-10s %s\n", f.Filename, f.Status, f.Error)
				case f.JobID != "":
					printf(out, "%-30s %-10s analysis job %s\n", f.Filename, f.Status, f.JobID)
				default:
					printf(out, "%-30s %-10s %s\n", f.Filename, f.Status, f.ProcessedFile)
				}
			}
			return err
		},
	}
}
