// Package cli implements the forecastctl command tree.
package cli

import (
	"context"
	"fmt"
	"io"

	"sales-forecast/api/client"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const defaultServer = "http://localhost:8000"

// NewRootCmd builds the forecastctl command tree. Output goes to the
// command's out writer; progress bars go to its err writer.
func NewRootCmd() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("FORECAST")
	v.AutomaticEnv()
	v.SetDefault("server", defaultServer)

	root := &cobra.Command{
		Use:   "forecastctl",
		Short: "Operate the sales forecast service",
		Long: `forecastctl talks to the sales forecast API.

Typical flow:
  forecastctl upload sales_2024.csv invoices.pdf
  forecastctl train --follow
  forecastctl models list
  forecastctl models approve <model-package-arn>
  forecastctl predict --model <arn> --input s3://processed/sales_2024.parquet --follow`,
		SilenceUsage: true,
	}
	root.PersistentFlags().String("server", defaultServer, "API server base URL (env FORECAST_SERVER)")
	_ = v.BindPFlag("server", root.PersistentFlags().Lookup("server"))

	newClient := func() *client.Client {
		return client.New(v.GetString("server"))
	}

	root.AddCommand(
		newUploadCmd(newClient),
		newTrainCmd(newClient),
		newPredictCmd(newClient),
		newModelsCmd(newClient),
		newFilesCmd(newClient),
		newCostsCmd(newClient),
	)
	return root
}

type clientFactory func() *client.Client

// callContext bounds a non-streaming call
func callContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), client.DefaultTimeout)
}

func printf(w io.Writer, format string, args ...interface{}) {
	fmt.Fprintf(w, format, args...)
}
