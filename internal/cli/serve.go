package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the agent over HTTP and websocket",
	Long: `Serve agent runs over the gateway: NDJSON event streams on POST /v1/runs,
conversations on /v1/ws and metrics on /metrics. When insight.enabled is set
the daily insight report is generated on its schedule.
Stops gracefully on SIGINT or SIGTERM.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	d, log, err := bootstrap(cmd.Context())
	if err != nil {
		return err
	}
	defer log.Close()

	if err := d.Start(); err != nil {
		d.Close()
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Serving on %s\n", d.GetGatewayServer().Addr())

	d.Wait()
	return nil
}
