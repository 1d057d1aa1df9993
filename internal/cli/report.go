package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/harun/insight/pkg/insight"
)

var reportDate string

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Generate the daily insight report",
	Long: `Ask the agent for a daily insight summary and write it to the reports
directory as markdown and HTML.`,
	RunE: runReport,
}

func init() {
	reportCmd.Flags().StringVar(&reportDate, "date", "", "report date as YYYY-MM-DD (default today)")
	rootCmd.AddCommand(reportCmd)
}

func runReport(cmd *cobra.Command, args []string) error {
	date := time.Now()
	if reportDate != "" {
		parsed, err := time.ParseInLocation(insight.DateLayout, reportDate, time.Local)
		if err != nil {
			return fmt.Errorf("invalid --date %q: want YYYY-MM-DD", reportDate)
		}
		date = parsed
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d, log, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer log.Close()
	defer d.Close()

	report, err := d.GetGenerator().Generate(ctx, date)
	if err != nil {
		return err
	}
	path, err := d.GetGenerator().Write(report)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), path)
	return nil
}
