package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/harun/insight/internal/daemon"
	"github.com/harun/insight/internal/logger"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether a server is running",
	Long:  `Report the insight server owning the configured data directory, if any.`,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	lm := daemon.NewLifecycleManager(cfg.DataDir, logger.Nop())
	if !lm.IsRunning() {
		fmt.Fprintln(out, "Status: stopped")
		return nil
	}

	pid, err := lm.GetPID()
	if err != nil {
		return fmt.Errorf("failed to read PID file: %w", err)
	}

	// the PID file is written once at startup, so its mtime is the start time
	uptime := "unknown"
	if info, err := os.Stat(lm.PIDFile()); err == nil {
		uptime = formatDuration(time.Since(info.ModTime()))
	}
	fmt.Fprintf(out, "Status: running\nPID: %d\nUptime: %s\nGateway: http://%s:%d\nData: %s\n",
		pid, uptime, cfg.Gateway.Host, cfg.Gateway.Port, cfg.DataDir)
	return nil
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%dm%ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
