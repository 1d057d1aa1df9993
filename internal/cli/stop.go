package cli

import (
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/harun/insight/internal/daemon"
	"github.com/harun/insight/internal/logger"
)

const stopPollInterval = 100 * time.Millisecond

var stopTimeout int

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop a running server",
	Long: `Ask the insight server owning the data directory to shut down.
In-flight runs are cancelled. The server is killed if it has not exited
within --timeout seconds.`,
	RunE: runStop,
}

func init() {
	stopCmd.Flags().IntVar(&stopTimeout, "timeout", 30, "seconds to wait before killing the server")
	rootCmd.AddCommand(stopCmd)
}

func runStop(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	lm := daemon.NewLifecycleManager(cfg.DataDir, logger.Nop())
	pid, err := lm.Signal()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Sent SIGTERM to %d\n", pid)

	if waitForExit(lm, time.Duration(stopTimeout)*time.Second) {
		fmt.Fprintln(out, "Server stopped")
		return nil
	}

	if err := syscall.Kill(pid, syscall.SIGKILL); err != nil {
		return fmt.Errorf("server %d did not stop and could not be killed: %w", pid, err)
	}
	_ = os.Remove(lm.PIDFile())
	fmt.Fprintf(out, "Server did not stop within %ds and was killed\n", stopTimeout)
	return nil
}

func waitForExit(lm *daemon.LifecycleManager, timeout time.Duration) bool {
	deadline := time.After(timeout)
	ticker := time.NewTicker(stopPollInterval)
	defer ticker.Stop()
	for {
		if !lm.IsRunning() {
			return true
		}
		select {
		case <-deadline:
			return false
		case <-ticker.C:
		}
	}
}
