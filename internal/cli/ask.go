package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/harun/insight/pkg/agent"
)

var (
	askTokens bool
	askQuiet  bool
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask the agent a business question",
	Long: `Ask the agent a business question and print its reasoning live:
each Thought, Action, Action Input and Observation, then the Final Answer.
Interrupt with Ctrl-C to cancel the run.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().BoolVar(&askTokens, "tokens", false, "print raw model output as it streams")
	askCmd.Flags().BoolVarP(&askQuiet, "quiet", "q", false, "print only the final answer")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d, log, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer log.Close()
	defer d.Close()

	question := strings.Join(args, " ")
	result, err := ask(ctx, d.GetAgentRunner(), question, cmd.OutOrStdout(), askQuiet, askTokens)
	if err != nil {
		return err
	}
	// an exhausted run still printed its best answer
	if result.Status == agent.StatusFailed || result.Status == agent.StatusCancelled {
		return fmt.Errorf("run %s", strings.ToLower(string(result.Status)))
	}
	return nil
}

// ask runs question and renders its events until the terminal one.
func ask(ctx context.Context, runner *agent.Runner, question string, out io.Writer, quiet, tokens bool) (agent.Result, error) {
	stream, err := runner.Run(ctx, question, nil)
	if err != nil {
		return agent.Result{}, err
	}
	defer stream.Close()

	renderer := newConsoleRenderer(out, tokens)
	for ev := range stream.Events() {
		if quiet {
			if ev.Terminal() {
				fmt.Fprintln(out, ev.Text)
			}
			continue
		}
		renderer.Render(ev)
	}
	return stream.Result(), nil
}
