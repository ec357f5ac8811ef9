package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/kubilitics/kubilitics-insight/internal/config"
)

const version = "0.1.0"

type cli struct {
	configPath string
	stdout     io.Writer
	stderr     io.Writer
}

func main() {
	if err := newRootCommand(os.Stdout, os.Stderr).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCommand(out, errOut io.Writer) *cobra.Command {
	c := &cli{stdout: out, stderr: errOut}

	cmd := &cobra.Command{
		Use:           "kubilitics-insight",
		Short:         "Answer infrastructure questions from documentation, metrics and analysis engines",
		Long:          "kubilitics-insight analyzes a question, retrieves related documentation, runs the analysis engines the question needs and synthesizes one answer.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
	}
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.PersistentFlags().StringVar(&c.configPath, "config", "", "path to the YAML configuration file")

	cmd.AddCommand(
		newServeCmd(c),
		newAskCmd(c),
		newReindexCmd(c),
	)
	return cmd
}

// loadConfig loads and validates configuration. It returns the manager so
// callers can watch for changes.
func (c *cli) loadConfig(ctx context.Context) (config.ConfigManager, *config.Config, error) {
	mgr, err := config.NewConfigManager(c.configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create config manager: %w", err)
	}
	if err := mgr.Load(ctx); err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := mgr.Validate(ctx); err != nil {
		return nil, nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return mgr, mgr.Get(ctx), nil
}
