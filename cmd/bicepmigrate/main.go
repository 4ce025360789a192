package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/drewdunne/bicepmigrate/internal/config"
)

var version = "0.1.0"

// errRunFailed signals a run that ended Failed. Its details are already logged.
var errRunFailed = errors.New("run failed")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errRunFailed) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		stop()
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath string
	envFile    string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "bicepmigrate",
		Short: "Generate Azure Bicep templates for changed infrastructure files",
		Long: "bicepmigrate turns Terraform and Dockerfile changes into Azure Bicep templates " +
			"and publishes them as a merge or pull request.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			loadEnv(opts.envFile)
		},
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "config.yaml", "Path to config file")
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", "", "Path to .env file (optional)")

	root.AddCommand(newRunCmd(opts))
	root.AddCommand(newServeCmd(opts))
	root.AddCommand(newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "bicepmigrate v%s (%s)\n", version, runtime.Version())
			return nil
		},
	}
}

// loadEnv loads a .env file if specified, else tries the default locations.
func loadEnv(envFile string) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: could not load env file %s: %v\n", envFile, err)
		}
		return
	}
	godotenv.Load(".env")
	godotenv.Load("/etc/bicepmigrate/bicepmigrate.env")
}

// loadConfig reads the config file, fills credentials from the environment and validates.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.LoadOptional(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
