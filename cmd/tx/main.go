// Command tx launches AI-assistant pipelines described in YAML configuration
// and resumes recorded sessions.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"tx/internal/config"
	"tx/internal/executor"
	"tx/internal/logging"
	"tx/internal/pipeline"
)

var (
	// Global flags
	configDir string
	verbose   bool
	quiet     bool

	// cfg is loaded by PersistentPreRunE for every command that needs it.
	cfg *config.Config
)

// skipConfig marks commands that run without a loaded configuration.
const skipConfig = "skip-config"

var rootCmd = &cobra.Command{
	Use:   "tx",
	Short: "Launch and resume AI assistant pipelines",
	Long: `tx compiles a provider, an optional profile, pre/post snippets and a
wrapper into a process pipeline, runs it, and records it so it can be resumed
later against the current configuration.

Run without arguments to open the interactive picker.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Annotations[skipConfig] == "true" {
			if err := initLogging(config.DefaultConfig()); err != nil {
				return err
			}
			logging.BootDebug("%s runs without a configuration", cmd.Name())
			return nil
		}
		dir := config.Locate(configDir)
		loaded, err := config.Load(dir)
		if err != nil {
			return err
		}
		cfg = loaded
		if err := initLogging(cfg); err != nil {
			return err
		}
		logging.Boot("configuration loaded from %s", dir)
		for _, d := range cfg.Lint() {
			if d.Severity == config.SeverityError {
				logging.BootWarn("config: %s", d)
			}
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
	},
	RunE: runTUI,
}

func initLogging(c *config.Config) error {
	lc := c.Logging()
	if verbose {
		lc.DebugMode = true
		lc.Level = "debug"
	}
	if quiet {
		lc.DebugMode = false
	}
	if err := logging.Initialize(lc.Options(config.StateDir())); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", "", "Configuration directory (default $TX_CONFIG_DIR or ~/.config/tx)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Write debug logs to the state directory")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Disable logging")

	rootCmd.AddCommand(launchCmd, resumeCmd, sessionsCmd, configCmd, doctorCmd, tuiCmd, internalCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	reportError(os.Stderr, err)
	logging.Sync()
	os.Exit(pipeline.ExitCode(err))
}

// reportError prints err unless the failing stage already spoke for itself.
func reportError(w io.Writer, err error) {
	if err == nil {
		return
	}
	var exitErr *executor.ExitError
	if errors.As(err, &exitErr) && exitErr.Stage != pipeline.StagePre {
		return
	}
	var partial *executor.PartialFailureError
	if errors.As(err, &partial) {
		fmt.Fprintf(w, "tx: warning: %v\n", err)
		return
	}
	fmt.Fprintf(w, "tx: %v\n", err)
}
