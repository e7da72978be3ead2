package main

import (
	"os"

	"github.com/spf13/cobra"

	"tx/internal/executor"
)

var internalCmd = &cobra.Command{
	Use:    "internal",
	Short:  "Helpers invoked by rendered pipelines",
	Hidden: true,
}

var captureFlags struct {
	provider string
	bin      string
	pre      []string
	args     []string
}

var captureArgCmd = &cobra.Command{
	Use:   "capture-arg",
	Short: "Run pre commands and pass their output to the provider as an argument",
	Long: `Run the --pre commands as a pipeline, capture their output (or stdin when
there are none) and start --bin with it substituted for {prompt} in the --arg
list, or appended when no argument contains {prompt}.

When ` + executor.CaptureEnv + ` is set its value is captured instead of stdin.`,
	Args: cobra.NoArgs,
	RunE: runCaptureArg,
}

func init() {
	fs := captureArgCmd.Flags()
	fs.StringVar(&captureFlags.provider, "provider", "", "Provider name, for logs")
	fs.StringVar(&captureFlags.bin, "bin", "", "Provider executable")
	fs.StringArrayVar(&captureFlags.pre, "pre", nil, "Pre command (repeatable, run in order)")
	fs.StringArrayVar(&captureFlags.args, "arg", nil, "Provider argument (repeatable)")
	internalCmd.AddCommand(captureArgCmd)
}

func runCaptureArg(cmd *cobra.Command, args []string) error {
	req := executor.CaptureRequest{
		Provider: captureFlags.provider,
		Bin:      captureFlags.bin,
		Pre:      captureFlags.pre,
		Args:     captureFlags.args,
	}
	if data, ok := os.LookupEnv(executor.CaptureEnv); ok {
		req.Input = &data
		// the provider must not see it
		os.Unsetenv(executor.CaptureEnv)
	}
	ex := executor.NewFromConfig(cfg.Execution(), "")
	_, err := ex.CaptureArg(cmd.Context(), req, executor.Streams{
		Stdin:  cmd.InOrStdin(),
		Stdout: cmd.OutOrStdout(),
		Stderr: cmd.ErrOrStderr(),
	})
	return err
}
