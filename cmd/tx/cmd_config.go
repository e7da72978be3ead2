package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"tx/internal/config"
	"tx/internal/logging"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect configuration",
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "List providers, snippets, wrappers and profiles",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return renderMarkdown(cmd.OutOrStdout(), configMarkdown(cfg))
	},
}

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Print the merged configuration as YAML",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := cfg.Dump()
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

var configWhereCmd = &cobra.Command{
	Use:         "where",
	Short:       "Show configuration and state locations",
	Args:        cobra.NoArgs,
	Annotations: map[string]string{skipConfig: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := config.Locate(configDir)
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Configuration directory: %s\n", dir)
		fmt.Fprintf(out, "State directory: %s\n", config.StateDir())
		fmt.Fprintf(out, "Log file: %s\n", filepath.Join(config.StateDir(), "logs", logging.LogFileName))
		sources, err := config.Sources(dir)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, "Sources (in load order):")
		if len(sources) == 0 {
			fmt.Fprintln(out, "  (none; built-in defaults)")
		}
		for _, s := range sources {
			kind := "main"
			if filepath.Base(filepath.Dir(s)) == config.DropInDir {
				kind = "drop-in"
			}
			fmt.Fprintf(out, "  - %s (%s)\n", s, kind)
		}
		return nil
	},
}

var configLintCmd = &cobra.Command{
	Use:   "lint",
	Short: "Validate configuration references",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		diags := cfg.Lint()
		out := cmd.OutOrStdout()
		if len(diags) == 0 {
			fmt.Fprintln(out, "Configuration looks good.")
			return nil
		}
		for _, d := range diags {
			fmt.Fprintln(out, d.String())
		}
		if config.HasErrors(diags) {
			return fmt.Errorf("configuration contains errors")
		}
		return nil
	},
}

var configDefaultCmd = &cobra.Command{
	Use:         "default",
	Short:       "Print a starter config.yaml",
	Args:        cobra.NoArgs,
	Annotations: map[string]string{skipConfig: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := fmt.Fprint(cmd.OutOrStdout(), config.DefaultTemplate())
		return err
	},
}

func init() {
	configCmd.AddCommand(configListCmd, configDumpCmd, configWhereCmd, configLintCmd, configDefaultCmd)
}

func configMarkdown(c *config.Config) string {
	var b strings.Builder
	b.WriteString("# Providers\n\n")
	for _, name := range c.ProviderNames() {
		p, _ := c.Provider(name)
		mode := p.StdinMode
		if mode == "" {
			mode = config.StdinPipe
		}
		fmt.Fprintf(&b, "- **%s** `%s` (stdin: %s)", name, strings.TrimSpace(p.Bin+" "+strings.Join(p.Flags, " ")), mode)
		if p.Description != "" {
			fmt.Fprintf(&b, " %s", p.Description)
		}
		b.WriteString("\n")
	}

	b.WriteString("\n# Snippets\n\n")
	for _, name := range c.PreSnippetNames() {
		s, _ := c.PreSnippet(name)
		fmt.Fprintf(&b, "- pre **%s** `%s`\n", name, s.Command)
	}
	for _, name := range c.PostSnippetNames() {
		s, _ := c.PostSnippet(name)
		fmt.Fprintf(&b, "- post **%s** `%s`\n", name, s.Command)
	}

	b.WriteString("\n# Wrappers\n\n")
	for _, name := range c.WrapperNames() {
		w, _ := c.Wrapper(name)
		if w.Shell {
			fmt.Fprintf(&b, "- **%s** (shell) `%s`\n", name, w.Command)
		} else {
			fmt.Fprintf(&b, "- **%s** (exec) `%s`\n", name, strings.Join(w.Argv, " "))
		}
	}

	b.WriteString("\n# Profiles\n\n")
	for _, name := range c.ProfileNames() {
		p, _ := c.Profile(name)
		s := p.Static()
		fmt.Fprintf(&b, "- **%s** provider: %s, pre: [%s], post: [%s], wrap: %s",
			name, dash(s.Provider), strings.Join(s.Pre, ", "), strings.Join(s.Post, ", "), dash(s.Wrap))
		if pp, ok := p.(config.PromptProfile); ok {
			fmt.Fprintf(&b, ", prompt: %s", pp.Prompt)
		}
		if s.Description != "" {
			fmt.Fprintf(&b, " (%s)", s.Description)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
