package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/SKN19-3rd-4th-Project/Well-dying/pkg/config"
	"github.com/SKN19-3rd-4th-Project/Well-dying/pkg/logger"
)

// rootOptions are the persistent flags every subcommand sees.
type rootOptions struct {
	configPath string
	debug      bool
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".welldying", "config.json")
	}
	return filepath.Join(home, ".welldying", "config.json")
}

// load reads the config and applies logging settings.
func (o *rootOptions) load() (*config.Config, error) {
	cfg, err := config.LoadConfig(o.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", o.configPath, err)
	}
	level := logger.ParseLevel(cfg.Logging.Level)
	if o.debug {
		level = logger.DEBUG
	}
	logger.Configure(cfg.Logging.Format, level)
	return cfg, nil
}

func executeCLI() error {
	return buildRootCommand().Execute()
}

func buildRootCommand() *cobra.Command {
	opts := &rootOptions{}
	var showVersion bool

	root := &cobra.Command{
		Use:   appName,
		Short: "End-of-life companion: empathetic chat, funeral information, activities and diaries",
		Long: strings.TrimSpace(`welldying is a companion for people preparing for the end of life.

It talks with the user, answers questions about funeral facilities, local
ordinances, digital legacy and inheritance law from an indexed knowledge
base, suggests meaningful activities, and turns each day's conversation
into a diary entry.`),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				printVersion(cmd.OutOrStdout())
				return nil
			}
			_ = cmd.Help()
			return fmt.Errorf("a subcommand is required")
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.Flags().BoolVarP(&showVersion, "version", "v", false, "Show build/version metadata")
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", defaultConfigPath(), "Path to config.json")
	root.PersistentFlags().BoolVarP(&opts.debug, "debug", "d", false, "Enable debug logging")

	root.AddCommand(newChatCommand(opts))
	root.AddCommand(newDiaryCommand(opts))
	root.AddCommand(newIndexCommand(opts))
	root.AddCommand(newGatewayCommand(opts))
	root.AddCommand(newStatusCommand(opts))
	root.AddCommand(newInitCommand(opts))
	root.AddCommand(newVersionCommand())

	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "version",
		Short:   "Show build/version metadata",
		Example: "  welldying version",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			printVersion(cmd.OutOrStdout())
			return nil
		},
	}
}

func newInitCommand(opts *rootOptions) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:     "init",
		Short:   "Write a default config.json and create the data directories",
		Example: "  welldying init\n  welldying init --force",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(opts.configPath); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", opts.configPath)
			}
			cfg := config.DefaultConfig()
			if err := config.SaveConfig(opts.configPath, cfg); err != nil {
				return fmt.Errorf("write config: %w", err)
			}
			for _, dir := range []string{cfg.SessionsPath(), cfg.DiaryPath(), filepath.Dir(cfg.IndexPath())} {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return fmt.Errorf("create %s: %w", dir, err)
				}
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "✓ Config written to %s\n", opts.configPath)
			fmt.Fprintf(out, "✓ Data directory %s\n", cfg.HomePath())
			fmt.Fprintln(out, "Next: set providers.openai.api_key (or WELLDYING_PROVIDERS_OPENAI_API_KEY) and run `welldying index load <file.jsonl>`.")
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing config")
	return cmd
}
