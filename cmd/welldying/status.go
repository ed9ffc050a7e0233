package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/SKN19-3rd-4th-Project/Well-dying/pkg/config"
	"github.com/SKN19-3rd-4th-Project/Well-dying/pkg/cron"
	"github.com/SKN19-3rd-4th-Project/Well-dying/pkg/providers"
)

func newStatusCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "status",
		Short:   "Show configuration, provider and data readiness",
		Example: "  welldying status",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			printStatus(cmd, cmd.OutOrStdout(), opts.configPath, cfg)
			return nil
		},
	}
}

func mark(ok bool) string {
	if ok {
		return "✓"
	}
	return "✗"
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func printStatus(cmd *cobra.Command, out io.Writer, configPath string, cfg *config.Config) {
	fmt.Fprintf(out, "%s %s\n\n", appName, formatVersion())
	fmt.Fprintf(out, "Config:     %s %s\n", configPath, mark(exists(configPath)))
	fmt.Fprintf(out, "Data home:  %s %s\n", cfg.HomePath(), mark(exists(cfg.HomePath())))
	fmt.Fprintf(out, "Sessions:   %s %s\n", cfg.SessionsPath(), mark(exists(cfg.SessionsPath())))
	fmt.Fprintf(out, "Diaries:    %s %s\n", cfg.DiaryPath(), mark(exists(cfg.DiaryPath())))

	for _, p := range []struct{ label, path string }{
		{"Facility regions", cfg.Data.FacilityRegions},
		{"Ordinance regions", cfg.Data.OrdinanceRegions},
	} {
		resolved := cfg.ResolvePath(p.path)
		fmt.Fprintf(out, "%s: %s %s\n", p.label, resolved, mark(exists(resolved)))
	}

	fmt.Fprintf(out, "Index:      %s ", cfg.IndexPath())
	if !exists(cfg.IndexPath()) {
		fmt.Fprintln(out, "not initialized")
	} else if index, err := openIndex(cmd.Context(), cfg); err != nil {
		fmt.Fprintf(out, "✗ (%v)\n", err)
	} else {
		stats, err := index.Stats(cmd.Context())
		index.Close()
		if err != nil {
			fmt.Fprintf(out, "✗ (%v)\n", err)
		} else {
			total := 0
			for _, n := range stats {
				total += n
			}
			fmt.Fprintf(out, "✓ %d documents\n", total)
		}
	}

	provider, configured, mode, err := providers.ProviderCredentialStatus(cfg)
	if err != nil {
		fmt.Fprintf(out, "Provider:   ✗ %v\n", err)
	} else {
		detail := ""
		if mode != "" {
			detail = " (" + mode + ")"
		}
		fmt.Fprintf(out, "Provider:   %s %s%s, model %s\n", provider, mark(configured), detail, cfg.Agent.Model)
	}

	discord := cfg.Channels.Discord
	fmt.Fprintf(out, "Discord:    enabled=%t token %s\n", discord.Enabled, mark(strings.TrimSpace(discord.Token) != ""))

	if !cfg.Diary.AutoCompose {
		fmt.Fprintln(out, "Nightly diary: off")
		return
	}
	sched, err := cron.New("nightly-diary", cfg.Diary.Schedule, cron.NightlyDiary(nil, nil))
	if err != nil {
		fmt.Fprintf(out, "Nightly diary: ✗ %v\n", err)
		return
	}
	next, err := sched.Next(time.Now())
	if err != nil {
		fmt.Fprintf(out, "Nightly diary: ✗ %v\n", err)
		return
	}
	fmt.Fprintf(out, "Nightly diary: %q, next %s\n", cfg.Diary.Schedule, next.Format("2006-01-02 15:04"))
}
