package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/SKN19-3rd-4th-Project/Well-dying/pkg/agent"
	"github.com/SKN19-3rd-4th-Project/Well-dying/pkg/diary"
)

func newDiaryCommand(opts *rootOptions) *cobra.Command {
	var user string

	root := &cobra.Command{
		Use:   "diary",
		Short: "Write, read, list and delete diary entries",
		Long:  "Diary entries are kept per user and per day. `write` turns today's conversation into an entry, merging with one written earlier the same day.",
	}
	root.PersistentFlags().StringVarP(&user, "user", "u", defaultUser(), "User id")

	userID := func() (string, error) { return agent.ResolveUserID("cli", user) }

	root.AddCommand(&cobra.Command{
		Use:     "write",
		Short:   "Compose today's entry from today's conversation",
		Example: "  welldying diary write --user grace",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			uid, err := userID()
			if err != nil {
				return err
			}
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			provider, err := newProvider(cfg)
			if err != nil {
				return err
			}
			sessions, diaries, err := openStores(cfg)
			if err != nil {
				return err
			}
			composer := diary.NewComposer(sessions, diaries, provider, cfg.Agent.Model, llmOptions(cfg))
			text, err := composer.Compose(cmd.Context(), uid)
			if errors.Is(err, diary.ErrNoConversation) {
				fmt.Fprintln(cmd.OutOrStdout(), text)
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "[%s]\n%s\n", sessions.Today(), text)
			return nil
		},
	})

	root.AddCommand(&cobra.Command{
		Use:     "show [date]",
		Short:   "Print an entry (default: today)",
		Example: "  welldying diary show\n  welldying diary show 2025-03-02",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			uid, err := userID()
			if err != nil {
				return err
			}
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			_, diaries, err := openStores(cfg)
			if err != nil {
				return err
			}
			date := time.Now().Format("2006-01-02")
			if len(args) == 1 {
				date = strings.TrimSpace(args[0])
			}
			entry, err := diaries.Get(uid, date)
			if errors.Is(err, diary.ErrNotFound) {
				return fmt.Errorf("no diary for %s on %s", uid, date)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "[%s]\n%s\n", entry.Date, entry.Text)
			return nil
		},
	})

	root.AddCommand(&cobra.Command{
		Use:     "list",
		Short:   "List dates with an entry, newest first",
		Example: "  welldying diary list --user grace",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			uid, err := userID()
			if err != nil {
				return err
			}
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			_, diaries, err := openStores(cfg)
			if err != nil {
				return err
			}
			dates, err := diaries.List(uid)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(dates) == 0 {
				fmt.Fprintf(out, "No diary entries for %s.\n", uid)
				return nil
			}
			for _, d := range dates {
				fmt.Fprintln(out, d)
			}
			return nil
		},
	})

	root.AddCommand(&cobra.Command{
		Use:     "delete <date>",
		Short:   "Delete one entry",
		Example: "  welldying diary delete 2025-03-02",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			uid, err := userID()
			if err != nil {
				return err
			}
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			_, diaries, err := openStores(cfg)
			if err != nil {
				return err
			}
			if err := diaries.Delete(uid, strings.TrimSpace(args[0])); err != nil {
				if errors.Is(err, diary.ErrNotFound) {
					return fmt.Errorf("no diary for %s on %s", uid, args[0])
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Deleted diary %s for %s\n", args[0], uid)
			return nil
		},
	})

	return root
}
