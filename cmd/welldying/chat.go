package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/SKN19-3rd-4th-Project/Well-dying/pkg/agent"
	"github.com/SKN19-3rd-4th-Project/Well-dying/pkg/logger"
)

const goodbyeText = "오늘도 이야기 나눠주셔서 고마워요. 편히 쉬세요."

// conversation is what the chat loop needs from the router.
type conversation interface {
	Process(ctx context.Context, req agent.Request) agent.Reply
	Welcome(userID string) string
	EndSession(userID string) error
}

type lineReader interface {
	Readline() (string, error)
}

type scannerReader struct {
	sc  *bufio.Scanner
	out io.Writer
}

func (r *scannerReader) Readline() (string, error) {
	fmt.Fprint(r.out, "나: ")
	if !r.sc.Scan() {
		if err := r.sc.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return r.sc.Text(), nil
}

func defaultUser() string {
	if u := strings.TrimSpace(os.Getenv("USER")); u != "" {
		return u
	}
	return "local"
}

func newChatCommand(opts *rootOptions) *cobra.Command {
	var (
		user    string
		mode    string
		message string
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk with the companion in the terminal",
		Long: strings.TrimSpace(`Start an interactive conversation. Type "다이어리" to turn today's
conversation into a diary entry, "exit" to finish the session.`),
		Example: strings.Join([]string{
			"  welldying chat",
			"  welldying chat --user grace",
			"  welldying chat --mode info --message \"부산 화장장 알려줘\"",
		}, "\n"),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			forced := agent.ParseMode(strings.ToLower(strings.TrimSpace(mode)))
			if mode != "" && forced == "" {
				return fmt.Errorf("unknown mode %q (want empathy or info)", mode)
			}
			userID, err := agent.ResolveUserID("cli", user)
			if err != nil {
				return err
			}

			cfg, err := opts.load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			a, err := openApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			if strings.TrimSpace(message) != "" {
				reply := a.router.Process(ctx, agent.Request{UserID: userID, Text: message, Mode: forced})
				fmt.Fprintln(out, reply.Text)
				return nil
			}

			in, closeIn := newLineReader(cmd, cfg.HomePath())
			defer closeIn()
			return chatLoop(ctx, in, out, a.router, userID, forced)
		},
	}

	cmd.Flags().StringVarP(&user, "user", "u", defaultUser(), "User id the session and diary are stored under")
	cmd.Flags().StringVar(&mode, "mode", "", "Force a mode for every turn: empathy or info")
	cmd.Flags().StringVarP(&message, "message", "m", "", "Send one message and print the reply")
	return cmd
}

// newLineReader prefers readline with history and falls back to a plain
// scanner when stdin is not a terminal.
func newLineReader(cmd *cobra.Command, home string) (lineReader, func()) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "나: ",
		HistoryFile:     filepath.Join(home, ".chat_history"),
		HistoryLimit:    200,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		logger.DebugCF("cli", "readline unavailable, using plain input", map[string]interface{}{"error": err.Error()})
		return &scannerReader{sc: bufio.NewScanner(cmd.InOrStdin()), out: cmd.OutOrStdout()}, func() {}
	}
	return rl, func() { _ = rl.Close() }
}

// chatLoop greets the user, relays each line to the router and ends the
// session on exit, EOF or interrupt.
func chatLoop(ctx context.Context, in lineReader, out io.Writer, conv conversation, userID string, mode agent.Mode) error {
	fmt.Fprintf(out, "AI: %s\n\n", conv.Welcome(userID))

	defer func() {
		if err := conv.EndSession(userID); err != nil {
			logger.WarnCF("cli", "Failed to record last visit", map[string]interface{}{
				"user_id": userID,
				"error":   err.Error(),
			})
		}
		fmt.Fprintf(out, "\nAI: %s\n", goodbyeText)
	}()

	for {
		if ctx.Err() != nil {
			return nil
		}
		line, err := in.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read input: %w", err)
		}
		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}
		switch strings.ToLower(input) {
		case "exit", "quit", "종료":
			return nil
		}

		reply := conv.Process(ctx, agent.Request{UserID: userID, Text: input, Mode: mode})
		fmt.Fprintf(out, "AI: %s\n\n", reply.Text)
	}
}
