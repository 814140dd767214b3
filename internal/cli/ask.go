// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jeranaias/termchat/internal/generation"
	"github.com/jeranaias/termchat/internal/llm"
)

// maxStdinPrompt bounds a prompt read from a pipe.
const maxStdinPrompt = 1 << 20

func newAskCommand(opts *Options) *cobra.Command {
	var (
		noStream bool
		save     bool
	)
	cmd := &cobra.Command{
		Use:   "ask [prompt]",
		Short: "Ask a single question and print the answer",
		Long: `Send one message and print the reply to stdout as it streams.

With no arguments the prompt is read from stdin. Ctrl+C stops the reply.`,
		Example: `  termchat ask "Explain Go's select statement"
  git diff | termchat ask --model gpt-4
  termchat ask --no-stream "One word for happy"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt, err := readPrompt(args, cmd.InOrStdin())
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			a, err := openApp(ctx, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			sess, err := a.newSession(ctx, save)
			if err != nil {
				return err
			}
			turn, err := sess.Begin(ctx, prompt)
			if err != nil {
				return err
			}
			out, errOut := cmd.OutOrStdout(), cmd.ErrOrStderr()

			if noStream {
				text, err := complete(ctx, a, turn, errOut)
				titled := sess.Settle(ctx, text, err)
				if err != nil {
					failure.Fprintln(errOut, llm.UserMessage(err))
					return errTurnFailed
				}
				fmt.Fprintln(out, text)
				if titled {
					if _, terr := sess.GenerateTitle(ctx); terr != nil {
						a.log.Warn("title generation failed", zap.Error(terr))
					}
				}
				return nil
			}

			o, err := runTurn(ctx, a.ctrl, turn, out, errOut)
			if sess.Finish(o) {
				if _, terr := sess.GenerateTitle(ctx); terr != nil {
					a.log.Warn("title generation failed", zap.Error(terr))
				}
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&noStream, "no-stream", false, "wait for the whole reply, retrying transient failures")
	cmd.Flags().BoolVar(&save, "save", false, "save the exchange to the history")
	return cmd
}

// complete fetches a whole reply for turn behind a spinner, retrying
// transient failures.
func complete(ctx context.Context, a *app, turn generation.Turn, errOut io.Writer) (string, error) {
	client, err := a.selector.Resolve(turn.Model)
	if err != nil {
		return "", err
	}
	spin := NewSpinner(errOut, thinkingMessage)
	spin.Start()
	defer spin.Stop()
	return llm.CompleteWithRetry(ctx, client, llm.Request{
		Messages:    turn.Messages,
		Model:       turn.Model,
		Style:       turn.Style,
		Temperature: turn.Temperature,
		MaxTokens:   turn.MaxTokens,
	}, llm.DefaultRetry)
}

// readPrompt joins args, or reads stdin when there are none and it is not
// a terminal.
func readPrompt(args []string, in io.Reader) (string, error) {
	prompt := strings.TrimSpace(strings.Join(args, " "))
	if prompt == "" && !isTerminal(in) {
		data, err := io.ReadAll(io.LimitReader(in, maxStdinPrompt))
		if err != nil {
			return "", fmt.Errorf("read prompt: %w", err)
		}
		prompt = strings.TrimSpace(string(data))
	}
	if prompt == "" {
		return "", errors.New("no prompt given")
	}
	return prompt, nil
}
