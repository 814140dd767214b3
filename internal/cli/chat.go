// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jeranaias/termchat/internal/config"
	"github.com/jeranaias/termchat/internal/session"
)

const replHelp = `Commands:
  /help            show this help
  /new             start a new conversation
  /model [id]      show or switch the model
  /style [id]      show or switch the response style
  /quit            exit (or Ctrl+D)
Ctrl+C stops a reply while it streams.`

func newChatCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Chat line by line in the terminal",
		Long: `Start a line-editing chat session. Replies stream inline; the arrow keys
recall earlier input. Conversations are saved like in the chat view.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, opts)
			if err != nil {
				return err
			}
			defer a.Close()
			a.watch(ctx)

			sess, err := a.newSession(ctx, true)
			if err != nil {
				return err
			}
			r := newREPL(a, sess, cmd.OutOrStdout(), cmd.ErrOrStderr())
			defer r.Close()
			return r.Run(ctx)
		},
	}
}

// =============================================================================
// INPUT HISTORY
// =============================================================================

// lineReader reads input lines with editing and a persistent history.
type lineReader struct {
	line        *liner.State
	historyFile string
}

func newLineReader() *lineReader {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	r := &lineReader{line: line}
	if path, err := config.DataPath("chat_history"); err == nil {
		r.historyFile = path
		if f, err := os.Open(path); err == nil {
			r.line.ReadHistory(f)
			f.Close()
		}
	}
	return r
}

// Read reads a line, adding it to the history when not blank.
func (r *lineReader) Read(prompt string) (string, error) {
	input, err := r.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		r.line.AppendHistory(input)
	}
	return input, nil
}

// Close saves the history with owner-only permissions and restores the
// terminal.
func (r *lineReader) Close() {
	defer r.line.Close()
	if r.historyFile == "" {
		return
	}
	f, err := os.OpenFile(r.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return
	}
	defer f.Close()
	r.line.WriteHistory(f)
}

// =============================================================================
// REPL
// =============================================================================

type repl struct {
	a      *app
	sess   *session.Session
	out    io.Writer
	errOut io.Writer
	input  *lineReader

	titles sync.WaitGroup
}

func newREPL(a *app, sess *session.Session, out, errOut io.Writer) *repl {
	return &repl{a: a, sess: sess, out: out, errOut: errOut, input: newLineReader()}
}

// Close waits for pending title requests and releases the terminal.
func (r *repl) Close() {
	r.titles.Wait()
	r.input.Close()
}

// Run reads and answers messages until EOF or /quit.
func (r *repl) Run(ctx context.Context) error {
	accent.Fprintln(r.errOut, "termchat")
	dim.Fprintf(r.errOut, "Model %s, style %s. /help lists commands, Ctrl+D exits.\n\n", r.sess.Model(), r.sess.Style())

	for {
		line, err := r.input.Read("you> ")
		if errors.Is(err, liner.ErrPromptAborted) {
			continue
		}
		if errors.Is(err, io.EOF) {
			fmt.Fprintln(r.errOut)
			return nil
		}
		if err != nil {
			return fmt.Errorf("read input: %w", err)
		}

		line = strings.TrimSpace(line)
		switch {
		case line == "":
			continue
		case strings.HasPrefix(line, "/"):
			if quit := r.command(line); quit {
				return nil
			}
		default:
			r.send(ctx, line)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (r *repl) send(ctx context.Context, prompt string) {
	turn, err := r.sess.Begin(ctx, prompt)
	if err != nil {
		failure.Fprintln(r.errOut, err)
		return
	}

	accent.Fprint(r.out, "assistant> ")
	o, _ := runTurn(ctx, r.a.ctrl, turn, r.out, r.errOut)
	fmt.Fprintln(r.out)

	if r.sess.Finish(o) {
		r.titles.Add(1)
		go func() {
			defer r.titles.Done()
			if _, err := r.sess.GenerateTitle(context.WithoutCancel(ctx)); err != nil {
				r.a.log.Warn("title generation failed", zap.Error(err))
			}
		}()
	}
}

// command runs a slash command and reports whether to quit.
func (r *repl) command(line string) bool {
	fields := strings.Fields(line)
	name, args := strings.ToLower(fields[0]), fields[1:]

	switch name {
	case "/quit", "/exit", "/q":
		return true
	case "/help", "/h", "/?":
		fmt.Fprintln(r.errOut, replHelp)
	case "/new", "/clear":
		r.sess.Reset()
		success.Fprintln(r.errOut, "Started a new conversation")
	case "/model":
		if len(args) == 0 {
			fmt.Fprintf(r.errOut, "Model: %s\n", r.sess.Model())
			break
		}
		r.sess.SetModel(args[0], r.a.maxTokens(args[0]))
		success.Fprintf(r.errOut, "Switched to %s\n", args[0])
	case "/style":
		styles := config.Global().StyleIDs()
		if len(args) == 0 {
			fmt.Fprintf(r.errOut, "Style: %s (available: %s)\n", r.sess.Style(), strings.Join(styles, ", "))
			break
		}
		if !slices.Contains(styles, args[0]) {
			failure.Fprintf(r.errOut, "Unknown style: %s\n", args[0])
			break
		}
		r.sess.SetStyle(args[0])
		success.Fprintf(r.errOut, "Style set to %s\n", args[0])
	default:
		warning.Fprintf(r.errOut, "Unknown command: %s (try /help)\n", name)
	}
	return false
}
