// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/jeranaias/termchat/internal/generation"
	"github.com/jeranaias/termchat/internal/llm"
	"github.com/jeranaias/termchat/internal/stream"
)

// Status lines printed while a turn runs.
const (
	thinkingMessage = "Thinking..."
	loadingMessage  = "Preparing Ollama model..."
)

// printer writes one turn to a terminal as it streams: reply text to out,
// status to errOut. Its hooks run on the turn goroutine; fields are not
// touched elsewhere until the turn is over.
type printer struct {
	out    io.Writer
	errOut io.Writer
	spin   *Spinner

	printed string
	failed  bool
}

func newPrinter(out, errOut io.Writer) *printer {
	return &printer{out: out, errOut: errOut, spin: NewSpinner(errOut, thinkingMessage)}
}

func (p *printer) hooks() generation.Hooks {
	return generation.Hooks{
		OnState: func(s generation.State) {
			if s == generation.Starting {
				p.spin.Start()
			}
		},
		OnLoading: func(string) {
			p.spin.SetMessage(loadingMessage)
		},
		OnUpdate: p.update,
	}
}

// update prints the part of text not yet shown. Text that does not extend
// what was printed is the error line of a failed turn, reported by finish.
func (p *printer) update(text string) {
	p.spin.Stop()
	if !strings.HasPrefix(text, p.printed) {
		return
	}
	fmt.Fprint(p.out, text[len(p.printed):])
	p.printed = text
}

// finish reports a turn's outcome.
func (p *printer) finish(o generation.Outcome) error {
	p.spin.Stop()
	switch o.Kind {
	case stream.Completed:
		if p.printed != o.Text {
			p.update(o.Text)
		}
		fmt.Fprintln(p.out)
		return nil
	case stream.Cancelled:
		if p.printed != "" {
			fmt.Fprintln(p.out)
		}
		warning.Fprintln(p.errOut, generation.StoppedNotice)
		return nil
	default:
		if p.printed != "" {
			fmt.Fprintln(p.out)
		}
		msg := llm.UserMessage(o.Err)
		if o.Reply != nil {
			msg = o.Reply.Text
		}
		failure.Fprintln(p.errOut, msg)
		p.failed = true
		return errTurnFailed
	}
}

// runTurn runs one turn on ctrl, printing it as it streams. An interrupt
// while the turn runs stops the turn rather than the process.
func runTurn(ctx context.Context, ctrl *generation.Controller, turn generation.Turn, out, errOut io.Writer) (generation.Outcome, error) {
	p := newPrinter(out, errOut)
	ctrl.SetHooks(p.hooks())

	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt)
	defer signal.Stop(interrupts)

	ch, err := ctrl.Start(ctx, turn)
	if err != nil {
		return generation.Outcome{Kind: stream.Failed, Err: err}, err
	}
	for {
		select {
		case <-interrupts:
			go ctrl.Cancel()
		case o := <-ch:
			return o, p.finish(o)
		}
	}
}
