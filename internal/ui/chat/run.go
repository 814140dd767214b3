// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/termchat/internal/catalog"
)

// Run shows the chat view until the user quits or ctx is done. It starts
// opts.Refresher, if any, for the lifetime of the view.
func Run(ctx context.Context, opts Options) error {
	m := New(opts)

	p := tea.NewProgram(m,
		tea.WithAltScreen(),
		tea.WithContext(ctx),
	)
	m.bridge.set(p.Send)
	defer m.bridge.set(nil)

	if opts.Refresher != nil {
		opts.Refresher.OnRefresh = func(entries []catalog.Entry) {
			m.bridge.Send(ModelsMsg{Entries: entries})
		}
		opts.Refresher.Start(ctx)
		defer opts.Refresher.Stop()
	}

	_, err := p.Run()
	if opts.Controller != nil {
		opts.Controller.Cancel()
	}
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("chat view failed: %w", err)
	}
	return nil
}
