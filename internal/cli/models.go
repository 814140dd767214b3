// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jeranaias/termchat/internal/catalog"
	"github.com/jeranaias/termchat/internal/llm"
	"github.com/jeranaias/termchat/internal/util"
)

func newModelsCommand(opts *Options) *cobra.Command {
	var cached bool
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List available models",
		Long: `List the configured models together with every model the available
providers report. The list is cached in ~/.termchat/models.json.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			if !cached {
				spin := NewSpinner(cmd.ErrOrStderr(), "Fetching models...")
				spin.Start()
				err := a.catalog.Refresh(ctx, a.selector)
				spin.Stop()
				if err != nil {
					a.log.Warn("model refresh failed", zap.Error(err))
					warning.Fprintln(cmd.ErrOrStderr(), "Could not refresh the model list; showing the cached one.")
				}
			}

			snap := a.selector.Snapshot()
			printModels(cmd.OutOrStdout(), a.catalog.Entries(), a.modelID(), snap.Available)
			return nil
		},
	}
	cmd.Flags().BoolVar(&cached, "cached", false, "show the cached list without asking providers")
	return cmd
}

// printModels writes one line per entry, marking the current model and
// providers that are not reachable.
func printModels(w io.Writer, entries []catalog.Entry, current string, available func(llm.Kind) bool) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No models available. Configure a provider in ~/.termchat/config.toml.")
		return
	}
	idWidth := 0
	for _, e := range entries {
		idWidth = max(idWidth, util.StringWidth(e.ID))
	}
	idWidth = min(idWidth, 40)

	for _, e := range entries {
		mark := "  "
		if e.ID == current {
			mark = "* "
		}
		fmt.Fprint(w, mark)
		accent.Fprint(w, util.PadWidth(e.ID, idWidth))
		fmt.Fprintf(w, "  %-18s %s", e.Kind, e.DisplayName)
		if !available(e.Kind) {
			dim.Fprint(w, "  (unavailable)")
		}
		fmt.Fprintln(w)
	}
}
