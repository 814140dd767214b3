// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"github.com/jeranaias/termchat/internal/config"
	"github.com/jeranaias/termchat/internal/export"
	"github.com/jeranaias/termchat/internal/storage"
	"github.com/jeranaias/termchat/internal/ui/styles"
)

func newHistoryCommand(opts *Options) *cobra.Command {
	var (
		limit  int
		search string
		del    bool
		raw    bool
		format string
		outDir string
	)
	cmd := &cobra.Command{
		Use:   "history [id]",
		Short: "List or print saved conversations",
		Long: `Without an id, list saved conversations, newest first. With an id (or a
unique prefix of one), print that conversation as Markdown, or write it
to a file with --export.

Resume a conversation with: termchat --conversation <id>`,
		Example: `  termchat history
  termchat history --search "goroutine"
  termchat history 3f2a9c1e
  termchat history 3f2a9c1e --export html -o ~/exports
  termchat history 3f2a9c1e --delete`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, opts)
			if err != nil {
				return err
			}
			defer a.Close()
			out := cmd.OutOrStdout()

			if len(args) == 0 {
				if del || format != "" {
					return fmt.Errorf("--delete and --export need a conversation id")
				}
				var list []storage.Summary
				if search != "" {
					list, err = a.store.SearchConversations(ctx, search, limit)
				} else {
					list, err = a.store.ListConversations(ctx, limit)
				}
				if err != nil {
					return err
				}
				fmt.Fprintln(out, storage.FormatList(list))
				return nil
			}

			id, err := a.store.ResolveID(ctx, args[0])
			if err != nil {
				return err
			}
			if del {
				if err := a.store.DeleteConversation(ctx, id); err != nil {
					return err
				}
				success.Fprintf(out, "Deleted conversation %s\n", id)
				return nil
			}

			conv, err := a.store.GetConversation(ctx, id)
			if err != nil {
				return err
			}
			theme := config.Global().UI.Theme
			if format != "" {
				eopts := export.DefaultOptions()
				if !styles.ResolveDark(theme) {
					eopts.Theme = "light"
				}
				e, err := export.ForFormat(format, eopts)
				if err != nil {
					return err
				}
				path, err := export.WriteFile(conv, e, outDir)
				if err != nil {
					return err
				}
				success.Fprintf(out, "Exported to %s\n", path)
				return nil
			}

			data, err := export.NewMarkdownExporter(&export.Options{IncludeTimestamps: true}).Export(conv)
			if err != nil {
				return err
			}
			md := string(data)
			if raw || !isTerminal(out) {
				fmt.Fprint(out, md)
				return nil
			}
			fmt.Fprint(out, renderMarkdown(md, theme))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of conversations to list")
	cmd.Flags().StringVar(&search, "search", "", "only list conversations containing this text")
	cmd.Flags().BoolVar(&del, "delete", false, "delete the conversation")
	cmd.Flags().BoolVar(&raw, "raw", false, "print Markdown without rendering")
	cmd.Flags().StringVar(&format, "export", "", "write the conversation to a file: md, json or html")
	cmd.Flags().StringVarP(&outDir, "output", "o", "", "directory for --export (default: current directory)")
	return cmd
}

// renderMarkdown renders md for the terminal, or returns it unchanged when
// rendering fails.
func renderMarkdown(md, theme string) string {
	style := "light"
	if styles.ResolveDark(theme) {
		style = "dark"
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(style),
		glamour.WithWordWrap(GetTerminalWidth()-2),
	)
	if err != nil {
		return md
	}
	out, err := r.Render(md)
	if err != nil {
		return md
	}
	return out
}
