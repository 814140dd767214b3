// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/jeranaias/termchat/internal/config"
	"github.com/jeranaias/termchat/internal/ui/chat"
	"github.com/jeranaias/termchat/internal/ui/styles"
)

// NewRootCommand builds the termchat command tree.
func NewRootCommand(version string) *cobra.Command {
	opts := &Options{}

	root := &cobra.Command{
		Use:   "termchat",
		Short: "Chat with OpenAI, Anthropic and Ollama models in the terminal",
		Long: `termchat is a terminal chat client for hosted and local language models.

Run it without arguments to open the chat view. Replies stream as they are
generated; press Esc to stop one.

Examples:
  termchat
  termchat --model claude-3-haiku
  termchat ask "What does SIGPIPE mean?"
  termchat history`,
		Version:       version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupColor()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTUI(cmd, opts)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&opts.Model, "model", "m", "", "model to use (overrides config)")
	flags.StringVarP(&opts.Style, "style", "s", "", "response style (overrides config)")
	flags.StringVar(&opts.ConfigPath, "config", "", "config file (default ~/.termchat/config.toml)")
	flags.StringVarP(&opts.Conversation, "conversation", "c", "", "resume a saved conversation by id or id prefix")
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false, "also write logs to stderr")

	root.AddCommand(
		newAskCommand(opts),
		newChatCommand(opts),
		newModelsCommand(opts),
		newHistoryCommand(opts),
		newConfigCommand(opts),
	)
	return root
}

// Execute runs the command line.
func Execute(version string) error {
	return NewRootCommand(version).Execute()
}

func runTUI(cmd *cobra.Command, opts *Options) error {
	if !IsTTY() || !IsStdoutTTY() {
		return errors.New("the chat view needs a terminal; use 'termchat ask' or 'termchat chat' instead")
	}
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
	cfg := config.Global()
	return chat.Run(ctx, chat.Options{
		Session:        sess,
		Controller:     a.ctrl,
		Catalog:        a.catalog,
		Refresher:      a.refresher(),
		Styles:         cfg.StyleIDs(),
		KindOf:         a.kindOf,
		MaxTokens:      a.maxTokens,
		Theme:          styles.NewTheme(cfg.UI.Theme),
		ShowTimestamps: cfg.UI.ShowTimestamps,
		Logger:         a.log,
	})
}
