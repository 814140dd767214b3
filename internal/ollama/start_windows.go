// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

//go:build windows

package ollama

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/jeranaias/termchat/internal/llm"
)

const (
	createNoWindow  = 0x08000000
	detachedProcess = 0x00000008
)

// findOllamaExecutable searches PATH and the usual install locations.
func findOllamaExecutable() (string, error) {
	for _, name := range []string{"ollama.exe", "ollama"} {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}

	var candidates []string
	if local := os.Getenv("LOCALAPPDATA"); local != "" {
		candidates = append(candidates, filepath.Join(local, "Programs", "Ollama", "ollama.exe"))
	}
	candidates = append(candidates,
		`C:\Program Files\Ollama\ollama.exe`,
		`C:\Program Files (x86)\Ollama\ollama.exe`,
	)
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", exec.ErrNotFound
}

// startOllamaProcess launches `ollama serve` detached from our console,
// then waits up to ten seconds for it to answer.
func (c *Client) startOllamaProcess(ctx context.Context) error {
	path, err := findOllamaExecutable()
	if err != nil {
		return llm.NewError(llm.ErrorNetwork, providerName, "ollama executable not found", err)
	}

	cmd := exec.Command(path, "serve")
	cmd.Env = os.Environ()
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: createNoWindow | detachedProcess,
		HideWindow:    true,
	}

	if err := cmd.Start(); err != nil {
		return llm.NewError(llm.ErrorNetwork, providerName, "failed to start ollama serve", err)
	}
	if cmd.Process != nil {
		_ = cmd.Process.Release()
	}
	c.log.Info("started server", zap.String("path", path))

	return c.waitRunning(ctx, 10*time.Second)
}
