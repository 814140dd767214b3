// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

//go:build !windows

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

// findOllamaExecutable searches PATH and the usual install locations.
func findOllamaExecutable() (string, error) {
	if path, err := exec.LookPath("ollama"); err == nil {
		return path, nil
	}

	candidates := []string{
		"/usr/local/bin/ollama",
		"/usr/bin/ollama",
		"/opt/ollama/ollama",
		"/Applications/Ollama.app/Contents/Resources/ollama",
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates,
			filepath.Join(home, ".local", "bin", "ollama"),
			filepath.Join(home, "bin", "ollama"),
		)
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", exec.ErrNotFound
}

// startOllamaProcess launches `ollama serve` in its own process group so it
// outlives us, then waits up to ten seconds for it to answer.
func (c *Client) startOllamaProcess(ctx context.Context) error {
	path, err := findOllamaExecutable()
	if err != nil {
		return llm.NewError(llm.ErrorNetwork, providerName, "ollama executable not found", err)
	}

	cmd := exec.Command(path, "serve")
	// GPU selection variables (OLLAMA_*, CUDA_*) must reach the server.
	cmd.Env = os.Environ()
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return llm.NewError(llm.ErrorNetwork, providerName, "failed to start ollama serve", err)
	}
	if cmd.Process != nil {
		_ = cmd.Process.Release()
	}
	c.log.Info("started server", zap.String("path", path))

	return c.waitRunning(ctx, 10*time.Second)
}
