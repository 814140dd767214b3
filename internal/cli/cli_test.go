// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/termchat/internal/config"
	"github.com/jeranaias/termchat/internal/generation"
	"github.com/jeranaias/termchat/internal/model"
	"github.com/jeranaias/termchat/internal/storage"
	"github.com/jeranaias/termchat/internal/stream"
)

// =============================================================================
// HELPERS
// =============================================================================

// isolate gives the test its own data directory and a fake Ollama server,
// and clears every provider variable.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("TERMCHAT_HOME", dir)
	for _, k := range []string{
		"OPENAI_API_KEY", "ANTHROPIC_API_KEY", "OPENAI_COMPAT_BASE_URL",
		"OPENAI_COMPAT_API_KEY", "TERMCHAT_MODEL", "TERMCHAT_STYLE", "TERMCHAT_LOG_LEVEL",
	} {
		t.Setenv(k, "")
	}
	t.Setenv("OLLAMA_BASE_URL", fakeOllama(t).URL)
	config.ResetGlobalForTesting()
	t.Cleanup(config.ResetGlobalForTesting)
	return dir
}

// fakeOllama serves a warm llama2 that answers "Hi there".
func fakeOllama(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"models":[{"name":"llama2:latest"}]}`)
	})
	mux.HandleFunc("/api/ps", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"models":[{"name":"llama2:latest","model":"llama2:latest"}]}`)
	})
	mux.HandleFunc("/api/generate", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Stream bool `json:"stream"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		if !req.Stream {
			fmt.Fprint(w, `{"model":"llama2","response":"Greeting exchange","done":true}`)
			return
		}
		for _, line := range []string{
			`{"model":"llama2","response":"Hi","done":false}`,
			`{"model":"llama2","response":" there","done":false}`,
			`{"model":"llama2","response":"","done":true}`,
		} {
			fmt.Fprintln(w, line)
			w.(http.Flusher).Flush()
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// run executes the command line with args and returns stdout and stderr.
func run(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := NewRootCommand("test")
	root.SetArgs(args)
	root.SetIn(strings.NewReader(stdin))
	root.SetOut(&out)
	root.SetErr(&errOut)
	err := root.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

// =============================================================================
// COMMANDS
// =============================================================================

func TestAsk_StreamsReply(t *testing.T) {
	isolate(t)

	out, _, err := run(t, "", "--model", "llama2", "ask", "hello")
	require.NoError(t, err)
	assert.Equal(t, "Hi there\n", out)
}

func TestAsk_ReadsPromptFromStdin(t *testing.T) {
	isolate(t)

	out, _, err := run(t, "hello from a pipe\n", "--model", "llama2", "ask")
	require.NoError(t, err)
	assert.Equal(t, "Hi there\n", out)
}

func TestAsk_NoStream(t *testing.T) {
	isolate(t)

	out, _, err := run(t, "", "--model", "llama2", "ask", "--no-stream", "hello")
	require.NoError(t, err)
	assert.Equal(t, "Greeting exchange\n", out)
}

func TestAsk_UnknownModelFails(t *testing.T) {
	isolate(t)

	_, errOut, err := run(t, "", "--model", "no-such-model", "ask", "hello")
	require.Error(t, err)
	assert.Equal(t, 1, ExitCode(err))
	assert.False(t, ShouldPrint(err), "the failure was already printed")
	assert.Contains(t, errOut, "Error: ")
}

func TestAsk_SaveThenHistory(t *testing.T) {
	isolate(t)

	_, _, err := run(t, "", "--model", "llama2", "ask", "--save", "hello")
	require.NoError(t, err)

	out, _, err := run(t, "", "history")
	require.NoError(t, err)
	assert.Contains(t, out, "Greeting exchange", "the saved conversation is titled")
	assert.NotContains(t, out, "No conversations found.")
}

func TestAsk_NoStreamSaveStoresReply(t *testing.T) {
	dir := isolate(t)

	out, _, err := run(t, "", "--model", "llama2", "ask", "--no-stream", "--save", "hello")
	require.NoError(t, err)
	assert.Contains(t, out, "Greeting exchange")

	store, err := storage.Open(filepath.Join(dir, "history.db"), storage.Options{})
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()
	list, err := store.ListConversations(ctx, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)

	conv, err := store.GetConversation(ctx, list[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "Greeting exchange", conv.Title)
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, model.RoleUser, conv.Messages[0].Role)
	assert.Equal(t, "hello", conv.Messages[0].Content)
	assert.Equal(t, model.RoleAssistant, conv.Messages[1].Role)
	assert.Equal(t, "Greeting exchange", conv.Messages[1].Content)
}

func TestHistory_PrintAndExport(t *testing.T) {
	dir := isolate(t)

	_, _, err := run(t, "", "--model", "llama2", "ask", "--save", "hello")
	require.NoError(t, err)

	store, err := storage.Open(filepath.Join(dir, "history.db"), storage.Options{})
	require.NoError(t, err)
	list, err := store.ListConversations(context.Background(), 0)
	store.Close()
	require.NoError(t, err)
	require.Len(t, list, 1)
	id := list[0].ID[:8]

	out, _, err := run(t, "", "history", id)
	require.NoError(t, err)
	assert.Contains(t, out, "# Greeting exchange")
	assert.Contains(t, out, "### User")
	assert.Contains(t, out, "Hi there")

	exportDir := filepath.Join(dir, "exports")
	out, _, err = run(t, "", "history", id, "--export", "json", "-o", exportDir)
	require.NoError(t, err)
	assert.Contains(t, out, "Exported to ")

	files, err := filepath.Glob(filepath.Join(exportDir, "*.json"))
	require.NoError(t, err)
	require.Len(t, files, 1)
	data, err := os.ReadFile(files[0])
	require.NoError(t, err)
	assert.Contains(t, string(data), `"content": "Hi there"`)

	_, _, err = run(t, "", "history", "--export", "json")
	assert.Error(t, err, "export needs an id")
}

func TestHistory_Empty(t *testing.T) {
	isolate(t)

	out, _, err := run(t, "", "history")
	require.NoError(t, err)
	assert.Contains(t, out, "No conversations found.")
}

func TestHistory_UnknownID(t *testing.T) {
	isolate(t)

	_, _, err := run(t, "", "history", "deadbeef")
	require.Error(t, err)
	assert.True(t, ShouldPrint(err))
}

func TestConfig_SetGetPath(t *testing.T) {
	dir := isolate(t)
	t.Setenv("OPENAI_API_KEY", "sk-from-env")

	out, _, err := run(t, "", "config", "path")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "config.toml"), strings.TrimSpace(out))

	_, _, err = run(t, "", "config", "set", "selected_style", "concise")
	require.NoError(t, err)

	out, _, err = run(t, "", "config", "get", "selected_style")
	require.NoError(t, err)
	assert.Equal(t, "concise", strings.TrimSpace(out))

	data, err := os.ReadFile(filepath.Join(dir, "config.toml"))
	require.NoError(t, err)
	assert.NotContains(t, string(data), "sk-from-env")
}

func TestConfig_SetRejectsInvalidValue(t *testing.T) {
	isolate(t)

	_, _, err := run(t, "", "config", "set", "stream.flush_size", "lots")
	assert.Error(t, err)
}

func TestModels_ListsConfiguredAndServerModels(t *testing.T) {
	isolate(t)

	out, _, err := run(t, "", "--model", "llama2", "models")
	require.NoError(t, err)
	assert.Contains(t, out, "* llama2")
	assert.Contains(t, out, "gpt-4")
	assert.Contains(t, out, "(unavailable)", "openai has no key")
}

func TestRoot_RejectsArguments(t *testing.T) {
	isolate(t)

	_, _, err := run(t, "", "what", "is", "this")
	assert.Error(t, err)
}

// =============================================================================
// OUTPUT
// =============================================================================

func TestPrinter_PrintsOnlyNewText(t *testing.T) {
	var out, errOut bytes.Buffer
	p := newPrinter(&out, &errOut)

	p.update("Hel")
	p.update("Hello")
	p.update("Hello, world")
	require.NoError(t, p.finish(generation.Outcome{Kind: stream.Completed, Text: "Hello, world!"}))

	assert.Equal(t, "Hello, world!\n", out.String())
	assert.Empty(t, errOut.String())
}

func TestPrinter_Cancelled(t *testing.T) {
	var out, errOut bytes.Buffer
	p := newPrinter(&out, &errOut)

	p.update("partial")
	require.NoError(t, p.finish(generation.Outcome{Kind: stream.Cancelled, Text: "partial"}))
	assert.Equal(t, "partial\n", out.String())
	assert.Contains(t, errOut.String(), generation.StoppedNotice)
}

func TestPrinter_Failed(t *testing.T) {
	var out, errOut bytes.Buffer
	p := newPrinter(&out, &errOut)

	reply := model.NewPlaceholder()
	reply.Fail("Error: could not reach ollama")
	p.update("part")
	p.update(reply.Text)

	err := p.finish(generation.Outcome{Kind: stream.Failed, Err: errors.New("boom"), Reply: reply})
	assert.ErrorIs(t, err, errTurnFailed)
	assert.Equal(t, "part\n", out.String())
	assert.Contains(t, errOut.String(), "Error: could not reach ollama")
}

func TestReadPrompt(t *testing.T) {
	got, err := readPrompt([]string{"two", "words"}, strings.NewReader("ignored"))
	require.NoError(t, err)
	assert.Equal(t, "two words", got)

	got, err = readPrompt(nil, strings.NewReader("  piped \n"))
	require.NoError(t, err)
	assert.Equal(t, "piped", got)

	_, err = readPrompt(nil, strings.NewReader(""))
	assert.Error(t, err)
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, ExitCode(nil))
	assert.Equal(t, 1, ExitCode(errors.New("x")))
	assert.Equal(t, 3, ExitCode(&ExitError{Code: 3}))
	assert.True(t, ShouldPrint(errors.New("x")))
	assert.False(t, ShouldPrint(nil))
}
