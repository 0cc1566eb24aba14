package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ashureev/tripmind/internal/agent"
	"github.com/google/go-cmp/cmp"
)

const tripJSON = `{
  "id": 7,
  "user_id": 1,
  "name": "Lisbon",
  "all_steps": [
    {"id": 1, "display_name": "Alfama", "description": "Fado night", "location": {"name": "Alfama", "country_code": "PT"}},
    {"id": 2, "display_name": "Belem", "description": "Pasteis", "location": {"name": "Belem", "country_code": "PT"}}
  ]
}`

func testEnv(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("DB_PATH", filepath.Join(dir, "tripmind.db"))
	t.Setenv("VECTOR_STORE", "memory")
	t.Setenv("MEMORY_BACKEND", "memory")
	t.Setenv("EMBEDDING_PROVIDER", "hash")
	t.Setenv("CONVERSATION_LOG_ENABLED", "false")
}

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd(defaultOpener(slog.New(slog.NewTextHandler(io.Discard, nil))))
	var out bytes.Buffer
	root.SetIn(strings.NewReader(stdin))
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(t.Context())
	return out.String(), err
}

func TestIndexFromFile(t *testing.T) {
	testEnv(t)
	path := filepath.Join(t.TempDir(), "trip.json")
	if err := os.WriteFile(path, []byte(tripJSON), 0o600); err != nil {
		t.Fatal(err)
	}

	out, err := run(t, "", "index", "--user-id", "alice", "--trip-id", "lisbon", "--file", path)
	if err != nil {
		t.Fatalf("index: %v", err)
	}
	if !strings.Contains(out, "Indexed 2 step(s)") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestIndexFromStdinRejectsInvalidTrip(t *testing.T) {
	testEnv(t)

	_, err := run(t, `{"all_steps": []}`, "index", "--user-id", "alice", "--trip-id", "lisbon")
	if err == nil || !strings.Contains(err.Error(), "invalid trip") {
		t.Fatalf("want invalid trip error, got %v", err)
	}
}

func TestCommandsRequireUser(t *testing.T) {
	testEnv(t)

	_, err := run(t, "", "ask", "where did we eat?")
	if err == nil || err.Error() != "missing required flag(s): --user-id, --trip-id" {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestFactsListEmpty(t *testing.T) {
	testEnv(t)

	out, err := run(t, "", "facts", "list", "--user-id", "alice")
	if err != nil {
		t.Fatalf("facts list: %v", err)
	}
	if strings.TrimSpace(out) != "[]" {
		t.Fatalf("want empty list, got %q", out)
	}
}

type scriptedChat struct {
	replies []*agent.ChatReply
	errs    []error
	got     []agent.ChatRequest
}

func (s *scriptedChat) Reply(_ context.Context, req agent.ChatRequest) (*agent.ChatReply, error) {
	i := len(s.got)
	s.got = append(s.got, req)
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	return s.replies[i], nil
}

func TestChatLoop(t *testing.T) {
	t.Parallel()

	chat := &scriptedChat{
		replies: []*agent.ChatReply{
			{Answer: "Where to?"},
			nil,
			{Answer: "Day 1: Alfama", Planned: true},
		},
		errs: []error{nil, errors.New("boom"), nil},
	}
	base := agent.ChatRequest{UserID: "alice", ConversationID: "c1", Channel: agent.ChannelCLI}
	var out bytes.Buffer

	err := chatLoop(t.Context(), chat, strings.NewReader("hi\nagain\nLisbon please\n\nignored\n"), &out, base)
	if err != nil {
		t.Fatalf("chatLoop: %v", err)
	}

	var queries []string
	for _, req := range chat.got {
		if req.ConversationID != "c1" || req.Channel != agent.ChannelCLI {
			t.Fatalf("request lost its conversation: %+v", req)
		}
		queries = append(queries, req.UserQuery)
	}
	if diff := cmp.Diff([]string{"hi", "again", "Lisbon please"}, queries); diff != "" {
		t.Fatalf("queries mismatch (-want +got):\n%s", diff)
	}
	for _, want := range []string{"conversation c1", "Where to?", "error: boom", "Day 1: Alfama", "(plan ready)"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}
}
