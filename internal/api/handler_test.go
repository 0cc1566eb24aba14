//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/tripmind/internal/agent"
	"github.com/ashureev/tripmind/internal/domain"
	"github.com/ashureev/tripmind/internal/llm"
	"github.com/ashureev/tripmind/internal/retrieval"
	"github.com/ashureev/tripmind/internal/vectorstore"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
	"github.com/google/go-cmp/cmp"
)

type fakeJournal struct {
	docs []domain.JournalEntry
	err  error

	mu          sync.Mutex
	userTripIDs []string
	limits      []int
}

func (f *fakeJournal) record(userTripID string, limit int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.userTripIDs = append(f.userTripIDs, userTripID)
	f.limits = append(f.limits, limit)
}

func (f *fakeJournal) SearchJournalEntries(_ context.Context, _ string, userTripID string, limit int) ([]domain.JournalEntry, error) {
	f.record(userTripID, limit)
	return f.docs, f.err
}

func (f *fakeJournal) SearchWithGeneration(_ context.Context, _ string, userTripID string, limit int) (*retrieval.Answer, error) {
	f.record(userTripID, limit)
	if f.err != nil {
		return nil, f.err
	}
	return &retrieval.Answer{Answer: "You loved Kyoto.", EnoughContext: true, Documents: f.docs}, nil
}

type fakeIndexer struct {
	trip       *domain.Trip
	userTripID string
}

func (f *fakeIndexer) IndexTrip(_ context.Context, trip *domain.Trip, userTripID string) (int, error) {
	f.trip, f.userTripID = trip, userTripID
	return len(trip.AllSteps), nil
}

type fakePlanner struct {
	step     *agent.PlanStep
	err      error
	maxSteps int
}

func (f *fakePlanner) Run(_ context.Context, _, _, _ string, maxSteps int) (*agent.PlanStep, error) {
	f.maxSteps = maxSteps
	return f.step, f.err
}

type fakeFacts struct {
	facts []domain.Fact
}

func (f *fakeFacts) ExtractFacts(_ context.Context, userID, _ string, _ int) ([]domain.Fact, error) {
	return f.facts, nil
}

func (f *fakeFacts) List(_ context.Context, userID string) ([]domain.Fact, error) {
	var out []domain.Fact
	for _, fact := range f.facts {
		if fact.UserID == userID {
			out = append(out, fact)
		}
	}
	return out, nil
}

type fakeChat struct {
	mu   sync.Mutex
	reqs []agent.ChatRequest
}

func (f *fakeChat) Reply(_ context.Context, req agent.ChatRequest) (*agent.ChatReply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	if req.UserQuery == "" {
		return nil, agent.ErrEmptyQuery
	}
	return &agent.ChatReply{Answer: "echo: " + req.UserQuery, ConversationID: req.ConversationID}, nil
}

type fakeDB struct{ err error }

func (f fakeDB) Ping(context.Context) error { return f.err }

func newServer(t *testing.T, svc Services, opts Options) http.Handler {
	t.Helper()
	h := NewHandler(svc, opts)
	t.Cleanup(h.Close)
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	return r
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"foo": "bar"}

	JSON(w, http.StatusOK, data)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var got map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if got["foo"] != "bar" {
		t.Errorf("Expected foo=bar, got %v", got["foo"])
	}
}

func TestSearch(t *testing.T) {
	t.Parallel()

	journal := &fakeJournal{docs: []domain.JournalEntry{{"display_name": "Kyoto"}}}
	srv := newServer(t, Services{Journal: journal}, Options{})

	w := do(t, srv, http.MethodPost, "/journal/search", map[string]any{"user_query": "temples", "user_id": "u1", "trip_id": "t1"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body)
	}
	got := decodeBody[searchResponse](t, w)
	if diff := cmp.Diff(journal.docs, got.Documents); diff != "" {
		t.Fatalf("documents mismatch (-want +got):\n%s", diff)
	}
	if journal.userTripIDs[0] != "u1_t1" || journal.limits[0] != defaultSearchLimit {
		t.Fatalf("searched %v with limits %v", journal.userTripIDs, journal.limits)
	}
}

func TestSearchMissingCollectionIs404(t *testing.T) {
	t.Parallel()

	journal := &fakeJournal{err: fmt.Errorf("search: %w", &vectorstore.CollectionNotFoundError{Collection: "u1_t1_trip_collection"})}
	srv := newServer(t, Services{Journal: journal}, Options{})

	for _, path := range []string{"/journal/search", "/journal/search_with_generation"} {
		w := do(t, srv, http.MethodPost, path, map[string]any{"user_query": "q", "user_id": "u1", "trip_id": "t1"})
		if w.Code != http.StatusNotFound {
			t.Fatalf("%s status = %d, want 404", path, w.Code)
		}
		if !strings.Contains(w.Body.String(), "u1_t1_trip_collection") {
			t.Fatalf("%s body = %s", path, w.Body)
		}
	}
}

func TestSearchValidation(t *testing.T) {
	t.Parallel()

	srv := newServer(t, Services{Journal: &fakeJournal{}}, Options{})

	w := do(t, srv, http.MethodPost, "/journal/search", map[string]any{"user_query": "q"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if got := decodeBody[map[string]string](t, w)["error"]; got != "missing required field(s): trip_id, user_id" {
		t.Fatalf("error = %q", got)
	}

	w = do(t, srv, http.MethodPost, "/journal/search", "{not json")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("malformed body status = %d, want 400", w.Code)
	}
}

func TestSearchWithGeneration(t *testing.T) {
	t.Parallel()

	srv := newServer(t, Services{Journal: &fakeJournal{}}, Options{})
	w := do(t, srv, http.MethodPost, "/journal/search_with_generation", map[string]any{"user_query": "q", "user_id": "u", "trip_id": "t", "limit": 3})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body)
	}
	got := decodeBody[map[string]any](t, w)
	if got["answer"] != "You loved Kyoto." {
		t.Fatalf("answer = %v", got["answer"])
	}
	if docs, ok := got["documents"].([]any); !ok || len(docs) != 0 {
		t.Fatalf("documents = %#v, want empty list", got["documents"])
	}
}

func TestIndex(t *testing.T) {
	t.Parallel()

	indexer := &fakeIndexer{}
	srv := newServer(t, Services{Indexer: indexer}, Options{})
	trip := map[string]any{
		"id": 1, "user_id": 2, "name": "Japan",
		"all_steps": []any{map[string]any{"id": 10, "display_name": "Kyoto", "description": "Temples"}},
	}

	w := do(t, srv, http.MethodPost, "/journal/index", map[string]any{"user_id": "u1", "trip_id": "t1", "trip": trip})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body)
	}
	got := decodeBody[indexResponse](t, w)
	if diff := cmp.Diff(indexResponse{Indexed: 1, CollectionName: "u1_t1_trip_collection"}, got); diff != "" {
		t.Fatalf("response mismatch (-want +got):\n%s", diff)
	}
	if indexer.userTripID != "u1_t1" || indexer.trip.Name != "Japan" {
		t.Fatalf("indexed %q %+v", indexer.userTripID, indexer.trip)
	}

	w = do(t, srv, http.MethodPost, "/journal/index", map[string]any{"user_id": "u1", "trip_id": "t1", "trip": map[string]any{"id": 1}})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("trip without name status = %d, want 400", w.Code)
	}
}

func TestPlanTripDefaultsMaxSteps(t *testing.T) {
	t.Parallel()

	planner := &fakePlanner{step: &agent.PlanStep{Thought: "t", Final: true, Answer: "Day 1"}}
	srv := newServer(t, Services{Planner: planner}, Options{})

	w := do(t, srv, http.MethodPost, "/planner/plan_trip", map[string]any{"user_query": "q", "user_id": "u", "trip_id": "t"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body)
	}
	if diff := cmp.Diff(planResponse{Answer: "Day 1", Thought: "t", Final: true}, decodeBody[planResponse](t, w)); diff != "" {
		t.Fatalf("response mismatch (-want +got):\n%s", diff)
	}
	if planner.maxSteps != 5 {
		t.Fatalf("maxSteps = %d, want 5", planner.maxSteps)
	}
}

func TestPlanTripModelFailureIs500WithApology(t *testing.T) {
	t.Parallel()

	exhausted := &llm.ExhaustedError{Models: []string{"m"}, Attempts: 1, Last: llm.NewError(llm.KindServiceUnavailable, "m", errors.New("down"))}
	srv := newServer(t, Services{Planner: &fakePlanner{err: exhausted}}, Options{})

	w := do(t, srv, http.MethodPost, "/planner/plan_trip", map[string]any{"user_query": "q", "user_id": "u", "trip_id": "t"})
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	if got := decodeBody[map[string]string](t, w)["error"]; got != apologyMessage {
		t.Fatalf("error = %q", got)
	}
}

func TestPlanTripModelRateLimitIs429(t *testing.T) {
	t.Parallel()

	exhausted := &llm.ExhaustedError{Models: []string{"m"}, Attempts: 3, Last: llm.NewError(llm.KindRateLimit, "m", errors.New("slow down"))}
	srv := newServer(t, Services{Planner: &fakePlanner{err: exhausted}}, Options{})

	w := do(t, srv, http.MethodPost, "/planner/plan_trip", map[string]any{"user_query": "q", "user_id": "u", "trip_id": "t"})
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
}

func TestPlanTripRateLimitedPerUser(t *testing.T) {
	t.Parallel()

	planner := &fakePlanner{step: &agent.PlanStep{Final: true, Answer: "ok"}}
	srv := newServer(t, Services{Planner: planner}, Options{RateLimitRequests: 1, RateLimitWindow: time.Hour})
	body := map[string]any{"user_query": "q", "user_id": "u", "trip_id": "t"}

	if w := do(t, srv, http.MethodPost, "/planner/plan_trip", body); w.Code != http.StatusOK {
		t.Fatalf("first status = %d", w.Code)
	}
	if w := do(t, srv, http.MethodPost, "/planner/plan_trip", body); w.Code != http.StatusTooManyRequests {
		t.Fatalf("second status = %d, want 429", w.Code)
	}
	body["user_id"] = "other"
	if w := do(t, srv, http.MethodPost, "/planner/plan_trip", body); w.Code != http.StatusOK {
		t.Fatalf("other user status = %d", w.Code)
	}
}

func TestFactsEndpoints(t *testing.T) {
	t.Parallel()

	facts := &fakeFacts{facts: []domain.Fact{
		{UserID: "u1", Category: "food", FactText: "Loves ramen"},
		{UserID: "u2", Category: "pace", FactText: "Slow travel"},
	}}
	srv := newServer(t, Services{Facts: facts}, Options{})

	w := do(t, srv, http.MethodGet, "/user_facts/u1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d", w.Code)
	}
	if diff := cmp.Diff(facts.facts[:1], decodeBody[factsResponse](t, w).Facts); diff != "" {
		t.Fatalf("list mismatch (-want +got):\n%s", diff)
	}

	w = do(t, srv, http.MethodGet, "/user_facts/nobody", nil)
	if got := decodeBody[map[string]any](t, w)["facts"]; got == nil {
		t.Fatal("expected an empty list, got null")
	}

	w = do(t, srv, http.MethodPost, "/user_facts/extract_facts", map[string]any{"user_id": "u1"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("extract without trip status = %d, want 400", w.Code)
	}
	w = do(t, srv, http.MethodPost, "/user_facts/extract_facts", map[string]any{"user_id": "u1", "trip_id": "t1"})
	if w.Code != http.StatusOK {
		t.Fatalf("extract status = %d", w.Code)
	}
}

func TestChatReply(t *testing.T) {
	t.Parallel()

	chat := &fakeChat{}
	srv := newServer(t, Services{Chat: chat}, Options{})

	w := do(t, srv, http.MethodPost, "/chat/reply", map[string]any{"user_query": "hi", "user_id": "u", "trip_id": "t", "conversation_id": "c"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body)
	}
	got := decodeBody[agent.ChatReply](t, w)
	if got.Answer != "echo: hi" || got.ConversationID != "c" {
		t.Fatalf("reply = %+v", got)
	}
	if chat.reqs[0].Channel != agent.ChannelHTTP {
		t.Fatalf("Channel = %q", chat.reqs[0].Channel)
	}
}

func TestChatSocket(t *testing.T) {
	t.Parallel()

	chat := &fakeChat{}
	ts := httptest.NewServer(newServer(t, Services{Chat: chat}, Options{}))
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ws, _, err := websocket.Dial(ctx, ts.URL+"/chat/ws?user_id=u1&trip_id=t1&conversation_id=c9", nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer func() { _ = ws.Close(websocket.StatusNormalClosure, "") }()

	if err := wsjson.Write(ctx, ws, chatMessage{UserQuery: "hello"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	var reply agent.ChatReply
	if err := wsjson.Read(ctx, ws, &reply); err != nil {
		t.Fatalf("read: %v", err)
	}
	if reply.Answer != "echo: hello" || reply.ConversationID != "c9" {
		t.Fatalf("reply = %+v", reply)
	}

	if err := wsjson.Write(ctx, ws, chatMessage{}); err != nil {
		t.Fatalf("write: %v", err)
	}
	var failure socketError
	if err := wsjson.Read(ctx, ws, &failure); err != nil {
		t.Fatalf("read: %v", err)
	}
	if failure.Status != http.StatusBadRequest {
		t.Fatalf("failure = %+v, want 400", failure)
	}

	chat.mu.Lock()
	defer chat.mu.Unlock()
	if chat.reqs[0].Channel != agent.ChannelWebSocket || chat.reqs[0].TripID != "t1" {
		t.Fatalf("request = %+v", chat.reqs[0])
	}
}

func TestHealth(t *testing.T) {
	t.Parallel()

	w := do(t, newServer(t, Services{DB: fakeDB{}}, Options{}), http.MethodGet, "/healthz", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	w = do(t, newServer(t, Services{DB: fakeDB{err: errors.New("locked")}}, Options{}), http.MethodGet, "/healthz", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("degraded status = %d, want 503", w.Code)
	}
}
