package embedding

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHashDeterministicAndNormalised(t *testing.T) {
	t.Parallel()

	h := NewHash(64)
	a, err := h.Embed(context.Background(), "Sunset over the Lisbon harbour", "sunset over the lisbon harbour!")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if len(a) != 2 || len(a[0]) != 64 {
		t.Fatalf("unexpected shape %d x %d", len(a), len(a[0]))
	}
	for i := range a[0] {
		if a[0][i] != a[1][i] {
			t.Fatalf("case and punctuation changed the vector at %d", i)
		}
	}
	var norm float64
	for _, v := range a[0] {
		norm += float64(v) * float64(v)
	}
	if math.Abs(norm-1) > 1e-5 {
		t.Errorf("norm = %v, want 1", norm)
	}
}

func TestHashSimilarTextsScoreHigher(t *testing.T) {
	t.Parallel()

	h := NewHash(512)
	vecs, err := h.Embed(context.Background(),
		"surfing in the morning at the beach",
		"morning surfing on the beach",
		"museum of modern art tickets",
	)
	if err != nil {
		t.Fatal(err)
	}
	if dot(vecs[0], vecs[1]) <= dot(vecs[0], vecs[2]) {
		t.Errorf("related texts scored %v, unrelated %v", dot(vecs[0], vecs[1]), dot(vecs[0], vecs[2]))
	}
}

func TestHashEmptyText(t *testing.T) {
	t.Parallel()

	vecs, err := NewHash(8).Embed(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	for _, v := range vecs[0] {
		if v != 0 {
			t.Fatalf("empty text produced %v", vecs[0])
		}
	}
}

func TestOpenAIEmbedOrdersByIndex(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode: %v", err)
		}
		if body["dimensions"] != float64(3) {
			t.Errorf("dimensions = %v, want 3", body["dimensions"])
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","model":"m","usage":{"prompt_tokens":2,"total_tokens":2},"data":[
			{"object":"embedding","index":1,"embedding":[0,1,0]},
			{"object":"embedding","index":0,"embedding":[1,0,0]}]}`))
	}))
	defer srv.Close()

	e := NewOpenAI(OpenAIConfig{APIKey: "k", BaseURL: srv.URL, Model: "m", Dimension: 3, HTTPClient: srv.Client()})
	got, err := e.Embed(context.Background(), "first", "second")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if got[0][0] != 1 || got[1][1] != 1 {
		t.Fatalf("vectors out of order: %v", got)
	}
}

func dot(a, b []float32) float32 {
	var s float32
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}
