package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestWrapQdrant(t *testing.T) {
	t.Parallel()

	notFound := fmt.Errorf("Query() failed: %w", status.Error(codes.NotFound, "Collection `x` doesn't exist"))
	if err := wrapQdrant("search", "x", notFound); !errors.Is(err, ErrCollectionNotFound) {
		t.Errorf("NotFound mapped to %v", err)
	}

	unavailable := status.Error(codes.Unavailable, "connection refused")
	var se *StoreError
	if err := wrapQdrant("search", "x", unavailable); !errors.As(err, &se) || se.Op != "search" {
		t.Errorf("Unavailable mapped to %v", err)
	}

	if err := wrapQdrant("search", "x", context.Canceled); !errors.Is(err, context.Canceled) {
		t.Errorf("context error mapped to %v", err)
	}
}

func TestPointIDRoundTrip(t *testing.T) {
	t.Parallel()

	for _, id := range []string{"42", "3f1c2b7e-5d8a-4c1e-9b7a-0e2d4f6a8b9c"} {
		if got := idString(pointID(id)); got != id {
			t.Errorf("idString(pointID(%q)) = %q", id, got)
		}
	}
	if got := idString(nil); got != "" {
		t.Errorf("idString(nil) = %q", got)
	}
}

func TestPayloadFromValues(t *testing.T) {
	t.Parallel()

	values := qdrant.NewValueMap(map[string]any{
		"description": "Lisbon tram ride",
		"lat":         38.7,
		"tags":        []any{"tram", "city"},
	})
	got := payloadFromValues(values)
	if got.Description() != "Lisbon tram ride" {
		t.Errorf("description = %q", got.Description())
	}
	if got["lat"] != 38.7 {
		t.Errorf("lat = %v", got["lat"])
	}
	if tags, ok := got["tags"].([]any); !ok || len(tags) != 2 {
		t.Errorf("tags = %v", got["tags"])
	}
}
