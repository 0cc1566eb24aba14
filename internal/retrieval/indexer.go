package retrieval

import (
	"context"
	"fmt"
	"strconv"

	"github.com/ashureev/tripmind/internal/domain"
	"github.com/ashureev/tripmind/internal/embedding"
	"github.com/ashureev/tripmind/internal/logging"
	"github.com/ashureev/tripmind/internal/vectorstore"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	indexBatchSize   = 32
	indexConcurrency = 4
)

// Indexer embeds trip steps into the trip's collection.
type Indexer struct {
	store    vectorstore.Store
	embedder embedding.Embedder
}

// NewIndexer returns an indexer.
func NewIndexer(store vectorstore.Store, embedder embedding.Embedder) *Indexer {
	return &Indexer{store: store, embedder: embedder}
}

// IndexTrip creates the collection if needed and upserts one point per
// step. Point ids derive from the trip and step ids, so re-indexing a trip
// replaces its points. It returns the number of points written.
func (ix *Indexer) IndexTrip(ctx context.Context, trip *domain.Trip, userTripID string) (int, error) {
	collection := CollectionName(userTripID)
	log := logging.FromContext(ctx).With("collection", collection)

	exists, err := ix.store.CollectionExists(ctx, collection)
	if err != nil {
		return 0, err
	}
	if !exists {
		if err := ix.store.CreateCollection(ctx, collection, ix.embedder.Dimension()); err != nil {
			return 0, err
		}
		log.Info("Created collection", "dimension", ix.embedder.Dimension())
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(indexConcurrency)
	for start := 0; start < len(trip.AllSteps); start += indexBatchSize {
		batch := trip.AllSteps[start:min(start+indexBatchSize, len(trip.AllSteps))]
		g.Go(func() error {
			return ix.indexBatch(gctx, collection, userTripID, batch)
		})
	}
	if err := g.Wait(); err != nil {
		log.Error("Indexing trip failed", "error", err)
		return 0, err
	}
	log.Info("Indexed trip", "trip", trip.Name, "steps", len(trip.AllSteps))
	return len(trip.AllSteps), nil
}

func (ix *Indexer) indexBatch(ctx context.Context, collection, userTripID string, steps []domain.TripStep) error {
	texts := make([]string, 0, len(steps))
	for _, s := range steps {
		texts = append(texts, s.Text())
	}
	vectors, err := ix.embedder.Embed(ctx, texts...)
	if err != nil {
		return &vectorstore.StoreError{Op: "embed", Collection: collection, Err: err}
	}
	if len(vectors) != len(steps) {
		return &vectorstore.StoreError{Op: "embed", Collection: collection,
			Err: fmt.Errorf("got %d vectors for %d steps", len(vectors), len(steps))}
	}

	points := make([]vectorstore.Point, 0, len(steps))
	for i, s := range steps {
		points = append(points, vectorstore.Point{
			ID:      PointID(userTripID, s.ID),
			Vector:  vectors[i],
			Payload: s.Payload(),
		})
	}
	return ix.store.Upsert(ctx, collection, points)
}

// PointID is the stable point id of a trip step.
func PointID(userTripID string, stepID int64) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(userTripID+"/"+strconv.FormatInt(stepID, 10))).String()
}
