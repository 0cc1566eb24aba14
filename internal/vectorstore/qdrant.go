package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/ashureev/tripmind/internal/domain"
	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// maxRecvMsgSize bounds a single gRPC reply; scroll pages carry full payloads.
const maxRecvMsgSize = 32 << 20

// QdrantConfig configures the Qdrant backend.
type QdrantConfig struct {
	Host   string
	Port   int
	APIKey string
	UseTLS bool
}

// Qdrant is a Store backed by a Qdrant server over gRPC.
type Qdrant struct {
	client *qdrant.Client
}

var _ Store = (*Qdrant)(nil)

// NewQdrant dials Qdrant.
func NewQdrant(cfg QdrantConfig) (*Qdrant, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(grpc.MaxCallRecvMsgSize(maxRecvMsgSize)),
		},
		KeepAliveTime: 30,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to qdrant %s:%d: %w", cfg.Host, cfg.Port, err)
	}
	return &Qdrant{client: client}, nil
}

func (q *Qdrant) CollectionExists(ctx context.Context, name string) (bool, error) {
	ok, err := q.client.CollectionExists(ctx, name)
	if err != nil {
		return false, wrapQdrant("exists", name, err)
	}
	return ok, nil
}

func (q *Qdrant) CreateCollection(ctx context.Context, name string, dim int) error {
	err := q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfigMap(map[string]*qdrant.VectorParams{
			VectorName: {Size: uint64(dim), Distance: qdrant.Distance_Cosine},
		}),
	})
	if err != nil {
		return wrapQdrant("create", name, err)
	}
	return nil
}

func (q *Qdrant) Upsert(ctx context.Context, name string, points []Point) error {
	structs := make([]*qdrant.PointStruct, 0, len(points))
	for _, p := range points {
		payload, err := qdrant.TryValueMap(p.Payload)
		if err != nil {
			return &StoreError{Op: "upsert", Collection: name, Err: fmt.Errorf("point %s payload: %w", p.ID, err)}
		}
		structs = append(structs, &qdrant.PointStruct{
			Id: pointID(p.ID),
			Vectors: qdrant.NewVectorsMap(map[string]*qdrant.Vector{
				VectorName: qdrant.NewVectorDense(p.Vector),
			}),
			Payload: payload,
		})
	}
	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: name,
		Wait:           qdrant.PtrOf(true),
		Points:         structs,
	})
	if err != nil {
		return wrapQdrant("upsert", name, err)
	}
	return nil
}

func (q *Qdrant) Search(ctx context.Context, name string, vector []float32, k int) ([]Record, error) {
	hits, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: name,
		Query:          qdrant.NewQueryDense(vector),
		Using:          qdrant.PtrOf(VectorName),
		Limit:          qdrant.PtrOf(uint64(k)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, wrapQdrant("search", name, err)
	}
	out := make([]Record, 0, len(hits))
	for _, h := range hits {
		out = append(out, Record{ID: idString(h.GetId()), Score: h.GetScore(), Payload: payloadFromValues(h.GetPayload())})
	}
	return out, nil
}

func (q *Qdrant) Scroll(ctx context.Context, name string, limit int, cursor string) ([]Record, string, error) {
	req := &qdrant.ScrollPoints{
		CollectionName: name,
		Limit:          qdrant.PtrOf(uint32(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if cursor != "" {
		req.Offset = pointID(cursor)
	}
	points, next, err := q.client.ScrollAndOffset(ctx, req)
	if err != nil {
		return nil, "", wrapQdrant("scroll", name, err)
	}
	out := make([]Record, 0, len(points))
	for _, p := range points {
		out = append(out, Record{ID: idString(p.GetId()), Payload: payloadFromValues(p.GetPayload())})
	}
	return out, idString(next), nil
}

func (q *Qdrant) Close() error {
	return q.client.Close()
}

func wrapQdrant(op, name string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if status.Code(err) == codes.NotFound {
		return &CollectionNotFoundError{Collection: name}
	}
	return &StoreError{Op: op, Collection: name, Err: err}
}

func pointID(id string) *qdrant.PointId {
	if n, err := strconv.ParseUint(id, 10, 64); err == nil {
		return qdrant.NewIDNum(n)
	}
	return qdrant.NewIDUUID(id)
}

func idString(id *qdrant.PointId) string {
	if id == nil {
		return ""
	}
	if u := id.GetUuid(); u != "" {
		return u
	}
	return strconv.FormatUint(id.GetNum(), 10)
}

func payloadFromValues(values map[string]*qdrant.Value) domain.JournalEntry {
	out := make(domain.JournalEntry, len(values))
	for k, v := range values {
		out[k] = valueToAny(v)
	}
	return out
}

func valueToAny(v *qdrant.Value) any {
	switch kind := v.GetKind().(type) {
	case *qdrant.Value_StringValue:
		return kind.StringValue
	case *qdrant.Value_DoubleValue:
		return kind.DoubleValue
	case *qdrant.Value_IntegerValue:
		return kind.IntegerValue
	case *qdrant.Value_BoolValue:
		return kind.BoolValue
	case *qdrant.Value_StructValue:
		m := make(map[string]any, len(kind.StructValue.GetFields()))
		for k, f := range kind.StructValue.GetFields() {
			m[k] = valueToAny(f)
		}
		return m
	case *qdrant.Value_ListValue:
		list := make([]any, 0, len(kind.ListValue.GetValues()))
		for _, item := range kind.ListValue.GetValues() {
			list = append(list, valueToAny(item))
		}
		return list
	default:
		return nil
	}
}
