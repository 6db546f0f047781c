package index

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"math"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"golang.org/x/sync/singleflight"
)

// DefaultDims is the width of the hashed term vectors.
const DefaultDims = 256

// pointNamespace derives stable point ids from document keys.
var pointNamespace = uuid.MustParse("6f6d6f6d-692d-4964-8f63-756d656e7473")

// QdrantConfig configures the Qdrant backend.
type QdrantConfig struct {
	URL        string // "http://localhost:6333", "https://host:6334"
	APIKey     string
	Collection string
	Dims       uint64
}

// Qdrant stores documents as points carrying a hashed term-frequency
// vector and the document fields as payload.
type Qdrant struct {
	client     *qdrant.Client
	collection string
	dims       uint64
	logger     *slog.Logger
	txn        batches

	healthGroup singleflight.Group
	healthErr   atomic.Value // *error
	healthAt    atomic.Int64
}

// parseQdrantURL returns the gRPC host, port and TLS flag of a Qdrant URL.
// The REST port 6333 maps to the gRPC port 6334.
func parseQdrantURL(rawURL string) (host string, port int, useTLS bool, err error) {
	u, parseErr := url.Parse(rawURL)
	if parseErr != nil || u.Host == "" {
		return "", 0, false, fmt.Errorf("index: invalid qdrant URL: %q", rawURL)
	}
	useTLS = u.Scheme == "https"
	host = u.Hostname()
	port = 6334
	if portStr := u.Port(); portStr != "" {
		p, err := strconv.Atoi(portStr)
		if err != nil {
			return "", 0, false, fmt.Errorf("index: invalid port in qdrant URL: %q", portStr)
		}
		if p != 6333 {
			port = p
		}
	}
	return host, port, useTLS, nil
}

// NewQdrant connects to Qdrant over gRPC.
func NewQdrant(cfg QdrantConfig, logger *slog.Logger) (*Qdrant, error) {
	host, port, useTLS, err := parseQdrantURL(cfg.URL)
	if err != nil {
		return nil, err
	}
	if cfg.Dims == 0 {
		cfg.Dims = DefaultDims
	}
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: useTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("index: connect to qdrant at %s:%d: %w", host, port, err)
	}
	return &Qdrant{
		client:     client,
		collection: cfg.Collection,
		dims:       cfg.Dims,
		logger:     logger,
		txn:        newBatches(),
	}, nil
}

// EnsureCollection creates the collection and its payload indexes.
// Index creation is idempotent and always attempted.
func (q *Qdrant) EnsureCollection(ctx context.Context) error {
	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return fmt.Errorf("index: check collection exists: %w", err)
	}
	if !exists {
		if err := q.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: q.collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     q.dims,
				Distance: qdrant.Distance_Cosine,
			}),
		}); err != nil {
			return fmt.Errorf("index: create collection %q: %w", q.collection, err)
		}
		q.logger.Info("index: created qdrant collection", "collection", q.collection, "dims", q.dims)
	}

	keywordType := qdrant.FieldType_FieldTypeKeyword
	if _, err := q.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: q.collection,
		FieldName:      "kind",
		FieldType:      &keywordType,
	}); err != nil {
		return fmt.Errorf("index: ensure index on kind: %w", err)
	}
	intType := qdrant.FieldType_FieldTypeInteger
	for _, field := range []string{"account_id", "object_id"} {
		if _, err := q.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: q.collection,
			FieldName:      field,
			FieldType:      &intType,
		}); err != nil {
			return fmt.Errorf("index: ensure index on %q: %w", field, err)
		}
	}
	return nil
}

func (q *Qdrant) OpenWriteTransaction(accountID int64) bool {
	return q.txn.begin(accountID)
}

func (q *Qdrant) AddDocument(_ context.Context, doc Document) (int, error) {
	if err := q.txn.add(doc); err != nil {
		return 0, err
	}
	return doc.Size(), nil
}

// CloseWriteTransaction upserts the batch in one request.
func (q *Qdrant) CloseWriteTransaction(ctx context.Context, accountID int64) error {
	pending, ok := q.txn.end(accountID)
	if !ok {
		return ErrNoTransaction
	}
	if len(pending) == 0 {
		return nil
	}
	points := make([]*qdrant.PointStruct, len(pending))
	for i, d := range pending {
		points[i] = q.point(d)
	}
	if _, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         points,
	}); err != nil {
		return fmt.Errorf("index: qdrant upsert %d points: %w", len(points), err)
	}
	return nil
}

func (q *Qdrant) RemoveDocument(ctx context.Context, accountID int64, kind Kind, id int64) error {
	q.txn.drop(accountID, kind, id)
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collection,
		Wait:           qdrant.PtrOf(true),
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Points{
				Points: &qdrant.PointsIdsList{
					Ids: []*qdrant.PointId{qdrant.NewID(PointID(accountID, kind, id).String())},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("index: qdrant delete %s: %w", Key(kind, id), err)
	}
	return nil
}

func (q *Qdrant) point(d Document) *qdrant.PointStruct {
	payload := map[string]any{
		"account_id": d.AccountID,
		"kind":       string(d.Kind),
		"object_id":  d.ID,
		"content":    d.Content,
		"keywords":   toAny(d.Keywords),
	}
	for k, vs := range d.Fields {
		if len(vs) > 0 {
			payload[k] = toAny(vs)
		}
	}
	return &qdrant.PointStruct{
		Id:      qdrant.NewID(PointID(d.AccountID, d.Kind, d.ID).String()),
		Vectors: qdrant.NewVectorsDense(TermVector(d.Keywords, d.Content, q.dims)),
		Payload: qdrant.NewValueMap(payload),
	}
}

// PointID is the deterministic point id of a document.
func PointID(accountID int64, kind Kind, id int64) uuid.UUID {
	return uuid.NewSHA1(pointNamespace, []byte(strconv.FormatInt(accountID, 10)+"/"+Key(kind, id)))
}

// TermVector hashes the document's tokens into a dims-wide L2-normalized
// term-frequency vector. Keywords count double.
func TermVector(keywords []string, content string, dims uint64) []float32 {
	vec := make([]float32, dims)
	bump := func(tok string, w float32) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(tok))
		vec[uint64(h.Sum32())%dims] += w
	}
	for _, tok := range Tokenize(content) {
		bump(tok, 1)
	}
	for _, kw := range keywords {
		bump(kw, 2)
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		// Qdrant rejects zero vectors under cosine distance.
		vec[0] = 1
		return vec
	}
	inv := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= inv
	}
	return vec
}

func toAny(vs []string) []any {
	out := make([]any, len(vs))
	for i, v := range vs {
		out[i] = v
	}
	return out
}

// Healthy returns nil if Qdrant is reachable. Results are cached for five
// seconds and concurrent checks share one call.
func (q *Qdrant) Healthy(_ context.Context) error {
	if time.Since(time.Unix(0, q.healthAt.Load())) < 5*time.Second {
		return q.loadHealthErr()
	}
	result, _, _ := q.healthGroup.Do("health", func() (any, error) {
		checkCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		var err error
		if _, herr := q.client.HealthCheck(checkCtx); herr != nil {
			err = fmt.Errorf("index: qdrant unhealthy: %w", herr)
		}
		q.healthErr.Store(&err)
		q.healthAt.Store(time.Now().UnixNano())
		return err, nil
	})
	if result == nil {
		return nil
	}
	return result.(error)
}

func (q *Qdrant) loadHealthErr() error {
	v := q.healthErr.Load()
	if v == nil {
		return nil
	}
	return *v.(*error)
}

// Close shuts down the gRPC connection.
func (q *Qdrant) Close() error {
	return q.client.Close()
}
