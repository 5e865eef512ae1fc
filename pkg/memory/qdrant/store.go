// Package qdrant implements the [memory.VectorStore] interface on a Qdrant
// server using named-vector collections.
//
// Each character owns exactly one collection
// (whisperengine_memory_<normalized_name>) holding three named vectors per
// point: content, emotion, and semantic. Every query is filtered server-side
// by user id so that no search can ever return another user's records.
package qdrant

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/whisperengine/whisperengine/pkg/memory"
	"github.com/whisperengine/whisperengine/pkg/provider/embeddings"
)

// Compile-time interface checks.
var (
	_ memory.VectorStore           = (*Store)(nil)
	_ memory.ContradictionDetector = (*Store)(nil)
)

// defaultLimit is applied when a caller passes limit <= 0.
const defaultLimit = 10

// Config holds the connection and scoping settings for a [Store].
type Config struct {
	// Host is the Qdrant gRPC host. Default "localhost".
	Host string

	// Port is the Qdrant gRPC port. Default 6334.
	Port int

	// APIKey optionally authenticates the connection.
	APIKey string

	// UseTLS enables TLS on the gRPC channel.
	UseTLS bool

	// Character is the character this store is scoped to. The collection
	// name is derived from the normalized form. Required.
	Character string
}

// Store is a per-character Qdrant-backed [memory.VectorStore].
// All methods are safe for concurrent use.
type Store struct {
	client     *qdrant.Client
	embedder   embeddings.Provider
	collection string

	// ensureOnce guards lazy collection creation.
	ensureOnce sync.Once
	ensureErr  error
}

// NewStore connects to Qdrant and returns a store scoped to cfg.Character.
// The collection is created lazily on first write so that read-only
// deployments against an existing collection need no write permissions.
func NewStore(cfg Config, embedder embeddings.Provider) (*Store, error) {
	if cfg.Character == "" {
		return nil, fmt.Errorf("qdrant store: character must not be empty")
	}
	if embedder == nil {
		return nil, fmt.Errorf("qdrant store: embedder must not be nil")
	}
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant store: create client: %w", err)
	}

	return &Store{
		client:     client,
		embedder:   embedder,
		collection: memory.CollectionName(cfg.Character),
	}, nil
}

// Collection returns the deterministic collection name this store writes to.
func (s *Store) Collection() string { return s.collection }

// Close releases the underlying gRPC connection.
func (s *Store) Close() error { return s.client.Close() }

// Ping verifies the Qdrant server is reachable. Used by readiness checks.
func (s *Store) Ping(ctx context.Context) error {
	if _, err := s.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("qdrant store: health check: %w", err)
	}
	return nil
}

// ensureCollection creates the three-named-vector collection and its payload
// indexes once. Safe to call concurrently; only the first caller does work.
func (s *Store) ensureCollection(ctx context.Context) error {
	s.ensureOnce.Do(func() {
		exists, err := s.client.CollectionExists(ctx, s.collection)
		if err != nil {
			s.ensureErr = fmt.Errorf("qdrant store: collection exists: %w", err)
			return
		}
		if exists {
			return
		}

		size := uint64(s.embedder.Dimensions())
		params := func() *qdrant.VectorParams {
			return &qdrant.VectorParams{Size: size, Distance: qdrant.Distance_Cosine}
		}
		err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: s.collection,
			VectorsConfig: qdrant.NewVectorsConfigMap(map[string]*qdrant.VectorParams{
				memory.VectorContent:  params(),
				memory.VectorEmotion:  params(),
				memory.VectorSemantic: params(),
			}),
		})
		if err != nil && !strings.Contains(err.Error(), "already exists") {
			s.ensureErr = fmt.Errorf("qdrant store: create collection: %w", err)
			return
		}

		// Payload indexes back the server-side user filter and the
		// chronological scroll ordering.
		for field, ftype := range map[string]qdrant.FieldType{
			"user_id":        qdrant.FieldType_FieldTypeKeyword,
			"timestamp_unix": qdrant.FieldType_FieldTypeInteger,
		} {
			_, err := s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
				CollectionName: s.collection,
				FieldName:      field,
				FieldType:      ftype.Enum(),
			})
			if err != nil && !strings.Contains(err.Error(), "already exists") {
				s.ensureErr = fmt.Errorf("qdrant store: index %s: %w", field, err)
				return
			}
		}
	})
	return s.ensureErr
}

// Store implements [memory.VectorStore]. It embeds the record's three vector
// views in one batch call and upserts a single point.
func (s *Store) Store(ctx context.Context, rec memory.Record) error {
	if err := s.ensureCollection(ctx); err != nil {
		return err
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	vecs, err := s.embedder.EmbedBatch(ctx, []string{
		rec.Content,
		emotionView(rec),
		semanticView(rec.Content),
	})
	if err != nil {
		return fmt.Errorf("qdrant store: embed record: %w", err)
	}

	point := &qdrant.PointStruct{
		Id: qdrant.NewID(rec.ID),
		Vectors: qdrant.NewVectorsMap(map[string]*qdrant.Vector{
			memory.VectorContent:  qdrant.NewVectorDense(vecs[0]),
			memory.VectorEmotion:  qdrant.NewVectorDense(vecs[1]),
			memory.VectorSemantic: qdrant.NewVectorDense(vecs[2]),
		}),
		Payload: encodePayload(rec),
	}

	_, err = s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Points:         []*qdrant.PointStruct{point},
	})
	if err != nil {
		return fmt.Errorf("qdrant store: upsert: %w", err)
	}
	return nil
}

// Search implements [memory.VectorStore]. With Fuse unset a single named
// vector is searched; otherwise one search per named vector runs and the
// results are reciprocal-rank-fused with the strategy weights.
func (s *Store) Search(ctx context.Context, q memory.SearchQuery) ([]memory.Record, error) {
	if q.UserID == "" {
		return nil, fmt.Errorf("qdrant store: search requires a user id")
	}
	if q.Strategy.Temporal() {
		return s.ScrollRecent(ctx, q.UserID, q.Limit)
	}
	limit := q.Limit
	if limit <= 0 {
		limit = defaultLimit
	}

	queryVec, err := s.embedder.Embed(ctx, q.Text)
	if err != nil {
		return nil, fmt.Errorf("qdrant store: embed query: %w", err)
	}

	if !q.Strategy.Fuse {
		list, err := s.queryVector(ctx, q.Strategy.Vectors[0], queryVec, q.UserID, limit)
		if err != nil {
			return nil, err
		}
		return sortByScore(list), nil
	}

	lists := make([][]ranked, 0, len(q.Strategy.Vectors))
	for _, name := range q.Strategy.Vectors {
		list, err := s.queryVector(ctx, name, queryVec, q.UserID, limit)
		if err != nil {
			return nil, err
		}
		lists = append(lists, list)
	}
	return fuseRRF(lists, q.Strategy.Weights, limit), nil
}

// queryVector runs one filtered similarity search against a named vector.
func (s *Store) queryVector(ctx context.Context, vectorName string, vec []float32, userID string, limit int) ([]ranked, error) {
	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQueryDense(vec),
		Using:          qdrant.PtrOf(vectorName),
		Filter:         userFilter(userID),
		Limit:          qdrant.PtrOf(uint64(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant store: query %s vector: %w", vectorName, err)
	}

	out := make([]ranked, 0, len(points))
	for _, p := range points {
		out = append(out, ranked{rec: decodePayload(pointID(p.Id), p.Payload), score: p.Score})
	}
	return out, nil
}

// ScrollRecent implements [memory.VectorStore]: time-ordered descending with
// no vector scoring.
func (s *Store) ScrollRecent(ctx context.Context, userID string, limit int) ([]memory.Record, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	points, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: s.collection,
		Filter:         userFilter(userID),
		Limit:          qdrant.PtrOf(uint32(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
		OrderBy: &qdrant.OrderBy{
			Key:       "timestamp_unix",
			Direction: qdrant.Direction_Desc.Enum(),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant store: scroll: %w", err)
	}

	recs := make([]memory.Record, 0, len(points))
	for _, p := range points {
		recs = append(recs, decodePayload(pointID(p.Id), p.Payload))
	}
	return recs, nil
}

// History implements [memory.VectorStore]. Latest records first; the shape is
// identical to ScrollRecent, kept separate so callers express intent.
func (s *Store) History(ctx context.Context, userID string, limit int) ([]memory.Record, error) {
	return s.ScrollRecent(ctx, userID, limit)
}

// contradictionScan caps how many recent records are compared per call.
const contradictionScan = 20

// DetectContradictions implements [memory.ContradictionDetector]: it returns
// prior records whose content similarity to newContent falls below threshold.
// Low similarity against recent context signals an abrupt topic juxtaposition.
func (s *Store) DetectContradictions(ctx context.Context, newContent, userID string, threshold float64) ([]memory.Contradiction, error) {
	vec, err := s.embedder.Embed(ctx, newContent)
	if err != nil {
		return nil, fmt.Errorf("qdrant store: embed contradiction probe: %w", err)
	}
	list, err := s.queryVector(ctx, memory.VectorContent, vec, userID, contradictionScan)
	if err != nil {
		return nil, err
	}

	var out []memory.Contradiction
	for _, r := range list {
		if float64(r.score) < threshold {
			out = append(out, memory.Contradiction{Record: r.rec, Similarity: float64(r.score)})
		}
	}
	return out, nil
}

// userFilter builds the mandatory server-side user scoping filter.
func userFilter(userID string) *qdrant.Filter {
	return &qdrant.Filter{
		Must: []*qdrant.Condition{qdrant.NewMatch("user_id", userID)},
	}
}

// pointID extracts the string form of a point id.
func pointID(id *qdrant.PointId) string {
	if id == nil {
		return ""
	}
	if u := id.GetUuid(); u != "" {
		return u
	}
	return fmt.Sprintf("%d", id.GetNum())
}

// emotionView renders the text embedded into the emotion vector: the
// emotional label fronts the content so the emotion space separates turns by
// mood before meaning.
func emotionView(rec memory.Record) string {
	label := rec.EmotionLabel
	if label == "" {
		label = "neutral"
	}
	return "emotion " + label + ": " + rec.Content
}

// semanticView condenses content into its topical terms for the semantic
// vector: stopwords dropped, order preserved, capped at 32 words.
func semanticView(content string) string {
	words := strings.Fields(strings.ToLower(content))
	kept := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.Trim(w, ".,!?;:\"'()[]")
		if w == "" || stopwords[w] {
			continue
		}
		kept = append(kept, w)
		if len(kept) == 32 {
			break
		}
	}
	if len(kept) == 0 {
		return content
	}
	return strings.Join(kept, " ")
}

// stopwords is the shared minimal English stopword list used when deriving
// the semantic vector view.
var stopwords = map[string]bool{
	"a": true, "an": true, "the": true, "and": true, "or": true, "but": true,
	"i": true, "you": true, "he": true, "she": true, "it": true, "we": true,
	"they": true, "me": true, "my": true, "your": true, "is": true, "are": true,
	"was": true, "were": true, "be": true, "been": true, "to": true, "of": true,
	"in": true, "on": true, "at": true, "for": true, "with": true, "about": true,
	"that": true, "this": true, "these": true, "those": true, "so": true,
	"do": true, "does": true, "did": true, "have": true, "has": true, "had": true,
	"not": true, "just": true, "very": true, "really": true, "what": true,
	"when": true, "where": true, "how": true, "why": true, "can": true,
	"could": true, "would": true, "should": true, "will": true, "there": true,
}
