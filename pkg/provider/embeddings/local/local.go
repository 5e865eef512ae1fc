// Package local provides a deterministic in-process embeddings provider.
//
// It maps text to a fixed-size vector by hashing word-level features into
// buckets (feature hashing) and L2-normalizing the result. Quality is far
// below a learned model, but the output is stable across runs and requires
// no external service, which makes it the default for development and for
// deployments that set USE_EXTERNAL_EMBEDDINGS=false.
package local

import (
	"context"
	"hash/fnv"
	"math"
	"strings"

	"github.com/whisperengine/whisperengine/pkg/provider/embeddings"
)

// DefaultDimensions matches the all-MiniLM family so that collections
// created against the local provider remain loadable when a deployment
// later switches to a real MiniLM endpoint.
const DefaultDimensions = 384

// Ensure Provider implements the embeddings.Provider interface.
var _ embeddings.Provider = (*Provider)(nil)

// Provider is a hash-based embeddings provider. Safe for concurrent use;
// it holds no mutable state.
type Provider struct {
	dims int
}

// New constructs a local Provider. dims <= 0 selects DefaultDimensions.
func New(dims int) *Provider {
	if dims <= 0 {
		dims = DefaultDimensions
	}
	return &Provider{dims: dims}
}

// Embed implements embeddings.Provider. Never fails; the context is only
// consulted for early cancellation.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return p.vectorize(text), nil
}

// EmbedBatch implements embeddings.Provider.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = p.vectorize(t)
	}
	return out, nil
}

// Dimensions implements embeddings.Provider.
func (p *Provider) Dimensions() int {
	return p.dims
}

// ModelID implements embeddings.Provider.
func (p *Provider) ModelID() string {
	return "local-feature-hash"
}

// vectorize hashes unigrams and adjacent bigrams into buckets. Bigrams get
// half weight; they give the vector a little word-order sensitivity.
func (p *Provider) vectorize(text string) []float32 {
	vec := make([]float32, p.dims)
	words := strings.Fields(strings.ToLower(text))
	if len(words) == 0 {
		return vec
	}

	for i, w := range words {
		bucket, sign := p.hash(w)
		vec[bucket] += sign
		if i > 0 {
			bucket, sign = p.hash(words[i-1] + " " + w)
			vec[bucket] += sign * 0.5
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		inv := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec
}

// hash maps a feature to a bucket index and a ±1 sign. The sign bit keeps
// hash collisions from systematically inflating bucket values.
func (p *Provider) hash(feature string) (int, float32) {
	h := fnv.New64a()
	h.Write([]byte(feature))
	sum := h.Sum64()

	bucket := int(sum % uint64(p.dims))
	sign := float32(1)
	if sum&(1<<63) != 0 {
		sign = -1
	}
	return bucket, sign
}
