package vectorstore

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"regexp"
	"strings"

	"github.com/SKN19-3rd-4th-Project/Well-dying/pkg/config"
)

const (
	ChargramModel = "welldying-chargram-384-v1"
	HashModel     = "welldying-hash-256-v1"
)

var tokenPattern = regexp.MustCompile(`[\p{L}\p{N}_\-]+`)

// NewEmbedder builds the embedder selected by cfg: "local" (default),
// "ollama" or "genai".
func NewEmbedder(ctx context.Context, cfg config.EmbeddingConfig) (Embedder, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", "local":
		return NewLocalEmbedder(cfg.Model), nil
	case "ollama":
		return NewOllamaEmbedder(cfg.Endpoint, cfg.Model), nil
	case "genai", "gemini":
		return NewGenAIEmbedder(ctx, cfg.APIKey, cfg.Model)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}

// NewLocalEmbedder returns an offline embedder. "hash" selects the token
// hash model, anything else the character n-gram model.
func NewLocalEmbedder(name string) Embedder {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case HashModel, "hash", "hash-256":
		return &hashEmbedder{dims: 256, modelID: HashModel}
	default:
		return &chargramEmbedder{dims: 384, modelID: ChargramModel}
	}
}

type hashEmbedder struct {
	dims    int
	modelID string
}

func (e *hashEmbedder) ModelID() string { return e.modelID }

func (e *hashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.dims)
	for _, token := range tokenize(text) {
		sum := hash64(token)
		sign := float32(1)
		if sum&1 == 1 {
			sign = -1
		}
		weight := float32(1 + len([]rune(token))/4)
		vec[int(sum%uint64(e.dims))] += sign * weight
	}
	normalizeVector(vec)
	return vec, nil
}

// chargramEmbedder hashes rune bigrams and trigrams plus whole tokens.
// Bigrams matter for Hangul where most content words are two or three
// syllables long.
type chargramEmbedder struct {
	dims    int
	modelID string
}

func (e *chargramEmbedder) ModelID() string { return e.modelID }

func (e *chargramEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.dims)
	normalized := strings.ToLower(strings.TrimSpace(text))
	if normalized == "" {
		return vec, nil
	}
	for _, token := range tokenize(normalized) {
		window := []rune("#" + token + "#")
		for n := 2; n <= 3; n++ {
			for i := 0; i+n <= len(window); i++ {
				vec[int(hash64(string(window[i:i+n]))%uint64(e.dims))] += 1
			}
		}
		vec[int(hash64("tok:"+token)%uint64(e.dims))] += 1.25
	}
	normalizeVector(vec)
	return vec, nil
}

func hash64(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}

func tokenize(text string) []string {
	text = strings.ToLower(text)
	matches := tokenPattern.FindAllString(text, -1)
	if len(matches) == 0 {
		if t := strings.TrimSpace(text); t != "" {
			return []string{t}
		}
		return nil
	}
	return matches
}

func vectorNorm(vec []float32) float64 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum)
}

func normalizeVector(vec []float32) {
	n := vectorNorm(vec)
	if n == 0 {
		return
	}
	inv := float32(1.0 / n)
	for i := range vec {
		vec[i] *= inv
	}
}

// cosine assumes nothing about normalisation; a zero vector scores 0.
func cosine(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func toString(v interface{}) string {
	switch t := v.(type) {
	case float64:
		if t == math.Trunc(t) {
			return fmt.Sprintf("%.0f", t)
		}
		return fmt.Sprintf("%g", t)
	default:
		return fmt.Sprintf("%v", t)
	}
}
