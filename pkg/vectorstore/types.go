// Package vectorstore is the similarity-search index behind the retrieval
// tools: namespaced documents with metadata, embedded by a pluggable
// Embedder and ranked by cosine similarity.
package vectorstore

import (
	"context"
	"errors"
)

// Knowledge-base namespaces.
const (
	NamespaceFacilities    = "funeral_facilities"
	NamespaceOrdinance     = "ordinance"
	NamespaceDigitalLegacy = "digital_legacy"
	NamespaceLegacy        = "legacy"
	NamespaceTalkAssets    = "talk_assets"
)

var (
	ErrInvalidFilter = errors.New("vectorstore: invalid filter")
	ErrClosed        = errors.New("vectorstore: index closed")
)

// Document is one indexed snippet.
type Document struct {
	ID        string                 `json:"id,omitempty"`
	Namespace string                 `json:"namespace"`
	Text      string                 `json:"text"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Match is a ranked search hit.
type Match struct {
	ID       string
	Score    float64
	Text     string
	Metadata map[string]interface{}
}

// MetaString returns metadata[key] as a string, or "" when absent.
func (m Match) MetaString(key string) string {
	if m.Metadata == nil {
		return ""
	}
	switch v := m.Metadata[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return toString(v)
	}
}

// Condition restricts a metadata field. One value means equality, more than
// one means membership.
type Condition struct {
	Field  string
	Values []string
}

func Eq(field, value string) Condition { return Condition{Field: field, Values: []string{value}} }

func In(field string, values ...string) Condition {
	return Condition{Field: field, Values: append([]string(nil), values...)}
}

// Filter is a conjunction of conditions.
type Filter []Condition

// Query is a single similarity search.
type Query struct {
	Namespace string
	Text      string
	K         int
	Filter    Filter
}

// Searcher is the read side used by the retrieval toolset.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Match, error)
}

// Embedder turns text into a vector. ModelID is persisted next to every
// vector so an index built with one model is never searched with another.
type Embedder interface {
	ModelID() string
	Embed(ctx context.Context, text string) ([]float32, error)
}
