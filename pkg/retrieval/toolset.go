package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/SKN19-3rd-4th-Project/Well-dying/pkg/config"
	"github.com/SKN19-3rd-4th-Project/Well-dying/pkg/logger"
	"github.com/SKN19-3rd-4th-Project/Well-dying/pkg/region"
	"github.com/SKN19-3rd-4th-Project/Well-dying/pkg/vectorstore"
)

// OrdinanceKind picks which ordinance family to search.
type OrdinanceKind string

const (
	PublicFuneral    OrdinanceKind = "public_funeral"
	CremationSubsidy OrdinanceKind = "cremation_subsidy"
)

var errUnknownKind = errors.New("unknown ordinance kind")

func (k OrdinanceKind) docType() string {
	switch k {
	case PublicFuneral:
		return "Public_Funeral_Ordinance"
	case CremationSubsidy:
		return "Cremation_Subsidy_Ordinance"
	}
	return ""
}

func (k OrdinanceKind) domains() []string {
	switch k {
	case PublicFuneral:
		return []string{region.DomainPublicFuneral}
	case CremationSubsidy:
		return []string{region.DomainCremationDetail, region.DomainCremationEtcetera}
	}
	return nil
}

func (k OrdinanceKind) tool() string {
	return "search_" + string(k) + "_ordinance"
}

// Options are the search budgets.
type Options struct {
	FacilityBudget      int
	FacilityExpansions  int
	OrdinanceExpansions int
	OrdinanceTopK       int
	ReferenceTopK       int
	QuestionTopK        int
}

func DefaultOptions() Options {
	return OptionsFromConfig(config.DefaultConfig().Retrieval)
}

func OptionsFromConfig(c config.RetrievalConfig) Options {
	return Options{
		FacilityBudget:      c.FacilityBudget,
		FacilityExpansions:  c.FacilityExpansions,
		OrdinanceExpansions: c.OrdinanceExpansions,
		OrdinanceTopK:       c.OrdinanceTopK,
		ReferenceTopK:       c.ReferenceTopK,
		QuestionTopK:        c.QuestionTopK,
	}
}

// Toolset is stateless apart from its read-only gazetteers and is safe for
// concurrent use.
type Toolset struct {
	index      vectorstore.Searcher
	facilities []string
	ordinance  region.Gazetteer
	opts       Options
}

// New wires a toolset. facilities is flattened into one sorted list since
// facility regions are matched across every facility domain at once.
func New(index vectorstore.Searcher, facilities, ordinance region.Gazetteer, opts Options) *Toolset {
	return &Toolset{
		index:      index,
		facilities: facilities.All(),
		ordinance:  ordinance,
		opts:       opts,
	}
}

// SearchFacilities splits the facility budget evenly across regions, runs
// one search per region and merges the hits, dropping exact duplicates.
func (t *Toolset) SearchFacilities(ctx context.Context, query string, regions []string) Result {
	const tool = "search_funeral_facilities"
	if len(regions) == 0 {
		regions = []string{""}
	}
	k := t.opts.FacilityBudget / len(regions)
	if k < 1 {
		k = 1
	}

	var (
		merged   []vectorstore.Match
		seen     = map[string]struct{}{}
		failures int
		lastErr  error
		resolved []string
		named    bool
	)
	for _, rgn := range regions {
		q := vectorstore.Query{Namespace: vectorstore.NamespaceFacilities, Text: query, K: k}
		if strings.TrimSpace(rgn) != "" {
			named = true
			if matched := region.Match(rgn, t.facilities, t.opts.FacilityExpansions); len(matched) > 0 {
				q.Filter = vectorstore.Filter{regionCondition(matched)}
				resolved = append(resolved, matched...)
			}
		}

		hits, err := t.index.Search(ctx, q)
		if err != nil {
			failures++
			lastErr = err
			logger.WarnCF("retrieval", "Facility search failed for region", map[string]interface{}{
				"region": rgn,
				"error":  err.Error(),
			})
			continue
		}
		for _, h := range hits {
			if _, dup := seen[h.Text]; dup {
				continue
			}
			seen[h.Text] = struct{}{}
			merged = append(merged, h)
		}
	}

	if failures == len(regions) {
		return unavailable(tool, query, fmt.Errorf("all %d facility searches failed: %w", failures, lastErr))
	}
	res := newResult(tool, query, merged)
	res.RegionRequested = named
	res.RegionResolved = len(resolved) > 0
	res.Regions = resolved
	logger.InfoCF("retrieval", "Facility search", map[string]interface{}{
		"regions":  len(regions),
		"per_k":    k,
		"hits":     len(merged),
		"failures": failures,
	})
	return res
}

// SearchOrdinance always filters by the kind's document type. A region that
// cannot be resolved leaves the search unfiltered by region.
func (t *Toolset) SearchOrdinance(ctx context.Context, kind OrdinanceKind, query, rgn string) Result {
	docType := kind.docType()
	if docType == "" {
		return unavailable("search_ordinance", query, fmt.Errorf("%w: %q", errUnknownKind, kind))
	}

	filter := vectorstore.Filter{vectorstore.Eq("type", docType)}
	var matched []string
	named := strings.TrimSpace(rgn) != ""
	if named {
		matched = region.Match(rgn, t.ordinance.Domain(kind.domains()...), t.opts.OrdinanceExpansions)
		if len(matched) > 0 {
			filter = append(filter, regionCondition(matched))
		}
	}

	hits, err := t.index.Search(ctx, vectorstore.Query{
		Namespace: vectorstore.NamespaceOrdinance,
		Text:      query,
		K:         t.opts.OrdinanceTopK,
		Filter:    filter,
	})
	if err != nil {
		logger.WarnCF("retrieval", "Ordinance search failed", map[string]interface{}{
			"kind":  string(kind),
			"error": err.Error(),
		})
		return unavailable(kind.tool(), query, err)
	}
	res := newResult(kind.tool(), query, hits)
	res.RegionRequested = named
	res.RegionResolved = len(matched) > 0
	res.Regions = matched
	return res
}

func (t *Toolset) SearchDigitalLegacy(ctx context.Context, query string) Result {
	return t.reference(ctx, "search_digital_legacy", vectorstore.NamespaceDigitalLegacy, query)
}

func (t *Toolset) SearchInheritanceLaw(ctx context.Context, query string) Result {
	return t.reference(ctx, "search_inheritance_law", vectorstore.NamespaceLegacy, query)
}

func (t *Toolset) reference(ctx context.Context, tool, namespace, query string) Result {
	hits, err := t.index.Search(ctx, vectorstore.Query{Namespace: namespace, Text: query, K: t.opts.ReferenceTopK})
	if err != nil {
		logger.WarnCF("retrieval", "Reference search failed", map[string]interface{}{
			"namespace": namespace,
			"error":     err.Error(),
		})
		return unavailable(tool, query, err)
	}
	return newResult(tool, query, hits)
}

// SearchEmpathyQuestions finds conversation prompts related to what the user
// just said.
func (t *Toolset) SearchEmpathyQuestions(ctx context.Context, topic string) Result {
	const tool = "search_empathy_questions"
	hits, err := t.index.Search(ctx, vectorstore.Query{
		Namespace: vectorstore.NamespaceTalkAssets,
		Text:      topic,
		K:         t.opts.QuestionTopK,
		Filter:    vectorstore.Filter{vectorstore.Eq("type", "question")},
	})
	if err != nil {
		logger.WarnCF("retrieval", "Question search failed", map[string]interface{}{"error": err.Error()})
		return unavailable(tool, topic, err)
	}
	return newResult(tool, topic, hits)
}

func regionCondition(matched []string) vectorstore.Condition {
	if len(matched) == 1 {
		return vectorstore.Eq("region", matched[0])
	}
	return vectorstore.In("region", matched...)
}
