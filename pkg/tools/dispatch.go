package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/SKN19-3rd-4th-Project/Well-dying/pkg/logger"
	"github.com/SKN19-3rd-4th-Project/Well-dying/pkg/recommend"
	"github.com/SKN19-3rd-4th-Project/Well-dying/pkg/retrieval"
)

// Retriever is the search surface the info and empathy tools need.
type Retriever interface {
	SearchFacilities(ctx context.Context, query string, regions []string) retrieval.Result
	SearchOrdinance(ctx context.Context, kind retrieval.OrdinanceKind, query, region string) retrieval.Result
	SearchDigitalLegacy(ctx context.Context, query string) retrieval.Result
	SearchInheritanceLaw(ctx context.Context, query string) retrieval.Result
	SearchEmpathyQuestions(ctx context.Context, topic string) retrieval.Result
}

type Recommender interface {
	Recommend(p recommend.Profile, stage recommend.Stage) []recommend.Candidate
}

// ActivityPicks is how many activities one recommendation offers.
const ActivityPicks = 2

// Dispatcher executes typed calls against the retrieval and recommendation
// backends.
type Dispatcher struct {
	retriever   Retriever
	recommender Recommender
}

func NewDispatcher(retriever Retriever, recommender Recommender) *Dispatcher {
	return &Dispatcher{retriever: retriever, recommender: recommender}
}

// Execute runs call. Backend failures come back as text the model can relay,
// never as a Go error.
func (d *Dispatcher) Execute(ctx context.Context, call Call) *ToolResult {
	switch c := call.(type) {
	case FacilitySearch:
		regions, dropped := c.AllRegions()
		if len(dropped) > 0 {
			logger.WarnCF("tool", "Facility search limited to the first regions",
				map[string]interface{}{
					"kept":    regions,
					"dropped": dropped,
					"limit":   MaxFacilityRegions,
				})
		}
		return d.search(d.retriever.SearchFacilities(ctx, c.Query, regions))
	case OrdinanceSearch:
		return d.search(d.retriever.SearchOrdinance(ctx, c.Ordinance, c.Query, c.Region))
	case DigitalLegacySearch:
		return d.search(d.retriever.SearchDigitalLegacy(ctx, c.Query))
	case InheritanceLawSearch:
		return d.search(d.retriever.SearchInheritanceLaw(ctx, c.Query))
	case EmpathyQuestionSearch:
		res := d.retriever.SearchEmpathyQuestions(ctx, c.Topic)
		out := NewToolResult(retrieval.FormatQuestions(res))
		if res.Outcome == retrieval.BackendUnavailable {
			out.IsError = true
			out.Err = res.Err
		}
		return out
	case ActivityRecommendation:
		return d.recommend(ctx, c)
	default:
		return ErrorResult(fmt.Sprintf("unsupported tool call %T", call))
	}
}

func (d *Dispatcher) search(res retrieval.Result) *ToolResult {
	out := NewToolResult(res.Format())
	if res.Outcome == retrieval.BackendUnavailable {
		out.IsError = true
		out.Err = res.Err
	}
	return out
}

func (d *Dispatcher) recommend(ctx context.Context, c ActivityRecommendation) *ToolResult {
	state := turnStateFromContext(ctx)
	profile := recommend.Profile{
		Emotion:  strings.TrimSpace(c.Emotion),
		Mobility: strings.TrimSpace(c.Mobility),
	}
	stage := recommend.Late
	if state != nil {
		if profile.Emotion == "" {
			profile.Emotion = state.Emotion
		}
		if profile.Mobility == "" {
			profile.Mobility = state.Mobility
		}
		if state.Stage != "" {
			stage = recommend.Stage(state.Stage)
		}
	}

	picked := recommend.Select(d.recommender.Recommend(profile, stage), state.Recent(), ActivityPicks)
	if state != nil && len(picked) > 0 {
		state.SetRecent(recommend.Remember(state.Recent(), picked))
	}
	logger.DebugCF("tool", "Activities recommended", map[string]interface{}{
		"emotion":  profile.Emotion,
		"mobility": profile.Mobility,
		"stage":    string(stage),
		"picked":   len(picked),
	})
	return NewToolResult(recommend.Format(profile.Emotion, picked))
}

// KindTool exposes one Kind through the Tool interface so it can sit in a
// ToolRegistry and run inside RunToolLoop.
type KindTool struct {
	kind       Kind
	dispatcher *Dispatcher
}

func NewKindTool(kind Kind, dispatcher *Dispatcher) *KindTool {
	return &KindTool{kind: kind, dispatcher: dispatcher}
}

func (t *KindTool) Name() string        { return string(t.kind) }
func (t *KindTool) Description() string { return Definition(t.kind).Function.Description }
func (t *KindTool) Parameters() map[string]interface{} {
	return Definition(t.kind).Function.Parameters
}

func (t *KindTool) Execute(ctx context.Context, args map[string]interface{}) *ToolResult {
	call, err := DecodeCall(string(t.kind), args)
	if err != nil {
		return ErrorResult(err.Error()).WithError(err)
	}
	return t.dispatcher.Execute(ctx, call)
}

// NewModeRegistry registers kinds, and only those, backed by d.
func NewModeRegistry(d *Dispatcher, kinds []Kind) *ToolRegistry {
	tools := make([]Tool, 0, len(kinds))
	for _, k := range kinds {
		tools = append(tools, NewKindTool(k, d))
	}
	return NewToolRegistry(tools...)
}
