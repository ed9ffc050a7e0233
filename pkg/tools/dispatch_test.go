package tools

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SKN19-3rd-4th-Project/Well-dying/pkg/recommend"
	"github.com/SKN19-3rd-4th-Project/Well-dying/pkg/retrieval"
	"github.com/SKN19-3rd-4th-Project/Well-dying/pkg/vectorstore"
)

type fakeRetriever struct {
	calls   []string
	regions []string
	result  retrieval.Result
}

func (f *fakeRetriever) record(name string) retrieval.Result {
	f.calls = append(f.calls, name)
	r := f.result
	r.Tool = name
	return r
}

func (f *fakeRetriever) SearchFacilities(_ context.Context, _ string, regions []string) retrieval.Result {
	f.regions = regions
	return f.record("facilities")
}
func (f *fakeRetriever) SearchOrdinance(_ context.Context, kind retrieval.OrdinanceKind, _, _ string) retrieval.Result {
	return f.record("ordinance:" + string(kind))
}
func (f *fakeRetriever) SearchDigitalLegacy(context.Context, string) retrieval.Result {
	return f.record("digital_legacy")
}
func (f *fakeRetriever) SearchInheritanceLaw(context.Context, string) retrieval.Result {
	return f.record("inheritance")
}
func (f *fakeRetriever) SearchEmpathyQuestions(context.Context, string) retrieval.Result {
	return f.record("questions")
}

type fakeRecommender struct {
	got   recommend.Profile
	stage recommend.Stage
	out   []recommend.Candidate
}

func (f *fakeRecommender) Recommend(p recommend.Profile, stage recommend.Stage) []recommend.Candidate {
	f.got, f.stage = p, stage
	return f.out
}

func candidates(names ...string) []recommend.Candidate {
	out := make([]recommend.Candidate, 0, len(names))
	for _, n := range names {
		out = append(out, recommend.Candidate{Activity: recommend.Activity{Name: n, Category: recommend.Sensory, Meaning: 1}})
	}
	return out
}

func TestDispatcher_RoutesEachKind(t *testing.T) {
	r := &fakeRetriever{result: retrieval.Result{Outcome: retrieval.Found, Snippets: []vectorstore.Match{{ID: "1", Text: "자료"}}}}
	d := NewDispatcher(r, &fakeRecommender{})
	ctx := context.Background()

	d.Execute(ctx, FacilitySearch{Query: "q", Region: "수원", Regions: []string{"용인"}})
	d.Execute(ctx, OrdinanceSearch{Ordinance: retrieval.CremationSubsidy, Query: "q"})
	d.Execute(ctx, DigitalLegacySearch{Query: "q"})
	d.Execute(ctx, InheritanceLawSearch{Query: "q"})
	res := d.Execute(ctx, EmpathyQuestionSearch{Topic: "q"})

	assert.Equal(t, []string{"facilities", "ordinance:cremation_subsidy", "digital_legacy", "inheritance", "questions"}, r.calls)
	assert.Equal(t, []string{"수원", "용인"}, r.regions)
	assert.False(t, res.IsError)
}

func TestDispatcher_FacilitySearchComparesAtMostThreeRegions(t *testing.T) {
	r := &fakeRetriever{result: retrieval.Result{Outcome: retrieval.Found, Snippets: []vectorstore.Match{{ID: "1", Text: "자료"}}}}
	registry := NewModeRegistry(NewDispatcher(r, &fakeRecommender{}), InfoKinds)

	regions := []interface{}{"서울", "부산", "대구", "인천", "광주", "대전", "울산", "세종", "수원", "용인", "성남", "고양"}
	res := registry.Execute(context.Background(), string(KindFacilities), map[string]interface{}{
		"query":   "장례식장",
		"regions": regions,
	})

	require.False(t, res.IsError, res.ForLLM)
	assert.Equal(t, []string{"facilities"}, r.calls)
	assert.Equal(t, []string{"서울", "부산", "대구"}, r.regions)
	assert.Contains(t, Definition(KindFacilities).Function.Description, "최대 3개")
}

func TestDispatcher_BackendUnavailableIsTextNotPanic(t *testing.T) {
	r := &fakeRetriever{result: retrieval.Result{Outcome: retrieval.BackendUnavailable, Err: errors.New("index closed")}}
	d := NewDispatcher(r, &fakeRecommender{})

	res := d.Execute(context.Background(), DigitalLegacySearch{Query: "q"})
	assert.True(t, res.IsError)
	assert.NotEmpty(t, res.ForLLM)
	assert.EqualError(t, res.Err, "index closed")
}

func TestDispatcher_RecommendUsesTurnStateAndRemembers(t *testing.T) {
	rec := &fakeRecommender{out: candidates("햇볕 쬐기", "음악 듣기", "차 마시기")}
	d := NewDispatcher(&fakeRetriever{}, rec)
	state := NewTurnState("u1", "외로움", "거동 가능", string(recommend.Middle), []string{"햇볕 쬐기"})
	ctx := WithTurnState(context.Background(), state)

	res := d.Execute(ctx, ActivityRecommendation{})
	require.False(t, res.IsError)
	assert.Equal(t, recommend.Profile{Emotion: "외로움", Mobility: "거동 가능"}, rec.got)
	assert.Equal(t, recommend.Middle, rec.stage)
	assert.Contains(t, res.ForLLM, "음악 듣기")
	assert.Contains(t, res.ForLLM, "차 마시기")
	assert.NotContains(t, res.ForLLM, "햇볕 쬐기")
	assert.Equal(t, []string{"햇볕 쬐기", "음악 듣기", "차 마시기"}, state.Recent())
}

func TestDispatcher_RecommendArgsOverrideProfile(t *testing.T) {
	rec := &fakeRecommender{}
	d := NewDispatcher(&fakeRetriever{}, rec)
	ctx := WithTurnState(context.Background(), NewTurnState("u1", "외로움", "거동 가능", "", nil))

	res := d.Execute(ctx, ActivityRecommendation{Emotion: "불안", Mobility: "누워서 생활"})
	assert.Equal(t, recommend.Profile{Emotion: "불안", Mobility: "누워서 생활"}, rec.got)
	assert.Equal(t, recommend.Late, rec.stage)
	assert.True(t, strings.Contains(res.ForLLM, "찾지 못했어요"))
}

func TestModeRegistry_ExposesOnlyModeTools(t *testing.T) {
	d := NewDispatcher(&fakeRetriever{}, &fakeRecommender{})
	reg := NewModeRegistry(d, EmpathyKinds)

	assert.Equal(t, []string{"recommend_activities", "search_empathy_questions"}, reg.List())
	res := reg.Execute(context.Background(), string(KindFacilities), map[string]interface{}{"query": "q"})
	assert.True(t, res.IsError)
}

func TestKindTool_BadArgumentsAreErrorResult(t *testing.T) {
	d := NewDispatcher(&fakeRetriever{}, &fakeRecommender{})
	res := NewKindTool(KindInheritanceLaw, d).Execute(context.Background(), map[string]interface{}{"query": []interface{}{1}})
	assert.True(t, res.IsError)
	assert.Error(t, res.Err)
}
