package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SKN19-3rd-4th-Project/Well-dying/pkg/diary"
	"github.com/SKN19-3rd-4th-Project/Well-dying/pkg/providers"
	"github.com/SKN19-3rd-4th-Project/Well-dying/pkg/recommend"
	"github.com/SKN19-3rd-4th-Project/Well-dying/pkg/retrieval"
	"github.com/SKN19-3rd-4th-Project/Well-dying/pkg/session"
)

type scriptedProvider struct {
	mu        sync.Mutex
	responses []*providers.LLMResponse
	err       error
	calls     int
	toolNames [][]string
}

func (p *scriptedProvider) Chat(_ context.Context, _ []providers.Message, defs []providers.ToolDefinition, _ string, _ map[string]interface{}) (*providers.LLMResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	names := make([]string, 0, len(defs))
	for _, d := range defs {
		names = append(names, d.Function.Name)
	}
	p.toolNames = append(p.toolNames, names)
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	if len(p.responses) == 0 {
		return &providers.LLMResponse{Content: "그 마음 충분히 이해돼요."}, nil
	}
	resp := p.responses[0]
	if len(p.responses) > 1 {
		p.responses = p.responses[1:]
	}
	return resp, nil
}

func (p *scriptedProvider) GetDefaultModel() string { return "test-model" }

func (p *scriptedProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type recordingRetriever struct {
	mu    sync.Mutex
	calls []string
}

func (r *recordingRetriever) add(name string) retrieval.Result {
	r.mu.Lock()
	r.calls = append(r.calls, name)
	r.mu.Unlock()
	return retrieval.Result{Tool: name, Outcome: retrieval.Empty}
}

func (r *recordingRetriever) SearchFacilities(context.Context, string, []string) retrieval.Result {
	return r.add("facilities")
}
func (r *recordingRetriever) SearchOrdinance(context.Context, retrieval.OrdinanceKind, string, string) retrieval.Result {
	return r.add("ordinance")
}
func (r *recordingRetriever) SearchDigitalLegacy(context.Context, string) retrieval.Result {
	return r.add("digital_legacy")
}
func (r *recordingRetriever) SearchInheritanceLaw(context.Context, string) retrieval.Result {
	return r.add("inheritance")
}
func (r *recordingRetriever) SearchEmpathyQuestions(context.Context, string) retrieval.Result {
	return r.add("questions")
}

type fakeDiary struct {
	calls int
	text  string
	err   error
}

func (d *fakeDiary) Compose(context.Context, string) (string, error) {
	d.calls++
	return d.text, d.err
}

type harness struct {
	router    *Router
	store     *session.Store
	provider  *scriptedProvider
	retriever *recordingRetriever
	diary     *fakeDiary
}

func newHarness(t *testing.T, provider *scriptedProvider) *harness {
	t.Helper()
	store, err := session.NewStore(t.TempDir(), session.WithClock(func() time.Time {
		return time.Date(2025, 3, 2, 10, 0, 0, 0, time.UTC)
	}))
	require.NoError(t, err)
	h := &harness{
		store:     store,
		provider:  provider,
		retriever: &recordingRetriever{},
		diary:     &fakeDiary{text: "오늘은 좋은 하루였다."},
	}
	h.router = NewRouter(Dependencies{
		Provider:    provider,
		Sessions:    store,
		Diary:       h.diary,
		Retriever:   h.retriever,
		Recommender: recommend.NewRecommender(recommend.DefaultRules(), recommend.DefaultCatalog()),
	}, Options{Model: "test-model", MaxToolIterations: 3})
	return h
}

func (h *harness) seedProfile(t *testing.T, userID string) {
	t.Helper()
	_, err := h.store.Update(userID, func(s *session.Session) {
		s.Profile.Name = "영희"
		s.Profile.Emotion = "외롭다"
		s.Profile.Mobility = "걷기가 비교적 편하다"
	})
	require.NoError(t, err)
}

func (h *harness) send(text string) Reply {
	return h.router.Process(context.Background(), Request{UserID: "u1", Text: text})
}

func TestRouter_ProfileElicitationDoesNotCountTurns(t *testing.T) {
	h := newHarness(t, &scriptedProvider{})

	r := h.send("안녕하세요")
	assert.Equal(t, PhaseAwaitingProfile, r.Phase)
	assert.Contains(t, r.Text, "어떻게 불러드리면")

	r = h.send("영희라고 불러주세요")
	assert.Contains(t, r.Text, "영희님")
	assert.Contains(t, r.Text, "마음 상태")

	r = h.send("3")
	assert.Contains(t, r.Text, "움직임")
	assert.Equal(t, PhaseAwaitingProfile, r.Phase)

	r = h.send("대부분 누워")
	assert.Equal(t, PhaseActive, r.Phase)
	assert.Equal(t, 0, r.Turns)
	assert.Equal(t, 0, h.provider.callCount())

	sess, err := h.store.Load("u1")
	require.NoError(t, err)
	assert.Equal(t, "영희", sess.Profile.Name)
	assert.Equal(t, "외롭다", sess.Profile.Emotion)
	assert.Equal(t, "대부분 누워 지낸다", sess.Profile.Mobility)
}

func TestRouter_DiaryTriggerOverridesProfileAndConfirms(t *testing.T) {
	h := newHarness(t, &scriptedProvider{})

	r := h.send(" 다이어리 ")
	assert.Equal(t, diaryConfirmText, r.Text)
	assert.Equal(t, PhaseAwaitingConfirmation, r.Phase)
	assert.Equal(t, PendingDiary, r.Pending)
	assert.Equal(t, 0, r.Turns)

	r = h.send("네")
	assert.Contains(t, r.Text, "오늘은 좋은 하루였다.")
	assert.Equal(t, PendingNone, r.Pending)
	assert.Equal(t, 1, h.diary.calls)
}

func TestRouter_DiaryDeclineCancels(t *testing.T) {
	h := newHarness(t, &scriptedProvider{})
	h.seedProfile(t, "u1")

	h.send("diary")
	r := h.send("아니요")
	assert.Equal(t, diaryCancelText, r.Text)
	assert.Equal(t, 0, h.diary.calls)

	r = h.send("오늘 좀 피곤해요")
	assert.Equal(t, 1, r.Turns)
	assert.Equal(t, PhaseActive, r.Phase)
}

func TestRouter_DiaryWithNoConversation(t *testing.T) {
	h := newHarness(t, &scriptedProvider{})
	h.diary.err = diary.ErrNoConversation
	h.diary.text = diary.NothingToSummarize

	h.send("다이어리")
	r := h.send("y")
	assert.Equal(t, diary.NothingToSummarize, r.Text)
}

func TestRouter_InfoModeRunsRetrievalToolThenAnswers(t *testing.T) {
	provider := &scriptedProvider{responses: []*providers.LLMResponse{
		{ToolCalls: []providers.ToolCall{{ID: "c1", Name: "search_funeral_facilities", Arguments: map[string]interface{}{"query": "장례식장", "region": "수원"}}}},
		{Content: "수원에는 이런 장례식장이 있어요."},
	}}
	h := newHarness(t, provider)
	h.seedProfile(t, "u1")

	r := h.send("수원 장례식장 알려줘")
	assert.Equal(t, "수원에는 이런 장례식장이 있어요.", r.Text)
	assert.Equal(t, ModeInfo, r.Mode)
	assert.Equal(t, 1, r.Turns)
	assert.Equal(t, []string{"facilities"}, h.retriever.calls)
	assert.ElementsMatch(t, []string{
		"search_funeral_facilities", "search_public_funeral_ordinance", "search_cremation_subsidy_ordinance",
		"search_digital_legacy", "search_inheritance_law",
	}, provider.toolNames[0])

	today, err := h.store.TodayMessages("u1")
	require.NoError(t, err)
	require.Len(t, today, 2)
	assert.Equal(t, session.RoleAssistant, today[1].Role)
}

func TestRouter_EmpathyModeCannotReachInfoTools(t *testing.T) {
	provider := &scriptedProvider{responses: []*providers.LLMResponse{
		{ToolCalls: []providers.ToolCall{{ID: "c1", Name: "search_inheritance_law", Arguments: map[string]interface{}{"query": "x"}}}},
		{Content: "이야기해 주셔서 고마워요."},
	}}
	h := newHarness(t, provider)
	h.seedProfile(t, "u1")

	r := h.router.Process(context.Background(), Request{UserID: "u1", Text: "오늘 좀 울적해요", Mode: ModeEmpathy})
	assert.Equal(t, "이야기해 주셔서 고마워요.", r.Text)
	assert.Empty(t, h.retriever.calls)
	assert.ElementsMatch(t, []string{"recommend_activities", "search_empathy_questions"}, provider.toolNames[0])
}

func TestRouter_ActivityOfferOnceAtThirdTurn(t *testing.T) {
	h := newHarness(t, &scriptedProvider{})
	h.seedProfile(t, "u1")

	h.send("오늘 하늘이 맑네요")
	h.send("딸이 다녀갔어요")
	r := h.send("조금 허전하네요")
	assert.Equal(t, PendingActivity, r.Pending)
	assert.Contains(t, r.Text, "영희님이 말씀해 주신 \"조금 허전하네요\"")
	calls := h.provider.callCount()

	r = h.send("활동 추천해 주세요")
	assert.Contains(t, r.Text, activityLeadText)
	assert.Equal(t, PendingNone, r.Pending)
	assert.Equal(t, 3, r.Turns)
	assert.Equal(t, calls, h.provider.callCount())

	for i := 0; i < 3; i++ {
		r = h.send(fmt.Sprintf("그냥 이야기 %d", i))
		assert.Equal(t, PendingNone, r.Pending)
	}
	assert.Equal(t, 6, r.Turns)
}

func TestRouter_ActivityOfferDeclined(t *testing.T) {
	h := newHarness(t, &scriptedProvider{})
	h.seedProfile(t, "u1")
	h.send("하나")
	h.send("둘")
	h.send("셋")

	r := h.send("아니 그냥 얘기할래")
	assert.Equal(t, keepTalkingText, r.Text)
}

func TestRouter_DirectActivityRequestSkipsModel(t *testing.T) {
	h := newHarness(t, &scriptedProvider{})
	h.seedProfile(t, "u1")

	r := h.send("뭘 하면 좋을까")
	assert.True(t, strings.HasPrefix(r.Text, activityLeadText), r.Text)
	assert.Equal(t, 1, r.Turns)
	assert.Equal(t, 0, h.provider.callCount())

	second := h.send("다른 거 추천해줘")
	assert.NotEqual(t, r.Text, second.Text)
}

func TestRouter_ProviderFailureApologisesAndRecordsUser(t *testing.T) {
	h := newHarness(t, &scriptedProvider{err: errors.New("upstream 500")})
	h.seedProfile(t, "u1")

	r := h.send("오늘은 좀 힘드네요")
	assert.Equal(t, apologyText, r.Text)
	assert.Equal(t, 1, r.Turns)

	today, err := h.store.TodayMessages("u1")
	require.NoError(t, err)
	require.Len(t, today, 1)
	assert.Equal(t, session.RoleUser, today[0].Role)
}

func TestRouter_ToolLoopLimitApologises(t *testing.T) {
	var responses []*providers.LLMResponse
	for i := 0; i < 5; i++ {
		responses = append(responses, &providers.LLMResponse{ToolCalls: []providers.ToolCall{
			{ID: fmt.Sprintf("c%d", i), Name: "search_digital_legacy", Arguments: map[string]interface{}{"query": fmt.Sprintf("q%d", i)}},
		}})
	}
	h := newHarness(t, &scriptedProvider{responses: responses})
	h.seedProfile(t, "u1")

	r := h.send("디지털 유산 정리 방법")
	assert.Equal(t, apologyText, r.Text)
	assert.Len(t, h.retriever.calls, 3)
}

func TestRouter_ConcurrentMessagesForOneUserSerialise(t *testing.T) {
	h := newHarness(t, &scriptedProvider{})
	h.seedProfile(t, "u1")
	h.router.opts.ActivityOfferTurn = 1000

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h.send(fmt.Sprintf("메시지 %d", i))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 10, h.router.Snapshot("u1").Turns)
	sess, err := h.store.Load("u1")
	require.NoError(t, err)
	assert.Len(t, sess.History, 20)
}

func TestRouter_EndSessionResetsStateAndStampsVisit(t *testing.T) {
	h := newHarness(t, &scriptedProvider{})
	h.seedProfile(t, "u1")
	h.send("안녕")

	require.NoError(t, h.router.EndSession("u1"))
	assert.Equal(t, 0, h.router.Snapshot("u1").Turns)
	assert.Equal(t, "다시 오셨군요. 이야기를 계속 나눠볼까요?", h.router.Welcome("u1"))
}

func TestRouter_OnboardingResumesAfterSessionEnds(t *testing.T) {
	tests := []struct {
		name        string
		resumeWith  string
		wantText    string
		wantEmotion string
	}{
		{"answer taken as emotion", "무기력하다", "움직임", "무기력하다"},
		{"numbered answer", "4번", "움직임", "혼란스럽다"},
		{"unrelated text asks again", "오늘 날씨 좋네요", "마음 상태", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, &scriptedProvider{})
			h.send("안녕")
			h.send("민수")
			require.NoError(t, h.router.EndSession("u1"))

			r := h.send(tt.resumeWith)
			assert.Contains(t, r.Text, tt.wantText)
			assert.Equal(t, PhaseAwaitingProfile, r.Phase)
			assert.Equal(t, 0, r.Turns)
			assert.Equal(t, 0, h.provider.callCount())

			sess, err := h.store.Load("u1")
			require.NoError(t, err)
			assert.Equal(t, "민수", sess.Profile.Name)
			assert.Equal(t, tt.wantEmotion, sess.Profile.Emotion)
			assert.Empty(t, sess.Profile.Mobility)
		})
	}
}

func TestRouter_OnboardingResumesAtMobility(t *testing.T) {
	h := newHarness(t, &scriptedProvider{})
	_, err := h.store.Update("u1", func(s *session.Session) {
		s.Profile.Name = "민수"
		s.Profile.Emotion = "무기력하다"
	})
	require.NoError(t, err)

	r := h.send("오랜만이에요")
	assert.Contains(t, r.Text, "민수님")
	assert.Contains(t, r.Text, "움직임")
	assert.Equal(t, PhaseAwaitingProfile, r.Phase)

	r = h.send("4")
	assert.Equal(t, PhaseActive, r.Phase)
	assert.Contains(t, r.Text, "이제 편하게 이야기 나눠요")

	r = h.send("뭘 하면 좋을까")
	assert.True(t, strings.HasPrefix(r.Text, activityLeadText), r.Text)
	sess, err := h.store.Load("u1")
	require.NoError(t, err)
	assert.Equal(t, "대부분 누워 지낸다", sess.Profile.Mobility)
}

func TestRouter_DiaryTriggerInEitherMode(t *testing.T) {
	tests := []struct {
		name  string
		first string
		mode  Mode
	}{
		{"after info question", "수원 장례식장 알려줘", ModeInfo},
		{"after empathy talk", "오늘 하늘이 맑네요", ModeEmpathy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, &scriptedProvider{})
			h.seedProfile(t, "u1")

			r := h.send(tt.first)
			require.Equal(t, tt.mode, r.Mode)

			r = h.send("다이어리")
			assert.Equal(t, diaryConfirmText, r.Text)
			assert.Equal(t, PendingDiary, r.Pending)
			assert.Equal(t, 1, r.Turns)

			r = h.send("네")
			assert.Contains(t, r.Text, "오늘은 좋은 하루였다.")
			assert.Equal(t, 1, h.diary.calls)
			assert.Equal(t, 1, r.Turns)
		})
	}
}
