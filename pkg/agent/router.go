package agent

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/SKN19-3rd-4th-Project/Well-dying/pkg/diary"
	"github.com/SKN19-3rd-4th-Project/Well-dying/pkg/logger"
	"github.com/SKN19-3rd-4th-Project/Well-dying/pkg/providers"
	"github.com/SKN19-3rd-4th-Project/Well-dying/pkg/recommend"
	"github.com/SKN19-3rd-4th-Project/Well-dying/pkg/session"
	"github.com/SKN19-3rd-4th-Project/Well-dying/pkg/tools"
	"github.com/SKN19-3rd-4th-Project/Well-dying/pkg/utils"
)

const (
	apologyText        = "죄송해요, 지금은 답변을 준비하지 못했어요. 잠시 후에 다시 말씀해 주시겠어요?"
	diaryConfirmText   = "오늘 나눈 대화로 다이어리를 생성할까요? (Y/N)"
	diaryCancelText    = "다이어리 생성을 취소했습니다. 대화를 계속할까요?"
	diaryFailedText    = "다이어리를 만드는 중에 문제가 생겼어요. 잠시 후에 다시 시도해 주세요."
	keepTalkingText    = "그럼 계속해서 조금 더 이야기 나눠볼게요. 편하게 이어서 말씀해 주세요."
	restText           = "지금은 그냥 편하게 쉬시는 게 좋을 것 같아요."
	activityLeadText   = "이야기 나누다가 잠깐 숨 고르고 싶을 때는 이런 것들을 괜찮아 하셨던 분들도 계셨어요."
	askNameText        = "처음 뵙네요. 어떻게 불러드리면 편하실까요?"
	profileDoneFormat  = "고마워요, %s. 이제 편하게 이야기 나눠요. 오늘 하루는 어떠셨어요?"
	emptyNameRetryText = "불러드릴 이름을 한 번만 더 알려주시겠어요?"
	emptyMessageText   = "천천히 편하게 말씀해 주세요. 기다리고 있을게요."
)

var timeNow = time.Now

var emotionOptions = []string{
	"불안하다", "무기력하다", "외롭다", "혼란스럽다", "슬프다", "그래도 꽤 평온하다", "말로 표현하기 어렵다",
}

var mobilityOptions = []string{
	"걷기가 비교적 편하다", "천천히라면 걷기는 가능하다", "실내에서만 주로 움직인다", "대부분 누워 지낸다",
}

// SessionStore is the persistence the router needs.
type SessionStore interface {
	Load(userID string) (*session.Session, error)
	Update(userID string, fn func(*session.Session)) (*session.Session, error)
	AppendMessage(userID, role, content string) error
	UpdateLastVisit(userID string) error
	WelcomeMessage(userID string) (string, error)
}

// DiaryComposer writes today's diary for a user.
type DiaryComposer interface {
	Compose(ctx context.Context, userID string) (string, error)
}

type Options struct {
	Model             string
	LLMOptions        map[string]interface{}
	MaxToolIterations int
	HistoryWindow     int
	ActivityOfferTurn int
}

func DefaultOptions() Options {
	return Options{
		MaxToolIterations: 5,
		HistoryWindow:     20,
		ActivityOfferTurn: 3,
	}
}

type Dependencies struct {
	Provider    providers.LLMProvider
	Sessions    SessionStore
	Diary       DiaryComposer
	Retriever   tools.Retriever
	Recommender tools.Recommender
}

// Router decides, per message, whether to answer a pending confirmation,
// start a diary, collect the profile, recommend an activity, or run the
// empathy or info handler with its tools.
type Router struct {
	deps       Dependencies
	opts       Options
	registries map[Mode]*tools.ToolRegistry
	context    *ContextBuilder

	mu    sync.Mutex
	convs map[string]*conversation
}

func NewRouter(deps Dependencies, opts Options) *Router {
	defaults := DefaultOptions()
	if opts.MaxToolIterations <= 0 {
		opts.MaxToolIterations = defaults.MaxToolIterations
	}
	if opts.HistoryWindow <= 0 {
		opts.HistoryWindow = defaults.HistoryWindow
	}
	if opts.ActivityOfferTurn <= 0 {
		opts.ActivityOfferTurn = defaults.ActivityOfferTurn
	}
	dispatcher := tools.NewDispatcher(deps.Retriever, deps.Recommender)
	registries := map[Mode]*tools.ToolRegistry{
		ModeEmpathy: tools.NewModeRegistry(dispatcher, tools.EmpathyKinds),
		ModeInfo:    tools.NewModeRegistry(dispatcher, tools.InfoKinds),
	}
	return &Router{
		deps:       deps,
		opts:       opts,
		registries: registries,
		context:    NewContextBuilder(registries),
		convs:      map[string]*conversation{},
	}
}

func (r *Router) conversation(userID string) *conversation {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.convs[userID]
	if !ok {
		c = &conversation{}
		r.convs[userID] = c
	}
	return c
}

// Process handles one message. It never fails: every error becomes
// user-facing text.
func (r *Router) Process(ctx context.Context, req Request) Reply {
	userID := strings.TrimSpace(req.UserID)
	text := strings.TrimSpace(req.Text)
	if userID == "" {
		return Reply{Text: apologyText, Phase: PhaseActive}
	}

	conv := r.conversation(userID)
	conv.mu.Lock()
	defer conv.mu.Unlock()

	r.ensureLoaded(userID, conv)
	turnID := uuid.NewString()
	logger.InfoCF("agent", "Processing message",
		map[string]interface{}{
			"user_id": userID,
			"turn_id": turnID,
			"phase":   string(conv.phase()),
			"preview": utils.Truncate(text, 80),
		})

	reply := r.route(ctx, userID, conv, text, req.Mode)
	reply.Phase = conv.phase()
	reply.Pending = conv.pending
	reply.Turns = conv.turns
	if reply.Mode == "" {
		reply.Mode = conv.mode
	}
	return reply
}

func (r *Router) route(ctx context.Context, userID string, conv *conversation, text string, forced Mode) Reply {
	if conv.pending != PendingNone {
		return r.resolvePending(ctx, userID, conv, text)
	}

	if isDiaryTrigger(text) {
		conv.pending = PendingDiary
		return Reply{Text: diaryConfirmText}
	}

	if conv.needsProfile() {
		return r.elicitProfile(userID, conv, text)
	}

	if text == "" {
		return Reply{Text: emptyMessageText}
	}

	mode := forced
	if mode == "" {
		mode = classify(text)
	}
	conv.mode = mode
	conv.turns++

	if isActivityRequest(text) {
		out := r.recommendActivities(conv)
		r.record(userID, conv, text, out)
		return Reply{Text: out, Mode: mode}
	}

	if mode == ModeEmpathy && !conv.offered && conv.turns >= r.opts.ActivityOfferTurn {
		conv.offered = true
		conv.pending = PendingActivity
		out := offerText(conv.profile, text)
		r.record(userID, conv, text, out)
		return Reply{Text: out, Mode: mode}
	}

	return Reply{Text: r.handle(ctx, userID, conv, mode, text), Mode: mode}
}

func (r *Router) resolvePending(ctx context.Context, userID string, conv *conversation, text string) Reply {
	pending := conv.pending
	conv.pending = PendingNone

	switch pending {
	case PendingDiary:
		if !isAffirmative(text) {
			return Reply{Text: diaryCancelText}
		}
		return Reply{Text: r.composeDiary(ctx, userID)}
	case PendingActivity:
		out := keepTalkingText
		if acceptsActivity(text) {
			out = r.recommendActivities(conv)
		}
		r.record(userID, conv, text, out)
		return Reply{Text: out}
	}
	return Reply{Text: apologyText}
}

func (r *Router) composeDiary(ctx context.Context, userID string) string {
	if r.deps.Diary == nil {
		return diaryFailedText
	}
	text, err := r.deps.Diary.Compose(ctx, userID)
	switch {
	case errors.Is(err, diary.ErrNoConversation):
		return diary.NothingToSummarize
	case err != nil:
		logger.ErrorCF("agent", "Diary composition failed",
			map[string]interface{}{
				"user_id": userID,
				"error":   err.Error(),
			})
		return diaryFailedText
	}
	return "오늘의 다이어리를 작성했어요.\n\n" + text
}

// elicitProfile asks for the name, the emotional state and the mobility in
// that order. A profile left half-answered by an earlier session resumes at
// the first missing answer; a message that already answers it is taken as
// the answer.
func (r *Router) elicitProfile(userID string, conv *conversation, text string) Reply {
	var out string
	if conv.step == stepNone {
		conv.step = nextStep(conv.profile)
		if !answersStep(conv.step, text) {
			out = resumeQuestion(conv.step, conv.profile)
			if text != "" {
				r.record(userID, conv, text, out)
			}
			return Reply{Text: out}
		}
	}

	switch conv.step {
	case stepName:
		name := cleanName(text)
		if name == "" {
			out = emptyNameRetryText
			break
		}
		conv.profile.Name = name
		r.saveProfile(userID, func(p *session.Profile) { p.Name = name })
		conv.step = nextStep(conv.profile)
		out = fmt.Sprintf("반가워요, %s.", conv.profile.Title())
		if q := stepQuestion(conv.step); q != "" {
			out += "\n" + q
		}
	case stepEmotion:
		emotion := pickOption(text, emotionOptions)
		if emotion == "" {
			out = stepQuestion(stepEmotion)
			break
		}
		conv.profile.Emotion = emotion
		r.saveProfile(userID, func(p *session.Profile) { p.Emotion = emotion })
		conv.step = nextStep(conv.profile)
		out = stepQuestion(conv.step)
	case stepMobility:
		mobility := pickOption(text, mobilityOptions)
		if mobility == "" {
			out = stepQuestion(stepMobility)
			break
		}
		conv.profile.Mobility = mobility
		r.saveProfile(userID, func(p *session.Profile) { p.Mobility = mobility })
		conv.step = nextStep(conv.profile)
		out = stepQuestion(conv.step)
	}
	if conv.step == stepNone && out == "" {
		out = fmt.Sprintf(profileDoneFormat, conv.profile.Title())
	}
	if text != "" {
		r.record(userID, conv, text, out)
	}
	return Reply{Text: out}
}

func stepQuestion(step profileStep) string {
	switch step {
	case stepEmotion:
		return question("요즘 마음 상태는 어떠신가요?", emotionOptions)
	case stepMobility:
		return question("평소 이동이나 움직임은 어느 정도 가능하신가요?", mobilityOptions)
	}
	return ""
}

func resumeQuestion(step profileStep, p session.Profile) string {
	if step == stepName {
		return askNameText
	}
	return fmt.Sprintf("다시 오셨네요, %s. 몇 가지만 더 여쭤볼게요.\n%s", p.Title(), stepQuestion(step))
}

// answersStep reports whether text picks one of the listed options for step.
// Names are never guessed from a first message.
func answersStep(step profileStep, text string) bool {
	switch step {
	case stepEmotion:
		_, ok := matchOption(text, emotionOptions)
		return ok
	case stepMobility:
		_, ok := matchOption(text, mobilityOptions)
		return ok
	}
	return false
}

func (r *Router) saveProfile(userID string, fn func(*session.Profile)) {
	if r.deps.Sessions == nil {
		return
	}
	if _, err := r.deps.Sessions.Update(userID, func(s *session.Session) { fn(&s.Profile) }); err != nil {
		logger.ErrorCF("agent", "Failed to save profile",
			map[string]interface{}{
				"user_id": userID,
				"error":   err.Error(),
			})
	}
}

func question(prompt string, options []string) string {
	lines := []string{prompt}
	for i, o := range options {
		lines = append(lines, fmt.Sprintf("%d. %s", i+1, o))
	}
	return strings.Join(lines, "\n")
}

// pickOption maps a numbered or partial answer onto options; free text that
// matches nothing is kept as the user said it.
func pickOption(text string, options []string) string {
	if o, ok := matchOption(text, options); ok {
		return o
	}
	return strings.TrimSpace(text)
}

func matchOption(text string, options []string) (string, bool) {
	t := strings.TrimSpace(text)
	if t == "" {
		return "", false
	}
	if n, err := strconv.Atoi(strings.TrimRight(t, ".번 ")); err == nil && n >= 1 && n <= len(options) {
		return options[n-1], true
	}
	for _, o := range options {
		if strings.Contains(o, t) || strings.Contains(t, o) {
			return o, true
		}
	}
	return "", false
}

var nameSuffixes = []string{"라고 불러주세요", "라고 불러줘", "이라고 불러주세요", "이라고 불러줘", "입니다", "이에요", "예요", "님"}

func cleanName(text string) string {
	name := strings.Trim(strings.TrimSpace(text), " .!~\"'")
	for _, s := range nameSuffixes {
		name = strings.TrimSpace(strings.TrimSuffix(name, s))
	}
	name = strings.Trim(name, " .!~\"'")
	if name == session.DefaultName {
		return ""
	}
	return utils.Truncate(name, 20)
}

func offerText(p session.Profile, last string) string {
	prefix := "방금"
	if p.HasName() {
		prefix = p.Title() + "이"
	}
	return fmt.Sprintf("%s 말씀해 주신 \"%s\"라는 말 속에 마음이 많이 담겨 있는 것 같아요. "+
		"지금처럼 계속 이야기를 조금 더 나눠볼까요, 아니면 지금 기분이 조금 나아질 만한 작은 활동을 하나 추천해드릴까요?",
		prefix, utils.Truncate(last, 60))
}

func (r *Router) recommendActivities(conv *conversation) string {
	if r.deps.Recommender == nil {
		return restText
	}
	stage := recommend.StageForTurns(conv.turns)
	cands := r.deps.Recommender.Recommend(recommend.Profile{
		Emotion:  conv.profile.Emotion,
		Mobility: conv.profile.Mobility,
	}, stage)
	picked := recommend.Select(cands, conv.recent, tools.ActivityPicks)
	if len(picked) == 0 {
		return restText
	}
	conv.recent = recommend.Remember(conv.recent, picked)
	names := make([]string, 0, len(picked))
	for _, c := range picked {
		names = append(names, c.Name)
	}
	return activityLeadText + " " + strings.Join(names, ", ")
}

// handle runs the mode's handler with its own tools until it answers.
func (r *Router) handle(ctx context.Context, userID string, conv *conversation, mode Mode, text string) string {
	history := window(conv.messages, r.opts.HistoryWindow)
	messages := r.context.BuildMessages(mode, conv.profile, history, text)

	state := tools.NewTurnState(userID, conv.profile.Emotion, conv.profile.Mobility,
		string(recommend.StageForTurns(conv.turns)), conv.recent)
	loopCtx := tools.WithTurnState(ctx, state)

	result, err := tools.RunToolLoop(loopCtx, tools.ToolLoopConfig{
		Provider:      r.deps.Provider,
		Model:         r.opts.Model,
		Tools:         r.registries[mode],
		MaxIterations: r.opts.MaxToolIterations,
		LLMOptions:    r.opts.LLMOptions,
	}, messages)
	conv.recent = state.Recent()

	out := ""
	switch {
	case err != nil:
		logger.ErrorCF("agent", "Handler failed",
			map[string]interface{}{
				"user_id": userID,
				"mode":    string(mode),
				"error":   err.Error(),
			})
	case result.Stop != tools.StopAnswered:
		logger.WarnCF("agent", "Tool loop stopped without an answer",
			map[string]interface{}{
				"user_id":    userID,
				"mode":       string(mode),
				"reason":     result.Stop.String(),
				"iterations": result.Iterations,
			})
	default:
		out = strings.TrimSpace(result.Content)
	}

	if out == "" {
		r.recordUserOnly(userID, conv, text)
		return apologyText
	}
	conv.append(providers.Message{Role: "user", Content: text})
	conv.append(result.Trace...)
	conv.append(providers.Message{Role: "assistant", Content: out})
	r.persist(userID, session.RoleUser, text)
	r.persist(userID, session.RoleAssistant, out)
	return out
}

func (r *Router) record(userID string, conv *conversation, userText, reply string) {
	conv.append(
		providers.Message{Role: "user", Content: userText},
		providers.Message{Role: "assistant", Content: reply},
	)
	r.persist(userID, session.RoleUser, userText)
	r.persist(userID, session.RoleAssistant, reply)
}

func (r *Router) recordUserOnly(userID string, conv *conversation, userText string) {
	conv.append(providers.Message{Role: "user", Content: userText})
	r.persist(userID, session.RoleUser, userText)
}

func (r *Router) persist(userID, role, content string) {
	if r.deps.Sessions == nil || strings.TrimSpace(content) == "" {
		return
	}
	if err := r.deps.Sessions.AppendMessage(userID, role, content); err != nil {
		logger.ErrorCF("agent", "Failed to persist message",
			map[string]interface{}{
				"user_id": userID,
				"role":    role,
				"error":   err.Error(),
			})
	}
}

// ensureLoaded seeds the conversation from the stored session the first
// time a user is seen in this process.
func (r *Router) ensureLoaded(userID string, conv *conversation) {
	if conv.loaded {
		return
	}
	conv.loaded = true
	conv.profile = session.DefaultProfile()
	if r.deps.Sessions == nil {
		return
	}
	sess, err := r.deps.Sessions.Load(userID)
	if err != nil {
		logger.WarnCF("agent", "Failed to load session; starting empty",
			map[string]interface{}{
				"user_id": userID,
				"error":   err.Error(),
			})
		return
	}
	conv.profile = sess.Profile
	history := sess.History
	if len(history) > r.opts.HistoryWindow {
		history = history[len(history)-r.opts.HistoryWindow:]
	}
	for _, m := range history {
		role := m.Role
		if role != session.RoleUser && role != session.RoleAssistant {
			continue
		}
		conv.messages = append(conv.messages, providers.Message{Role: role, Content: m.Content})
	}
}

// Welcome returns the greeting for userID based on their last visit.
func (r *Router) Welcome(userID string) string {
	if r.deps.Sessions == nil {
		return session.Welcome(session.DefaultProfile(), nil, timeNow())
	}
	msg, err := r.deps.Sessions.WelcomeMessage(userID)
	if err != nil {
		logger.WarnCF("agent", "Welcome lookup failed",
			map[string]interface{}{
				"user_id": userID,
				"error":   err.Error(),
			})
		return session.Welcome(session.DefaultProfile(), nil, timeNow())
	}
	return msg
}

// EndSession stamps the user's last visit and forgets in-memory state, so
// the next session starts with a fresh turn count and activity offer.
func (r *Router) EndSession(userID string) error {
	r.mu.Lock()
	delete(r.convs, userID)
	r.mu.Unlock()
	if r.deps.Sessions == nil {
		return nil
	}
	return r.deps.Sessions.UpdateLastVisit(userID)
}

// Snapshot reports the router-visible state for userID.
func (r *Router) Snapshot(userID string) Reply {
	conv := r.conversation(userID)
	conv.mu.Lock()
	defer conv.mu.Unlock()
	r.ensureLoaded(userID, conv)
	return Reply{Mode: conv.mode, Phase: conv.phase(), Pending: conv.pending, Turns: conv.turns}
}
