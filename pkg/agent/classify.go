package agent

import (
	"strings"
	"unicode"
)

var diaryTriggers = map[string]bool{
	"다이어리": true,
	"diary":    true,
}

func isDiaryTrigger(text string) bool {
	return diaryTriggers[strings.ToLower(strings.TrimSpace(text))]
}

var yesTokens = map[string]bool{
	"y": true, "yes": true, "네": true, "응": true, "예": true, "좋아": true, "그래": true,
}

// activityChoiceWords pick the activity side of the mid-conversation offer.
var activityChoiceWords = []string{"활동", "추천", "해볼게", "해볼까", "해줘", "2"}

// isAffirmative accepts a yes-token on its own or as the first word, with
// a trailing polite 요 or punctuation.
func isAffirmative(text string) bool {
	t := strings.ToLower(strings.TrimSpace(text))
	if t == "" {
		return false
	}
	candidates := []string{t}
	if fields := strings.FieldsFunc(t, func(r rune) bool {
		return unicode.IsSpace(r) || r == ',' || r == '.'
	}); len(fields) > 0 {
		candidates = append(candidates, fields[0])
	}
	for _, c := range candidates {
		c = strings.TrimRightFunc(c, func(r rune) bool { return unicode.IsPunct(r) || r == '~' })
		if yesTokens[c] || yesTokens[strings.TrimSuffix(c, "요")] {
			return true
		}
	}
	return false
}

func acceptsActivity(text string) bool {
	if isAffirmative(text) {
		return true
	}
	t := strings.TrimSpace(text)
	for _, w := range activityChoiceWords {
		if strings.Contains(t, w) {
			return true
		}
	}
	return false
}

var activityRequestPhrases = []string{
	"추천해줘", "추천해줄래", "뭘하면좋을까", "뭘하면좋아", "뭘하면좋지",
	"방법없을까", "방법추천", "어떻게하면좋아", "뭐하면좋아", "다른거추천", "다른거또추천",
}

// isActivityRequest detects a direct ask for something to do, ignoring
// spacing.
func isActivityRequest(text string) bool {
	t := strings.Join(strings.Fields(text), "")
	for _, p := range activityRequestPhrases {
		if strings.Contains(t, p) {
			return true
		}
	}
	return false
}

var infoKeywords = []string{
	"장례", "장례식장", "빈소", "화장", "화장장", "봉안", "납골", "수목장", "자연장", "묘지",
	"조례", "지원금", "장려금", "보조금", "공영장례",
	"상속", "유언", "유산", "유류분", "상속세", "증여",
	"디지털 유산", "계정", "비밀번호", "사망신고", "절차", "서류", "비용", "신청",
}

// classify picks info mode when the message names an administrative or
// legal topic and empathy mode otherwise.
func classify(text string) Mode {
	for _, k := range infoKeywords {
		if strings.Contains(text, k) {
			return ModeInfo
		}
	}
	return ModeEmpathy
}
