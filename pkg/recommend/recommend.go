package recommend

import (
	"sort"
	"strings"

	"github.com/SKN19-3rd-4th-Project/Well-dying/pkg/logger"
)

// Stage is how far the conversation has progressed. Later stages unlock
// deeper activity categories.
type Stage string

const (
	Early  Stage = "early"
	Middle Stage = "middle"
	Late   Stage = "late"
)

// StageForTurns maps a routed-turn count to a stage.
func StageForTurns(turns int) Stage {
	switch {
	case turns < 3:
		return Early
	case turns < 6:
		return Middle
	default:
		return Late
	}
}

type gate struct {
	categories map[Category]bool
	maxMeaning int
}

func gateFor(stage Stage) gate {
	switch stage {
	case Early:
		return gate{map[Category]bool{Sensory: true, Rest: true}, 1}
	case Middle:
		return gate{map[Category]bool{Sensory: true, Rest: true, Reminiscence: true, Connection: true}, 2}
	default:
		return gate{map[Category]bool{
			Sensory: true, Rest: true, Reminiscence: true, Connection: true, Legacy: true, Reflection: true,
		}, 3}
	}
}

// Profile carries the two answers the recommender needs.
type Profile struct {
	Emotion  string
	Mobility string
}

// Candidate is a scored activity.
type Candidate struct {
	Activity
	Score int
}

// RecentWindow bounds how many offered activity names are remembered.
const RecentWindow = 5

// Recommend filters catalog by energy, stage category and meaning ceiling,
// then ranks by meaning level plus one when a target feeling tag appears in
// the activity's tags. Ties keep catalog order.
func Recommend(rules Rules, p Profile, catalog Catalog, stage Stage) []Candidate {
	emotion := strings.TrimSpace(p.Emotion)
	mobility := strings.TrimSpace(p.Mobility)
	if emotion == "" || mobility == "" {
		logger.WarnCF("recommend", "Profile lacks emotion or mobility", map[string]interface{}{
			"has_emotion":  emotion != "",
			"has_mobility": mobility != "",
		})
		return nil
	}
	if len(catalog) == 0 {
		logger.WarnC("recommend", "Activity catalog is empty")
		return nil
	}

	tags, ok := rules.FeelingTags(emotion)
	if !ok {
		logger.WarnCF("recommend", "No feeling tags for emotion", map[string]interface{}{"emotion": emotion})
	}
	energy, ok := rules.Energy(mobility)
	if !ok {
		logger.WarnCF("recommend", "No energy range for mobility, using default", map[string]interface{}{
			"mobility": mobility,
			"min":      energy.Min,
			"max":      energy.Max,
		})
	}
	g := gateFor(stage)

	var cands []Candidate
	for _, a := range catalog {
		if a.Energy >= energy.Min && a.Energy <= energy.Max {
			cands = append(cands, Candidate{Activity: a})
		}
	}
	if len(cands) == 0 {
		logger.WarnCF("recommend", "No activity fits the energy range", map[string]interface{}{"min": energy.Min, "max": energy.Max})
		return nil
	}

	cands = keep(cands, func(c Candidate) bool { return g.categories[c.Category] })
	if len(cands) == 0 {
		logger.WarnCF("recommend", "No activity fits the stage categories", map[string]interface{}{"stage": string(stage)})
		return nil
	}

	cands = keep(cands, func(c Candidate) bool { return c.Meaning <= g.maxMeaning })
	if len(cands) == 0 {
		logger.WarnCF("recommend", "No activity under the meaning ceiling", map[string]interface{}{"max_meaning": g.maxMeaning})
		return nil
	}

	for i := range cands {
		cands[i].Score = cands[i].Meaning
		for _, t := range tags {
			if t != "" && strings.Contains(cands[i].Tags, t) {
				cands[i].Score++
				break
			}
		}
	}
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].Score > cands[j].Score })

	logger.DebugCF("recommend", "Activities ranked", map[string]interface{}{
		"stage":      string(stage),
		"candidates": len(cands),
	})
	return cands
}

func keep(in []Candidate, pred func(Candidate) bool) []Candidate {
	out := in[:0]
	for _, c := range in {
		if pred(c) {
			out = append(out, c)
		}
	}
	return out
}

// Select takes up to n candidates, skipping names offered recently. When
// every candidate was offered recently it falls back to the ranked list.
func Select(cands []Candidate, recent []string, n int) []Candidate {
	if n <= 0 || len(cands) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(recent))
	for _, r := range recent {
		seen[r] = true
	}
	var fresh []Candidate
	for _, c := range cands {
		if !seen[c.Name] {
			fresh = append(fresh, c)
		}
	}
	use := fresh
	if len(use) == 0 {
		use = cands
	}
	if len(use) > n {
		use = use[:n]
	}
	return append([]Candidate(nil), use...)
}

// Remember appends offered names to recent, keeping the last RecentWindow.
func Remember(recent []string, picked []Candidate) []string {
	out := append([]string(nil), recent...)
	for _, c := range picked {
		if c.Name != "" {
			out = append(out, c.Name)
		}
	}
	if len(out) > RecentWindow {
		out = out[len(out)-RecentWindow:]
	}
	return out
}

var meaningLabel = map[int]string{
	1: "편안한",
	2: "의미 있는",
	3: "깊은 의미의",
}

// Format renders picked activities for the model to phrase naturally.
func Format(emotion string, picked []Candidate) string {
	if len(picked) == 0 {
		return "지금 조건에 맞는 활동을 찾지 못했어요."
	}
	lines := []string{"현재 마음: " + emotion, "", "추천 활동:"}
	for _, c := range picked {
		lines = append(lines, "- "+c.Name+" ("+meaningLabel[c.Meaning]+", "+c.Category.Label()+")")
	}
	return strings.Join(lines, "\n")
}

// Recommender binds rules and catalog for callers that do not need to swap
// them per request.
type Recommender struct {
	Rules   Rules
	Catalog Catalog
}

func NewRecommender(rules Rules, catalog Catalog) *Recommender {
	return &Recommender{Rules: rules, Catalog: catalog}
}

func (r *Recommender) Recommend(p Profile, stage Stage) []Candidate {
	return Recommend(r.Rules, p, r.Catalog, stage)
}
