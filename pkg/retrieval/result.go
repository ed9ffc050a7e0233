// Package retrieval runs the knowledge-base searches the info and empathy
// modes hand to the language model: facilities, ordinances, digital legacy,
// inheritance law and conversation prompts.
package retrieval

import (
	"fmt"
	"strings"

	"github.com/SKN19-3rd-4th-Project/Well-dying/pkg/utils"
	"github.com/SKN19-3rd-4th-Project/Well-dying/pkg/vectorstore"
)

// Outcome separates "nothing matched" from "could not ask".
type Outcome int

const (
	Found Outcome = iota
	Empty
	BackendUnavailable
)

func (o Outcome) String() string {
	switch o {
	case Found:
		return "found"
	case Empty:
		return "empty"
	case BackendUnavailable:
		return "backend_unavailable"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

const maxSnippetRunes = 600

// Result is what a search hands back to the tool layer.
type Result struct {
	Tool     string
	Query    string
	Outcome  Outcome
	Snippets []vectorstore.Match
	// RegionRequested is set when the caller named a region; RegionResolved
	// reports whether it matched the gazetteer.
	RegionRequested bool
	RegionResolved  bool
	Regions         []string
	Err             error
}

func newResult(tool, query string, snippets []vectorstore.Match) Result {
	r := Result{Tool: tool, Query: query, Snippets: snippets, Outcome: Found}
	if len(snippets) == 0 {
		r.Outcome = Empty
	}
	return r
}

func unavailable(tool, query string, err error) Result {
	return Result{Tool: tool, Query: query, Outcome: BackendUnavailable, Err: err}
}

// Format renders the result as the tool message the model reads.
func (r Result) Format() string {
	var sb strings.Builder
	if r.RegionRequested && !r.RegionResolved {
		sb.WriteString("[안내] 요청한 지역을 자료에서 찾지 못해 지역 구분 없이 검색했습니다. 사용자에게 시·군·구 단위의 정확한 지역명을 다시 여쭤보세요.\n")
	} else if len(r.Regions) > 0 {
		fmt.Fprintf(&sb, "[검색 지역] %s\n", strings.Join(r.Regions, ", "))
	}

	switch r.Outcome {
	case BackendUnavailable:
		sb.WriteString("검색 서비스를 일시적으로 사용할 수 없습니다. 확인된 정보가 없다고 솔직히 안내하고 잠시 후 다시 시도하도록 권해 주세요.")
		return sb.String()
	case Empty:
		sb.WriteString("관련 자료를 찾지 못했습니다. 추측하지 말고 자료가 없다고 안내해 주세요.")
		return sb.String()
	}

	for i, m := range r.Snippets {
		fmt.Fprintf(&sb, "[%d] %s", i+1, utils.Truncate(strings.TrimSpace(m.Text), maxSnippetRunes))
		if src := attribution(m); src != "" {
			fmt.Fprintf(&sb, "\n    (%s)", src)
		}
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

func attribution(m vectorstore.Match) string {
	var parts []string
	if v := m.MetaString("title"); v != "" {
		parts = append(parts, "제목: "+v)
	}
	if v := m.MetaString("region"); v != "" {
		parts = append(parts, "지역: "+v)
	}
	if v := m.MetaString("source"); v != "" {
		parts = append(parts, "출처: "+v)
	}
	return strings.Join(parts, ", ")
}

// FormatQuestions renders conversation prompts as "- text (의도: intent)".
func FormatQuestions(r Result) string {
	if r.Outcome == BackendUnavailable {
		return "질문 자료를 지금은 불러올 수 없습니다. 사용자의 말에 공감하는 데 집중해 주세요."
	}
	if len(r.Snippets) == 0 {
		return "적절한 질문이 없습니다."
	}
	lines := make([]string, 0, len(r.Snippets))
	for _, m := range r.Snippets {
		q := m.MetaString("question_text")
		if q == "" {
			q = strings.TrimSpace(m.Text)
		}
		line := "- " + q
		if intent := m.MetaString("intent"); intent != "" {
			line += " (의도: " + intent + ")"
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}
