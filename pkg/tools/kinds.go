package tools

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/SKN19-3rd-4th-Project/Well-dying/pkg/providers"
	"github.com/SKN19-3rd-4th-Project/Well-dying/pkg/retrieval"
)

// Kind names a tool the model can call.
type Kind string

const (
	KindFacilities       Kind = "search_funeral_facilities"
	KindPublicFuneral    Kind = "search_public_funeral_ordinance"
	KindCremation        Kind = "search_cremation_subsidy_ordinance"
	KindDigitalLegacy    Kind = "search_digital_legacy"
	KindInheritanceLaw   Kind = "search_inheritance_law"
	KindRecommend        Kind = "recommend_activities"
	KindEmpathyQuestions Kind = "search_empathy_questions"
)

// EmpathyKinds and InfoKinds are the tool sets each dialogue mode exposes.
var (
	EmpathyKinds = []Kind{KindRecommend, KindEmpathyQuestions}
	InfoKinds    = []Kind{KindFacilities, KindPublicFuneral, KindCremation, KindDigitalLegacy, KindInheritanceLaw}
)

// Call is a decoded tool invocation. The set of implementations is closed.
type Call interface {
	Kind() Kind
	isCall()
}

type FacilitySearch struct {
	Query   string   `json:"query"`
	Region  string   `json:"region,omitempty"`
	Regions []string `json:"regions,omitempty"`
}

type OrdinanceSearch struct {
	Ordinance retrieval.OrdinanceKind `json:"-"`
	Query     string                  `json:"query"`
	Region    string                  `json:"region,omitempty"`
}

type DigitalLegacySearch struct {
	Query string `json:"query"`
}

type InheritanceLawSearch struct {
	Query string `json:"query"`
}

type ActivityRecommendation struct {
	Emotion  string `json:"user_emotion"`
	Mobility string `json:"mobility_status,omitempty"`
}

type EmpathyQuestionSearch struct {
	Topic string `json:"context"`
}

func (FacilitySearch) Kind() Kind { return KindFacilities }
func (c OrdinanceSearch) Kind() Kind {
	if c.Ordinance == retrieval.CremationSubsidy {
		return KindCremation
	}
	return KindPublicFuneral
}
func (DigitalLegacySearch) Kind() Kind    { return KindDigitalLegacy }
func (InheritanceLawSearch) Kind() Kind   { return KindInheritanceLaw }
func (ActivityRecommendation) Kind() Kind { return KindRecommend }
func (EmpathyQuestionSearch) Kind() Kind  { return KindEmpathyQuestions }

func (FacilitySearch) isCall()         {}
func (OrdinanceSearch) isCall()        {}
func (DigitalLegacySearch) isCall()    {}
func (InheritanceLawSearch) isCall()   {}
func (ActivityRecommendation) isCall() {}
func (EmpathyQuestionSearch) isCall()  {}

// MaxFacilityRegions is how many regions one facility search may compare.
const MaxFacilityRegions = 3

// AllRegions merges the single and list forms, dropping blanks and repeats.
// Regions beyond MaxFacilityRegions come back in dropped.
func (c FacilitySearch) AllRegions() (regions, dropped []string) {
	seen := map[string]bool{}
	for _, r := range append([]string{c.Region}, c.Regions...) {
		r = strings.TrimSpace(r)
		if r == "" || seen[r] {
			continue
		}
		seen[r] = true
		if len(regions) < MaxFacilityRegions {
			regions = append(regions, r)
		} else {
			dropped = append(dropped, r)
		}
	}
	return regions, dropped
}

// DecodeCall turns a provider tool call into its typed form.
func DecodeCall(name string, args map[string]interface{}) (Call, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("encode %s arguments: %w", name, err)
	}
	var call Call
	switch Kind(name) {
	case KindFacilities:
		call, err = decodeAs(raw, FacilitySearch{})
	case KindPublicFuneral:
		call, err = decodeAs(raw, OrdinanceSearch{Ordinance: retrieval.PublicFuneral})
	case KindCremation:
		call, err = decodeAs(raw, OrdinanceSearch{Ordinance: retrieval.CremationSubsidy})
	case KindDigitalLegacy:
		call, err = decodeAs(raw, DigitalLegacySearch{})
	case KindInheritanceLaw:
		call, err = decodeAs(raw, InheritanceLawSearch{})
	case KindRecommend:
		call, err = decodeAs(raw, ActivityRecommendation{})
	case KindEmpathyQuestions:
		call, err = decodeAs(raw, EmpathyQuestionSearch{})
	default:
		return nil, fmt.Errorf("unknown tool %q", name)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s arguments: %w", name, err)
	}
	return call, nil
}

func decodeAs[T Call](raw []byte, c T) (Call, error) {
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, err
	}
	return c, nil
}

func stringProp(desc string) map[string]interface{} {
	return map[string]interface{}{"type": "string", "description": desc}
}

func objectSchema(props map[string]interface{}, required ...string) map[string]interface{} {
	schema := map[string]interface{}{"type": "object", "properties": props}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

var descriptions = map[Kind]string{
	KindFacilities:       "장례식장·화장시설·봉안시설 등 장사 시설을 지역별로 검색합니다. 여러 지역을 비교할 때는 regions에 넣되 최대 3개까지만 넣으세요.",
	KindPublicFuneral:    "지자체의 공영장례 조례(지원 대상, 절차)를 검색합니다.",
	KindCremation:        "지자체의 화장 장려금·화장 지원 조례를 검색합니다.",
	KindDigitalLegacy:    "디지털 유산(계정, 사진, 온라인 자산) 정리 방법을 검색합니다.",
	KindInheritanceLaw:   "상속·유언 관련 법률 자료를 검색합니다.",
	KindRecommend:        "사용자의 현재 감정과 거동 상태에 맞는 작은 활동을 추천합니다.",
	KindEmpathyQuestions: "대화 맥락에 어울리는 공감 질문 예시를 찾습니다.",
}

func parametersFor(k Kind) map[string]interface{} {
	query := stringProp("검색할 내용")
	switch k {
	case KindFacilities:
		return objectSchema(map[string]interface{}{
			"query":  query,
			"region": stringProp("시·군·구 지역명 (선택)"),
			"regions": map[string]interface{}{
				"type":        "array",
				"items":       map[string]interface{}{"type": "string"},
				"description": "여러 지역명 (선택, 최대 3개)",
				"maxItems":    MaxFacilityRegions,
			},
		}, "query")
	case KindPublicFuneral, KindCremation:
		return objectSchema(map[string]interface{}{
			"query":  query,
			"region": stringProp("시·군·구 지역명 (선택)"),
		}, "query")
	case KindRecommend:
		return objectSchema(map[string]interface{}{
			"user_emotion":    stringProp("사용자의 현재 감정 (예: 불안, 외로움, 우울)"),
			"mobility_status": stringProp("거동 상태 (예: 거동 가능, 휠체어 사용, 누워서 생활)"),
		}, "user_emotion")
	case KindEmpathyQuestions:
		return objectSchema(map[string]interface{}{
			"context": stringProp("지금 나누고 있는 이야기의 주제"),
		}, "context")
	default:
		return objectSchema(map[string]interface{}{"query": query}, "query")
	}
}

// Definition is the provider-facing schema for k.
func Definition(k Kind) providers.ToolDefinition {
	return providers.ToolDefinition{
		Type: "function",
		Function: providers.ToolFunctionDefinition{
			Name:        string(k),
			Description: descriptions[k],
			Parameters:  parametersFor(k),
		},
	}
}
