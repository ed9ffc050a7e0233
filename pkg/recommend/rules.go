// Package recommend suggests small meaningful activities from the user's
// reported feeling, mobility and how far the conversation has progressed.
package recommend

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

//go:embed data/conversation_rules.json
var defaultRulesJSON []byte

// EnergyRange bounds ENERGY_REQUIRED, inclusive.
type EnergyRange struct {
	Min int `json:"min_energy" yaml:"min_energy"`
	Max int `json:"max_energy" yaml:"max_energy"`
}

// DefaultEnergy applies when mobility is unknown.
var DefaultEnergy = EnergyRange{Min: 1, Max: 2}

type Rules struct {
	Mappings struct {
		EmotionToFeelingTags  map[string][]string    `json:"emotion_to_feeling_tags" yaml:"emotion_to_feeling_tags"`
		MobilityToEnergyRange map[string]EnergyRange `json:"mobility_to_energy_range" yaml:"mobility_to_energy_range"`
	} `json:"mappings" yaml:"mappings"`
}

// DefaultRules returns the built-in mapping table.
func DefaultRules() Rules {
	r, err := ParseRules(defaultRulesJSON, ".json")
	if err != nil {
		panic(fmt.Sprintf("recommend: embedded rules are invalid: %v", err))
	}
	return r
}

// LoadRules reads a rules file; an empty path yields the defaults.
func LoadRules(path string) (Rules, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultRules(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Rules{}, fmt.Errorf("read rules %s: %w", path, err)
	}
	return ParseRules(data, filepath.Ext(path))
}

func ParseRules(data []byte, ext string) (Rules, error) {
	var r Rules
	var err error
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &r)
	default:
		err = json.Unmarshal(data, &r)
	}
	if err != nil {
		return Rules{}, fmt.Errorf("parse rules: %w", err)
	}
	return r, nil
}

// FeelingTags maps an emotion answer to target tags. ok is false for an
// answer the table does not know.
func (r Rules) FeelingTags(emotion string) (tags []string, ok bool) {
	tags, ok = r.Mappings.EmotionToFeelingTags[strings.TrimSpace(emotion)]
	return tags, ok && len(tags) > 0
}

// Energy maps a mobility answer to an energy range, DefaultEnergy otherwise.
func (r Rules) Energy(mobility string) (EnergyRange, bool) {
	rng, ok := r.Mappings.MobilityToEnergyRange[strings.TrimSpace(mobility)]
	if !ok {
		return DefaultEnergy, false
	}
	return rng, true
}

// Emotions lists the known emotion answers.
func (r Rules) Emotions() []string {
	return keys(r.Mappings.EmotionToFeelingTags)
}

// Mobilities lists the known mobility answers.
func (r Rules) Mobilities() []string {
	return keys(r.Mappings.MobilityToEnergyRange)
}

func keys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sortByLengthDesc(out)
	return out
}

// sortByLengthDesc puts longer answers first so substring detection prefers
// the most specific phrase.
func sortByLengthDesc(s []string) {
	sort.Slice(s, func(i, j int) bool {
		li, lj := utf8.RuneCountInString(s[i]), utf8.RuneCountInString(s[j])
		if li != lj {
			return li > lj
		}
		return s[i] < s[j]
	})
}
