package region

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Well-known gazetteer domains.
const (
	DomainPublicFuneral     = "public_funeral_ordinance"
	DomainCremationDetail   = "cremation_detail"
	DomainCremationEtcetera = "cremation_etcetera"
)

// Gazetteer maps a domain name to its region list. It is loaded once and
// never mutated afterwards, so it is safe for concurrent reads.
type Gazetteer map[string][]string

// LoadGazetteer reads a domain → regions document. Files ending in .yaml or
// .yml are parsed as YAML, everything else as JSON.
func LoadGazetteer(path string) (Gazetteer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read gazetteer %s: %w", path, err)
	}
	return ParseGazetteer(data, filepath.Ext(path))
}

// ParseGazetteer decodes data according to ext (".json", ".yaml", ".yml").
func ParseGazetteer(data []byte, ext string) (Gazetteer, error) {
	g := Gazetteer{}
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &g); err != nil {
			return nil, fmt.Errorf("parse gazetteer yaml: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &g); err != nil {
			return nil, fmt.Errorf("parse gazetteer json: %w", err)
		}
	}
	return g, nil
}

// All returns the sorted union of every domain with duplicates removed.
func (g Gazetteer) All() []string {
	seen := make(map[string]struct{})
	out := make([]string, 0)
	for _, regions := range g {
		for _, r := range regions {
			r = strings.TrimSpace(r)
			if r == "" {
				continue
			}
			if _, ok := seen[r]; ok {
				continue
			}
			seen[r] = struct{}{}
			out = append(out, r)
		}
	}
	sort.Strings(out)
	return out
}

// Domain concatenates the named domains in argument order. Unknown names
// contribute nothing.
func (g Gazetteer) Domain(names ...string) []string {
	var out []string
	for _, name := range names {
		out = append(out, g[name]...)
	}
	return out
}
