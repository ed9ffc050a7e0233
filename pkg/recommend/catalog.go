package recommend

import (
	"bytes"
	_ "embed"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

//go:embed data/meaningful_activities.csv
var defaultCatalogCSV []byte

// Category is the activity family, in English.
type Category string

const (
	Sensory      Category = "sensory"
	Rest         Category = "rest"
	Reminiscence Category = "reminiscence"
	Connection   Category = "connection"
	Legacy       Category = "legacy"
	Reflection   Category = "reflection"
)

var koreanCategory = map[string]Category{
	"감각": Sensory,
	"휴식": Rest,
	"회상": Reminiscence,
	"연결": Connection,
	"유산": Legacy,
	"성찰": Reflection,
}

// Label is the Korean name shown to users.
func (c Category) Label() string {
	for k, v := range koreanCategory {
		if v == c {
			return k
		}
	}
	return string(c)
}

// ParseCategory accepts either the Korean or the English name.
func ParseCategory(s string) (Category, bool) {
	s = strings.TrimSpace(s)
	if c, ok := koreanCategory[s]; ok {
		return c, true
	}
	switch c := Category(strings.ToLower(s)); c {
	case Sensory, Rest, Reminiscence, Connection, Legacy, Reflection:
		return c, true
	}
	return "", false
}

// Activity is one catalog row.
type Activity struct {
	Name     string
	Energy   int
	Tags     string
	Category Category
	Meaning  int
}

type Catalog []Activity

var requiredColumns = []string{"activity_kr", "ENERGY_REQUIRED", "FEELING_TAGS", "category", "meaning_level"}

// DefaultCatalog returns the built-in activity list.
func DefaultCatalog() Catalog {
	c, err := ParseCatalog(bytes.NewReader(defaultCatalogCSV))
	if err != nil {
		panic(fmt.Sprintf("recommend: embedded catalog is invalid: %v", err))
	}
	return c
}

// LoadCatalog reads a catalog CSV; an empty path yields the defaults.
func LoadCatalog(path string) (Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultCatalog(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog %s: %w", path, err)
	}
	defer f.Close()
	return ParseCatalog(f)
}

// ParseCatalog reads rows by header name, so column order is free and extra
// columns are ignored.
func ParseCatalog(r io.Reader) (Catalog, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("catalog is empty")
		}
		return nil, fmt.Errorf("read catalog header: %w", err)
	}
	col := map[string]int{}
	for i, h := range header {
		col[strings.TrimPrefix(strings.TrimSpace(h), "\ufeff")] = i
	}
	for _, name := range requiredColumns {
		if _, ok := col[name]; !ok {
			return nil, fmt.Errorf("catalog is missing column %q", name)
		}
	}

	var out Catalog
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("catalog line %d: %w", line, err)
		}
		energy, err := strconv.Atoi(strings.TrimSpace(rec[col["ENERGY_REQUIRED"]]))
		if err != nil {
			return nil, fmt.Errorf("catalog line %d: ENERGY_REQUIRED: %w", line, err)
		}
		meaning, err := strconv.Atoi(strings.TrimSpace(rec[col["meaning_level"]]))
		if err != nil {
			return nil, fmt.Errorf("catalog line %d: meaning_level: %w", line, err)
		}
		cat, ok := ParseCategory(rec[col["category"]])
		if !ok {
			return nil, fmt.Errorf("catalog line %d: unknown category %q", line, rec[col["category"]])
		}
		out = append(out, Activity{
			Name:     strings.TrimSpace(rec[col["activity_kr"]]),
			Energy:   energy,
			Tags:     strings.TrimSpace(rec[col["FEELING_TAGS"]]),
			Category: cat,
			Meaning:  meaning,
		})
	}
	return out, nil
}
