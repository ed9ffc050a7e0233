package vectorstore

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

type jsonlRecord struct {
	ID          string                 `json:"id"`
	Namespace   string                 `json:"namespace"`
	Text        string                 `json:"text"`
	Context     string                 `json:"context"`
	Instruction string                 `json:"instruction"`
	Metadata    map[string]interface{} `json:"metadata"`
}

// ReadJSONL parses one document per line. "context" is accepted as an
// alias for "text"; when an "instruction" accompanies it the two are joined
// into a titled snippet. defaultNamespace fills records that omit one. Blank
// lines are skipped; a malformed line fails the whole read with its line
// number.
func ReadJSONL(r io.Reader, defaultNamespace string) ([]Document, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var docs []Document
	line := 0
	for sc.Scan() {
		line++
		raw := strings.TrimSpace(sc.Text())
		if raw == "" {
			continue
		}
		var rec jsonlRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		text := rec.Text
		if strings.TrimSpace(text) == "" {
			text = rec.Context
			if title := strings.TrimSpace(rec.Instruction); title != "" && strings.TrimSpace(text) != "" {
				text = "주제: " + title + "\n내용: " + text
				if rec.Metadata == nil {
					rec.Metadata = map[string]interface{}{}
				}
				if _, ok := rec.Metadata["title"]; !ok {
					rec.Metadata["title"] = title
				}
			}
		}
		ns := rec.Namespace
		if strings.TrimSpace(ns) == "" {
			ns = defaultNamespace
		}
		if strings.TrimSpace(text) == "" || strings.TrimSpace(ns) == "" {
			return nil, fmt.Errorf("line %d: namespace and text are required", line)
		}
		docs = append(docs, Document{ID: rec.ID, Namespace: ns, Text: text, Metadata: rec.Metadata})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read jsonl: %w", err)
	}
	return docs, nil
}
