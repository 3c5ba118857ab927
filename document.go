package counsel

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"maps"
)

// Document is a unit of retrievable knowledge.
type Document struct {
	ID       string   `json:"id"`
	Content  string   `json:"content"`
	Metadata Metadata `json:"metadata"`
}

// RetrievedDocument is a document returned by a search together with its
// similarity score in [0, 1].
type RetrievedDocument struct {
	ID       string   `json:"id"`
	Content  string   `json:"content"`
	Metadata Metadata `json:"metadata"`
	Score    float32  `json:"score"`
}

// Metadata holds string attributes of a document. It is stored as jsonb.
type Metadata map[string]string

// Clone returns a copy of the metadata.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return Metadata{}
	}
	return maps.Clone(m)
}

// Matches reports whether every filter entry is present with an equal value.
func (m Metadata) Matches(filter Filter) bool {
	for k, v := range filter {
		if got, ok := m[k]; !ok || got != v {
			return false
		}
	}
	return true
}

// Scan implements sql.Scanner for jsonb columns.
func (m *Metadata) Scan(src any) error {
	if src == nil {
		*m = Metadata{}
		return nil
	}
	var raw []byte
	switch val := src.(type) {
	case []byte:
		raw = val
	case string:
		raw = []byte(val)
	default:
		return fmt.Errorf("cannot scan %T into Metadata", src)
	}
	out := Metadata{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("failed to decode metadata: %w", err)
	}
	*m = out
	return nil
}

// Value implements driver.Valuer for jsonb columns.
func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(map[string]string(m))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Filter is an equality predicate over document metadata. Every entry must
// match. An empty filter matches everything.
type Filter map[string]string

// Eq returns a single-entry filter.
func Eq(key, value string) Filter {
	return Filter{key: value}
}

// DocumentLoader produces documents for ingestion.
type DocumentLoader interface {
	Load(ctx context.Context) ([]Document, error)
}

// DocumentTransformer rewrites documents before ingestion, for example to add
// metadata.
type DocumentTransformer interface {
	Transform(ctx context.Context, docs []Document) ([]Document, error)
}
