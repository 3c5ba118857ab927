package counsel

import (
	"database/sql/driver"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Vector is an embedding. It reads and writes the pgvector text form
// "[x,y,z]" so it can be used directly as a query argument or scan target.
type Vector []float32

// Scan implements sql.Scanner.
func (v *Vector) Scan(src any) error {
	var text string
	switch s := src.(type) {
	case nil:
		*v = nil
		return nil
	case string:
		text = s
	case []byte:
		text = string(s)
	default:
		return fmt.Errorf("cannot scan %T into Vector", src)
	}

	text = strings.TrimSpace(text)
	inner, ok := strings.CutPrefix(text, "[")
	if ok {
		inner, ok = strings.CutSuffix(inner, "]")
	}
	if !ok {
		return fmt.Errorf("vector %q is not bracketed", text)
	}
	if strings.TrimSpace(inner) == "" {
		*v = nil
		return nil
	}

	out := make(Vector, 0, strings.Count(inner, ",")+1)
	for field := range strings.SplitSeq(inner, ",") {
		f, err := strconv.ParseFloat(strings.TrimSpace(field), 32)
		if err != nil {
			return fmt.Errorf("vector element %d: %w", len(out), err)
		}
		out = append(out, float32(f))
	}
	*v = out
	return nil
}

// Value implements driver.Valuer. A nil vector is stored as NULL.
func (v Vector) Value() (driver.Value, error) {
	if v == nil {
		return nil, nil
	}
	buf := make([]byte, 0, 2+len(v)*10)
	buf = append(buf, '[')
	for i, f := range v {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = strconv.AppendFloat(buf, float64(f), 'f', -1, 32)
	}
	buf = append(buf, ']')
	return string(buf), nil
}

// Cosine returns the cosine similarity of two vectors, clamped to [0, 1].
// Vectors of different length or with zero magnitude score 0.
func (v Vector) Cosine(other Vector) float32 {
	if len(v) != len(other) || len(v) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range v {
		a, b := float64(v[i]), float64(other[i])
		dot += a * b
		na += a * a
		nb += b * b
	}
	if na == 0 || nb == 0 {
		return 0
	}
	sim := dot / (math.Sqrt(na) * math.Sqrt(nb))
	return float32(math.Max(0, math.Min(1, sim)))
}
