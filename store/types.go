package store

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSONMap is a generic JSON object column, used for Proposal.Metadata and
// JobQueue.Payload. The teacher's jsonb columns (e.g. Invoice.ComplianceTags)
// are plain []byte; these wrappers add typed Scan/Value so callers work with
// native Go values instead of re-marshaling at every call site.
type JSONMap map[string]interface{}

// Value implements driver.Valuer.
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner.
func (m *JSONMap) Scan(src interface{}) error {
	return scanJSON(src, m)
}

// JSONStrings is a JSON array-of-strings column, used for Proposal.Choices.
type JSONStrings []string

// Value implements driver.Valuer.
func (s JSONStrings) Value() (driver.Value, error) {
	if s == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]string(s))
}

// Scan implements sql.Scanner.
func (s *JSONStrings) Scan(src interface{}) error {
	return scanJSON(src, s)
}

// JSONFloats is a JSON array-of-numbers column, used for Proposal.Scores.
type JSONFloats []float64

// Value implements driver.Valuer.
func (f JSONFloats) Value() (driver.Value, error) {
	if f == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]float64(f))
}

// Scan implements sql.Scanner.
func (f *JSONFloats) Scan(src interface{}) error {
	return scanJSON(src, f)
}

// JSONRaw stores an arbitrary JSON value verbatim, used for Vote.Choice,
// whose shape is one of the tagged encodings in the choice decoder.
type JSONRaw json.RawMessage

// Value implements driver.Valuer.
func (r JSONRaw) Value() (driver.Value, error) {
	if len(r) == 0 {
		return []byte("null"), nil
	}
	return []byte(r), nil
}

// Scan implements sql.Scanner.
func (r *JSONRaw) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*r = nil
		return nil
	case []byte:
		*r = append((*r)[:0], v...)
		return nil
	case string:
		*r = JSONRaw(v)
		return nil
	default:
		return fmt.Errorf("store: cannot scan %T into JSONRaw", src)
	}
}

// MarshalJSON implements json.Marshaler.
func (r JSONRaw) MarshalJSON() ([]byte, error) {
	if len(r) == 0 {
		return []byte("null"), nil
	}
	return r, nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *JSONRaw) UnmarshalJSON(data []byte) error {
	*r = append((*r)[:0], data...)
	return nil
}

// GroupItemList is the heterogeneous, ordered item list of a ProposalGroup.
type GroupItemList []GroupItem

// Value implements driver.Valuer.
func (l GroupItemList) Value() (driver.Value, error) {
	if l == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]GroupItem(l))
}

// Scan implements sql.Scanner.
func (l *GroupItemList) Scan(src interface{}) error {
	return scanJSON(src, l)
}

func scanJSON(src interface{}, dst interface{}) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		if len(v) == 0 {
			return nil
		}
		return json.Unmarshal(v, dst)
	case string:
		if v == "" {
			return nil
		}
		return json.Unmarshal([]byte(v), dst)
	default:
		return fmt.Errorf("store: cannot scan %T into %T", src, dst)
	}
}
