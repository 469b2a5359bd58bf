package models

import (
	"bytes"
	"encoding/json"

	"github.com/pkg/errors"
)

// TriState — явная трёхзначная замена nullable-булей из API
// (true / false / "не задано"). В JSON ходит как *bool.
type TriState int8

const (
	TriUnset TriState = iota
	TriNo
	TriYes
)

func TriFromBool(b bool) TriState {
	if b {
		return TriYes
	}
	return TriNo
}

func TriFromBoolPtr(b *bool) TriState {
	if b == nil {
		return TriUnset
	}
	return TriFromBool(*b)
}

// BoolPtr возвращает представление для JSON/SQL: nil для TriUnset.
func (t TriState) BoolPtr() *bool {
	switch t {
	case TriYes:
		b := true
		return &b
	case TriNo:
		b := false
		return &b
	default:
		return nil
	}
}

func (t TriState) String() string {
	switch t {
	case TriYes:
		return "yes"
	case TriNo:
		return "no"
	default:
		return "unset"
	}
}

func (t TriState) MarshalJSON() ([]byte, error) {
	switch t {
	case TriYes:
		return []byte("true"), nil
	case TriNo:
		return []byte("false"), nil
	default:
		return []byte("null"), nil
	}
}

func (t *TriState) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*t = TriUnset
		return nil
	}
	var b bool
	if err := json.Unmarshal(data, &b); err != nil {
		return errors.Wrap(err, "unmarshal tristate")
	}
	*t = TriFromBool(b)
	return nil
}
