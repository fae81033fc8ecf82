package domain

import (
	"bytes"
	"encoding/json"
)

// Optional holds a value that may or may not have been supplied.
//
// When decoded from JSON, an absent key leaves Set false, while an explicit
// null sets Set true and keeps Value at its zero value. Use a pointer T to
// tell null apart from an empty value.
type Optional[T any] struct {
	Set   bool
	Value T
}

// Some returns an Optional carrying v.
func Some[T any](v T) Optional[T] {
	return Optional[T]{Set: true, Value: v}
}

// UnmarshalJSON implements json.Unmarshaler.
func (o *Optional[T]) UnmarshalJSON(data []byte) error {
	o.Set = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		var zero T
		o.Value = zero
		return nil
	}
	return json.Unmarshal(data, &o.Value)
}
