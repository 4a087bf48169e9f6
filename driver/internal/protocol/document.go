// SPDX-FileCopyrightText: 2014-2022 SAP SE
//
// SPDX-License-Identifier: Apache-2.0

package protocol

// Elem is a single ordered key/value pair of a command document. Wire-level
// byte encoding of Document into the binary document format is an external
// collaborator (spec.md §1) — Document only models deterministic assembly
// and field ordering.
type Elem struct {
	Key   string
	Value any
}

// Document is an ordered command document, the bson.D-shaped type commands
// are assembled into before being handed to the wire encoder.
type Document []Elem

// NewDocument returns an empty Document ready for Append calls.
func NewDocument() Document { return Document{} }

// Append adds a key/value pair, preserving insertion order. It returns the
// receiver's new value; callers that build a Document incrementally as a
// local variable must reassign: d = d.Append(...).
func (d Document) Append(key string, value any) Document {
	return append(d, Elem{Key: key, Value: value})
}

// Lookup returns the value of the first element with the given key.
func (d Document) Lookup(key string) (any, bool) {
	for _, e := range d {
		if e.Key == key {
			return e.Value, true
		}
	}
	return nil, false
}

// Has reports whether key is present.
func (d Document) Has(key string) bool {
	_, ok := d.Lookup(key)
	return ok
}

// Equal reports deep equality of two documents including field order, used
// by command-builder idempotence tests (spec.md §8 property 6).
func (d Document) Equal(other Document) bool {
	if len(d) != len(other) {
		return false
	}
	for i := range d {
		if d[i].Key != other[i].Key {
			return false
		}
		if !valueEqual(d[i].Value, other[i].Value) {
			return false
		}
	}
	return true
}

func valueEqual(a, b any) bool {
	da, aok := a.(Document)
	db, bok := b.(Document)
	if aok && bok {
		return da.Equal(db)
	}
	if aok != bok {
		return false
	}
	sa, aok := a.([]any)
	sb, bok := b.([]any)
	if aok && bok {
		if len(sa) != len(sb) {
			return false
		}
		for i := range sa {
			if !valueEqual(sa[i], sb[i]) {
				return false
			}
		}
		return true
	}
	return a == b
}
