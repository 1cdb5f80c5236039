// Package idgen centralizes identifier generation so every entity in the
// system uses the same id shape.
package idgen

import "github.com/google/uuid"

// New returns a prefixed, lexically sortable-enough identifier, e.g. "wi_<uuid>".
func New(prefix string) string {
	return prefix + "_" + uuid.NewString()
}
