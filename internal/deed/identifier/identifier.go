// Package identifier produces deed numbers.
package identifier

import (
	"crypto/rand"
	"encoding/hex"
	"io"

	id "titledeed/pkg/domain"
)

const entropyBytes = 16

// Generator draws deed numbers from a cryptographic source. The zero value
// reads from crypto/rand.
type Generator struct {
	source io.Reader
}

// New returns a generator backed by crypto/rand.
func New() *Generator {
	return &Generator{source: rand.Reader}
}

// NewWithSource is used by tests to observe entropy failure.
func NewWithSource(r io.Reader) *Generator {
	return &Generator{source: r}
}

// Generate returns 32 lowercase hex characters. A failing entropy source is a
// fatal process condition and panics.
func (g *Generator) Generate() id.DeedNumber {
	src := g.source
	if src == nil {
		src = rand.Reader
	}
	var buf [entropyBytes]byte
	if _, err := io.ReadFull(src, buf[:]); err != nil {
		panic("identifier: entropy source failed: " + err.Error())
	}
	return id.DeedNumber(hex.EncodeToString(buf[:]))
}
