package identifier

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "titledeed/pkg/domain"
)

func TestGenerateFormat(t *testing.T) {
	n := New().Generate()
	parsed, err := id.ParseDeedNumber(n.String())
	require.NoError(t, err)
	assert.Equal(t, n, parsed)
}

func TestGenerateNoCollisions(t *testing.T) {
	g := New()
	seen := make(map[id.DeedNumber]struct{}, 10000)
	for range 10000 {
		n := g.Generate()
		_, dup := seen[n]
		require.False(t, dup, "duplicate deed number %s", n)
		seen[n] = struct{}{}
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("no entropy") }

func TestGeneratePanicsOnEntropyFailure(t *testing.T) {
	assert.Panics(t, func() { NewWithSource(failingReader{}).Generate() })
}
