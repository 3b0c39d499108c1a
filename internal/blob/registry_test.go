package blob

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_Lifecycle(t *testing.T) {
	r := NewRegistry()

	h := r.Create([]byte("%PDF"), "application/pdf")
	assert.NotEmpty(t, h)
	assert.Equal(t, 1, r.Len())

	b, err := r.Open(h)
	require.NoError(t, err)
	assert.Equal(t, "%PDF", string(b.Data))
	assert.Equal(t, "application/pdf", b.ContentType)

	r.Revoke(h)
	assert.Equal(t, 0, r.Len())

	_, err = r.Open(h)
	assert.ErrorIs(t, err, ErrRevoked)

	// second revoke is harmless
	r.Revoke(h)
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_DistinctHandles(t *testing.T) {
	r := NewRegistry()
	a := r.Create([]byte("a"), "text/plain")
	b := r.Create([]byte("a"), "text/plain")
	assert.NotEqual(t, a, b)
	assert.Equal(t, 2, r.Len())
}
