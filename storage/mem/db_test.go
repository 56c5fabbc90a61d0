package mem

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore(t *testing.T) {
	s := NewMemStore()

	require.NoError(t, s.WriteKey("a", []byte("one")))
	data, err := s.GetKey("a")
	require.NoError(t, err)
	assert.Equal(t, []byte("one"), data)

	_, err = s.GetKey("missing")
	require.Error(t, err)
	assert.True(t, s.ErrIsNotFound(err))
	assert.Equal(t, 1, s.Len())
}
