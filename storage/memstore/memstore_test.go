package memstore

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/kadcore/storage"
)

func TestGetNotFound(t *testing.T) {
	s := New()
	_, err := s.Get(context.Background(), []byte("missing"))
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestPutThenGet(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Put(ctx, []byte("k"), []byte("v")))
	got, err := s.Get(ctx, []byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)
}

func TestGetReturnsACopyNotTheStoredSlice(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Put(ctx, []byte("k"), []byte("v")))
	got, err := s.Get(ctx, []byte("k"))
	require.NoError(t, err)
	got[0] = 'x'

	again, err := s.Get(ctx, []byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), again)
}

func TestDelMissingIsNotAnError(t *testing.T) {
	s := New()
	assert.NoError(t, s.Del(context.Background(), []byte("missing")))
}

func TestDelRemovesKey(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Put(ctx, []byte("k"), []byte("v")))
	require.NoError(t, s.Del(ctx, []byte("k")))
	_, err := s.Get(ctx, []byte("k"))
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestCreateReadStreamFiltersByPrefixAndSortsKeys(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Put(ctx, []byte("BUCKET-2"), []byte("b2")))
	require.NoError(t, s.Put(ctx, []byte("BUCKET-1"), []byte("b1")))
	require.NoError(t, s.Put(ctx, []byte("OTHER"), []byte("x")))

	stream, err := s.CreateReadStream(ctx, []byte("BUCKET-"))
	require.NoError(t, err)
	defer stream.Close()

	var keys []string
	for {
		e, err := stream.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		keys = append(keys, string(e.Key))
	}
	assert.Equal(t, []string{"BUCKET-1", "BUCKET-2"}, keys)
}
