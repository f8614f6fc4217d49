package contentstore

import (
	"bytes"
	"context"
	"crypto/rand"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "blocks.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Init(context.Background()))
	return store
}

func TestHeaderTransform(t *testing.T) {
	id, err := Sum([]byte("hello"))
	require.NoError(t, err)

	raw, err := base58.Decode(id)
	require.NoError(t, err)
	require.Len(t, raw, 2+HashLength)
	assert.Equal(t, []byte{0x12, 0x20}, raw[:2])

	hash, err := StripHeader(id)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(hash, "0x"))
	assert.Len(t, hash, 2+2*HashLength)
	assert.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", hash[2:])

	back, err := PrependHeader(hash)
	require.NoError(t, err)
	assert.Equal(t, id, back)
	back, err = PrependHeader(strings.TrimPrefix(hash, "0x"))
	require.NoError(t, err)
	assert.Equal(t, id, back)
}

func TestHeaderRejectsBadInput(t *testing.T) {
	for _, bad := range []string{"", "0x1234", "zz", "0x" + strings.Repeat("g", 64)} {
		_, err := PrependHeader(bad)
		assert.ErrorIs(t, err, ErrInvalidID, bad)
	}
	for _, bad := range []string{"", "0OIl", base58.Encode([]byte{0x11, 0x02, 0xaa, 0xbb})} {
		_, err := StripHeader(bad)
		assert.ErrorIs(t, err, ErrInvalidID, bad)
	}
}

func TestFilesRoundTrip(t *testing.T) {
	files := NewFiles(openStore(t))
	ctx := context.Background()

	random := make([]byte, 4096)
	_, err := rand.Read(random)
	require.NoError(t, err)

	for _, data := range [][]byte{[]byte("hello"), {}, {0, 0, 0}, random} {
		hash, err := files.WriteFile(ctx, data)
		require.NoError(t, err)
		assert.Len(t, hash, 66)

		got, err := files.ReadFile(ctx, hash)
		require.NoError(t, err)
		assert.True(t, bytes.Equal(data, got))
	}
}

func TestFilesWriteIsIdempotent(t *testing.T) {
	files := NewFiles(openStore(t))
	ctx := context.Background()
	a, err := files.WriteFile(ctx, []byte("same"))
	require.NoError(t, err)
	b, err := files.WriteFile(ctx, []byte("same"))
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestReadMissingAndCorrupt(t *testing.T) {
	store := openStore(t)
	files := NewFiles(store)
	ctx := context.Background()

	_, err := files.ReadFile(ctx, "0x"+strings.Repeat("00", HashLength))
	assert.ErrorIs(t, err, ErrNotFound)

	id, err := store.Put(ctx, []byte("pristine"))
	require.NoError(t, err)
	_, err = store.db.ExecContext(ctx, `UPDATE blocks SET data = ? WHERE id = ?`, []byte("tampered"), id)
	require.NoError(t, err)
	_, err = store.Get(ctx, id)
	assert.ErrorIs(t, err, ErrCorrupt)
}
