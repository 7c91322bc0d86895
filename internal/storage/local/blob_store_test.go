package local

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutObjectWritesFile(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	store, err := New(Config{BaseDir: base})
	require.NoError(t, err)

	uri, err := store.PutObject(context.Background(), "run-1/item_page_1_item_2.png", "image/png", []byte("png"))
	require.NoError(t, err)

	full := filepath.Join(base, "run-1", "item_page_1_item_2.png")
	assert.Equal(t, "file://"+filepath.ToSlash(full), uri)
	data, err := os.ReadFile(full)
	require.NoError(t, err)
	assert.Equal(t, "png", string(data))
}

func TestPutObjectRejectsTraversal(t *testing.T) {
	t.Parallel()

	store, err := New(Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	_, err = store.PutObject(context.Background(), "../escape.png", "", []byte("x"))
	require.Error(t, err)
	_, err = store.PutObject(context.Background(), " ", "", []byte("x"))
	require.Error(t, err)
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(Config{})
	require.Error(t, err)

	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
	_, err = New(Config{BaseDir: file})
	require.Error(t, err)
}
