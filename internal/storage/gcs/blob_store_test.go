package gcs

import (
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)
	_, err = New(&storage.Client{}, Config{})
	require.Error(t, err)
}

func TestObjectName(t *testing.T) {
	t.Parallel()

	plain, err := New(&storage.Client{}, Config{Bucket: "b"})
	require.NoError(t, err)
	assert.Equal(t, "run/x.png", plain.ObjectName("/run/x.png"))

	prefixed, err := New(&storage.Client{}, Config{Bucket: "b", Prefix: "/diagnostics/"})
	require.NoError(t, err)
	assert.Equal(t, "diagnostics/run/x.png", prefixed.ObjectName("run/x.png"))
}
