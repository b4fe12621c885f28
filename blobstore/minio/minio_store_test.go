package minio

import (
	"context"
	"os"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/fdtable/blobstore"
)

func TestStoreKeys(t *testing.T) {
	client, err := minio.New("localhost:9000", &minio.Options{
		Creds: credentials.NewStaticV4("key", "secret", ""),
	})
	require.NoError(t, err)

	assert.Equal(t, "cp/a", NewStore(client, "b", "cp").key("a"))
	assert.Equal(t, "cp/a", NewStore(client, "b", "cp/").key("a"))
	assert.Equal(t, "a", NewStore(client, "b", "").key("a"))
}

// TestMinioStore_Integration requires a running MinIO instance at
// MINIO_ENDPOINT. Skip if not available.
func TestMinioStore_Integration(t *testing.T) {
	endpoint := os.Getenv("MINIO_ENDPOINT")
	if endpoint == "" {
		t.Skip("Skipping MinIO integration test: MINIO_ENDPOINT not set")
	}

	ctx := context.Background()
	store, err := Connect(ctx, endpoint, "minioadmin", "minioadmin", false, "test-fdtable", "test-prefix/")
	if err != nil {
		t.Skipf("MinIO not available: %v", err)
	}

	data := []byte("hello minio world")
	require.NoError(t, store.Put(ctx, "test.bin", data))

	got, err := blobstore.ReadAll(ctx, store, "test.bin")
	require.NoError(t, err)
	require.Equal(t, data, got)

	names, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Contains(t, names, "test.bin")

	require.NoError(t, store.Delete(ctx, "test.bin"))
	_, err = store.Open(ctx, "test.bin")
	require.ErrorIs(t, err, blobstore.ErrNotFound)
}
