package objectstore

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryPutAndRemove(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.PutObject(ctx, "products/a.png", strings.NewReader("png-bytes"), 9, "image/png"))
	obj, ok := m.Get("products/a.png")
	require.True(t, ok)
	assert.Equal(t, "png-bytes", string(obj.Data))
	assert.Equal(t, "image/png", obj.ContentType)
	assert.Equal(t, 1, m.Len())

	require.NoError(t, m.RemoveObject(ctx, "products/a.png"))
	_, ok = m.Get("products/a.png")
	assert.False(t, ok)
	assert.Zero(t, m.Len())
	assert.NoError(t, m.RemoveObject(ctx, "missing"))
}

func TestNewRejectsBadEndpoint(t *testing.T) {
	_, err := New(Config{Endpoint: "http://has-a-scheme:9000", Bucket: "b"})
	assert.Error(t, err)
}

// Integration test against a live S3-compatible server
func TestClientRoundTrip(t *testing.T) {
	endpoint := os.Getenv("STORAGE_TEST_ENDPOINT")
	if endpoint == "" {
		t.Skip("STORAGE_TEST_ENDPOINT not set")
	}

	c, err := New(Config{
		Endpoint:  endpoint,
		AccessKey: os.Getenv("STORAGE_TEST_ACCESS_KEY"),
		SecretKey: os.Getenv("STORAGE_TEST_SECRET_KEY"),
		Bucket:    os.Getenv("STORAGE_TEST_BUCKET"),
	})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, c.Ping(ctx))
	require.NoError(t, c.PutObject(ctx, "test/hello.txt", strings.NewReader("hello"), 5, "text/plain"))
	require.NoError(t, c.RemoveObject(ctx, "test/hello.txt"))
}
