package local_test

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/undertow/pkg/dbchange/adapter/storage"
	storageconfig "github.com/tigerroll/undertow/pkg/dbchange/adapter/storage/config"
	"github.com/tigerroll/undertow/pkg/dbchange/adapter/storage/local"
)

func TestLocalAdapter_RoundTrip(t *testing.T) {
	ctx := context.Background()
	conn, err := local.NewAdapter(storageconfig.StorageConfig{Type: "local", BaseDir: t.TempDir(), BucketName: "backups"}, "files")
	require.NoError(t, err)

	require.NoError(t, conn.Upload(ctx, "", "archive/orders/part-1.parquet", strings.NewReader("abc"), "application/octet-stream"))
	require.NoError(t, conn.Upload(ctx, "", "archive/users/part-1.parquet", strings.NewReader("de"), "application/octet-stream"))

	var names []string
	require.NoError(t, conn.ListObjects(ctx, "", "archive/orders", func(n string) error {
		names = append(names, n)
		return nil
	}))
	assert.Equal(t, []string{"archive/orders/part-1.parquet"}, names)

	r, err := conn.Download(ctx, "", "archive/orders/part-1.parquet")
	require.NoError(t, err)
	b, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	assert.Equal(t, "abc", string(b))

	require.NoError(t, conn.DeleteObject(ctx, "", "archive/orders/part-1.parquet"))
	require.NoError(t, conn.DeleteObject(ctx, "", "archive/orders/part-1.parquet"))
	_, err = conn.Download(ctx, "", "archive/orders/part-1.parquet")
	assert.Error(t, err)
}

func TestLocalAdapter_RejectsEscapingPaths(t *testing.T) {
	conn, err := local.NewAdapter(storageconfig.StorageConfig{BaseDir: t.TempDir()}, "files")
	require.NoError(t, err)
	err = conn.Upload(context.Background(), "", "../../etc/passwd", strings.NewReader("x"), "")
	assert.Error(t, err)
}

func TestProvider_OpensRegisteredType(t *testing.T) {
	p := storage.NewProvider(map[string]storageconfig.StorageConfig{
		"files": {Type: local.ProviderType, BaseDir: t.TempDir()},
		"cloud": {Type: "s3"},
	})
	t.Cleanup(func() { _ = p.CloseAll() })

	conn, err := p.GetConnection(context.Background(), "files")
	require.NoError(t, err)
	assert.Equal(t, "files", conn.Name())
	again, err := p.GetConnection(context.Background(), "files")
	require.NoError(t, err)
	assert.Same(t, conn, again)

	_, err = p.GetConnection(context.Background(), "cloud")
	assert.Error(t, err)
	_, err = p.GetConnection(context.Background(), "missing")
	assert.Error(t, err)
}
