package filestore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lease-analyzer/internal/apperr"
)

func TestLocalExistsAndOpen(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "f1"), []byte("lease agreement"), 0o644))
	store, err := NewLocal(dir)
	require.NoError(t, err)
	ctx := context.Background()

	ok, err := store.Exists(ctx, "f1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Exists(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	rc, err := store.Open(ctx, "f1")
	require.NoError(t, err)
	body, err := io.ReadAll(rc)
	require.NoError(t, rc.Close())
	require.NoError(t, err)
	assert.Equal(t, "lease agreement", string(body))

	_, err = store.Open(ctx, "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestLocalRejectsTraversal(t *testing.T) {
	store, err := NewLocal(t.TempDir())
	require.NoError(t, err)
	for _, id := range []string{"", "../etc/passwd", "a/b", `a\b`, ".."} {
		_, err := store.Exists(context.Background(), id)
		assert.ErrorIs(t, err, apperr.ErrValidation, id)
	}
}

type fakeObjects struct {
	objects map[string][]byte
	err     error
}

func (f *fakeObjects) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	if _, ok := f.objects[*in.Key]; !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{}, nil
}

func (f *fakeObjects) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	body, ok := f.objects[*in.Key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(body))}, nil
}

func TestS3PrefixAndNotFound(t *testing.T) {
	fake := &fakeObjects{objects: map[string][]byte{"documents/f1": []byte("hello")}}
	store := &S3{client: fake, bucket: "b", prefix: "documents/"}
	ctx := context.Background()

	ok, err := store.Exists(ctx, "f1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Exists(ctx, "f2")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = store.Open(ctx, "f2")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	rc, err := store.Open(ctx, "f1")
	require.NoError(t, err)
	defer rc.Close()
	body, _ := io.ReadAll(rc)
	assert.Equal(t, "hello", string(body))
}

func TestS3FailuresAreTransient(t *testing.T) {
	store := &S3{client: &fakeObjects{err: errors.New("connection reset")}, bucket: "b"}
	_, err := store.Exists(context.Background(), "f1")
	require.Error(t, err)
	assert.True(t, apperr.IsTransient(err))
}
