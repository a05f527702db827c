package s3

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/dray-io/sdbcompact/internal/objectstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeS3 answers the handful of path-style S3 calls the store makes.
type fakeS3 struct {
	mu       sync.Mutex
	bucket   string
	objects  map[string]bool
	headers  map[string]http.Header
	denyPuts bool
}

func newFakeS3(bucket string) *fakeS3 {
	return &fakeS3{
		bucket:  bucket,
		objects: make(map[string]bool),
		headers: make(map[string]http.Header),
	}
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := strings.TrimPrefix(r.URL.Path, "/")
	bucket, key, _ := strings.Cut(path, "/")
	if bucket != f.bucket {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	switch r.Method {
	case http.MethodHead:
		if key == "" || f.objects[key] {
			w.Header().Set("Content-Length", "0")
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	case http.MethodPut:
		_, _ = io.Copy(io.Discard, r.Body)
		if f.denyPuts {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		if r.Header.Get("If-None-Match") == "*" && f.objects[key] {
			w.WriteHeader(http.StatusPreconditionFailed)
			return
		}
		f.objects[key] = true
		f.headers[key] = r.Header.Clone()
		w.Header().Set("ETag", `"fake"`)
		w.WriteHeader(http.StatusOK)
	case http.MethodDelete:
		delete(f.objects, key)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newTestStore(t *testing.T, fake *fakeS3) *Store {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	store, err := New(context.Background(), Config{
		Bucket:          fake.bucket,
		Endpoint:        srv.URL,
		AccessKeyID:     "test",
		SecretAccessKey: "test",
		UsePathStyle:    true,
	})
	require.NoError(t, err)
	return store
}

func TestNewRequiresBucket(t *testing.T) {
	_, err := New(context.Background(), Config{})
	assert.Error(t, err)
}

func TestPutWithOptions(t *testing.T) {
	fake := newFakeS3("archive")
	store := newTestStore(t, fake)
	ctx := context.Background()

	body := strings.NewReader("wal bytes")
	err := store.PutWithOptions(ctx, "sdb/wal-archive/vgId=1/r1.wal", body, int64(body.Len()), "application/vnd.sdb.wal", objectstore.PutOptions{
		IfNoneMatch: "*",
		Metadata:    map[string]string{"run-id": "r1"},
	})
	require.NoError(t, err)

	fake.mu.Lock()
	h := fake.headers["sdb/wal-archive/vgId=1/r1.wal"]
	fake.mu.Unlock()
	require.NotNil(t, h)
	assert.Equal(t, "*", h.Get("If-None-Match"))
	assert.Equal(t, "r1", h.Get("X-Amz-Meta-Run-Id"))
	assert.Equal(t, "application/vnd.sdb.wal", h.Get("Content-Type"))

	body = strings.NewReader("again")
	err = store.PutWithOptions(ctx, "sdb/wal-archive/vgId=1/r1.wal", body, int64(body.Len()), "application/vnd.sdb.wal", objectstore.PutOptions{IfNoneMatch: "*"})
	assert.ErrorIs(t, err, objectstore.ErrPreconditionFailed)
}

func TestPutAccessDenied(t *testing.T) {
	fake := newFakeS3("archive")
	fake.denyPuts = true
	store := newTestStore(t, fake)

	body := strings.NewReader("x")
	err := store.Put(context.Background(), "k", body, 1, "text/plain")
	assert.ErrorIs(t, err, objectstore.ErrAccessDenied)
}

func TestHeadNotFound(t *testing.T) {
	store := newTestStore(t, newFakeS3("archive"))

	_, err := store.Head(context.Background(), "missing")
	assert.ErrorIs(t, err, objectstore.ErrNotFound)

	var objErr *objectstore.ObjectError
	require.ErrorAs(t, err, &objErr)
	assert.Equal(t, "Head", objErr.Op)
	assert.Equal(t, "missing", objErr.Key)
}

func TestDeleteMissingSucceeds(t *testing.T) {
	store := newTestStore(t, newFakeS3("archive"))
	assert.NoError(t, store.Delete(context.Background(), "missing"))
}

func TestVerifyBucket(t *testing.T) {
	fake := newFakeS3("archive")
	store := newTestStore(t, fake)
	assert.NoError(t, store.VerifyBucket(context.Background()))
	assert.Equal(t, "archive", store.Bucket())

	other := newFakeS3("other")
	missing := newTestStore(t, other)
	missing.bucket = "archive"
	assert.ErrorIs(t, missing.VerifyBucket(context.Background()), objectstore.ErrBucketNotFound)
}

func TestClosedStore(t *testing.T) {
	store := newTestStore(t, newFakeS3("archive"))
	require.NoError(t, store.Close())

	ctx := context.Background()
	assert.ErrorIs(t, store.Put(ctx, "k", strings.NewReader(""), 0, "text/plain"), ErrClosed)
	_, err := store.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrClosed)
	_, err = store.Head(ctx, "k")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, store.Delete(ctx, "k"), ErrClosed)
	_, err = store.List(ctx, "")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, store.VerifyBucket(ctx), ErrClosed)
}
