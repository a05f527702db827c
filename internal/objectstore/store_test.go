package objectstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObjectErrorFormat(t *testing.T) {
	err := &ObjectError{
		Op:  "Put",
		Key: "sdb/wal-archive/vgId=1/run.wal",
		Err: ErrAccessDenied,
	}
	assert.Equal(t, `objectstore: Put "sdb/wal-archive/vgId=1/run.wal": access denied`, err.Error())
	assert.ErrorIs(t, err, ErrAccessDenied)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestErrorSentinelsDistinct(t *testing.T) {
	errs := []error{ErrNotFound, ErrPreconditionFailed, ErrBucketNotFound, ErrAccessDenied, ErrSizeMismatch}
	for i, e1 := range errs {
		for j, e2 := range errs {
			if i != j {
				assert.False(t, errors.Is(e1, e2), "%v should not match %v", e1, e2)
			}
		}
	}
}

func TestNormalizeKey(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"s3://bucket/sdb/prod", "sdb/prod"},
		{"s3://bucket", ""},
		{"/sdb/prod/", "sdb/prod"},
		{"", ""},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, NormalizeKey(tc.in), tc.in)
	}
}

func TestJoinKey(t *testing.T) {
	assert.Equal(t, "a/b/c.wal", JoinKey("a", "/b/", "c.wal"))
	assert.Equal(t, "wal-archive/x", JoinKey("", "wal-archive", "", "x"))
	assert.Equal(t, "", JoinKey())
}

func TestMockStorePutIfNoneMatch(t *testing.T) {
	ctx := context.Background()
	s := NewMockStore()

	put := func() error {
		return s.PutWithOptions(ctx, "k", bytes.NewReader([]byte("abc")), 3, "text/plain", PutOptions{
			IfNoneMatch: "*",
			Metadata:    map[string]string{"run-id": "r1"},
		})
	}
	require.NoError(t, put())
	assert.ErrorIs(t, put(), ErrPreconditionFailed)

	meta, err := s.Head(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, int64(3), meta.Size)
	assert.Equal(t, "r1", meta.Metadata["run-id"])
}

func TestMockStoreSizeMismatch(t *testing.T) {
	err := NewMockStore().Put(context.Background(), "k", bytes.NewReader([]byte("abc")), 5, "text/plain")
	assert.ErrorIs(t, err, ErrSizeMismatch)
}

func TestMockStoreInjectedError(t *testing.T) {
	s := NewMockStore()
	s.PutErr = ErrAccessDenied

	err := s.Put(context.Background(), "k", bytes.NewReader(nil), 0, "text/plain")
	assert.ErrorIs(t, err, ErrAccessDenied)

	var objErr *ObjectError
	require.ErrorAs(t, err, &objErr)
	assert.Equal(t, "k", objErr.Key)
}

func TestMockStoreGetListDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMockStore()
	for _, k := range []string{"p/b", "p/a", "q/c"} {
		require.NoError(t, s.Put(ctx, k, bytes.NewReader([]byte(k)), int64(len(k)), "text/plain"))
	}

	objs, err := s.List(ctx, "p/")
	require.NoError(t, err)
	require.Len(t, objs, 2)
	assert.Equal(t, "p/a", objs[0].Key)
	assert.Equal(t, "p/b", objs[1].Key)

	rc, err := s.Get(ctx, "q/c")
	require.NoError(t, err)
	data, _ := io.ReadAll(rc)
	assert.Equal(t, "q/c", string(data))

	require.NoError(t, s.Delete(ctx, "q/c"))
	require.NoError(t, s.Delete(ctx, "q/c"))
	_, err = s.Get(ctx, "q/c")
	assert.ErrorIs(t, err, ErrNotFound)
}
