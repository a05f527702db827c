package compaction

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/dray-io/sdbcompact/internal/logging"
	"github.com/dray-io/sdbcompact/internal/objectstore"
	"github.com/dray-io/sdbcompact/internal/wal"
)

// ArchiveContentType is the content type of archived WAL segments.
const ArchiveContentType = "application/vnd.sdb.wal"

// ErrSegmentExists is returned by Restore when the target already holds a segment.
var ErrSegmentExists = errors.New("compaction: segment already exists")

// ObjectArchiver uploads the source segment to an object store under
// {prefix}/wal-archive/vgId={vgId}/{runId}.wal.
type ObjectArchiver struct {
	store  objectstore.Store
	prefix string
	vgID   int32
}

// NewObjectArchiver creates an archiver writing to store.
func NewObjectArchiver(store objectstore.Store, prefix string, vgID int32) *ObjectArchiver {
	return &ObjectArchiver{
		store:  store,
		prefix: objectstore.NormalizeKey(prefix),
		vgID:   vgID,
	}
}

// ArchiveKey returns the object key for a run.
func (a *ObjectArchiver) ArchiveKey(runID string) string {
	return objectstore.JoinKey(a.vgPrefix(), runID+".wal")
}

func (a *ObjectArchiver) vgPrefix() string {
	return objectstore.JoinKey(a.prefix, "wal-archive", "vgId="+strconv.Itoa(int(a.vgID)))
}

// Archive uploads the segment in sourceDir and checks the stored size. An
// existing object at the run's key is never overwritten; if its size
// matches the segment it is taken as a previous upload of the same run.
func (a *ObjectArchiver) Archive(ctx context.Context, runID, sourceDir string) (string, error) {
	log := logging.FromCtx(ctx)

	path := wal.SegmentPath(sourceDir)
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", path, err)
	}
	size := info.Size()

	key := a.ArchiveKey(runID)
	err = a.store.PutWithOptions(ctx, key, f, size, ArchiveContentType, objectstore.PutOptions{
		IfNoneMatch: "*",
		Metadata: map[string]string{
			"run-id": runID,
			"vg-id":  strconv.Itoa(int(a.vgID)),
		},
	})
	if errors.Is(err, objectstore.ErrPreconditionFailed) {
		meta, headErr := a.store.Head(ctx, key)
		if headErr != nil || meta.Size != size {
			return "", err
		}
		log.Infof("source wal already archived", map[string]any{
			"key":   key,
			"bytes": size,
		})
		return key, nil
	}
	if err != nil {
		return "", err
	}

	meta, err := a.store.Head(ctx, key)
	if err != nil {
		return "", fmt.Errorf("verify %s: %w", key, err)
	}
	if meta.Size != size {
		if delErr := a.store.Delete(ctx, key); delErr != nil {
			log.Warnf("failed to remove short archive object", map[string]any{
				"key":   key,
				"error": delErr.Error(),
			})
		}
		return "", fmt.Errorf("verify %s: %w: stored %d bytes, segment has %d",
			key, objectstore.ErrSizeMismatch, meta.Size, size)
	}

	log.Debugf("source wal uploaded", map[string]any{
		"key":   key,
		"bytes": size,
		"etag":  meta.ETag,
	})
	return key, nil
}

// List returns this vgroup's archived segments in key order.
func (a *ObjectArchiver) List(ctx context.Context) ([]objectstore.ObjectMeta, error) {
	return a.store.List(ctx, a.vgPrefix()+"/")
}

// Restore downloads the archived segment at key into dir. The object is
// staged in a temporary file and only renamed into place once its header
// decodes, so a failed restore leaves dir without a segment.
func (a *ObjectArchiver) Restore(ctx context.Context, key, dir string) (int64, error) {
	log := logging.FromCtx(ctx)

	path := wal.SegmentPath(dir)
	if _, err := os.Stat(path); err == nil {
		return 0, fmt.Errorf("%w: %s", ErrSegmentExists, path)
	} else if !errors.Is(err, os.ErrNotExist) {
		return 0, fmt.Errorf("stat %s: %w", path, err)
	}
	if err := EnsureDir(dir); err != nil {
		return 0, err
	}

	rc, err := a.store.Get(ctx, key)
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".restore-*")
	if err != nil {
		return 0, fmt.Errorf("create temp segment: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	n, err := io.Copy(tmp, rc)
	if err != nil {
		return 0, fmt.Errorf("download %s: %w", key, err)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return 0, fmt.Errorf("seek %s: %w", tmpPath, err)
	}
	h, err := wal.DecodeHeaderFromReader(tmp)
	if err != nil {
		return 0, fmt.Errorf("restore %s: %w", key, err)
	}
	if err := tmp.Sync(); err != nil {
		return 0, fmt.Errorf("fsync %s: %w", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("close %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return 0, fmt.Errorf("rename %s: %w", tmpPath, err)
	}
	committed = true

	log.Infof("archived wal restored", map[string]any{
		"key":   key,
		"path":  path,
		"bytes": n,
		"logId": h.LogID.String(),
		"vgId":  h.VgID,
	})
	return n, nil
}

var _ Archiver = (*ObjectArchiver)(nil)
