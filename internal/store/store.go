// Package store implements C1, the content-addressed artifact store: a
// sharded on-disk blob store with atomic writes, hardlink-preferring
// copies, and a background fetch path for artifacts not yet present
// locally. Grounded on internal/filestore and internal/storage from the
// original tree, generalized from a single S3-backed download queue into
// a pluggable FetchFunc.
package store

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/lvgrader/grader/internal/gradererr"
	"github.com/lvgrader/grader/internal/model"
)

// FetchFunc retrieves an artifact's bytes from a remote source into dst
// when it isn't present locally yet. Implementations live in fetch.go.
type FetchFunc func(digest model.Digest, dst string) error

// Store is the on-disk, content-addressed artifact store.
type Store struct {
	root string
	tmp  string

	fetch FetchFunc

	locks     sync.Map // digest -> *sync.Cond
	fetching  sync.Map // digest -> struct{}, dedups AwaitFetch
	fetchErrs sync.Map // digest -> error, set by doFetch when fetch fails
}

// New creates a store rooted at dir, with a scratch directory for
// in-progress writes at dir/.tmp. fetch may be nil if the store never
// needs to pull artifacts from a remote source.
func New(dir string, fetch FetchFunc) (*Store, error) {
	s := &Store{
		root:  dir,
		tmp:   filepath.Join(dir, ".tmp"),
		fetch: fetch,
	}
	if err := os.MkdirAll(s.root, 0o777); err != nil {
		return nil, gradererr.New(gradererr.KindIO, "store.New", err)
	}
	if err := os.MkdirAll(s.tmp, 0o777); err != nil {
		return nil, gradererr.New(gradererr.KindIO, "store.New", err)
	}
	return s, nil
}

// Path returns the on-disk path an artifact would live at, whether or not
// it is present yet.
func (s *Store) Path(digest model.Digest) string {
	return shardedPath(s.root, digest)
}

// Has reports whether the artifact is present locally.
func (s *Store) Has(digest model.Digest) bool {
	_, err := os.Stat(s.Path(digest))
	return err == nil
}

// Put streams src into the store under its SHA-256 digest, writing through
// a temp file and renaming atomically into place so concurrent readers
// never observe a partial artifact. Writing the same digest twice is not
// an error: the second rename replaces the existing file with identical
// bytes.
func (s *Store) Put(src io.Reader) (model.Digest, error) {
	tmpFile, err := os.CreateTemp(s.tmp, "put-*")
	if err != nil {
		return "", gradererr.New(gradererr.KindIO, "store.Put", err)
	}
	tmpPath := tmpFile.Name()
	defer os.Remove(tmpPath) // no-op once renamed away

	h := sha256.New()
	if _, err := io.Copy(tmpFile, io.TeeReader(src, h)); err != nil {
		tmpFile.Close()
		return "", gradererr.New(gradererr.KindIO, "store.Put", err)
	}
	if err := tmpFile.Close(); err != nil {
		return "", gradererr.New(gradererr.KindIO, "store.Put", err)
	}

	digest := model.Digest(hex.EncodeToString(h.Sum(nil)))
	dst := s.Path(digest)
	if err := os.MkdirAll(filepath.Dir(dst), 0o777); err != nil {
		return "", gradererr.New(gradererr.KindIO, "store.Put", err)
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		if os.IsExist(err) {
			return digest, nil
		}
		return "", gradererr.New(gradererr.KindIO, "store.Put", err)
	}
	return digest, nil
}

// Open returns a reader for the artifact. If the artifact is absent and
// the store has a FetchFunc, Open blocks until the fetch completes.
func (s *Store) Open(digest model.Digest) (io.ReadCloser, error) {
	if !s.Has(digest) {
		if err := s.AwaitFetch(digest); err != nil {
			return nil, err
		}
	}
	f, err := os.Open(s.Path(digest))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, gradererr.WithPath(gradererr.New(gradererr.KindNotFound, "store.Open", err), string(digest))
		}
		return nil, gradererr.New(gradererr.KindIO, "store.Open", err)
	}
	return f, nil
}

// PlaceInto copies (hardlinking when possible) the artifact into dst,
// creating dst's parent directories as needed and setting the executable
// bit when executable is true. Grounded on the teacher's "add file to box"
// step, generalized from writing raw bytes to copying a stored artifact.
func (s *Store) PlaceInto(digest model.Digest, dst string, executable bool) error {
	if !s.Has(digest) {
		if err := s.AwaitFetch(digest); err != nil {
			return err
		}
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o777); err != nil {
		return gradererr.New(gradererr.KindIO, "store.PlaceInto", err)
	}
	src := s.Path(digest)
	os.Remove(dst)
	if err := os.Link(src, dst); err != nil {
		// cross-device or unsupported: fall back to a copy
		if copyErr := copyFile(src, dst); copyErr != nil {
			return gradererr.New(gradererr.KindIO, "store.PlaceInto", copyErr)
		}
	}
	mode := os.FileMode(0o644)
	if executable {
		mode = 0o755
	}
	if err := os.Chmod(dst, mode); err != nil {
		return gradererr.New(gradererr.KindIO, "store.PlaceInto", err)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}

// MakeImmutable strips write permission from a stored artifact so that
// accidental in-place edits (e.g. through a stray hardlink) fail loudly.
func (s *Store) MakeImmutable(digest model.Digest) error {
	if err := os.Chmod(s.Path(digest), 0o444); err != nil {
		return gradererr.New(gradererr.KindIO, "store.MakeImmutable", err)
	}
	return nil
}

// Artifact stats a present artifact into its metadata record.
func (s *Store) Artifact(digest model.Digest) (model.Artifact, error) {
	fi, err := os.Stat(s.Path(digest))
	if err != nil {
		return model.Artifact{}, gradererr.WithPath(gradererr.New(gradererr.KindNotFound, "store.Artifact", err), string(digest))
	}
	return model.Artifact{
		Digest:     digest,
		SizeBytes:  fi.Size(),
		Executable: fi.Mode()&0o111 != 0,
		StoredAt:   fi.ModTime(),
	}, nil
}

// TempDir creates a scoped scratch directory under the store's temp area,
// for a sandbox workspace or similar caller-owned scratch space. The
// caller is responsible for removing it.
func (s *Store) TempDir(prefix string) (string, error) {
	dir, err := os.MkdirTemp(s.tmp, prefix+"-*")
	if err != nil {
		return "", gradererr.New(gradererr.KindIO, "store.TempDir", err)
	}
	return dir, nil
}

// listEntry pairs a digest with its ModTime for ListArtifacts' eviction
// ordering.
type listEntry struct {
	digest  model.Digest
	modTime int64
}

// ListArtifacts walks the shard tree and returns digests ordered oldest
// first, the order an eviction policy would want to consume them in. The
// ordering key is ModTime, not real atime: artifacts are written once and
// never rewritten, so ModTime already tracks insertion order, and staying
// off a platform-specific stat call keeps this portable across the
// filesystems the store runs on (including ones mounted noatime, where a
// real atime wouldn't move anyway).
func (s *Store) ListArtifacts() ([]model.Digest, error) {
	var entries []listEntry
	err := filepath.WalkDir(s.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Dir(path) == s.tmp {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		entries = append(entries, listEntry{digest: model.Digest(d.Name()), modTime: info.ModTime().Unix()})
		return nil
	})
	if err != nil {
		return nil, gradererr.New(gradererr.KindIO, "store.ListArtifacts", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].modTime < entries[j].modTime })
	out := make([]model.Digest, len(entries))
	for i, e := range entries {
		out[i] = e.digest
	}
	return out, nil
}

// errNoFetcher is returned by AwaitFetch when the store has no FetchFunc
// configured and an artifact is missing locally.
var errNoFetcher = fmt.Errorf("artifact missing and store has no fetch function configured")

// AwaitFetch blocks until digest is present locally, triggering a fetch if
// one hasn't already been scheduled, and returns the fetch's error if it
// failed instead of hanging forever waiting for bytes that will never
// arrive. Grounded on filestore.go's AwaitAndGetFile/sync.Cond pattern.
func (s *Store) AwaitFetch(digest model.Digest) error {
	if s.Has(digest) {
		return nil
	}
	if s.fetch == nil {
		return gradererr.WithPath(gradererr.New(gradererr.KindNotFound, "store.AwaitFetch", errNoFetcher), string(digest))
	}

	lockAny, _ := s.locks.LoadOrStore(digest, sync.NewCond(&sync.Mutex{}))
	lock := lockAny.(*sync.Cond)

	if _, scheduled := s.fetching.LoadOrStore(digest, struct{}{}); !scheduled {
		s.fetchErrs.Delete(digest)
		go s.doFetch(digest, lock)
	}

	lock.L.Lock()
	for !s.Has(digest) {
		if errAny, failed := s.fetchErrs.Load(digest); failed {
			lock.L.Unlock()
			return errAny.(error)
		}
		lock.Wait()
	}
	lock.L.Unlock()
	return nil
}

func (s *Store) doFetch(digest model.Digest, lock *sync.Cond) {
	lock.L.Lock()
	defer lock.L.Unlock()
	defer lock.Broadcast()
	defer s.fetching.Delete(digest) // let a future AwaitFetch retry, success or failure

	tmpPath := filepath.Join(s.tmp, "fetch-"+string(digest))
	if err := s.fetch(digest, tmpPath); err != nil {
		s.fetchErrs.Store(digest, gradererr.WithPath(gradererr.New(gradererr.KindIO, "store.doFetch", err), string(digest)))
		return
	}
	dst := s.Path(digest)
	if err := os.MkdirAll(filepath.Dir(dst), 0o777); err != nil {
		s.fetchErrs.Store(digest, gradererr.New(gradererr.KindIO, "store.doFetch", err))
		return
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		s.fetchErrs.Store(digest, gradererr.New(gradererr.KindIO, "store.doFetch", err))
		return
	}
}
