package objstore

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/webindex/webindex/internal/wxerr"
)

// LocalStore implements Store over the local filesystem. It is used for
// tests and single-node deployments, with an in-process lease table
// since spec §4.1 requires Lease of every Store implementation.
type LocalStore struct {
	basePath string

	mu     sync.Mutex
	leases map[string]*localLease
}

// NewLocalStore creates storage rooted at basePath, creating it if
// necessary.
func NewLocalStore(basePath string) (*LocalStore, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, wxerr.Storage(wxerr.CodeUploadFailed, "create local store root", err)
	}
	return &LocalStore{basePath: basePath, leases: make(map[string]*localLease)}, nil
}

func (l *LocalStore) fullPath(key string) string {
	return filepath.Join(l.basePath, filepath.FromSlash(key))
}

// List returns every key whose slash-joined relative path starts with
// prefix. prefix may name a directory (list everything under it) or a
// partial file name (list the canonical file and its part files, e.g.
// prefix "get/2024/01/example.com" matches both "example.com.parquet"
// and the part key "example.com.<uuid>").
func (l *LocalStore) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, wxerr.Cancelled()
	}

	searchDir := filepath.Dir(l.fullPath(prefix))
	relPrefix := filepath.ToSlash(prefix)

	var keys []string
	err := filepath.Walk(searchDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(l.basePath, path)
		if err != nil {
			return err
		}
		relSlash := filepath.ToSlash(rel)
		if strings.HasPrefix(relSlash, relPrefix) {
			keys = append(keys, relSlash)
		}
		return nil
	})
	if err != nil {
		return nil, wxerr.Storage(wxerr.CodeDownloadFailed, "list "+prefix, err)
	}
	return keys, nil
}

// Get returns the bytes stored at key.
func (l *LocalStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, wxerr.Cancelled()
	}
	data, err := os.ReadFile(l.fullPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, wxerr.New(wxerr.CategoryStorage, wxerr.CodeObjectNotFound, "not found").WithKey(key)
		}
		return nil, wxerr.Storage(wxerr.CodeDownloadFailed, "get "+key, err)
	}
	return data, nil
}

// PutUnique writes body at prefix.{uuid} and returns that key.
func (l *LocalStore) PutUnique(ctx context.Context, prefix string, body []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", wxerr.Cancelled()
	}
	key := prefix + "." + uuid.New().String()
	if err := l.writeFile(key, body); err != nil {
		return "", wxerr.Storage(wxerr.CodeUploadFailed, "put_unique "+prefix, err)
	}
	return key, nil
}

// ReplaceAtomically writes newKey, confirms it, then removes oldKeys.
func (l *LocalStore) ReplaceAtomically(ctx context.Context, oldKeys []string, newKey string, body []byte) error {
	if err := ctx.Err(); err != nil {
		return wxerr.Cancelled()
	}
	if err := l.writeFile(newKey, body); err != nil {
		return wxerr.Storage(wxerr.CodeUploadFailed, "replace_atomically write "+newKey, err)
	}
	if _, err := os.Stat(l.fullPath(newKey)); err != nil {
		return wxerr.Storage(wxerr.CodeUploadFailed, "replace_atomically confirm "+newKey, err)
	}
	for _, k := range oldKeys {
		if err := os.Remove(l.fullPath(k)); err != nil && !os.IsNotExist(err) {
			return wxerr.Storage(wxerr.CodeUploadFailed, "replace_atomically delete "+k, err)
		}
	}
	return nil
}

func (l *LocalStore) writeFile(key string, body []byte) error {
	dest := l.fullPath(key)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	tmp := dest + ".tmp-" + uuid.New().String()
	if err := os.WriteFile(tmp, body, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, dest)
}

type localLease struct {
	expiresAt time.Time
}

// Lease acquires an in-process exclusive lease named name.
func (l *LocalStore) Lease(ctx context.Context, name string, ttl time.Duration) (Lease, error) {
	if err := ctx.Err(); err != nil {
		return nil, wxerr.Cancelled()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if existing, ok := l.leases[name]; ok && existing.expiresAt.After(now) {
		return nil, wxerr.New(wxerr.CategoryStorage, wxerr.CodeLeaseUnavailable, "lease held").WithKey(name)
	}

	lease := &localLease{expiresAt: now.Add(ttl)}
	l.leases[name] = lease
	return &localLeaseHandle{store: l, name: name, lease: lease}, nil
}

type localLeaseHandle struct {
	store *LocalStore
	name  string
	lease *localLease
}

func (h *localLeaseHandle) Release(ctx context.Context) error {
	h.store.mu.Lock()
	defer h.store.mu.Unlock()
	if current, ok := h.store.leases[h.name]; ok && current == h.lease {
		delete(h.store.leases, h.name)
	}
	return nil
}

// Clear removes every object under the store root. Test cleanup only.
func (l *LocalStore) Clear() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := os.RemoveAll(l.basePath); err != nil {
		return err
	}
	if err := os.MkdirAll(l.basePath, 0o755); err != nil {
		return err
	}
	l.leases = make(map[string]*localLease)
	return nil
}
