package store

import (
	"context"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// FileStore keeps objects under a root directory, one file per key.
type FileStore struct {
	root     string
	name     string
	resolver *Resolver
	client   *http.Client
}

// NewFileStore creates a store rooted at root. The http client is used for remote fetches.
func NewFileStore(root string, resolver *Resolver, client *http.Client) *FileStore {
	if client == nil {
		client = http.DefaultClient
	}
	return &FileStore{root: root, resolver: resolver, client: client}
}

// Named sets the logical bucket name reported to clients. The root directory is never exposed.
func (s *FileStore) Named(name string) *FileStore {
	s.name = name
	return s
}

// Bucket returns the logical bucket name, empty unless set with Named.
func (s *FileStore) Bucket() string {
	return s.name
}

// Key resolves a descriptor to its slash separated key.
func (s *FileStore) Key(d Descriptor) (string, error) {
	return s.resolver.Key(d)
}

func (s *FileStore) path(d Descriptor) (string, error) {
	key, err := s.resolver.Key(d)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(key)), nil
}

// SaveFromLocalFile copies a local file into the store.
func (s *FileStore) SaveFromLocalFile(ctx context.Context, path string, target Descriptor) error {
	dst, err := s.path(target)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	src, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "failed to open %s", path)
	}
	defer src.Close()
	return copyFile(src, dst)
}

// SaveFromRemote fetches url and stores the body under target.
func (s *FileStore) SaveFromRemote(ctx context.Context, url string, target Descriptor, creds *Credentials) error {
	if _, err := s.path(target); err != nil {
		return err
	}
	tmp, err := fetchToTemp(ctx, s.client, url, creds)
	if err != nil {
		return err
	}
	defer os.Remove(tmp)
	return s.SaveFromLocalFile(ctx, tmp, target)
}

// LoadToLocalFile copies the addressed object to path.
func (s *FileStore) LoadToLocalFile(ctx context.Context, source Descriptor, path string) error {
	src, err := s.path(source)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	f, err := os.Open(src)
	if err != nil {
		if os.IsNotExist(err) {
			return errors.Wrapf(ErrNotFound, "%s", source)
		}
		return errors.Wrapf(err, "failed to open %s", src)
	}
	defer f.Close()
	return copyFile(f, path)
}

// List walks the directory holding the filter's key prefix.
func (s *FileStore) List(ctx context.Context, filter Filter) ([]Descriptor, error) {
	prefix, err := s.resolver.Prefix(filter)
	if err != nil {
		return nil, err
	}
	dir := s.root
	if i := strings.LastIndexByte(prefix, '/'); i >= 0 {
		dir = filepath.Join(s.root, filepath.FromSlash(prefix[:i]))
	}

	var found []Descriptor
	err = filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return filepath.SkipDir
			}
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".partial-") {
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		if d, ok := s.resolver.Parse(filter.Kind, key); ok && filter.Matches(d) {
			found = append(found, d)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list %s", dir)
	}
	return found, nil
}

// Exists reports whether the addressed object is present.
func (s *FileStore) Exists(ctx context.Context, target Descriptor) (bool, error) {
	path, err := s.path(target)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, errors.Wrapf(err, "failed to stat %s", path)
	}
	return info.Mode().IsRegular(), nil
}

// Delete removes the addressed object.
func (s *FileStore) Delete(ctx context.Context, target Descriptor) error {
	path, err := s.path(target)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return errors.Wrapf(ErrNotFound, "%s", target)
		}
		return errors.Wrapf(err, "failed to delete %s", path)
	}
	return nil
}

func parentDir(path string) string {
	return filepath.Dir(path)
}
