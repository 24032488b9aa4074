package storage

import (
	"context"
	"strings"
)

// PrefixedStorage scopes an ObjectStorage to the objects under a prefix.
// Paths passed in and returned are relative to the prefix.
type PrefixedStorage struct {
	inner  ObjectStorage
	prefix string
}

// WithPrefix returns store scoped to prefix. An empty prefix returns store
// unchanged.
func WithPrefix(store ObjectStorage, prefix string) ObjectStorage {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return store
	}
	return &PrefixedStorage{inner: store, prefix: prefix}
}

func (p *PrefixedStorage) full(objectPath string) string {
	return JoinPath(p.prefix, objectPath)
}

// Upload uploads a local file below the prefix.
func (p *PrefixedStorage) Upload(ctx context.Context, localPath, objectPath string) error {
	return p.inner.Upload(ctx, localPath, p.full(objectPath))
}

// Download downloads an object below the prefix to a local file.
func (p *PrefixedStorage) Download(ctx context.Context, objectPath, localPath string) error {
	return p.inner.Download(ctx, p.full(objectPath), localPath)
}

// Get returns the contents of an object below the prefix.
func (p *PrefixedStorage) Get(ctx context.Context, objectPath string) ([]byte, error) {
	return p.inner.Get(ctx, p.full(objectPath))
}

// Exists checks if an object exists below the prefix.
func (p *PrefixedStorage) Exists(ctx context.Context, objectPath string) (bool, error) {
	return p.inner.Exists(ctx, p.full(objectPath))
}

// ListObjects lists objects below prefix/subPrefix, relative to the prefix.
func (p *PrefixedStorage) ListObjects(ctx context.Context, subPrefix string) ([]string, error) {
	objects, err := p.inner.ListObjects(ctx, p.full(subPrefix))
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(objects))
	for _, obj := range objects {
		if rel := strings.TrimPrefix(obj, p.prefix+"/"); rel != obj {
			out = append(out, rel)
		}
	}
	return out, nil
}
