package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/semaphore"
)

// BatchDownloader fetches many objects in parallel. Objects are immutable
// once written, so a cache directory, when set, is trusted without
// revalidation.
type BatchDownloader struct {
	storage     ObjectStorage
	concurrency int
	cacheDir    string
}

// BatchResult contains the outcome of a batch download operation.
type BatchResult struct {
	Contents  map[string][]byte
	Errors    map[string]error
	CacheHits int
	Downloads int
}

// Err returns one of the per-object errors, or nil if every object was
// fetched. Paths are checked in request order.
func (r *BatchResult) Err(paths []string) error {
	for _, p := range paths {
		if err, ok := r.Errors[p]; ok {
			return fmt.Errorf("fetch %s: %w", p, err)
		}
	}
	return nil
}

// NewBatchDownloader creates a new batch downloader.
// storage: the ObjectStorage implementation to download from
// concurrency: maximum number of parallel downloads
// cacheDir: directory to cache downloaded files (empty = no caching)
func NewBatchDownloader(storage ObjectStorage, concurrency int, cacheDir string) *BatchDownloader {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &BatchDownloader{
		storage:     storage,
		concurrency: concurrency,
		cacheDir:    cacheDir,
	}
}

// Fetch reads the given objects in parallel. Failures are reported per
// object in the result; the returned error is reserved for cancellation.
func (b *BatchDownloader) Fetch(ctx context.Context, objectPaths []string) (*BatchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	result := &BatchResult{
		Contents: make(map[string][]byte, len(objectPaths)),
		Errors:   make(map[string]error),
	}

	var queue []string
	for _, p := range objectPaths {
		if b.cacheDir != "" {
			if data, err := os.ReadFile(b.localPath(p)); err == nil {
				result.Contents[p] = data
				result.CacheHits++
				continue
			}
		}
		queue = append(queue, p)
	}

	sem := semaphore.NewWeighted(int64(b.concurrency))
	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, p := range queue {
		if err := sem.Acquire(ctx, 1); err != nil {
			wg.Wait()
			return result, fmt.Errorf("semaphore acquire failed: %w", err)
		}

		wg.Add(1)
		go func(path string) {
			defer sem.Release(1)
			defer wg.Done()

			data, err := b.fetchOne(ctx, path)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Errors[path] = err
				return
			}
			result.Contents[path] = data
			result.Downloads++
		}(p)
	}

	wg.Wait()
	return result, nil
}

func (b *BatchDownloader) fetchOne(ctx context.Context, path string) ([]byte, error) {
	if b.cacheDir == "" {
		return b.storage.Get(ctx, path)
	}
	local := b.localPath(path)
	if err := b.storage.Download(ctx, path, local); err != nil {
		return nil, err
	}
	return os.ReadFile(local)
}

// localPath returns the cache file for an object. The whole object path is
// flattened into the file name so that equal base names from different
// tables do not collide.
func (b *BatchDownloader) localPath(objectPath string) string {
	sanitized := strings.ReplaceAll(strings.Trim(objectPath, "/"), "/", "_")
	return filepath.Join(b.cacheDir, sanitized)
}
