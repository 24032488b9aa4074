// Package storage provides object storage abstractions for reading Delta
// tables from the local filesystem or S3.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Common errors for storage operations.
var (
	ErrObjectNotFound = errors.New("object not found")
	ErrUploadFailed   = errors.New("upload failed")
	ErrDownloadFailed = errors.New("download failed")
)

// ObjectStorage abstracts object storage operations.
// Implementations include S3 and the local filesystem.
type ObjectStorage interface {
	// Upload uploads a file to object storage.
	// localPath is the path to the local file to upload.
	// objectPath is the destination path in object storage.
	Upload(ctx context.Context, localPath, objectPath string) error

	// Download downloads a file from object storage.
	// objectPath is the source path in object storage.
	// localPath is the destination path on the local filesystem.
	Download(ctx context.Context, objectPath, localPath string) error

	// Get returns the full content of an object.
	Get(ctx context.Context, objectPath string) ([]byte, error)

	// Exists checks if an object exists in storage.
	Exists(ctx context.Context, objectPath string) (bool, error)

	// ListObjects returns all object paths under the given prefix, using
	// forward slashes as separators.
	ListObjects(ctx context.Context, prefix string) ([]string, error)
}

// Location is a parsed table location.
type Location struct {
	// Scheme is "s3" or "file".
	Scheme string
	// Bucket is set for s3 locations.
	Bucket string
	// Path is the object prefix for s3, or the directory for file.
	Path string
}

// ParseLocation parses "s3://bucket/prefix", "file:///dir" or a bare
// filesystem path.
func ParseLocation(uri string) (Location, error) {
	switch {
	case strings.HasPrefix(uri, "s3://"):
		rest := strings.TrimPrefix(uri, "s3://")
		bucket, prefix, _ := strings.Cut(rest, "/")
		if bucket == "" {
			return Location{}, fmt.Errorf("s3 location %q has no bucket", uri)
		}
		return Location{Scheme: "s3", Bucket: bucket, Path: strings.Trim(prefix, "/")}, nil
	case strings.HasPrefix(uri, "file://"):
		return Location{Scheme: "file", Path: strings.TrimPrefix(uri, "file://")}, nil
	case strings.Contains(uri, "://"):
		return Location{}, fmt.Errorf("unsupported location scheme in %q", uri)
	case uri == "":
		return Location{}, errors.New("empty location")
	default:
		return Location{Scheme: "file", Path: uri}, nil
	}
}

// Open returns storage rooted at the location together with the object
// prefix of the location inside that storage.
func Open(ctx context.Context, loc Location, s3cfg S3Config) (ObjectStorage, string, error) {
	switch loc.Scheme {
	case "s3":
		s, err := NewS3Storage(ctx, loc.Bucket, s3cfg)
		if err != nil {
			return nil, "", err
		}
		return s, loc.Path, nil
	case "file":
		s, err := NewLocalStorage(loc.Path)
		if err != nil {
			return nil, "", err
		}
		return s, "", nil
	default:
		return nil, "", fmt.Errorf("unsupported location scheme %q", loc.Scheme)
	}
}

// JoinPath joins object path elements with forward slashes, ignoring empty
// elements.
func JoinPath(elems ...string) string {
	parts := make([]string, 0, len(elems))
	for _, e := range elems {
		e = strings.Trim(e, "/")
		if e != "" {
			parts = append(parts, e)
		}
	}
	return strings.Join(parts, "/")
}
