// Package storage opens catalog sources and writes catalog exports, on
// local disk or in Google Cloud Storage.
package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

const gcsScheme = "gs://"

// Location is a parsed source or destination.
type Location struct {
	Bucket string
	Object string
	Path   string
}

// IsRemote reports whether the location is a GCS object.
func (l Location) IsRemote() bool { return l.Bucket != "" }

func (l Location) String() string {
	if l.IsRemote() {
		return gcsScheme + l.Bucket + "/" + l.Object
	}
	return l.Path
}

// ParseLocation splits gs://bucket/object URIs; anything else is a local path.
func ParseLocation(uri string) (Location, error) {
	if !strings.HasPrefix(uri, gcsScheme) {
		if uri == "" {
			return Location{}, fmt.Errorf("storage: empty path")
		}
		return Location{Path: uri}, nil
	}
	rest := strings.TrimPrefix(uri, gcsScheme)
	bucket, object, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || object == "" {
		return Location{}, fmt.Errorf("storage: malformed GCS URI %q, want gs://bucket/object", uri)
	}
	return Location{Bucket: bucket, Object: object}, nil
}

// GCSOptions returns client options for endpoint. A non-empty endpoint
// points at an emulator and disables authentication.
func GCSOptions(endpoint string) []option.ClientOption {
	if endpoint == "" {
		return nil
	}
	return []option.ClientOption{
		option.WithEndpoint(endpoint),
		option.WithoutAuthentication(),
	}
}

// gcsReader closes the client together with the object reader.
type gcsReader struct {
	*gcs.Reader
	client *gcs.Client
}

func (r *gcsReader) Close() error {
	err := r.Reader.Close()
	if cerr := r.client.Close(); err == nil {
		err = cerr
	}
	return err
}

// gcsWriter commits the object on Close and then closes the client.
type gcsWriter struct {
	*gcs.Writer
	client *gcs.Client
}

func (w *gcsWriter) Close() error {
	err := w.Writer.Close()
	if cerr := w.client.Close(); err == nil {
		err = cerr
	}
	return err
}

// Open returns a reader for a local path or gs:// URI.
func Open(ctx context.Context, uri string, opts ...option.ClientOption) (io.ReadCloser, error) {
	loc, err := ParseLocation(uri)
	if err != nil {
		return nil, err
	}
	if !loc.IsRemote() {
		f, err := os.Open(loc.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open file %q: %w", loc.Path, err)
		}
		return f, nil
	}

	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	r, err := client.Bucket(loc.Bucket).Object(loc.Object).NewReader(ctx)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to open %s: %w", loc, err)
	}
	return &gcsReader{Reader: r, client: client}, nil
}

// Create returns a writer for a local path or gs:// URI. For GCS the
// object only becomes visible once the writer is closed without error.
func Create(ctx context.Context, uri string, opts ...option.ClientOption) (io.WriteCloser, error) {
	loc, err := ParseLocation(uri)
	if err != nil {
		return nil, err
	}
	if !loc.IsRemote() {
		f, err := os.Create(loc.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to create file %q: %w", loc.Path, err)
		}
		return f, nil
	}

	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	w := client.Bucket(loc.Bucket).Object(loc.Object).NewWriter(ctx)
	return &gcsWriter{Writer: w, client: client}, nil
}
