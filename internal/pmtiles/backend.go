package pmtiles

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Backend reads byte ranges of one PMTiles archive. Implementations
// cover local files, HTTP ranged GET, and S3 ranged GetObject.
type Backend interface {
	ReadRange(ctx context.Context, offset, length int64) ([]byte, error)
	Close() error
}

// localBackend reads ranges directly off an open file handle via
// ReadAt, which the OS page cache makes effectively as cheap as a real
// mmap for the PMTiles access pattern (repeated small random reads).
// Real memory-mapping would need a platform syscall
// (golang.org/x/sys/unix.Mmap) that nothing in the retrieved corpus
// exercises; ReadAt is the stdlib equivalent used here instead.
type localBackend struct {
	f *os.File
}

// OpenLocal opens path as a local backend.
func OpenLocal(path string) (Backend, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	return &localBackend{f: f}, nil
}

func (b *localBackend) ReadRange(_ context.Context, offset, length int64) ([]byte, error) {
	out := make([]byte, length)
	if _, err := b.f.ReadAt(out, offset); err != nil {
		return nil, fmt.Errorf("reading range [%d,%d): %w", offset, offset+length, err)
	}
	return out, nil
}

func (b *localBackend) Close() error { return b.f.Close() }

// httpBackend issues ranged GET requests against a PMTiles URL, the way
// martin's Reqwest-backed reader does (original_source/martin's
// pmtiles/http_pmtiles.rs), translated to net/http's Range header.
type httpBackend struct {
	url    string
	client *http.Client
}

// OpenHTTP builds an HTTP-ranged backend over url.
func OpenHTTP(url string, client *http.Client) Backend {
	if client == nil {
		client = http.DefaultClient
	}
	return &httpBackend{url: url, client: client}
}

func (b *httpBackend) ReadRange(ctx context.Context, offset, length int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", offset, offset+length-1))

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusPartialContent && resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ranged GET %s returned %s", b.url, resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusOK && int64(len(data)) > length {
		data = data[offset : offset+length]
	}
	return data, nil
}

func (b *httpBackend) Close() error { return nil }

// s3Backend issues ranged GetObject calls, honoring the
// AWS_S3_FORCE_PATH_STYLE / AWS_SKIP_CREDENTIALS escape hatches for
// S3-compatible endpoints that don't support virtual-hosted addressing
// or don't require signing.
type s3Backend struct {
	client *s3.Client
	bucket string
	key    string
}

// OpenS3 builds an S3-ranged backend for s3://bucket/key (or a bare
// bucket+key pair), honoring the same environment overrides as the rest
// of the config surface.
func OpenS3(ctx context.Context, bucket, key string) (Backend, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{}
	if v, _ := strconv.ParseBool(os.Getenv("AWS_SKIP_CREDENTIALS")); v || os.Getenv("AWS_NO_CREDENTIALS") != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(aws.AnonymousCredentials{}))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	forcePathStyle, _ := strconv.ParseBool(os.Getenv("AWS_S3_FORCE_PATH_STYLE"))
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = forcePathStyle
	})

	return &s3Backend{client: client, bucket: bucket, key: key}, nil
}

func (b *s3Backend) ReadRange(ctx context.Context, offset, length int64) ([]byte, error) {
	rangeHeader := fmt.Sprintf("bytes=%d-%d", offset, offset+length-1)
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key),
		Range:  aws.String(rangeHeader),
	})
	if err != nil {
		return nil, fmt.Errorf("s3 GetObject %s/%s range %s: %w", b.bucket, b.key, rangeHeader, err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

func (b *s3Backend) Close() error { return nil }

// ParseS3URL splits an "s3://bucket/key" URL into its parts.
func ParseS3URL(url string) (bucket, key string, ok bool) {
	const prefix = "s3://"
	if !strings.HasPrefix(url, prefix) {
		return "", "", false
	}
	rest := strings.TrimPrefix(url, prefix)
	idx := strings.IndexByte(rest, '/')
	if idx < 0 {
		return rest, "", true
	}
	return rest[:idx], rest[idx+1:], true
}
