// Package provision implements asynchronous archive provisioning: an
// archive is downloaded to a staging area, its MD5 checksum is verified,
// and only then is it extracted into the destination directory. Services
// that seed their storage from an archive dispatch a Task and learn the
// outcome through a completion callback.
package provision

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Fetcher retrieves an archive from a URL and streams it to dst.
type Fetcher interface {
	// Fetch copies the resource at rawURL into dst, returning the number
	// of bytes written.
	Fetch(ctx context.Context, rawURL string, dst io.Writer) (int64, error)
}

// NewFetcher selects a fetcher for the URL scheme. http and https URLs use
// the HTTP fetcher, s3 URLs the S3 fetcher.
func NewFetcher(ctx context.Context, rawURL string) (Fetcher, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid archive URL %q: %w", rawURL, err)
	}

	switch u.Scheme {
	case "http", "https":
		return NewHTTPFetcher(), nil
	case "s3":
		return NewS3Fetcher(ctx)
	default:
		return nil, fmt.Errorf("unsupported archive URL scheme %q", u.Scheme)
	}
}

// HTTPFetcher downloads archives over HTTP(S).
type HTTPFetcher struct {
	client *http.Client
}

// NewHTTPFetcher creates an HTTP fetcher with a sensible default client.
func NewHTTPFetcher() *HTTPFetcher {
	return &HTTPFetcher{
		client: &http.Client{
			// Archives can be large; only the connect phase is bounded.
			Transport: &http.Transport{
				ResponseHeaderTimeout: 30 * time.Second,
			},
		},
	}
}

// Fetch implements Fetcher.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string, dst io.Writer) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to build request for %q: %w", rawURL, err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch %q: %w", rawURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("unexpected status %d fetching %q", resp.StatusCode, rawURL)
	}

	n, err := io.Copy(dst, resp.Body)
	if err != nil {
		return n, fmt.Errorf("failed to download %q: %w", rawURL, err)
	}
	return n, nil
}

// S3Fetcher downloads archives from S3 buckets via s3:// URLs.
type S3Fetcher struct {
	client *s3.Client
}

// NewS3Fetcher creates an S3 fetcher using the ambient AWS configuration
// (environment, shared config, instance role).
func NewS3Fetcher(ctx context.Context) (*S3Fetcher, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}
	return &S3Fetcher{client: s3.NewFromConfig(cfg)}, nil
}

// Fetch implements Fetcher for s3://bucket/key URLs.
func (f *S3Fetcher) Fetch(ctx context.Context, rawURL string, dst io.Writer) (int64, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return 0, fmt.Errorf("invalid S3 URL %q: %w", rawURL, err)
	}

	bucket := u.Host
	key := strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return 0, fmt.Errorf("S3 URL %q must be of the form s3://bucket/key", rawURL)
	}

	out, err := f.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &bucket,
		Key:    &key,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to get s3://%s/%s: %w", bucket, key, err)
	}
	defer func() { _ = out.Body.Close() }()

	n, err := io.Copy(dst, out.Body)
	if err != nil {
		return n, fmt.Errorf("failed to download s3://%s/%s: %w", bucket, key, err)
	}
	return n, nil
}
