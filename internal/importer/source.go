package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/onnwee/genetarget/internal/errkind"
)

// DefaultHTTPTimeout bounds a feed download.
const DefaultHTTPTimeout = 5 * time.Minute

// ErrUnsupportedSource is returned for locations with an unknown scheme.
var ErrUnsupportedSource = errors.New("unsupported feed location")

// S3Config points at an S3-compatible object store.
type S3Config struct {
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

// SourceConfig configures Open.
type SourceConfig struct {
	HTTPTimeout time.Duration
	HTTPClient  *http.Client
	S3          S3Config
}

// Open returns a reader for a local path, an http(s) URL or an
// s3://bucket/key location. The caller closes it.
func Open(ctx context.Context, location string, cfg SourceConfig) (io.ReadCloser, error) {
	const op = "open crispr feed"
	switch {
	case strings.HasPrefix(location, "http://"), strings.HasPrefix(location, "https://"):
		return openHTTP(ctx, location, cfg)
	case strings.HasPrefix(location, "s3://"):
		return openS3(ctx, location, cfg.S3)
	case strings.Contains(location, "://"):
		return nil, errkind.Wrap(errkind.ConfigError, op, fmt.Errorf("%w: %s", ErrUnsupportedSource, location))
	default:
		f, err := os.Open(location)
		if err != nil {
			return nil, errkind.Wrap(errkind.ConfigError, op, err)
		}
		return f, nil
	}
}

// cancelOnClose releases the download deadline with the body.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c cancelOnClose) Close() error {
	defer c.cancel()
	return c.ReadCloser.Close()
}

func openHTTP(ctx context.Context, location string, cfg SourceConfig) (io.ReadCloser, error) {
	const op = "download crispr feed"
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = DefaultHTTPTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		cancel()
		return nil, errkind.Wrap(errkind.ConfigError, op, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		cancel()
		return nil, errkind.Wrap(errkind.TransientIO, op, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		kind := errkind.DataError
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			kind = errkind.TransientIO
		}
		return nil, errkind.Wrap(kind, op, fmt.Errorf("unexpected status %d", resp.StatusCode))
	}
	return cancelOnClose{ReadCloser: resp.Body, cancel: cancel}, nil
}

// ParseS3Location splits s3://bucket/key.
func ParseS3Location(location string) (bucket, key string, err error) {
	u, err := url.Parse(location)
	if err != nil || u.Scheme != "s3" {
		return "", "", errkind.Wrap(errkind.ConfigError, "parse s3 location", fmt.Errorf("%w: %s", ErrUnsupportedSource, location))
	}
	bucket = u.Host
	key = strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return "", "", errkind.New(errkind.ConfigError, "parse s3 location", "s3 location needs a bucket and a key")
	}
	return bucket, key, nil
}

// NewS3Client builds a path-style client for an S3-compatible endpoint.
func NewS3Client(cfg S3Config) *s3.Client {
	region := cfg.Region
	if region == "" {
		region = "auto"
	}
	opts := s3.Options{
		Region:       region,
		UsePathStyle: true,
	}
	if cfg.AccessKeyID != "" {
		opts.Credentials = aws.NewCredentialsCache(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		))
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	return s3.New(opts)
}

func openS3(ctx context.Context, location string, cfg S3Config) (io.ReadCloser, error) {
	bucket, key, err := ParseS3Location(location)
	if err != nil {
		return nil, err
	}
	out, err := NewS3Client(cfg).GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, errkind.Wrap(errkind.TransientIO, "download crispr feed", err)
	}
	return out.Body, nil
}
