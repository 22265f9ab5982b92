// Package audio resolves stored audio locations into bytes for the
// transcription pipeline. Uploads land either in S3 or behind a plain HTTP
// URL; signed-upload issuance happens outside this service.
package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"interview-pipeline/internal/config"
)

// Fetcher downloads audio bytes with a size ceiling.
type Fetcher struct {
	httpClient *http.Client
	s3         *s3.Client
	maxBytes   int64
}

// NewFetcher builds a fetcher; the S3 client is only constructed when a
// bucket is configured.
func NewFetcher(ctx context.Context, cfg config.Config) (*Fetcher, error) {
	f := &Fetcher{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		maxBytes:   cfg.AudioMaxBytes,
	}
	if f.maxBytes == 0 {
		f.maxBytes = 25 * 1024 * 1024
	}

	if cfg.AudioS3Bucket != "" {
		client, err := newS3Client(ctx, cfg)
		if err != nil {
			return nil, err
		}
		f.s3 = client
	}
	return f, nil
}

func newS3Client(ctx context.Context, cfg config.Config) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.AudioS3Region),
	}
	if cfg.AudioS3Endpoint != "" {
		resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, _ ...interface{}) (aws.Endpoint, error) {
			if service == s3.ServiceID {
				return aws.Endpoint{
					URL:               cfg.AudioS3Endpoint,
					HostnameImmutable: cfg.AudioS3PathStyle,
					SigningRegion:     cfg.AudioS3Region,
					Source:            aws.EndpointSourceCustom,
				}, nil
			}
			return aws.Endpoint{}, &aws.EndpointNotFoundError{}
		})
		opts = append(opts, awsconfig.WithEndpointResolverWithOptions(resolver))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.AudioS3PathStyle
	}), nil
}

// Fetch resolves an s3:// or http(s):// location into audio bytes and a
// content type.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, string, error) {
	switch {
	case strings.HasPrefix(rawURL, "s3://"):
		return f.fetchS3(ctx, rawURL)
	case strings.HasPrefix(rawURL, "http://"), strings.HasPrefix(rawURL, "https://"):
		return f.fetchHTTP(ctx, rawURL)
	default:
		return nil, "", fmt.Errorf("unsupported audio url scheme: %s", rawURL)
	}
}

func (f *Fetcher) fetchS3(ctx context.Context, rawURL string) ([]byte, string, error) {
	if f.s3 == nil {
		return nil, "", errors.New("s3 audio url but AUDIO_S3_BUCKET is not configured")
	}
	bucket, key, err := splitS3URL(rawURL)
	if err != nil {
		return nil, "", err
	}

	out, err := f.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, "", fmt.Errorf("get object: %w", err)
	}
	defer out.Body.Close()

	body, err := f.readLimited(out.Body)
	if err != nil {
		return nil, "", err
	}
	contentType := ""
	if out.ContentType != nil {
		contentType = *out.ContentType
	}
	return body, contentType, nil
}

func (f *Fetcher) fetchHTTP(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build request: %w", err)
	}
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download audio: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, "", fmt.Errorf("download audio: status %d", resp.StatusCode)
	}

	body, err := f.readLimited(resp.Body)
	if err != nil {
		return nil, "", err
	}
	return body, resp.Header.Get("Content-Type"), nil
}

func (f *Fetcher) readLimited(r io.Reader) ([]byte, error) {
	limited := io.LimitReader(r, f.maxBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("read audio: %w", err)
	}
	if int64(len(body)) > f.maxBytes {
		return nil, fmt.Errorf("audio too large (>%d bytes)", f.maxBytes)
	}
	return body, nil
}

func splitS3URL(rawURL string) (bucket, key string, err error) {
	trimmed := strings.TrimPrefix(rawURL, "s3://")
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("malformed s3 url: %s", rawURL)
	}
	return parts[0], parts[1], nil
}
