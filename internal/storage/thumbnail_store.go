package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/video-importer/internal/config"
	"github.com/video-importer/internal/retry"
)

const maxThumbnailBytes = 10 << 20

// ObjectStore is the subset of the S3 client used for thumbnails
type ObjectStore interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// ThumbnailStore downloads video thumbnails and keeps a durable copy in an
// S3-compatible bucket.
type ThumbnailStore struct {
	objects       ObjectStore
	bucket        string
	publicBaseURL string
	httpClient    *http.Client
	retryConfig   *retry.RetryConfig
}

// NewS3Client builds an S3 client for the configured endpoint
func NewS3Client(ctx context.Context, cfg *config.StorageConfig) (*s3.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = true
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}), nil
}

// NewThumbnailStore creates a thumbnail store writing to bucket
func NewThumbnailStore(objects ObjectStore, bucket, publicBaseURL string) *ThumbnailStore {
	return &ThumbnailStore{
		objects:       objects,
		bucket:        bucket,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
		httpClient:    &http.Client{Timeout: 30 * time.Second},
		retryConfig: &retry.RetryConfig{
			MaxAttempts:  3,
			InitialDelay: time.Second,
			MaxDelay:     10 * time.Second,
			Multiplier:   2.0,
		},
	}
}

// ThumbnailKey returns the object key of a video's thumbnail
func ThumbnailKey(videoID string) string {
	return fmt.Sprintf("thumbnails/%s.jpg", videoID)
}

// URL returns the public URL of an object key, or "" without a public base
func (s *ThumbnailStore) URL(key string) string {
	if s.publicBaseURL == "" {
		return ""
	}
	return s.publicBaseURL + "/" + key
}

// Store downloads imageURL and uploads it under the video's key
func (s *ThumbnailStore) Store(ctx context.Context, videoID, imageURL string) (string, error) {
	var (
		data        []byte
		contentType string
	)
	err := retry.Do(ctx, s.retryConfig, func(ctx context.Context, attempt int) error {
		var err error
		data, contentType, err = s.download(ctx, imageURL)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("failed to download thumbnail: %w", err)
	}

	key := ThumbnailKey(videoID)
	_, err = s.objects.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload thumbnail: %w", err)
	}
	return key, nil
}

// Delete removes a video's thumbnail
func (s *ThumbnailStore) Delete(ctx context.Context, videoID string) error {
	_, err := s.objects.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(ThumbnailKey(videoID)),
	})
	if err != nil {
		return fmt.Errorf("failed to delete thumbnail: %w", err)
	}
	return nil
}

func (s *ThumbnailStore) download(ctx context.Context, imageURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, "", retry.Permanent(err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, "", fmt.Errorf("thumbnail server returned %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, "", retry.Permanent(fmt.Errorf("thumbnail server returned %d", resp.StatusCode))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxThumbnailBytes))
	if err != nil {
		return nil, "", err
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "image/jpeg"
	}
	return data, contentType, nil
}
