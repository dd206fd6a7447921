// Package s3storage wraps MinIO/S3 interactions for extracted audio and
// transcript artifacts.
package s3storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/dharsanguruparan/MediaVault/internal/config"
)

// Artifact keys are namespaced by prefix; the prefix selects the bucket.
const (
	AudioPrefix      = "audio/"
	TranscriptPrefix = "transcripts/"
)

// Storage holds the MinIO client and bucket names.
type Storage struct {
	client           *minio.Client
	audioBucket      string
	transcriptBucket string
	region           string
}

// New creates a MinIO client from the Config.
func New(cfg *config.Config) (*Storage, error) {
	client, err := minio.New(cfg.S3Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		Secure: cfg.S3UseSSL,
		Region: cfg.S3Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio: %w", err)
	}
	return &Storage{
		client:           client,
		audioBucket:      cfg.AudioBucket,
		transcriptBucket: cfg.TranscriptBucket,
		region:           cfg.S3Region,
	}, nil
}

// EnsureBuckets makes sure the audio/transcript buckets exist before use.
func (s *Storage) EnsureBuckets(ctx context.Context) error {
	for _, bucket := range []string{s.audioBucket, s.transcriptBucket} {
		exists, err := s.client.BucketExists(ctx, bucket)
		if err != nil {
			return fmt.Errorf("check bucket %s: %w", bucket, err)
		}
		if !exists {
			if err := s.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
				return fmt.Errorf("make bucket %s: %w", bucket, err)
			}
		}
	}
	return nil
}

// UploadAudio streams an extracted audio file into the audio bucket.
func (s *Storage) UploadAudio(ctx context.Context, objectKey string, reader io.Reader, size int64) error {
	opts := minio.PutObjectOptions{ContentType: "audio/mpeg"}
	_, err := s.client.PutObject(ctx, s.audioBucket, objectKey, reader, size, opts)
	if err != nil {
		return fmt.Errorf("upload audio object: %w", err)
	}
	return nil
}

// UploadTranscript uploads transcript text into the transcript bucket.
func (s *Storage) UploadTranscript(ctx context.Context, objectKey string, data []byte) error {
	reader := bytes.NewReader(data)
	opts := minio.PutObjectOptions{ContentType: "text/plain; charset=utf-8"}
	_, err := s.client.PutObject(ctx, s.transcriptBucket, objectKey, reader, int64(len(data)), opts)
	if err != nil {
		return fmt.Errorf("upload transcript object: %w", err)
	}
	return nil
}

// DownloadAudio fetches the audio bytes for transcription.
func (s *Storage) DownloadAudio(ctx context.Context, objectKey string) ([]byte, error) {
	return s.download(ctx, s.audioBucket, objectKey)
}

// DownloadTranscript fetches the stored transcript text.
func (s *Storage) DownloadTranscript(ctx context.Context, objectKey string) (string, error) {
	data, err := s.download(ctx, s.transcriptBucket, objectKey)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// PresignURL returns a signed GET URL for an artifact key and its expiry. The
// key prefix decides which bucket serves it.
func (s *Storage) PresignURL(ctx context.Context, objectKey string, ttl time.Duration) (string, time.Time, error) {
	bucket := s.audioBucket
	if strings.HasPrefix(objectKey, TranscriptPrefix) {
		bucket = s.transcriptBucket
	}
	expiresAt := time.Now().UTC().Add(ttl)
	u, err := s.client.PresignedGetObject(ctx, bucket, objectKey, ttl, url.Values{})
	if err != nil {
		return "", time.Time{}, fmt.Errorf("presign object %s: %w", objectKey, err)
	}
	return u.String(), expiresAt, nil
}

func (s *Storage) download(ctx context.Context, bucket, objectKey string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, bucket, objectKey, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object %s: %w", objectKey, err)
	}
	defer obj.Close()
	buf, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", objectKey, err)
	}
	return buf, nil
}
