package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"time"

	"talky/pkg/logger"
	"talky/pkg/resilience"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
)

// S3Config describes an S3-compatible bucket holding uploaded recordings
type S3Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
}

// S3Storage archives practice recordings
type S3Storage struct {
	client *s3.Client
	bucket string
	retry  *resilience.RetryConfig
}

// NewS3Storage creates a new S3 storage client
func NewS3Storage(ctx context.Context, c S3Config) (*S3Storage, error) {
	if c.Bucket == "" {
		return nil, fmt.Errorf("S3 bucket is required")
	}
	region := c.Region
	if region == "" {
		region = "us-east-1"
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
	}
	if c.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(c.AccessKey, c.SecretKey, ""),
		))
	}
	if c.Endpoint != "" {
		endpoint := c.Endpoint
		resolver := aws.EndpointResolverWithOptionsFunc(
			func(service, region string, options ...interface{}) (aws.Endpoint, error) {
				return aws.Endpoint{
					URL:           endpoint,
					SigningRegion: region,
				}, nil
			})
		opts = append(opts, config.WithEndpointResolverWithOptions(resolver))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load S3 config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})

	logger.Info("S3 storage initialized", zap.String("bucket", c.Bucket))

	return &S3Storage{
		client: client,
		bucket: c.Bucket,
		retry: &resilience.RetryConfig{
			MaxAttempts:     3,
			InitialInterval: 200 * time.Millisecond,
			MaxInterval:     2 * time.Second,
			Multiplier:      2.0,
		},
	}, nil
}

// AudioKey returns the object key a recording is archived under
func AudioKey(attemptID string, at time.Time) string {
	return path.Join("audio", at.UTC().Format("2006/01/02"), attemptID+".wav")
}

// UploadAudio stores a WAV recording, retrying transient failures
func (s *S3Storage) UploadAudio(ctx context.Context, key string, data []byte) error {
	err := resilience.RetryWithExponentialBackoff(ctx, s.retry, func() error {
		_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(s.bucket),
			Key:           aws.String(key),
			Body:          bytes.NewReader(data),
			ContentLength: aws.Int64(int64(len(data))),
			ContentType:   aws.String("audio/wav"),
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to upload audio: %w", err)
	}

	logger.Info("Audio uploaded to S3",
		zap.String("key", key),
		zap.Int("size", len(data)))

	return nil
}

// DownloadAudio fetches a stored recording
func (s *S3Storage) DownloadAudio(ctx context.Context, key string) ([]byte, error) {
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to download audio: %w", err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio: %w", err)
	}

	logger.Debug("Audio downloaded from S3",
		zap.String("key", key),
		zap.Int("size", len(data)))

	return data, nil
}

// DeleteAudio removes a stored recording
func (s *S3Storage) DeleteAudio(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete audio: %w", err)
	}

	logger.Debug("Audio deleted from S3", zap.String("key", key))

	return nil
}
