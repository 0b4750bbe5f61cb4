package reporting

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
)

// Uploader is the subset of manager.Uploader used by S3Sink
type Uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3Config configures the S3 sink
type S3Config struct {
	Bucket          string
	Prefix          string
	Region          string
	AccessKeyID     string // Optional; the default credential chain is used when empty
	SecretAccessKey string
}

// S3Sink uploads artifacts to <bucket>/<prefix>/<run_id>/<file>
type S3Sink struct {
	uploader Uploader
	bucket   string
	prefix   string
	log      zerolog.Logger
}

// NewS3Sink creates a sink on top of an existing uploader
func NewS3Sink(uploader Uploader, bucket, prefix string, log zerolog.Logger) *S3Sink {
	return &S3Sink{
		uploader: uploader,
		bucket:   bucket,
		prefix:   strings.Trim(prefix, "/"),
		log:      log.With().Str("sink", "s3").Str("bucket", bucket).Logger(),
	}
}

// NewS3SinkFromConfig loads AWS configuration and builds an uploader
func NewS3SinkFromConfig(ctx context.Context, cfg S3Config, log zerolog.Logger) (*S3Sink, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("S3 bucket is required")
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	uploader := manager.NewUploader(s3.NewFromConfig(awsCfg))
	return NewS3Sink(uploader, cfg.Bucket, cfg.Prefix, log), nil
}

// Key returns the object key for an artifact
func (s *S3Sink) Key(runID, name string) string {
	if s.prefix == "" {
		return path.Join(runID, name)
	}
	return path.Join(s.prefix, runID, name)
}

// Put uploads every file, in name order
func (s *S3Sink) Put(ctx context.Context, runID string, files map[string][]byte) error {
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		key := s.Key(runID, name)
		_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(s.bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(files[name]),
			ContentType: aws.String("application/json"),
		})
		if err != nil {
			return fmt.Errorf("failed to upload %s: %w", key, err)
		}
		s.log.Debug().Str("key", key).Int("bytes", len(files[name])).Msg("Uploaded artifact")
	}

	s.log.Info().Str("run_id", runID).Int("files", len(names)).Msg("Uploaded report")
	return nil
}
