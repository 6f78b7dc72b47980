package sink

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
)

const s3PartSize = 8 * 1024 * 1024

type objectUploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3 streams accepted bytes into a single S3 object. The upload runs in the
// background and is finished by Close.
type S3 struct {
	Bucket string
	Key    string

	pw   *io.PipeWriter
	done chan error
	once sync.Once
	err  error
}

// ParseS3URL splits s3://bucket/key.
func ParseS3URL(raw string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(raw, "s3://")
	if !ok {
		return "", "", fmt.Errorf("invalid S3 URL %q: missing s3:// prefix", raw)
	}
	bucket, key, _ = strings.Cut(rest, "/")
	if bucket == "" || key == "" {
		return "", "", fmt.Errorf("invalid S3 URL %q: need s3://bucket/key", raw)
	}
	return bucket, key, nil
}

// NewS3 loads AWS credentials for profile (empty means the default chain)
// and starts a multipart upload to bucket/key.
func NewS3(ctx context.Context, profile, bucket, key string) (*S3, error) {
	opts := []func(*config.LoadOptions) error{config.WithRetryMode(aws.RetryModeAdaptive)}
	if profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(profile))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("error loading AWS config: %v", err)
	}
	uploader := manager.NewUploader(s3.NewFromConfig(cfg), func(u *manager.Uploader) {
		u.PartSize = s3PartSize
		u.Concurrency = 2
	})
	return newS3(ctx, uploader, bucket, key), nil
}

func newS3(ctx context.Context, up objectUploader, bucket, key string) *S3 {
	pr, pw := io.Pipe()
	s := &S3{Bucket: bucket, Key: key, pw: pw, done: make(chan error, 1)}
	go func() {
		_, err := up.Upload(ctx, &s3.PutObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
			Body:   pr,
		})
		if err != nil {
			log.Error().Str("op", "sink/s3").Err(err).Msgf("Upload to s3://%s/%s failed", bucket, key)
		}
		pr.CloseWithError(err)
		s.done <- err
	}()
	return s
}

func (s *S3) Accept(p []byte) error {
	if _, err := s.pw.Write(p); err != nil {
		return fmt.Errorf("error writing to S3 upload: %v", err)
	}
	return nil
}

// Close ends the object body and waits for the upload to finish.
func (s *S3) Close() error {
	s.pw.Close()
	if err := s.wait(); err != nil {
		return fmt.Errorf("error uploading S3 object: %v", err)
	}
	log.Debug().Str("op", "sink/s3").Msgf("Uploaded s3://%s/%s", s.Bucket, s.Key)
	return nil
}

// Abort cancels the upload; the object is not created.
func (s *S3) Abort(cause error) {
	s.pw.CloseWithError(cause)
	s.wait()
}

func (s *S3) wait() error {
	s.once.Do(func() {
		s.err = <-s.done
	})
	return s.err
}
