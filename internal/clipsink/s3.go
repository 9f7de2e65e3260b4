package clipsink

import (
	"bytes"
	"context"
	"fmt"
	"path"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/judacas/AutoDJ/pkg/models"
)

type S3Config struct {
	Bucket   string
	Prefix   string
	Endpoint string
	Region   string
	KeyID    string
	AppKey   string
}

// putter is the part of the S3 client the sink uses.
type putter interface {
	PutObjectWithContext(ctx aws.Context, in *s3.PutObjectInput, opts ...request.Option) (*s3.PutObjectOutput, error)
}

// S3Sink uploads objects to an S3 compatible bucket.
type S3Sink struct {
	api    putter
	bucket string
	prefix string
}

func NewS3Sink(cfg S3Config) (*S3Sink, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("%w: s3 sink needs a bucket", models.ErrInvalidInput)
	}
	awsCfg := &aws.Config{
		Region:           aws.String(cfg.Region),
		S3ForcePathStyle: aws.Bool(true),
	}
	if cfg.Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.Endpoint)
	}
	if cfg.KeyID != "" {
		awsCfg.Credentials = credentials.NewStaticCredentials(cfg.KeyID, cfg.AppKey, "")
	}
	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("creating aws session: %w", err)
	}
	return &S3Sink{api: s3.New(sess), bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (s *S3Sink) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	full := path.Join(s.prefix, key)
	_, err := s.api.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(full),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", classifyS3(err)
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, full), nil
}

// classifyS3 marks throttling and server side failures as transient so the
// worker pool retries the unit.
func classifyS3(err error) error {
	if reqErr, ok := err.(awserr.RequestFailure); ok {
		if reqErr.StatusCode() >= 500 || reqErr.StatusCode() == 429 {
			return fmt.Errorf("%w: s3 put: %v", models.ErrTransient, err)
		}
		return fmt.Errorf("s3 put: %w", err)
	}
	if aerr, ok := err.(awserr.Error); ok && aerr.Code() == request.CanceledErrorCode {
		return fmt.Errorf("s3 put: %w", context.Canceled)
	}
	return fmt.Errorf("%w: s3 put: %v", models.ErrTransient, err)
}
