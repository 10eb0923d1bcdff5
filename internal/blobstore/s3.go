package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// S3Config locates the bucket holding sealed artifacts.
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string // optional, for S3-compatible services
	AccessKeyID     string // optional, falls back to the default credential chain
	SecretAccessKey string
	PublicBaseURL   string // optional, defaults to the virtual-hosted bucket URL
	UsePathStyle    bool
	Timeout         time.Duration
}

// S3Store stores artifacts in an S3 bucket.
type S3Store struct {
	client     *s3.Client
	presign    *s3.PresignClient
	bucket     string
	publicBase string
	timeout    time.Duration
}

func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	if cfg.Bucket == "" || cfg.Region == "" {
		return nil, fmt.Errorf("%w: bucket and region are required", ErrMisconfigured)
	}
	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("%w: load aws config: %w", ErrMisconfigured, err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	publicBase := cfg.PublicBaseURL
	if publicBase == "" {
		publicBase = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.Bucket, cfg.Region)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &S3Store{
		client:     client,
		presign:    s3.NewPresignClient(client),
		bucket:     cfg.Bucket,
		publicBase: publicBase,
		timeout:    timeout,
	}, nil
}

func (s *S3Store) Put(ctx context.Context, category, hint string, data []byte) (Object, error) {
	key, err := NewKey(category, hint)
	if err != nil {
		return Object{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String("application/pdf"),
	})
	if err != nil {
		return Object{}, classify("put object", err)
	}
	return Object{Key: key, PublicURL: publicURL(s.publicBase, key)}, nil
}

func (s *S3Store) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, classify("get object", err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read object: %w", ErrUnavailable, err)
	}
	return data, nil
}

// SignedURL presigns a GET for key. Presigning is local; it does not check
// the object exists.
func (s *S3Store) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ClampTTL(ttl)))
	if err != nil {
		return "", classify("presign get object", err)
	}
	return req.URL, nil
}

var misconfiguredCodes = map[string]struct{}{
	"AccessDenied":                 {},
	"AllAccessDisabled":            {},
	"AuthorizationHeaderMalformed": {},
	"InvalidAccessKeyId":           {},
	"InvalidBucketName":            {},
	"NoSuchBucket":                 {},
	"PermanentRedirect":            {},
	"SignatureDoesNotMatch":        {},
}

// classify maps SDK failures onto the package sentinels.
func classify(op string, err error) error {
	var noKey *s3types.NoSuchKey
	if errors.As(err, &noKey) {
		return fmt.Errorf("%w: %s", ErrNotFound, op)
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		if _, ok := misconfiguredCodes[code]; ok {
			return fmt.Errorf("%w: %s: %w", ErrMisconfigured, op, err)
		}
		if code == "NotFound" || code == "NoSuchKey" {
			return fmt.Errorf("%w: %s", ErrNotFound, op)
		}
	}
	return fmt.Errorf("%w: %s: %w", ErrUnavailable, op, err)
}

var _ Store = (*S3Store)(nil)
