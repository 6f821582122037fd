package network

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/bitrise-io/go-utils/retry"
	"github.com/bitrise-io/go-utils/v2/log"
)

const defaultProbeRetries = 3

// s3API is the subset of the S3 client used by the reader.
type s3API interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Config describes an S3 object and the retry policy for reading it.
type S3Config struct {
	Bucket string
	Key    string
	Region string

	// AccessKeyID and SecretAccessKey are optional static credentials. When
	// empty, the default AWS credential chain is used.
	AccessKeyID     string
	SecretAccessKey string

	// Timeout bounds each individual connect or read attempt.
	// Zero means DefaultTimeout.
	Timeout time.Duration

	// MaxReconnects is the total reconnect budget over the reader's lifetime.
	MaxReconnects int

	// ProbeRetries is the number of full retries for the initial HeadObject
	// probe. Zero means a small default.
	ProbeRetries int
}

// NewS3Reader creates a reconnecting reader over an S3 object. The object is
// probed with HeadObject up front to validate the key and learn the total
// size; streaming uses ranged GetObject requests, resuming at the current
// offset after transient failures.
func NewS3Reader(ctx context.Context, config S3Config, logger log.Logger) (*ReconnectingReader, error) {
	if config.Bucket == "" {
		return nil, fmt.Errorf("bucket must not be empty")
	}
	if config.Key == "" {
		return nil, fmt.Errorf("key must not be empty")
	}

	cfg, err := loadAWSConfig(ctx, config.Region, config.AccessKeyID, config.SecretAccessKey, logger)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(*cfg)
	return newS3Reader(ctx, client, config, logger)
}

func newS3Reader(ctx context.Context, client s3API, config S3Config, logger log.Logger) (*ReconnectingReader, error) {
	if config.Timeout < 0 {
		return nil, fmt.Errorf("timeout must be positive (got %s)", config.Timeout)
	}
	if config.MaxReconnects < 0 {
		return nil, fmt.Errorf("max reconnects must be non-negative (got %d)", config.MaxReconnects)
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultTimeout
	}
	probeRetries := config.ProbeRetries
	if probeRetries == 0 {
		probeRetries = defaultProbeRetries
	}

	uri := fmt.Sprintf("s3://%s/%s", config.Bucket, config.Key)

	totalSize := int64(-1)
	err := retry.Times(uint(probeRetries)).Wait(5 * time.Second).TryWithAbort(func(attempt uint) (error, bool) {
		head, err := client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(config.Bucket),
			Key:    aws.String(config.Key),
		})
		if err != nil {
			var apiErr smithy.APIError
			if errors.As(err, &apiErr) {
				switch apiErr.(type) {
				case *types.NotFound, *types.NoSuchKey:
					logger.Debugf("key %s not found in bucket %s: %s", config.Key, config.Bucket, err)
					return &StatusError{StatusCode: http.StatusNotFound, URL: uri}, true
				}
			}
			logger.Debugf("probe %s: %s", uri, err)
			return err, false
		}
		if head.ContentLength != nil {
			totalSize = *head.ContentLength
		}
		return nil, true
	})
	if err != nil {
		return nil, fmt.Errorf("probe %s: %w", uri, err)
	}

	opener := &s3Opener{
		client:  client,
		bucket:  config.Bucket,
		key:     config.Key,
		uri:     uri,
		timeout: config.Timeout,
		logger:  logger,
	}

	reader := newReader(opener, config.MaxReconnects, logger)
	reader.url = uri
	reader.timeout = config.Timeout
	reader.totalSize = totalSize
	return reader, nil
}

// s3Opener opens link sessions over S3 ranged GetObject requests.
type s3Opener struct {
	client  s3API
	bucket  string
	key     string
	uri     string
	timeout time.Duration
	logger  log.Logger
}

func (o *s3Opener) open(ctx context.Context, offset int64) (session, error) {
	reqCtx, cancel := context.WithCancel(ctx)

	input := &s3.GetObjectInput{
		Bucket: aws.String(o.bucket),
		Key:    aws.String(o.key),
	}
	if offset > 0 {
		input.Range = aws.String(fmt.Sprintf("bytes=%d-", offset))
	}

	timer := startAttemptTimer(o.timeout, cancel)
	out, err := o.client.GetObject(reqCtx, input)
	timer.stop()
	if err != nil {
		cancel()
		if timer.expired() {
			return nil, fmt.Errorf("get object %s: %w after %s", o.uri, ErrAttemptTimeout, o.timeout)
		}
		return nil, fmt.Errorf("get object %s: %w", o.uri, classifyS3Error(err, o.uri))
	}

	total := int64(-1)
	if offset > 0 {
		if out.ContentRange == nil {
			if closeErr := out.Body.Close(); closeErr != nil {
				o.logger.Debugf("close object body: %s", closeErr)
			}
			cancel()
			return nil, fmt.Errorf("resume at offset %d: %w", offset, ErrRangeNotSupported)
		}
		total = parseContentRangeTotal(aws.ToString(out.ContentRange))
	} else if out.ContentLength != nil {
		total = *out.ContentLength
	}

	return &linkSession{
		body:    out.Body,
		total:   total,
		timeout: o.timeout,
		cancel:  cancel,
	}, nil
}

// classifyS3Error maps S3 API errors onto the shared error taxonomy so the
// reconnect state machine treats missing objects and bad ranges as fatal.
// Unrecognized API errors stay as-is and are retried.
func classifyS3Error(err error, uri string) error {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	switch apiErr.(type) {
	case *types.NoSuchKey, *types.NotFound:
		return &StatusError{StatusCode: http.StatusNotFound, URL: uri}
	case *types.NoSuchBucket:
		return &StatusError{StatusCode: http.StatusNotFound, URL: uri}
	}
	if apiErr.ErrorCode() == "InvalidRange" {
		return &StatusError{StatusCode: http.StatusRequestedRangeNotSatisfiable, URL: uri}
	}
	if apiErr.ErrorCode() == "AccessDenied" {
		return &StatusError{StatusCode: http.StatusForbidden, URL: uri}
	}
	return err
}

func loadAWSConfig(ctx context.Context, region, accessKeyID, secretKey string, logger log.Logger) (*aws.Config, error) {
	if region == "" {
		return nil, fmt.Errorf("region must not be empty")
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
	}

	if accessKeyID != "" && secretKey != "" {
		opts = append(opts,
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKeyID, secretKey, "")))
	} else {
		logger.Debugf("static aws credentials not defined, using the default credential chain")
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load default config: %w", err)
	}

	return &cfg, nil
}
