// Package provider resolves locator strings into byte sources. A locator is
// either a plain path, a file:// URL, an http(s):// URL (opened through the
// reconnecting reader) or an s3://bucket/key URI.
package provider

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/bitrise-io/go-inputstream/source"
	"github.com/bitrise-io/go-inputstream/source/network"
	"github.com/bitrise-io/go-utils/pathutil"
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
)

const fileSchema = "file://"

// SourceProvider opens a source.Source for a locator string, hiding the
// transport behind the common read/close capability.
type SourceProvider struct {
	envRepo env.Repository
	logger  log.Logger
}

// NewSourceProvider ...
func NewSourceProvider(envRepo env.Repository, logger log.Logger) SourceProvider {
	return SourceProvider{
		envRepo: envRepo,
		logger:  logger,
	}
}

// Open resolves the locator and opens a source for it. Remote sources use the
// default timeout and reconnect budget; use the network package directly for
// custom policies.
func (p SourceProvider) Open(ctx context.Context, locator string) (source.Source, error) {
	switch {
	case strings.HasPrefix(locator, fileSchema):
		path, err := pathutil.AbsPath(strings.TrimPrefix(locator, fileSchema))
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", locator, err)
		}
		return source.NewFileSource(path)

	case strings.HasPrefix(locator, "http://"), strings.HasPrefix(locator, "https://"):
		return network.NewReconnectingReader(network.DefaultConfig(locator), p.logger)

	case strings.HasPrefix(locator, "s3://"):
		bucket, key, err := splitS3Locator(locator)
		if err != nil {
			return nil, err
		}
		return network.NewS3Reader(ctx, network.S3Config{
			Bucket:          bucket,
			Key:             key,
			Region:          p.envRepo.Get("AWS_REGION"),
			AccessKeyID:     p.envRepo.Get("AWS_ACCESS_KEY_ID"),
			SecretAccessKey: p.envRepo.Get("AWS_SECRET_ACCESS_KEY"),
			MaxReconnects:   network.DefaultMaxReconnects,
		}, p.logger)

	default:
		path, err := pathutil.AbsPath(locator)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", locator, err)
		}
		return source.NewFileSource(path)
	}
}

func splitS3Locator(locator string) (bucket, key string, err error) {
	parsed, err := url.Parse(locator)
	if err != nil {
		return "", "", fmt.Errorf("parse %s: %w", locator, err)
	}
	bucket = parsed.Host
	key = strings.TrimPrefix(parsed.Path, "/")
	if bucket == "" || key == "" {
		return "", "", fmt.Errorf("invalid S3 locator %s, expected s3://bucket/key", locator)
	}
	return bucket, key, nil
}
