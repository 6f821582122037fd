package network

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"
)

// DownloadParams ...
type DownloadParams struct {
	URL           string
	Headers       map[string]string
	DownloadPath  string
	Timeout       time.Duration
	MaxReconnects int
}

// Download streams a remote resource to a local file through a reconnecting
// reader, surviving dropped connections without corrupting the output. The
// file is written in place; on error the partial file is removed.
func Download(ctx context.Context, params DownloadParams, logger log.Logger) error {
	if params.URL == "" {
		return fmt.Errorf("URL is empty")
	}
	if params.DownloadPath == "" {
		return fmt.Errorf("download path is empty")
	}

	config := Config{
		URL:           params.URL,
		Headers:       params.Headers,
		Timeout:       params.Timeout,
		MaxReconnects: params.MaxReconnects,
	}
	if config.MaxReconnects == 0 {
		config.MaxReconnects = DefaultMaxReconnects
	}

	reader, err := NewReconnectingReader(config, logger)
	if err != nil {
		return err
	}

	// close the reader when the caller's context is cancelled, aborting any
	// in-flight attempt or backoff wait
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			if err := reader.Close(); err != nil {
				logger.Debugf("close reader: %s", err)
			}
		case <-watchDone:
		}
	}()

	if _, err := reader.ProbeSize(ctx); err != nil {
		logger.Debugf("size probe failed, premature disconnects may be indistinguishable from EOF: %s", err)
	}

	file, err := os.Create(params.DownloadPath)
	if err != nil {
		closeLogged(reader, logger)
		return fmt.Errorf("create %s: %w", params.DownloadPath, err)
	}

	startTime := time.Now()
	written, copyErr := io.Copy(file, reader)
	closeLogged(reader, logger)
	if err := file.Close(); err != nil && copyErr == nil {
		copyErr = fmt.Errorf("close %s: %w", params.DownloadPath, err)
	}

	if copyErr != nil {
		if removeErr := os.Remove(params.DownloadPath); removeErr != nil {
			logger.Warnf("remove partial download %s: %s", params.DownloadPath, removeErr)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("download %s: %w", params.URL, copyErr)
	}

	if reader.Reconnects() > 0 {
		logger.Infof("Download recovered from %d dropped connection(s)", reader.Reconnects())
	}
	logger.Donef("Downloaded %s in %s", units.BytesSize(float64(written)), time.Since(startTime).Round(time.Millisecond))
	return nil
}

func closeLogged(reader *ReconnectingReader, logger log.Logger) {
	if err := reader.Close(); err != nil {
		logger.Debugf("close reader: %s", err)
	}
}
