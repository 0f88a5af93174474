package storage

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"mlforge/internal/metrics"
)

// Uploader packages local sources and pushes them to object storage.
type Uploader struct {
	store ObjectStore
	log   *zap.SugaredLogger
}

func NewUploader(store ObjectStore, log *zap.SugaredLogger) *Uploader {
	return &Uploader{store: store, log: log}
}

// StageDirectory archives dir as tar.gz and uploads it under keyPrefix.
// Returns the object locator.
func (u *Uploader) StageDirectory(ctx context.Context, dir, bucket, keyPrefix string) (string, error) {
	archive, err := packDirectory(dir)
	if err != nil {
		return "", fmt.Errorf("failed to package %s: %w", dir, err)
	}
	key := strings.TrimSuffix(keyPrefix, "/") + "/sourcedir.tar.gz"
	uri, err := u.store.PutObject(ctx, bucket, key, bytes.NewReader(archive), int64(len(archive)), "application/gzip")
	if err != nil {
		return "", err
	}
	metrics.StagedBytes.Add(float64(len(archive)))
	u.log.Infow("Staged source directory", "dir", dir, "uri", uri, "bytes", len(archive))
	return uri, nil
}

// StageFile uploads a single local file under keyPrefix, keeping its base name.
func (u *Uploader) StageFile(ctx context.Context, path, bucket, keyPrefix string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil {
			u.log.Warnw("Failed to close staged file", "error", closeErr)
		}
	}()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("failed to stat %s: %w", path, err)
	}
	key := strings.TrimSuffix(keyPrefix, "/") + "/" + filepath.Base(path)
	uri, err := u.store.PutObject(ctx, bucket, key, f, info.Size(), "application/octet-stream")
	if err != nil {
		return "", err
	}
	metrics.StagedBytes.Add(float64(info.Size()))
	u.log.Infow("Staged file", "path", path, "uri", uri, "bytes", info.Size())
	return uri, nil
}

func packDirectory(dir string) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		_, err = io.Copy(tw, f)
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
