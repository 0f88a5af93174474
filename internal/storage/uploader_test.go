package storage

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
)

type fakeStore struct {
	bucket string
	key    string
	data   []byte
}

func (f *fakeStore) PutObject(_ context.Context, bucket, key string, r io.Reader, size int64, _ string) (string, error) {
	f.bucket = bucket
	f.key = key
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	f.data = data
	return "s3://" + bucket + "/" + key, nil
}

func TestStageDirectoryPacksAndUploads(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "train.py"), []byte("print('hi')\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "lib"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "lib", "util.py"), []byte("x = 1\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	store := &fakeStore{}
	u := NewUploader(store, zap.NewNop().Sugar())

	uri, err := u.StageDirectory(context.Background(), dir, "staging", "jobs/job-1")
	if err != nil {
		t.Fatalf("stage: %v", err)
	}
	if uri != "s3://staging/jobs/job-1/sourcedir.tar.gz" {
		t.Fatalf("uri: %s", uri)
	}

	gz, err := gzip.NewReader(bytes.NewReader(store.data))
	if err != nil {
		t.Fatalf("gzip: %v", err)
	}
	tr := tar.NewReader(gz)
	names := map[string]string{}
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("tar: %v", err)
		}
		content, err := io.ReadAll(tr)
		if err != nil {
			t.Fatalf("tar read: %v", err)
		}
		names[hdr.Name] = string(content)
	}
	if names["train.py"] != "print('hi')\n" {
		t.Fatalf("train.py missing or wrong: %v", names)
	}
	if names["lib/util.py"] != "x = 1\n" {
		t.Fatalf("nested file missing or wrong: %v", names)
	}
}

func TestStageFileKeepsBaseName(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.csv")
	if err := os.WriteFile(path, []byte("a,b\n1,2\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	store := &fakeStore{}
	u := NewUploader(store, zap.NewNop().Sugar())

	uri, err := u.StageFile(context.Background(), path, "staging", "jobs/job-1/input")
	if err != nil {
		t.Fatalf("stage: %v", err)
	}
	if uri != "s3://staging/jobs/job-1/input/data.csv" {
		t.Fatalf("uri: %s", uri)
	}
	if string(store.data) != "a,b\n1,2\n" {
		t.Fatalf("payload: %q", store.data)
	}
}
