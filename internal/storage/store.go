// Package storage persists assembled audio as WAV files under one directory.
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/loqalabs/loqa-narrator/internal/audio"
)

// Object describes a stored asset.
type Object struct {
	Ref   string
	Bytes int64
}

// FileStore writes assets atomically: encode to a temp file in the target
// directory, then rename into place.
type FileStore struct {
	dir    string
	logger *slog.Logger
}

func NewFileStore(dir string, logger *slog.Logger) (*FileStore, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve output dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	return &FileStore{dir: abs, logger: logger.With(slog.String("component", "storage"))}, nil
}

func (s *FileStore) Dir() string { return s.dir }

// Save stores the asset as <dir>/<name>.wav. Name may contain slashes to
// group artifacts, but must stay inside the store.
func (s *FileStore) Save(ctx context.Context, name string, asset audio.Asset) (Object, error) {
	if err := ctx.Err(); err != nil {
		return Object{}, err
	}
	path, err := s.resolve(name + ".wav")
	if err != nil {
		return Object{}, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return Object{}, fmt.Errorf("create asset dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".narrator_*.wav")
	if err != nil {
		return Object{}, fmt.Errorf("temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := audio.EncodeWAV(tmp, asset); err != nil {
		tmp.Close()
		return Object{}, err
	}
	info, err := tmp.Stat()
	if err != nil {
		tmp.Close()
		return Object{}, fmt.Errorf("stat asset: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return Object{}, fmt.Errorf("close asset: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return Object{}, fmt.Errorf("publish asset: %w", err)
	}

	s.logger.Info("audio asset stored",
		slog.String("ref", path),
		slog.String("size", humanize.Bytes(uint64(info.Size()))),
		slog.Float64("duration_seconds", asset.DurationSeconds))
	return Object{Ref: path, Bytes: info.Size()}, nil
}

// Delete removes a stored asset. Missing files are not an error.
func (s *FileStore) Delete(ctx context.Context, ref string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !s.contains(ref) {
		return fmt.Errorf("ref %q is outside the store", ref)
	}
	if err := os.Remove(ref); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete asset: %w", err)
	}
	s.logger.Debug("audio asset deleted", slog.String("ref", ref))
	return nil
}

// Path returns the location an asset named name would be stored at.
func (s *FileStore) Path(name string) (string, error) {
	return s.resolve(name + ".wav")
}

func (s *FileStore) resolve(rel string) (string, error) {
	if rel == "" || filepath.IsAbs(rel) {
		return "", fmt.Errorf("invalid asset name %q", rel)
	}
	path := filepath.Join(s.dir, filepath.Clean(rel))
	if !s.contains(path) {
		return "", fmt.Errorf("asset name %q escapes the store", rel)
	}
	return path, nil
}

func (s *FileStore) contains(path string) bool {
	rel, err := filepath.Rel(s.dir, path)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
