// Package uploads keeps user supplied documents in the upload directory
// before they are ingested.
package uploads

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/gosimple/slug"
	"github.com/segmentio/ksuid"
	"github.com/spf13/afero"

	"github.com/compozy/ragpipe/engine/knowledge"
	"github.com/compozy/ragpipe/engine/knowledge/extract"
	appconfig "github.com/compozy/ragpipe/pkg/config"
	"github.com/compozy/ragpipe/pkg/logger"
)

// Validator checks a saved file before it is accepted.
type Validator interface {
	Validate(ctx context.Context, path string) (*extract.FileInfo, error)
	Supports(path string) bool
}

// File describes a stored upload.
type File struct {
	Name       string    `json:"name"`
	Path       string    `json:"path"`
	Size       int64     `json:"size"`
	SizeHuman  string    `json:"size_human"`
	Extension  string    `json:"extension"`
	ModifiedAt time.Time `json:"modified_at"`
}

// Store saves, lists and removes files under a single directory.
type Store struct {
	fs        afero.Fs
	dir       string
	validator Validator
	maxSize   int64
}

// Options configures a Store. A nil FS uses the OS filesystem.
type Options struct {
	FS          afero.Fs
	Directory   string
	MaxFileSize int64
}

// OptionsFromConfig maps the uploads section of the application configuration.
func OptionsFromConfig(cfg *appconfig.Config) Options {
	if cfg == nil {
		return Options{}
	}
	return Options{Directory: cfg.Uploads.Directory, MaxFileSize: cfg.Uploads.MaxFileSize}
}

func NewStore(validator Validator, opts Options) (*Store, error) {
	if validator == nil {
		return nil, errors.New("uploads: validator is required")
	}
	if strings.TrimSpace(opts.Directory) == "" {
		return nil, errors.New("uploads: directory is required")
	}
	if opts.FS == nil {
		opts.FS = afero.NewOsFs()
	}
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = extract.DefaultMaxFileSize
	}
	return &Store{
		fs:        opts.FS,
		dir:       filepath.Clean(opts.Directory),
		validator: validator,
		maxSize:   opts.MaxFileSize,
	}, nil
}

// Dir returns the upload directory.
func (s *Store) Dir() string {
	return s.dir
}

// SanitizeName reduces an uploaded file name to a lower-case slug that keeps
// the extension. Names with nothing usable left become "document-<ksuid>".
func SanitizeName(name string) string {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	ext := strings.ToLower(filepath.Ext(base))
	stem := slug.Make(strings.TrimSuffix(base, filepath.Ext(base)))
	ext = "." + slug.Make(strings.TrimPrefix(ext, "."))
	if ext == "." {
		ext = ""
	}
	if stem == "" {
		stem = "document-" + strings.ToLower(ksuid.New().String()[:8])
	}
	return stem + ext
}

// Save writes content under a sanitized, collision free name and validates
// the result. Invalid files are removed before the error is returned.
func (s *Store) Save(ctx context.Context, name string, content io.Reader) (*File, error) {
	if content == nil {
		return nil, knowledge.NewInvalidInput("content", "is required")
	}
	if err := s.fs.MkdirAll(s.dir, 0o755); err != nil {
		return nil, fmt.Errorf("uploads: create directory: %w", err)
	}
	safe := SanitizeName(name)
	f, path, err := s.create(safe)
	if err != nil {
		return nil, err
	}
	written, err := io.Copy(f, io.LimitReader(content, s.maxSize+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		s.discard(ctx, path)
		return nil, fmt.Errorf("uploads: write %s: %w", path, err)
	}
	if written > s.maxSize {
		s.discard(ctx, path)
		return nil, knowledge.NewInvalidInput(
			"file",
			"file size exceeds maximum allowed size (%s)",
			FormatSize(s.maxSize),
		)
	}
	if _, err := s.validator.Validate(ctx, path); err != nil {
		s.discard(ctx, path)
		return nil, err
	}
	logger.FromContext(ctx).Info("Saved uploaded file", "path", path, "original_name", name, "size", written)
	return s.stat(path)
}

// create opens the first free name among safe, stem_1.ext, stem_2.ext and so on.
func (s *Store) create(safe string) (afero.File, string, error) {
	ext := filepath.Ext(safe)
	stem := strings.TrimSuffix(safe, ext)
	for i := 0; ; i++ {
		candidate := safe
		if i > 0 {
			candidate = stem + "_" + strconv.Itoa(i) + ext
		}
		path := filepath.Join(s.dir, candidate)
		if exists, err := afero.Exists(s.fs, path); err != nil {
			return nil, "", fmt.Errorf("uploads: stat %s: %w", path, err)
		} else if exists {
			continue
		}
		f, err := s.fs.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return nil, "", fmt.Errorf("uploads: create %s: %w", path, err)
		}
		return f, path, nil
	}
}

func (s *Store) discard(ctx context.Context, path string) {
	if err := s.fs.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.FromContext(ctx).Warn("Failed to remove rejected upload", "path", path, "error", err)
	}
}

func (s *Store) stat(path string) (*File, error) {
	info, err := s.fs.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("uploads: stat %s: %w", path, err)
	}
	return &File{
		Name:       info.Name(),
		Path:       path,
		Size:       info.Size(),
		SizeHuman:  FormatSize(info.Size()),
		Extension:  strings.ToLower(filepath.Ext(info.Name())),
		ModifiedAt: info.ModTime().UTC(),
	}, nil
}

// List returns the supported files of the upload directory, newest first.
func (s *Store) List(_ context.Context) ([]File, error) {
	entries, err := afero.ReadDir(s.fs, s.dir)
	if errors.Is(err, os.ErrNotExist) {
		return []File{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("uploads: list %s: %w", s.dir, err)
	}
	files := make([]File, 0, len(entries))
	for _, info := range entries {
		path := filepath.Join(s.dir, info.Name())
		if !info.Mode().IsRegular() || !s.validator.Supports(path) {
			continue
		}
		files = append(files, File{
			Name:       info.Name(),
			Path:       path,
			Size:       info.Size(),
			SizeHuman:  FormatSize(info.Size()),
			Extension:  strings.ToLower(filepath.Ext(info.Name())),
			ModifiedAt: info.ModTime().UTC(),
		})
	}
	slices.SortStableFunc(files, func(a, b File) int {
		if c := b.ModifiedAt.Compare(a.ModifiedAt); c != 0 {
			return c
		}
		return strings.Compare(a.Name, b.Name)
	})
	return files, nil
}

// Delete removes a stored file by name. Names that point outside the
// upload directory are rejected.
func (s *Store) Delete(ctx context.Context, name string) error {
	clean := filepath.Base(name)
	if name == "" || clean != name || clean == "." || clean == ".." {
		return knowledge.NewInvalidInput("name", "%q is not a file name in the upload directory", name)
	}
	path := filepath.Join(s.dir, clean)
	info, err := s.fs.Stat(path)
	if errors.Is(err, os.ErrNotExist) || (err == nil && !info.Mode().IsRegular()) {
		return &knowledge.NotFoundError{Resource: "upload", ID: name}
	}
	if err != nil {
		return fmt.Errorf("uploads: stat %s: %w", path, err)
	}
	if err := s.fs.Remove(path); err != nil {
		return fmt.Errorf("uploads: delete %s: %w", path, err)
	}
	logger.FromContext(ctx).Info("Deleted uploaded file", "path", path)
	return nil
}

// FormatSize renders a byte count with one decimal and a binary unit.
func FormatSize(size int64) string {
	value := float64(size)
	for _, unit := range []string{"B", "KB", "MB", "GB"} {
		if value < 1024 {
			return fmt.Sprintf("%.1f %s", value, unit)
		}
		value /= 1024
	}
	return fmt.Sprintf("%.1f TB", value)
}
