package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/afero"

	"github.com/compozy/ragpipe/engine/knowledge"
	"github.com/compozy/ragpipe/pkg/logger"
)

type pathSet struct {
	items []string
	seen  map[string]struct{}
}

func (s *pathSet) add(path string) {
	path = filepath.Clean(path)
	if _, ok := s.seen[path]; ok {
		return
	}
	s.seen[path] = struct{}{}
	s.items = append(s.items, path)
}

// Expand resolves paths into the list of files to ingest. Explicit files are
// kept even when unsupported so the caller sees why they fail; files found by
// walking a directory or matching a glob are filtered to supported formats.
// Hidden files and directories are skipped while walking.
func (p *Pipeline) Expand(ctx context.Context, paths []string) ([]string, error) {
	if len(paths) == 0 {
		return nil, knowledge.NewInvalidInput("paths", "at least one path is required")
	}
	set := pathSet{seen: make(map[string]struct{})}
	for _, raw := range paths {
		path := strings.TrimSpace(raw)
		if path == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if hasGlobMeta(path) {
			if err := p.expandGlob(ctx, &set, path); err != nil {
				return nil, err
			}
			continue
		}
		info, err := p.fs.Stat(path)
		if err == nil && info.IsDir() {
			if err := p.walkDir(ctx, &set, path); err != nil {
				return nil, err
			}
			continue
		}
		set.add(path)
	}
	if len(set.items) == 0 {
		logger.FromContext(ctx).Warn("No files matched the given paths", "paths", paths)
	}
	return set.items, nil
}

func hasGlobMeta(path string) bool {
	return strings.ContainsAny(path, "*?[{")
}

func (p *Pipeline) expandGlob(ctx context.Context, set *pathSet, pattern string) error {
	pattern = filepath.ToSlash(filepath.Clean(pattern))
	if !doublestar.ValidatePattern(pattern) {
		return knowledge.NewInvalidInput("pattern", "%q is not a valid glob", pattern)
	}
	base, rel := doublestar.SplitPattern(pattern)
	var scoped afero.Fs = p.fs
	if base != "." {
		scoped = afero.NewBasePathFs(p.fs, filepath.FromSlash(base))
	}
	matches, err := doublestar.Glob(afero.NewIOFS(scoped), rel)
	if err != nil {
		return fmt.Errorf("ingest: glob %q failed: %w", pattern, err)
	}
	slices.Sort(matches)
	added := 0
	for _, match := range matches {
		full := filepath.Join(filepath.FromSlash(base), filepath.FromSlash(match))
		info, err := p.fs.Stat(full)
		if err != nil || !info.Mode().IsRegular() || !p.processor.Supports(full) {
			continue
		}
		set.add(full)
		added++
	}
	if added == 0 {
		logger.FromContext(ctx).Warn("Ingestion glob returned no supported files", "pattern", pattern)
	}
	return nil
}

func (p *Pipeline) walkDir(ctx context.Context, set *pathSet, root string) error {
	err := afero.Walk(p.fs, root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		hidden := path != root && strings.HasPrefix(info.Name(), ".")
		if info.IsDir() {
			if hidden {
				return filepath.SkipDir
			}
			return nil
		}
		if hidden || !info.Mode().IsRegular() || !p.processor.Supports(path) {
			return nil
		}
		set.add(path)
		return nil
	})
	if err != nil && !errors.Is(err, fs.SkipDir) {
		return fmt.Errorf("ingest: walk %s: %w", root, err)
	}
	return nil
}
