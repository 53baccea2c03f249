package batch

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"github.com/JonMunkholm/loadengine/internal/core"
)

// Extension is the file extension of batch files.
const Extension = ".csv"

// DirSource serves <entity>.csv files from a directory.
type DirSource struct {
	fs     afero.Fs
	dir    string
	logger *slog.Logger
}

// NewDirSource creates a source over dir on fsys.
func NewDirSource(fsys afero.Fs, dir string, logger *slog.Logger) *DirSource {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &DirSource{fs: fsys, dir: dir, logger: logger}
}

// Batch implements core.Source. A missing file reports ok=false.
func (s *DirSource) Batch(entity string) (core.RawBatch, bool, error) {
	path := filepath.Join(s.dir, entity+Extension)

	exists, err := afero.Exists(s.fs, path)
	if err != nil {
		return core.RawBatch{}, false, fmt.Errorf("stat %s: %w", path, err)
	}
	if !exists {
		return core.RawBatch{}, false, nil
	}

	b, stats, err := readFile(s.fs, path)
	if err != nil {
		return core.RawBatch{}, false, err
	}
	if stats.Replaced > 0 {
		s.logger.Warn("invalid UTF-8 replaced", "op", "auto_fix", "file", path, "bytes", stats.Replaced)
	}
	s.logger.Debug("batch read", "op", "load", "file", path, "records", stats.Records)
	return b, true, nil
}

// Entities lists the entity names that have a batch file in the directory,
// sorted by name.
func (s *DirSource) Entities() ([]string, error) {
	infos, err := afero.ReadDir(s.fs, s.dir)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", s.dir, err)
	}

	var names []string
	for _, info := range infos {
		if info.IsDir() || !strings.EqualFold(filepath.Ext(info.Name()), Extension) {
			continue
		}
		names = append(names, strings.TrimSuffix(info.Name(), filepath.Ext(info.Name())))
	}
	sort.Strings(names)
	return names, nil
}

// ReadFile decodes one CSV batch file from fsys.
func ReadFile(fsys afero.Fs, path string) (core.RawBatch, error) {
	b, _, err := readFile(fsys, path)
	return b, err
}

func readFile(fsys afero.Fs, path string) (core.RawBatch, Stats, error) {
	f, err := fsys.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return core.RawBatch{}, Stats{}, fmt.Errorf("read %s: no such file: %w", path, err)
		}
		return core.RawBatch{}, Stats{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	b, stats, err := ReadCSV(f)
	if err != nil {
		return core.RawBatch{}, Stats{}, fmt.Errorf("read %s: %w", path, err)
	}
	return b, stats, nil
}
