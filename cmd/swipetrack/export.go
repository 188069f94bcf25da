package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"swipetrack/tracker"
)

// exporter writes finished sessions as CSV files.
//
// File names follow <prefix><yyyyMMdd_HHmmss>.csv, with a _2, _3, ... suffix
// when sessions finish within the same second. Writes are atomic: the CSV
// goes to a temp file in the same directory and is renamed into place.
type exporter struct {
	Dir    string
	Prefix string
}

// errNoExportDir is returned when the exporter has no destination.
var errNoExportDir = errors.New("export directory not configured")

// fileName returns the export file name for a session finished at t.
func (e exporter) fileName(t time.Time) string {
	return e.Prefix + t.Format(exportTimeLayout) + ".csv"
}

// maxExportSuffix bounds the search for a free file name within one second.
const maxExportSuffix = 1000

// freePath returns the first name for at that does not exist yet in dir.
// Exports run one at a time on the daemon goroutine, so the name stays free
// until Write renames onto it.
func (e exporter) freePath(dir string, at time.Time) (string, error) {
	base := strings.TrimSuffix(e.fileName(at), ".csv")
	for n := 1; n <= maxExportSuffix; n++ {
		name := base + ".csv"
		if n > 1 {
			name = fmt.Sprintf("%s_%d.csv", base, n)
		}
		path := filepath.Join(dir, name)
		if _, err := os.Lstat(path); errors.Is(err, fs.ErrNotExist) {
			return path, nil
		} else if err != nil {
			return "", fmt.Errorf("stat export file: %w", err)
		}
	}
	return "", fmt.Errorf("no free export name for %s", base)
}

// Write stores sess under Dir and returns the final path.
func (e exporter) Write(sess tracker.Session, at time.Time) (string, error) {
	if e.Dir == "" {
		return "", errNoExportDir
	}
	dir := ExpandPath(e.Dir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create export dir: %w", err)
	}

	path, err := e.freePath(dir, at)
	if err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(dir, ".swipetrack-*.csv")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if err := tracker.WriteCSV(tmp, sess); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("write CSV: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("chmod export: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("rename export: %w", err)
	}
	return path, nil
}
