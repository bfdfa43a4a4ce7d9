// Package logfiles houses rolling log-file retention for the management
// service: age-based expiry, size-based trimming, and in-place clearing.
package logfiles

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"
)

const logPrefix = "logfiles:cleanup"

// Size thresholds for the second cleanup pass: when the directory exceeds
// MaxTotalBytes, oldest files are removed until it is under TargetBytes.
const (
	MaxTotalBytes = 1 << 30 // 1 GiB
	TargetBytes   = 512 << 20
	DefaultMaxAge = 7 * 24 * time.Hour
)

type fileInfo struct {
	path     string
	size     int64
	modified time.Time
}

// Cleanup removes log files older than maxAge, then trims oldest-first while
// the directory's total size exceeds MaxTotalBytes, down to TargetBytes.
// A missing directory is a no-op.
func Cleanup(dir string, maxAge time.Duration) error {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("%s - read log directory: %w", logPrefix, err)
	}

	var files []fileInfo
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, fileInfo{
			path:     filepath.Join(dir, entry.Name()),
			size:     info.Size(),
			modified: info.ModTime(),
		})
	}

	cutoff := time.Now().Add(-maxAge)
	deleted := 0
	var freed int64

	// First pass: expired files.
	remaining := files[:0]
	for _, f := range files {
		if f.modified.Before(cutoff) {
			if err := os.Remove(f.path); err != nil {
				slog.Warn(fmt.Sprintf("%s - failed to delete expired %s: %v", logPrefix, f.path, err))
				remaining = append(remaining, f)
				continue
			}
			deleted++
			freed += f.size
			continue
		}
		remaining = append(remaining, f)
	}

	// Second pass: size-based trimming, oldest first.
	var total int64
	for _, f := range remaining {
		total += f.size
	}
	if total > MaxTotalBytes {
		slog.Info(fmt.Sprintf("%s - log directory %d MiB over limit, trimming", logPrefix, total>>20))
		sort.Slice(remaining, func(i, j int) bool {
			return remaining[i].modified.Before(remaining[j].modified)
		})
		for _, f := range remaining {
			if total <= TargetBytes {
				break
			}
			if err := os.Remove(f.path); err != nil {
				slog.Warn(fmt.Sprintf("%s - failed to delete %s: %v", logPrefix, f.path, err))
				continue
			}
			deleted++
			freed += f.size
			total -= f.size
		}
	}

	if deleted > 0 {
		slog.Info(fmt.Sprintf("%s - deleted %d files, freed %.2f MiB", logPrefix, deleted, float64(freed)/(1<<20)))
	}
	return nil
}

// Clear truncates every file in the directory in place. Truncation keeps
// open file handles valid for any writer still appending.
func Clear(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("%s - read log directory: %w", logPrefix, err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := os.Truncate(path, 0); err != nil {
			slog.Warn(fmt.Sprintf("%s - failed to truncate %s: %v", logPrefix, path, err))
		}
	}
	return nil
}
