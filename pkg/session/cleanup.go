package session

import (
	"os"
	"path/filepath"
	"time"
)

// CleanupConfig configures session cleanup behavior.
type CleanupConfig struct {
	RetentionDays int // sessions older than this are deleted (default: 30)
}

// CleanupStats reports the outcome of a cleanup run.
type CleanupStats struct {
	SessionsDeleted int
	BytesFreed      int64
}

// Cleanup walks the sessions under baseDir and deletes those whose metadata
// indicates they haven't been updated within the retention window. This is
// ambient housekeeping, not part of the per-turn critical path.
func Cleanup(baseDir string, config CleanupConfig) (CleanupStats, error) {
	retentionDays := config.RetentionDays
	if retentionDays <= 0 {
		retentionDays = 30
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)

	var stats CleanupStats

	entries, err := os.ReadDir(baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return stats, nil
		}
		return stats, err
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(baseDir, entry.Name())

		// Try to load metadata to check UpdatedAt.
		meta, err := loadMetadata(dir)
		if err != nil {
			// No valid metadata — fall back to dir modification time.
			info, statErr := entry.Info()
			if statErr != nil {
				continue
			}
			if info.ModTime().Before(cutoff) {
				size := dirSize(dir)
				if rmErr := os.RemoveAll(dir); rmErr == nil {
					stats.SessionsDeleted++
					stats.BytesFreed += size
				}
			}
			continue
		}

		lastActive := meta.UpdatedAt
		if lastActive.IsZero() {
			lastActive = meta.CreatedAt
		}
		if lastActive.Before(cutoff) {
			size := dirSize(dir)
			if rmErr := os.RemoveAll(dir); rmErr == nil {
				stats.SessionsDeleted++
				stats.BytesFreed += size
			}
		}
	}

	return stats, nil
}

// dirSize calculates the total size of all files under dir.
func dirSize(dir string) int64 {
	var total int64
	filepath.WalkDir(dir, func(_ string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			info, err := d.Info()
			if err == nil {
				total += info.Size()
			}
		}
		return nil
	})
	return total
}
