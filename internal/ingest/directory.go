package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joseph-ayodele/docbatch/constants"
)

type DirStats struct {
	Scanned      uint32
	Matched      uint32
	New          uint32
	Deduplicated uint32
	Failed       uint32
}

// scanDirectory walks root, filters by the processable extensions, skips
// hidden entries, and returns the paths not seen before (by content hash).
func (s *Scanner) scanDirectory(root string) ([]string, DirStats, error) {
	if strings.TrimSpace(root) == "" {
		return nil, DirStats{}, errors.New("watch directory is required")
	}

	var fresh []string
	var stats DirStats

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		stats.Scanned++
		if walkErr != nil {
			s.logger.Warn("ingest.walk.error", "path", path, "error", walkErr)
			stats.Failed++
			return nil // continue walking
		}
		if isHidden(path) && path != root {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		ext := constants.NormalizeExt(filepath.Ext(path))
		if _, ok := constants.AllowedExtensions[ext]; !ok {
			return nil
		}
		stats.Matched++

		hash, err := hashFile(path)
		if err != nil {
			s.logger.Warn("ingest.hash.failed", "path", path, "error", err)
			stats.Failed++
			return nil
		}
		if _, dup := s.seen[hash]; dup {
			stats.Deduplicated++
			return nil
		}
		s.pendingHashes[path] = hash
		fresh = append(fresh, path)
		stats.New++
		return nil
	})
	if err != nil {
		return fresh, stats, fmt.Errorf("walk: %w", err)
	}
	return fresh, stats, nil
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func isHidden(path string) bool {
	base := filepath.Base(path)
	return strings.HasPrefix(base, ".")
}
