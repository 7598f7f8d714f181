package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Snapshot writes a consistent copy of the database into dir, tagged with
// the caller's label (e.g. "end-of-day-2026-08-28"). Uses SQLite's
// VACUUM INTO, which produces a compacted standalone database file.
//
// The rebase pass treats snapshot failure as operational, not fatal: it
// logs and continues.
func (s *Store) Snapshot(ctx context.Context, dir, tag string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create snapshot dir: %w", err)
	}
	name := sanitizeTag(tag) + ".db"
	dest := filepath.Join(dir, name)

	// VACUUM INTO refuses to overwrite; a retried pass reuses the same tag.
	if _, err := os.Stat(dest); err == nil {
		if err := os.Remove(dest); err != nil {
			return "", fmt.Errorf("replace previous snapshot: %w", err)
		}
	}

	if _, err := s.db.ExecContext(ctx, `VACUUM INTO ?`, dest); err != nil {
		return "", fmt.Errorf("snapshot %q: %w", tag, err)
	}
	return dest, nil
}

func sanitizeTag(tag string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '-'
	}, tag)
}
