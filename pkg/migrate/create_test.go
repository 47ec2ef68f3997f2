package migrate

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCreateBumpsVersionPastNewestMigration(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "20260301120300_create_outbox_dlq.sql"), []byte("-- +goose Up\nSELECT 1;\n-- +goose Down\nSELECT 1;\n"), 0o644))

	skewed := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	path, err := createSQLMigration(dir, "Add projection checkpoints", skewed)
	require.NoError(t, err)
	require.Equal(t, "20260301120301_add_projection_checkpoints.sql", filepath.Base(path))

	now := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	path, err = createSQLMigration(dir, "later", now)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(filepath.Base(path), "20260401080000_"))

	require.NoError(t, ValidateDir(dir))
}

func TestCreateRejectsEmptyNames(t *testing.T) {
	_, err := createSQLMigration(t.TempDir(), "!!!", time.Now())
	require.Error(t, err)
	_, err = createSQLMigration("", "x", time.Now())
	require.Error(t, err)
}
