package database

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenSQLite(t *testing.T) {
	t.Run("creates file and directory", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nested", "billing.db")

		db, err := OpenSQLite(context.Background(), path)
		require.NoError(t, err)
		defer db.Close()

		var journalMode string
		require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&journalMode))
		assert.Equal(t, "wal", journalMode)
	})

	t.Run("strips sqlite scheme prefix", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "billing.db")

		db, err := OpenSQLite(context.Background(), "sqlite://"+path)
		require.NoError(t, err)
		defer db.Close()

		require.NoError(t, db.Ping())
	})
}
