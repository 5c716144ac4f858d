package store

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetMigrationsOrderedAndUnique(t *testing.T) {
	migrations := GetMigrations()
	assert.NotEmpty(t, migrations)

	seen := make(map[int]bool)
	prevVersion := 0
	for _, m := range migrations {
		assert.False(t, seen[m.Version], "duplicate migration version %d", m.Version)
		seen[m.Version] = true
		assert.Greater(t, m.Version, prevVersion, "migrations must be strictly increasing")
		prevVersion = m.Version

		assert.NotEmpty(t, m.Description)
		assert.NotEmpty(t, m.Up)
		assert.NotEmpty(t, m.Down)
	}
}

func TestGetMigrationsCoverResumableAndPrefetch(t *testing.T) {
	migrations := GetMigrations()

	var sawResumable, sawPrefetch bool
	for _, m := range migrations {
		if strings.Contains(m.Up, "resumable_data") {
			sawResumable = true
		}
		if strings.Contains(m.Up, "prefetch_history") {
			sawPrefetch = true
		}
	}
	assert.True(t, sawResumable, "expected a migration creating resumable_data")
	assert.True(t, sawPrefetch, "expected a migration creating prefetch_history")
}
