package sqlite_test

import (
	"fmt"
	"strings"
	"testing"

	"github.com/aussiebroadwan/casedesk/internal/casedesk/store/drivers/sqlite"
	"github.com/stretchr/testify/require"
)

// setupTestStore returns a migrated store backed by a private in-memory database.
func setupTestStore(t *testing.T) *sqlite.Store {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)

	s, err := sqlite.NewStore(dsn)
	require.NoError(t, err)
	require.NoError(t, s.ApplyMigrations())

	t.Cleanup(func() { _ = s.Close() })
	return s
}
