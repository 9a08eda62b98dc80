package datastore

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/wildwatch/internal/logger"
)

// newTestStore opens a private in-memory SQLite store
func newTestStore(t *testing.T) *DataStore {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := OpenSQLite(dsn, logger.NewSlogLogger(nil, logger.LogLevelError, nil), time.Second)
	require.NoError(t, err)

	ds := NewFromDB(db)
	require.NoError(t, ds.Migrate())
	t.Cleanup(func() { _ = ds.Close() })
	return ds
}

func ptr[T any](v T) *T { return &v }
