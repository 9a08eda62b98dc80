//go:build integration

package datastore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcmysql "github.com/testcontainers/testcontainers-go/modules/mysql"

	"github.com/tphakala/wildwatch/internal/logger"
)

func TestMySQLCooldownAndReports(t *testing.T) {
	ctx := context.Background()

	container, err := tcmysql.Run(ctx, "mysql:8.0.36",
		tcmysql.WithDatabase("wildwatch"),
		tcmysql.WithUsername("wildwatch"),
		tcmysql.WithPassword("wildwatch"),
	)
	testcontainers.CleanupContainer(t, container)
	require.NoError(t, err)

	dsn, err := container.ConnectionString(ctx, "parseTime=true", "loc=UTC")
	require.NoError(t, err)

	db, err := OpenMySQL(dsn, logger.NewSlogLogger(nil, logger.LogLevelError, nil), time.Second)
	require.NoError(t, err)
	ds := NewFromDB(db)
	require.NoError(t, ds.Migrate())
	t.Cleanup(func() { _ = ds.Close() })

	now := time.Now()
	fired, err := ds.TryCooldown(ctx, "cam-1|goat", now, 5*time.Second)
	require.NoError(t, err)
	assert.True(t, fired)
	fired, err = ds.TryCooldown(ctx, "cam-1|goat", now.Add(time.Second), 5*time.Second)
	require.NoError(t, err)
	assert.False(t, fired)

	user := ptr(uint(1))
	report := &Report{UserID: user, Source: SourceApp}
	require.NoError(t, ds.CreateReport(ctx, report, &Notification{Type: NotificationIndividual, UserID: user}))
	_, _, err = ds.ChangeReportStatus(ctx, StatusChange{ReportID: report.ID, To: StatusCompleted, Reply: "ok"})
	require.NoError(t, err)

	notes, err := ds.NotificationsFor(ctx, user, report.ID)
	require.NoError(t, err)
	assert.Len(t, notes, 1)
}
