package migrate_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"siteflow/internal/db"
	"siteflow/internal/migrate"
)

func TestApplyIsIdempotent(t *testing.T) {
	ctx := context.Background()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	defer conn.Close()

	applied, err := migrate.Apply(ctx, conn)
	require.NoError(t, err)
	require.NotEmpty(t, applied)

	v, err := migrate.Version(ctx, conn)
	require.NoError(t, err)
	assert.Equal(t, applied[len(applied)-1].Version, v)

	again, err := migrate.Apply(ctx, conn)
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestInspectionUniquePerProjectAndType(t *testing.T) {
	ctx := context.Background()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, migrate.Migrate(conn))

	_, err = conn.ExecContext(ctx, `INSERT INTO projects(id,name,status,created_at) VALUES ('p1','p1','active','2024-01-01T00:00:00Z')`)
	require.NoError(t, err)
	insert := `INSERT INTO inspection_schedules(inspection_id,project_id,inspection_type,required_for_phase,scheduled_date,status,auto_scheduled,created_at)
VALUES (?,?,?,?,?,?,?,?)`
	_, err = conn.ExecContext(ctx, insert, "i1", "p1", "framing_inspection", "framing", "2024-01-02T00:00:00Z", "pending", 1, "2024-01-01T00:00:00Z")
	require.NoError(t, err)
	_, err = conn.ExecContext(ctx, insert, "i2", "p1", "framing_inspection", "framing", "2024-01-03T00:00:00Z", "pending", 1, "2024-01-01T00:00:00Z")
	assert.Error(t, err)
}
