package migrations

import (
	"context"
	"testing"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApply(t *testing.T) {
	db, err := sqlx.Connect("sqlite3", ":memory:")
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	require.NoError(t, Apply(ctx, db))

	// Both tables exist and accept rows.
	_, err = db.ExecContext(ctx,
		`INSERT INTO jobs (job_id, user_id, input_file_name, hot_input_key, submit_time, job_status)
		 VALUES ('job-1', 'user-1', 'sample.vcf', 'k', 1700000000, 'PENDING')`)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx,
		`INSERT INTO accounts (user_id, name, email) VALUES ('user-1', 'Ada', 'ada@example.com')`)
	require.NoError(t, err)

	var tier string
	require.NoError(t, db.GetContext(ctx, &tier, `SELECT tier FROM accounts WHERE user_id = 'user-1'`))
	assert.Equal(t, "free_user", tier)

	// A second run finds everything applied.
	require.NoError(t, Apply(ctx, db))

	var applied int
	require.NoError(t, db.GetContext(ctx, &applied, `SELECT COUNT(*) FROM schema_migrations`))
	assert.Equal(t, 2, applied)
}
