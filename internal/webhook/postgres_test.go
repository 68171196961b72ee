package webhook

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"
)

var webhookTestColumns = []string{
	"id", "url", "event_type", "enabled", "last_response_code", "last_response_time_ms", "created_at", "updated_at",
}

func newMockRegistry(t *testing.T) (pgxmock.PgxPoolIface, *PostgresRegistry) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock, NewPostgresRegistryWithQuerier(mock)
}

func TestPostgresRegistryCreate(t *testing.T) {
	t.Parallel()

	mock, reg := newMockRegistry(t)
	now := time.Now().UTC()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO webhooks")).
		WithArgs("https://example.com/hook", "import.completed", true).
		WillReturnRows(pgxmock.NewRows(webhookTestColumns).
			AddRow(int64(1), "https://example.com/hook", "import.completed", true,
				(*int)(nil), (*int64)(nil), now, now))

	created, err := reg.Create(context.Background(), Webhook{
		URL:       "https://example.com/hook",
		EventType: "import.completed",
		Enabled:   true,
	})
	require.NoError(t, err)
	require.Equal(t, int64(1), created.ID)
	require.Nil(t, created.LastResponseCode)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRegistryGetNotFound(t *testing.T) {
	t.Parallel()

	mock, reg := newMockRegistry(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM webhooks WHERE id = $1")).
		WithArgs(int64(404)).
		WillReturnError(pgx.ErrNoRows)

	_, err := reg.Get(context.Background(), 404)
	require.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRegistryListByEvent(t *testing.T) {
	t.Parallel()

	mock, reg := newMockRegistry(t)
	now := time.Now().UTC()
	mock.ExpectQuery(regexp.QuoteMeta("WHERE enabled AND event_type = $1")).
		WithArgs("import.completed").
		WillReturnRows(pgxmock.NewRows(webhookTestColumns).
			AddRow(int64(2), "https://a.test", "import.completed", true,
				(*int)(nil), (*int64)(nil), now, now))

	hooks, err := reg.ListByEvent(context.Background(), "import.completed")
	require.NoError(t, err)
	require.Len(t, hooks, 1)
	require.Equal(t, "https://a.test", hooks[0].URL)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRegistryRecordResult(t *testing.T) {
	t.Parallel()

	mock, reg := newMockRegistry(t)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE webhooks SET")).
		WithArgs(int64(5), 200, int64(37)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, reg.RecordResult(context.Background(), 5, 200, 37))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRegistryDeleteNotFound(t *testing.T) {
	t.Parallel()

	mock, reg := newMockRegistry(t)
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM webhooks WHERE id = $1")).
		WithArgs(int64(9)).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	require.ErrorIs(t, reg.Delete(context.Background(), 9), ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
