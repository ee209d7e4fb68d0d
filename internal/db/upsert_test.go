package db

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBulkUpsertValidation(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = BulkUpsert(context.Background(), mock, UpsertConfig{
		Table:        "places",
		ConflictKeys: []string{"slug"},
	}, [][]any{{"x"}})
	assert.ErrorContains(t, err, "no columns")

	_, err = BulkUpsert(context.Background(), mock, UpsertConfig{
		Table:   "places",
		Columns: []string{"slug"},
	}, [][]any{{"x"}})
	assert.ErrorContains(t, err, "no conflict keys")
}

func TestBulkUpsertEmptyRows(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	n, err := BulkUpsert(context.Background(), mock, UpsertConfig{
		Table:        "places",
		Columns:      []string{"slug", "name"},
		ConflictKeys: []string{"slug"},
	}, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkUpsertHappyPath(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "_tmp_upsert_places"`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_places"}, []string{"slug", "name"}).
		WillReturnResult(2)
	mock.ExpectExec(`INSERT INTO "places"`).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	n, err := BulkUpsert(context.Background(), mock, UpsertConfig{
		Table:        "places",
		Columns:      []string{"slug", "name"},
		ConflictKeys: []string{"slug"},
	}, [][]any{
		{"city-park-abc", "City Park"},
		{"lakeside-gym-def", "Lakeside Gym"},
	})
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestChunk(t *testing.T) {
	t.Parallel()

	assert.Nil(t, Chunk([]int{1, 2}, 0))
	assert.Nil(t, Chunk([]int(nil), 10))

	got := Chunk([]int{1, 2, 3, 4, 5}, 2)
	assert.Equal(t, [][]int{{1, 2}, {3, 4}, {5}}, got)

	got = Chunk([]int{1, 2}, 5)
	assert.Equal(t, [][]int{{1, 2}}, got)
}
