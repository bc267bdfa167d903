package knowledge

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepository_SearchRanksAndLimits(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"id", "market", "plan", "section", "title", "body", "source", "updated_at"}).
		AddRow("snip-1", "SG", "explorer-plus", "medical", "Overseas medical expenses", "Covers up to $500,000...", "explorer-plus-2026.pdf", now).
		AddRow("snip-2", "SG", "basic", "medical", "Medical coverage", "Covers up to $150,000...", "basic-2026.pdf", now)

	mock.ExpectQuery(`SELECT id, market, plan, section, title, body, source, updated_at\s+FROM policy_snippets\s+WHERE market = \$1`).
		WithArgs("SG", "medical coverage japan", 5).
		WillReturnRows(rows)

	repo := NewRepository(db)
	got, err := repo.Search(context.Background(), "sg", "medical coverage japan", 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "snip-1", got[0].ID)
	assert.Equal(t, "explorer-plus", got[0].Plan)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_SearchNoMatchesReturnsEmptySlice(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`FROM policy_snippets`).
		WithArgs("MY", "submarine racing", 3).
		WillReturnRows(sqlmock.NewRows([]string{"id", "market", "plan", "section", "title", "body", "source", "updated_at"}))

	repo := NewRepository(db)
	got, err := repo.Search(context.Background(), "MY", "submarine racing", 3)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestRepository_GetMissingReturnsNil(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`FROM policy_snippets WHERE id = \$1`).
		WithArgs("snip-404").
		WillReturnRows(sqlmock.NewRows([]string{"id", "market", "plan", "section", "title", "body", "source", "updated_at"}))

	repo := NewRepository(db)
	got, err := repo.Get(context.Background(), "snip-404")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRepository_UpsertNormalizesMarket(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`INSERT INTO policy_snippets`).
		WithArgs("snip-9", "SG", "cruise", "baggage", "Baggage delay", "Pays $200 per 6 hours...", "cruise-2026.pdf", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := NewRepository(db)
	err = repo.Upsert(context.Background(), &Snippet{
		ID:      "snip-9",
		Market:  "sg",
		Plan:    "cruise",
		Section: "baggage",
		Title:   "Baggage delay",
		Body:    "Pays $200 per 6 hours...",
		Source:  "cruise-2026.pdf",
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_ReplaceMarketIsTransactional(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM policy_snippets WHERE market = \$1`).
		WithArgs("SG").
		WillReturnResult(sqlmock.NewResult(0, 4))
	mock.ExpectExec(`INSERT INTO policy_snippets`).
		WithArgs("snip-1", "SG", "basic", "medical", "Medical", "Body", "src.pdf", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	repo := NewRepository(db)
	err = repo.ReplaceMarket(context.Background(), "sg", []Snippet{{
		ID: "snip-1", Plan: "basic", Section: "medical", Title: "Medical", Body: "Body", Source: "src.pdf",
	}})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_CountByMarket(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT market, COUNT\(\*\) FROM policy_snippets GROUP BY market`).
		WillReturnRows(sqlmock.NewRows([]string{"market", "count"}).
			AddRow("SG", 12).
			AddRow("MY", 7))

	repo := NewRepository(db)
	counts, err := repo.CountByMarket(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"SG": 12, "MY": 7}, counts)
}
