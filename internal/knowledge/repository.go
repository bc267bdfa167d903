package knowledge

import (
	"context"
	"database/sql"
	"strings"
	"time"
)

// Searcher is the read side the policy research tool depends on.
type Searcher interface {
	Search(ctx context.Context, market, query string, limit int) ([]Snippet, error)
}

// Repository stores policy snippets in Postgres with full-text search over
// title and body.
type Repository struct {
	db *sql.DB
}

var _ Searcher = (*Repository)(nil)

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Search returns the best-matching snippets for the market, ranked by
// full-text relevance.
func (r *Repository) Search(ctx context.Context, market, query string, limit int) ([]Snippet, error) {
	if limit <= 0 {
		limit = 5
	}
	market = strings.ToUpper(strings.TrimSpace(market))

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, market, plan, section, title, body, source, updated_at
		FROM policy_snippets
		WHERE market = $1
		  AND to_tsvector('english', title || ' ' || body) @@ plainto_tsquery('english', $2)
		ORDER BY ts_rank(to_tsvector('english', title || ' ' || body), plainto_tsquery('english', $2)) DESC
		LIMIT $3`, market, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Snippet
	for rows.Next() {
		var s Snippet
		if err := rows.Scan(&s.ID, &s.Market, &s.Plan, &s.Section, &s.Title, &s.Body, &s.Source, &s.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if out == nil {
		out = []Snippet{}
	}
	return out, rows.Err()
}

// Get fetches a single snippet, or nil when it does not exist.
func (r *Repository) Get(ctx context.Context, id string) (*Snippet, error) {
	var s Snippet
	err := r.db.QueryRowContext(ctx, `
		SELECT id, market, plan, section, title, body, source, updated_at
		FROM policy_snippets WHERE id = $1`, id).Scan(
		&s.ID, &s.Market, &s.Plan, &s.Section, &s.Title, &s.Body, &s.Source, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Upsert inserts or replaces a snippet by ID.
func (r *Repository) Upsert(ctx context.Context, s *Snippet) error {
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO policy_snippets (id, market, plan, section, title, body, source, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (id) DO UPDATE SET
		    market=EXCLUDED.market, plan=EXCLUDED.plan, section=EXCLUDED.section,
		    title=EXCLUDED.title, body=EXCLUDED.body, source=EXCLUDED.source, updated_at=$8`,
		s.ID, strings.ToUpper(s.Market), s.Plan, s.Section, s.Title, s.Body, s.Source, now)
	return err
}

// ReplaceMarket reindexes a market: deletes its snippets and inserts the new
// set in one transaction.
func (r *Repository) ReplaceMarket(ctx context.Context, market string, snippets []Snippet) error {
	market = strings.ToUpper(strings.TrimSpace(market))
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM policy_snippets WHERE market = $1`, market); err != nil {
		return err
	}
	now := time.Now().UTC()
	for _, s := range snippets {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO policy_snippets (id, market, plan, section, title, body, source, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			s.ID, market, s.Plan, s.Section, s.Title, s.Body, s.Source, now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// CountByMarket reports how many snippets each market carries, for the admin
// dashboard.
func (r *Repository) CountByMarket(ctx context.Context) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT market, COUNT(*) FROM policy_snippets GROUP BY market`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var market string
		var n int
		if err := rows.Scan(&market, &n); err != nil {
			return nil, err
		}
		counts[market] = n
	}
	return counts, rows.Err()
}
