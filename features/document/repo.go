package document

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// ErrStatementTimeout is returned when a read exceeds its statement budget.
var ErrStatementTimeout = errors.New("statement timeout exceeded")

const pqQueryCanceled = "57014"

const documentColumns = `id, user_id, source_type, source_id, chunk_index, title, summary_text, chunk_text, metadata, content_hash, occurred_at, created_at`

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

// LiveHashes reports which of hashes already belong to a non-deleted document.
func (r *PostgresRepo) LiveHashes(ctx context.Context, userID string, hashes []string) (map[string]bool, error) {
	live := make(map[string]bool, len(hashes))
	if len(hashes) == 0 {
		return live, nil
	}

	query := `SELECT content_hash FROM documents WHERE user_id = $1 AND NOT is_deleted AND content_hash = ANY($2)`
	rows, err := r.db.QueryContext(ctx, query, userID, pq.Array(hashes))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		live[h] = true
	}
	return live, rows.Err()
}

// ReplaceSources soft-deletes the live documents of every unit's source and
// inserts the unit's new documents and signals, all in one transaction. It
// returns the ids of the documents it retired.
func (r *PostgresRepo) ReplaceSources(ctx context.Context, userID string, units []SourceUnit) ([]string, error) {
	if len(units) == 0 {
		return nil, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var retired []string
	for _, u := range units {
		ids, err := replaceSource(ctx, tx, userID, u)
		if err != nil {
			return nil, fmt.Errorf("replace source %s: %w", u.SourceID, err)
		}
		retired = append(retired, ids...)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return retired, nil
}

func replaceSource(ctx context.Context, tx *sql.Tx, userID string, u SourceUnit) ([]string, error) {
	family := familyStrings(u.Family)

	retireQuery := `UPDATE documents SET is_deleted = TRUE, deleted_at = NOW() WHERE user_id = $1 AND source_id = $2 AND source_type = ANY($3) AND NOT is_deleted RETURNING id`
	rows, err := tx.QueryContext(ctx, retireQuery, userID, u.SourceID, pq.Array(family))
	if err != nil {
		return nil, err
	}
	var retired []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		retired = append(retired, id)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM people WHERE user_id = $1 AND source_id = $2 AND source_type = ANY($3)`, userID, u.SourceID, pq.Array(family)); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM action_items WHERE user_id = $1 AND source_id = $2 AND source_type = ANY($3)`, userID, u.SourceID, pq.Array(family)); err != nil {
		return nil, err
	}

	insertDoc := `INSERT INTO documents (id, user_id, source_type, source_id, chunk_index, title, summary_text, chunk_text, metadata, content_hash, occurred_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	for _, d := range u.Documents {
		meta := d.Metadata
		if meta == nil {
			meta = map[string]interface{}{}
		}
		metaJSON, err := json.Marshal(meta)
		if err != nil {
			return nil, err
		}
		if _, err := tx.ExecContext(ctx, insertDoc,
			d.ID, userID, string(d.SourceType), d.SourceID, d.ChunkIndex, d.Title,
			d.SummaryText, d.ChunkText, metaJSON, d.ContentHash, d.OccurredAt,
		); err != nil {
			return nil, err
		}
	}

	sourceType := ""
	if len(family) > 0 {
		sourceType = family[0]
	}
	for _, name := range u.People {
		if _, err := tx.ExecContext(ctx, `INSERT INTO people (user_id, source_type, source_id, name) VALUES ($1, $2, $3, $4)`, userID, sourceType, u.SourceID, name); err != nil {
			return nil, err
		}
	}
	for _, item := range u.ActionItems {
		if _, err := tx.ExecContext(ctx, `INSERT INTO action_items (user_id, source_type, source_id, text) VALUES ($1, $2, $3, $4)`, userID, sourceType, u.SourceID, item); err != nil {
			return nil, err
		}
	}

	return retired, nil
}

// SearchLexical ranks the user's live documents against a web-search style
// query using the generated tsvector column.
func (r *PostgresRepo) SearchLexical(ctx context.Context, userID, query string, types []SourceType, limit int, timeout time.Duration) ([]Hit, error) {
	sqlQuery := `
		SELECT d.id, d.user_id, d.source_type, d.source_id, d.chunk_index, d.title, d.summary_text, d.chunk_text, d.metadata, d.content_hash, d.occurred_at, d.created_at,
			ts_rank_cd(d.search_vector, q.query) AS score
		FROM documents d, websearch_to_tsquery('english', $2) AS q(query)
		WHERE d.user_id = $1 AND NOT d.is_deleted AND d.search_vector @@ q.query
			AND (cardinality($3::text[]) = 0 OR d.source_type = ANY($3::text[]))
		ORDER BY score DESC, d.id
		LIMIT $4
	`

	var hits []Hit
	err := r.readWithTimeout(ctx, timeout, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, sqlQuery, userID, query, pq.Array(familyStrings(types)), limit)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var h Hit
			if err := scanDocument(rows, &h.Document, &h.Score); err != nil {
				return err
			}
			hits = append(hits, h)
		}
		return rows.Err()
	})
	return hits, err
}

// LiveByIDs loads the non-deleted documents among ids.
func (r *PostgresRepo) LiveByIDs(ctx context.Context, userID string, ids []string, timeout time.Duration) (map[string]Document, error) {
	out := make(map[string]Document, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	query := `SELECT ` + documentColumns + ` FROM documents WHERE user_id = $1 AND NOT is_deleted AND id = ANY($2::uuid[])`
	err := r.readWithTimeout(ctx, timeout, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, query, userID, pq.Array(ids))
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var d Document
			if err := scanDocument(rows, &d); err != nil {
				return err
			}
			out[d.ID] = d
		}
		return rows.Err()
	})
	return out, err
}

// ListLive returns the live documents of one source record, ordered by type and chunk.
func (r *PostgresRepo) ListLive(ctx context.Context, userID, sourceID string) ([]Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE user_id = $1 AND source_id = $2 AND NOT is_deleted ORDER BY source_type, chunk_index`
	rows, err := r.db.QueryContext(ctx, query, userID, sourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var d Document
		if err := scanDocument(rows, &d); err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

func (r *PostgresRepo) CountLive(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents WHERE NOT is_deleted`).Scan(&count)
	return count, err
}

func (r *PostgresRepo) readWithTimeout(ctx context.Context, timeout time.Duration, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(err)
	}
	defer func() { _ = tx.Rollback() }()

	if timeout > 0 {
		// SET LOCAL does not accept bind parameters.
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL statement_timeout = %d", timeout.Milliseconds())); err != nil {
			return classify(err)
		}
	}
	if err := fn(tx); err != nil {
		return classify(err)
	}
	return classify(tx.Commit())
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pqQueryCanceled {
		return fmt.Errorf("%w: %v", ErrStatementTimeout, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrStatementTimeout, err)
	}
	return err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDocument(s rowScanner, d *Document, extra ...interface{}) error {
	var (
		sourceType string
		meta       []byte
		occurredAt sql.NullTime
	)
	dest := []interface{}{
		&d.ID, &d.UserID, &sourceType, &d.SourceID, &d.ChunkIndex, &d.Title,
		&d.SummaryText, &d.ChunkText, &meta, &d.ContentHash, &occurredAt, &d.CreatedAt,
	}
	if err := s.Scan(append(dest, extra...)...); err != nil {
		return err
	}
	d.SourceType = SourceType(sourceType)
	if occurredAt.Valid {
		t := occurredAt.Time
		d.OccurredAt = &t
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &d.Metadata); err != nil {
			return fmt.Errorf("decode metadata for %s: %w", d.ID, err)
		}
	}
	return nil
}

func familyStrings(types []SourceType) []string {
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = string(t)
	}
	return out
}
