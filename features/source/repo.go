package source

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// PostgresRepo reads the user's source records. Indexing never writes here.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) GetAccount(ctx context.Context, userID, accountID string) (*Account, error) {
	a := &Account{}
	query := `SELECT id, user_id, provider, email, supports_email, supports_calendar FROM linked_accounts WHERE id = $1 AND user_id = $2`
	err := r.db.QueryRowContext(ctx, query, accountID, userID).
		Scan(&a.ID, &a.UserID, &a.Provider, &a.Email, &a.SupportsEmail, &a.SupportsCalendar)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, accountID)
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (r *PostgresRepo) ListAccounts(ctx context.Context, userID string) ([]Account, error) {
	query := `SELECT id, user_id, provider, email, supports_email, supports_calendar FROM linked_accounts WHERE user_id = $1 ORDER BY created_at, id`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []Account
	for rows.Next() {
		var a Account
		if err := rows.Scan(&a.ID, &a.UserID, &a.Provider, &a.Email, &a.SupportsEmail, &a.SupportsCalendar); err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// ListAccountIDs returns the user's accounts that support c.
func (r *PostgresRepo) ListAccountIDs(ctx context.Context, userID string, c Capability) ([]string, error) {
	accounts, err := r.ListAccounts(ctx, userID)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, a := range accounts {
		if a.Supports(c) {
			ids = append(ids, a.ID)
		}
	}
	return ids, nil
}

// ListNotes returns the user's notes and transcripts.
func (r *PostgresRepo) ListNotes(ctx context.Context, userID string) ([]Note, error) {
	query := `
		SELECT id, 'note' AS kind, title, body, participants, occurred_at, updated_at FROM notes WHERE user_id = $1
		UNION ALL
		SELECT id, 'transcript' AS kind, title, text, participants, recorded_at, updated_at FROM transcripts WHERE user_id = $1
		ORDER BY kind, id
	`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notes []Note
	for rows.Next() {
		var (
			n        Note
			occurred sql.NullTime
		)
		if err := rows.Scan(&n.ID, &n.Kind, &n.Title, &n.Body, pq.Array(&n.Participants), &occurred, &n.UpdatedAt); err != nil {
			return nil, err
		}
		if occurred.Valid {
			t := occurred.Time
			n.OccurredAt = &t
		}
		notes = append(notes, n)
	}
	return notes, rows.Err()
}

// ListThreadIDs lists every thread id of the account in a stable order.
// It is cheap enough to call once per page.
func (r *PostgresRepo) ListThreadIDs(ctx context.Context, userID, accountID string) ([]string, error) {
	return r.listIDs(ctx, `SELECT id FROM email_threads WHERE user_id = $1 AND account_id = $2 ORDER BY id`, userID, accountID)
}

// FetchThreads loads the given threads with their messages in sent order.
func (r *PostgresRepo) FetchThreads(ctx context.Context, userID string, ids []string) ([]Thread, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := `SELECT id, account_id, subject, participants, last_message_at, updated_at FROM email_threads WHERE user_id = $1 AND id = ANY($2) ORDER BY id`
	rows, err := r.db.QueryContext(ctx, query, userID, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var threads []Thread
	index := make(map[string]int, len(ids))
	for rows.Next() {
		var (
			t    Thread
			last sql.NullTime
		)
		if err := rows.Scan(&t.ID, &t.AccountID, &t.Subject, pq.Array(&t.Participants), &last, &t.UpdatedAt); err != nil {
			return nil, err
		}
		if last.Valid {
			v := last.Time
			t.LastMessageAt = &v
		}
		index[t.ID] = len(threads)
		threads = append(threads, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	msgQuery := `SELECT thread_id, id, sender, body, sent_at FROM email_messages WHERE thread_id = ANY($1) ORDER BY thread_id, sent_at, id`
	msgRows, err := r.db.QueryContext(ctx, msgQuery, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer msgRows.Close()

	for msgRows.Next() {
		var (
			threadID string
			m        Message
		)
		if err := msgRows.Scan(&threadID, &m.ID, &m.Sender, &m.Body, &m.SentAt); err != nil {
			return nil, err
		}
		if i, ok := index[threadID]; ok {
			threads[i].Messages = append(threads[i].Messages, m)
		}
	}
	return threads, msgRows.Err()
}

func (r *PostgresRepo) ListEventIDs(ctx context.Context, userID, accountID string) ([]string, error) {
	return r.listIDs(ctx, `SELECT id FROM calendar_events WHERE user_id = $1 AND account_id = $2 ORDER BY id`, userID, accountID)
}

func (r *PostgresRepo) FetchEvents(ctx context.Context, userID string, ids []string) ([]Event, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := `SELECT id, account_id, title, description, location, attendees, starts_at, ends_at, updated_at FROM calendar_events WHERE user_id = $1 AND id = ANY($2) ORDER BY id`
	rows, err := r.db.QueryContext(ctx, query, userID, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			e            Event
			starts, ends sql.NullTime
		)
		if err := rows.Scan(&e.ID, &e.AccountID, &e.Title, &e.Description, &e.Location, pq.Array(&e.Attendees), &starts, &ends, &e.UpdatedAt); err != nil {
			return nil, err
		}
		if starts.Valid {
			v := starts.Time
			e.StartsAt = &v
		}
		if ends.Valid {
			v := ends.Time
			e.EndsAt = &v
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// CountRecords counts the user's source records per kind.
func (r *PostgresRepo) CountRecords(ctx context.Context, userID string) (Counts, error) {
	var c Counts
	query := `
		SELECT
			(SELECT COUNT(*) FROM notes WHERE user_id = $1),
			(SELECT COUNT(*) FROM transcripts WHERE user_id = $1),
			(SELECT COUNT(*) FROM email_threads WHERE user_id = $1),
			(SELECT COUNT(*) FROM calendar_events WHERE user_id = $1)
	`
	err := r.db.QueryRowContext(ctx, query, userID).Scan(&c.Notes, &c.Transcripts, &c.Threads, &c.Events)
	return c, err
}

func (r *PostgresRepo) listIDs(ctx context.Context, query string, args ...interface{}) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
