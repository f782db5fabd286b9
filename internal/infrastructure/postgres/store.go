package postgres

import (
	"context"
	"errors"

	"github.com/baechuer/tablebook/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const eventColumns = `id, title, description, category, starts_at, has_time, access,
	invite_code, participants_current, participants_max, host, host_id, created_at, version`

// Store is the postgres backend. Every write to an event row bumps its
// version; Mutate commits only if the version it read is still current.
type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (domain.Event, int64, error) {
	var (
		e       domain.Event
		access  string
		version int64
	)
	err := row.Scan(
		&e.ID, &e.Title, &e.Description, &e.Category, &e.StartsAt, &e.HasTime, &access,
		&e.InviteCode, &e.Participants.Current, &e.Participants.Max, &e.Host, &e.HostID,
		&e.CreatedAt, &version,
	)
	if err != nil {
		return domain.Event{}, 0, err
	}
	e.Access = domain.Access(access)
	e.StartsAt = e.StartsAt.UTC()
	e.CreatedAt = e.CreatedAt.UTC()
	return e, version, nil
}

func (s *Store) GetEvent(ctx context.Context, id uuid.UUID) (domain.Event, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+eventColumns+` FROM events WHERE id = $1`, id)
	e, _, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Event{}, domain.ErrNotFound
		}
		return domain.Event{}, domain.Unavailable("postgres get event", err)
	}
	return e, nil
}

func (s *Store) PutEvent(ctx context.Context, e domain.Event) error {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO events (id, title, description, category, starts_at, has_time, access,
			invite_code, participants_current, participants_max, host, host_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO NOTHING
	`, e.ID, e.Title, e.Description, e.Category, e.StartsAt.UTC(), e.HasTime, string(e.Access),
		e.InviteCode, e.Participants.Current, e.Participants.Max, e.Host, e.HostID, e.CreatedAt.UTC())
	if err != nil {
		return domain.Unavailable("postgres put event", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrConflict
	}
	return nil
}

// UpdateDetails updates in place; a NULL parameter keeps the column. The
// version bump makes an in-flight Mutate on the same row retry.
func (s *Store) UpdateDetails(ctx context.Context, id uuid.UUID, patch domain.EventPatch) (domain.Event, error) {
	p := patch.Trimmed()
	row := s.pool.QueryRow(ctx, `
		UPDATE events SET
			title       = COALESCE($2, title),
			description = COALESCE($3, description),
			category    = COALESCE($4, category),
			version     = version + 1
		WHERE id = $1
		RETURNING `+eventColumns, id, p.Title, p.Description, p.Category)
	e, _, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Event{}, domain.ErrNotFound
		}
		return domain.Event{}, domain.Unavailable("postgres update event", err)
	}
	return e, nil
}

// DeleteEvent removes the event; its membership rows go with it.
func (s *Store) DeleteEvent(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM events WHERE id = $1`, id)
	if err != nil {
		return domain.Unavailable("postgres delete event", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) ListEvents(ctx context.Context) ([]domain.Event, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+eventColumns+` FROM events ORDER BY created_at, id`)
	if err != nil {
		return nil, domain.Unavailable("postgres list events", err)
	}
	defer rows.Close()

	out := []domain.Event{}
	for rows.Next() {
		e, _, err := scanEvent(rows)
		if err != nil {
			return nil, domain.Unavailable("postgres list events", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Unavailable("postgres list events", err)
	}
	return out, nil
}

func (s *Store) GetMembership(ctx context.Context, userID string) (domain.Membership, error) {
	rows, err := s.pool.Query(ctx, `SELECT event_id FROM memberships WHERE user_id = $1`, userID)
	if err != nil {
		return nil, domain.Unavailable("postgres get membership", err)
	}
	defer rows.Close()

	m := domain.Membership{}
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, domain.Unavailable("postgres get membership", err)
		}
		m[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Unavailable("postgres get membership", err)
	}
	return m, nil
}

// Mutate reads without locking, then applies the decision guarded by the
// event version. Writers of the same event serialize on the row update, so
// the loser sees a stale version and reports ErrConflict.
func (s *Store) Mutate(ctx context.Context, eventID uuid.UUID, userID string, decide domain.DecideFunc) (domain.Event, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.Event{}, domain.Unavailable("postgres begin", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	st := domain.TxState{Found: true}
	e, version, err := scanEvent(tx.QueryRow(ctx, `SELECT `+eventColumns+` FROM events WHERE id = $1`, eventID))
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		st.Found = false
	case err != nil:
		return domain.Event{}, domain.Unavailable("postgres read event", err)
	default:
		st.Event = e
	}

	if st.Found {
		err = tx.QueryRow(ctx, `
			SELECT EXISTS(SELECT 1 FROM memberships WHERE user_id = $1 AND event_id = $2)
		`, userID, eventID).Scan(&st.Joined)
		if err != nil {
			return domain.Event{}, domain.Unavailable("postgres read membership", err)
		}
	}

	m, err := decide(st)
	if err != nil {
		return domain.Event{}, err
	}

	tag, err := tx.Exec(ctx, `
		UPDATE events
		SET participants_current = $2, version = version + 1
		WHERE id = $1 AND version = $3
	`, eventID, m.Current, version)
	if err != nil {
		return domain.Event{}, domain.Unavailable("postgres update counter", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.Event{}, domain.ErrConflict
	}

	if m.Joined {
		tag, err = tx.Exec(ctx, `
			INSERT INTO memberships (user_id, event_id) VALUES ($1, $2)
			ON CONFLICT DO NOTHING
		`, userID, eventID)
	} else {
		tag, err = tx.Exec(ctx, `DELETE FROM memberships WHERE user_id = $1 AND event_id = $2`, userID, eventID)
	}
	if err != nil {
		return domain.Event{}, domain.Unavailable("postgres write membership", err)
	}
	if tag.RowsAffected() != 1 {
		// membership moved under us without touching the counter
		return domain.Event{}, domain.ErrConflict
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Event{}, domain.Unavailable("postgres commit", err)
	}
	e.Participants.Current = m.Current
	return e, nil
}
