package reservations

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wolfman30/studio-booking/internal/scheduling"
)

// insertLockKey serializes reservation inserts across API instances.
const insertLockKey int64 = 0x53545544494f

const reservationColumns = `id, client_name, client_phone, client_email, service_name,
	service_start, service_end, status, admin_service, admin_notes, calendar_event_id,
	created_at, updated_at`

type pgxPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore keeps reservations in the reservations table.
type PostgresStore struct {
	pool pgxPool
	now  func() time.Time
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	if pool == nil {
		panic("reservations: pgx pool required")
	}
	return newPostgresStore(pool)
}

func newPostgresStore(pool pgxPool) *PostgresStore {
	return &PostgresStore{pool: pool, now: time.Now}
}

// Insert takes a transaction-scoped advisory lock, hands the overlapping rows
// to the guard, and inserts only if the guard passes.
func (s *PostgresStore) Insert(ctx context.Context, r *Reservation, guard Guard) error {
	if err := validateForInsert(r); err != nil {
		return err
	}
	now := s.now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = r.CreatedAt
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("reservations: begin tx: %w", err)
	}
	rollback := func() { _ = tx.Rollback(ctx) }

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, insertLockKey); err != nil {
		rollback()
		return fmt.Errorf("reservations: acquire lock: %w", err)
	}

	if guard.Check != nil {
		existing, err := queryReservations(ctx, tx, `
			SELECT `+reservationColumns+`
			FROM reservations
			WHERE service_start < $2 AND service_end > $1 AND status <> 'cancelled'
			ORDER BY service_start
		`, guard.Window.Start, guard.Window.End)
		if err != nil {
			rollback()
			return err
		}
		if err := guard.run(existing); err != nil {
			rollback()
			return err
		}
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO reservations (`+reservationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`,
		r.ID,
		r.ClientName,
		r.ClientPhone,
		r.ClientEmail,
		r.ServiceName,
		r.ServiceStart,
		r.ServiceEnd,
		string(r.Status),
		r.AdminService,
		r.AdminNotes,
		r.CalendarEventID,
		r.CreatedAt,
		r.UpdatedAt,
	)
	if err != nil {
		rollback()
		if isConflict(err) {
			return ErrConflict
		}
		return fmt.Errorf("reservations: insert: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("reservations: commit: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Reservation, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE id = $1`, id)
	r, err := scanReservation(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("reservations: select: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) List(ctx context.Context, filter ListFilter) ([]*Reservation, error) {
	var (
		clauses []string
		args    []any
	)
	if !filter.From.IsZero() {
		args = append(args, filter.From)
		clauses = append(clauses, fmt.Sprintf("service_end > $%d", len(args)))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		clauses = append(clauses, fmt.Sprintf("service_start < $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}
	query := `SELECT ` + reservationColumns + ` FROM reservations`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	return queryReservations(ctx, s.pool, query, args...)
}

// Update applies the patch under a row lock so concurrent edits do not
// overwrite each other.
func (s *PostgresStore) Update(ctx context.Context, id string, patch Patch) (*Reservation, error) {
	if err := patch.Validate(); err != nil {
		return nil, err
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("reservations: begin tx: %w", err)
	}
	rollback := func() { _ = tx.Rollback(ctx) }

	r, err := scanReservation(tx.QueryRow(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		rollback()
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("reservations: select for update: %w", err)
	}

	patch.Apply(r, s.now().UTC())
	_, err = tx.Exec(ctx, `
		UPDATE reservations
		SET client_phone = $2, service_start = $3, service_end = $4, status = $5,
			admin_service = $6, admin_notes = $7, calendar_event_id = $8, updated_at = $9
		WHERE id = $1
	`, r.ID, r.ClientPhone, r.ServiceStart, r.ServiceEnd, string(r.Status), r.AdminService, r.AdminNotes, r.CalendarEventID, r.UpdatedAt)
	if err != nil {
		rollback()
		if isConflict(err) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("reservations: update: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("reservations: commit: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) ListBusyIntervals(ctx context.Context, from, to time.Time) ([]scheduling.BusyInterval, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, service_start, service_end
		FROM reservations
		WHERE service_start < $2 AND service_end > $1 AND status <> 'cancelled'
		ORDER BY service_start
	`, from, to)
	if err != nil {
		return nil, fmt.Errorf("reservations: list busy: %w", err)
	}
	defer rows.Close()

	var out []scheduling.BusyInterval
	for rows.Next() {
		var (
			id         string
			start, end time.Time
		)
		if err := rows.Scan(&id, &start, &end); err != nil {
			return nil, fmt.Errorf("reservations: scan busy: %w", err)
		}
		out = append(out, scheduling.BusyInterval{
			Interval: scheduling.Interval{Start: start, End: end},
			Source:   "reservation",
			Label:    id,
		})
	}
	return out, rows.Err()
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func queryReservations(ctx context.Context, q querier, query string, args ...any) ([]*Reservation, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("reservations: query: %w", err)
	}
	defer rows.Close()

	var out []*Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, fmt.Errorf("reservations: scan: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanReservation(row pgx.Row) (*Reservation, error) {
	var (
		r      Reservation
		status string
	)
	if err := row.Scan(
		&r.ID,
		&r.ClientName,
		&r.ClientPhone,
		&r.ClientEmail,
		&r.ServiceName,
		&r.ServiceStart,
		&r.ServiceEnd,
		&status,
		&r.AdminService,
		&r.AdminNotes,
		&r.CalendarEventID,
		&r.CreatedAt,
		&r.UpdatedAt,
	); err != nil {
		return nil, err
	}
	r.Status = Status(status)
	return &r, nil
}

// isConflict matches unique and exclusion constraint violations.
func isConflict(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" || pgErr.Code == "23P01"
	}
	return false
}
