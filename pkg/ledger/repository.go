package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"
)

type Repository interface {
	WithTransaction(ctx context.Context, fn func(repo Repository) error) error
	GetEvent(ctx context.Context, id string) (EventRecord, error)
	ListEvents(ctx context.Context, filter EventFilter) ([]EventRecord, error)
	StoreEvent(ctx context.Context, event EventRecord) error
	UpdateEvent(ctx context.Context, id string, patch EventPatch, updatedAt time.Time) (bool, error)
	ListResponses(ctx context.Context, eventId string) ([]ResponseRecord, error)
	ListResponsesUpdatedSince(ctx context.Context, since time.Time) ([]ResponseRecord, error)
	UpsertResponse(ctx context.Context, response ResponseRecord) (ResponseRecord, error)
	ListMembers(ctx context.Context) ([]Member, error)
	UpsertMember(ctx context.Context, member Member) error
	GetProperty(ctx context.Context, key string) (string, bool, error)
	SetProperty(ctx context.Context, key, value string, at time.Time) error
}

type RepositoryImpl struct {
	db *pgxpool.Pool
	tx pgx.Tx
}

func NewRepository(db *pgxpool.Pool) *RepositoryImpl {
	return &RepositoryImpl{db: db}
}

// getQueryer returns the appropriate database interface for queries (either tx or db)
func (r *RepositoryImpl) getQueryer() interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
} {
	if r.tx != nil {
		return r.tx
	}
	return r.db
}

func (r *RepositoryImpl) WithTransaction(ctx context.Context, fn func(repo Repository) error) error {
	if r.tx != nil {
		return fn(r)
	}
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			log.Errorf("rollback error: %v", rbErr)
		}
	}()

	if err := fn(&RepositoryImpl{db: r.db, tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

const eventColumns = `id, title, start_time, end_time, is_all_day, location, description,
	external_ref, description_hash, status, created_at, updated_at, last_synced_at`

func scanEvent(row pgx.Row) (EventRecord, error) {
	var (
		e               EventRecord
		status          string
		externalRef     *string
		descriptionHash *string
		lastSyncedAt    *time.Time
	)
	err := row.Scan(
		&e.Id,
		&e.Title,
		&e.Start,
		&e.End,
		&e.IsAllDay,
		&e.Location,
		&e.Description,
		&externalRef,
		&descriptionHash,
		&status,
		&e.CreatedAt,
		&e.UpdatedAt,
		&lastSyncedAt,
	)
	if err != nil {
		return EventRecord{}, err
	}
	e.Status = EventStatus(status)
	if externalRef != nil {
		e.ExternalRef = *externalRef
	}
	if descriptionHash != nil {
		e.DescriptionHash = *descriptionHash
	}
	if lastSyncedAt != nil {
		e.LastSyncedAt = *lastSyncedAt
	}
	return e, nil
}

func (r *RepositoryImpl) GetEvent(ctx context.Context, id string) (EventRecord, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE id = $1`
	event, err := scanEvent(r.getQueryer().QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return EventRecord{}, ErrEventNotFound
	}
	if err != nil {
		err := fmt.Errorf("could not get event %s: %w", id, err)
		log.Error(err)
		return EventRecord{}, err
	}
	return event, nil
}

func (r *RepositoryImpl) ListEvents(ctx context.Context, filter EventFilter) ([]EventRecord, error) {
	var (
		conditions []string
		args       []any
	)
	if len(filter.Statuses) > 0 {
		statuses := make([]string, 0, len(filter.Statuses))
		for _, s := range filter.Statuses {
			statuses = append(statuses, string(s))
		}
		args = append(args, statuses)
		conditions = append(conditions, fmt.Sprintf("status = ANY($%d)", len(args)))
	}
	// Events overlapping the window: starting before its end and ending after its start.
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		conditions = append(conditions, fmt.Sprintf("start_time <= $%d", len(args)))
	}
	if !filter.From.IsZero() {
		args = append(args, filter.From)
		conditions = append(conditions, fmt.Sprintf("end_time >= $%d", len(args)))
	}

	query := `SELECT ` + eventColumns + ` FROM events`
	if len(conditions) > 0 {
		query += ` WHERE ` + strings.Join(conditions, " AND ")
	}
	query += ` ORDER BY start_time, created_at, id`

	rows, err := r.getQueryer().Query(ctx, query, args...)
	if err != nil {
		err := fmt.Errorf("could not query events: %w", err)
		log.Error(err)
		return nil, err
	}
	defer rows.Close()

	events := make([]EventRecord, 0, 16)
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			err := fmt.Errorf("could not scan event row: %w", err)
			log.Error(err)
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over event rows: %w", err)
	}
	return events, nil
}

func (r *RepositoryImpl) StoreEvent(ctx context.Context, event EventRecord) error {
	query := `INSERT INTO events (
                    id,
                    title,
                    start_time,
                    end_time,
                    is_all_day,
                    location,
                    description,
                    external_ref,
                    description_hash,
                    status,
                    created_at,
                    updated_at,
                    last_synced_at
				) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := r.getQueryer().Exec(ctx, query,
		event.Id,
		event.Title,
		event.Start,
		event.End,
		event.IsAllDay,
		event.Location,
		event.Description,
		nullString(event.ExternalRef),
		nullString(event.DescriptionHash),
		string(event.Status),
		event.CreatedAt,
		event.UpdatedAt,
		nullTime(event.LastSyncedAt),
	)
	if err != nil {
		err := fmt.Errorf("could not store event: %w", err)
		log.Error(err)
		return err
	}
	return nil
}

// UpdateEvent writes every patched column plus updated_at in a single statement.
func (r *RepositoryImpl) UpdateEvent(ctx context.Context, id string, patch EventPatch, updatedAt time.Time) (bool, error) {
	var (
		sets []string
		args []any
	)
	set := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if patch.Title != nil {
		set("title", *patch.Title)
	}
	if patch.Start != nil {
		set("start_time", *patch.Start)
	}
	if patch.End != nil {
		set("end_time", *patch.End)
	}
	if patch.IsAllDay != nil {
		set("is_all_day", *patch.IsAllDay)
	}
	if patch.Location != nil {
		set("location", *patch.Location)
	}
	if patch.Description != nil {
		set("description", *patch.Description)
	}
	if patch.ExternalRef != nil {
		set("external_ref", nullString(*patch.ExternalRef))
	}
	if patch.DescriptionHash != nil {
		set("description_hash", nullString(*patch.DescriptionHash))
	}
	if patch.Status != nil {
		set("status", string(*patch.Status))
	}
	if patch.LastSyncedAt != nil {
		set("last_synced_at", nullTime(*patch.LastSyncedAt))
	}
	set("updated_at", updatedAt)

	args = append(args, id)
	query := fmt.Sprintf(`UPDATE events SET %s WHERE id = $%d`, strings.Join(sets, ", "), len(args))

	tag, err := r.getQueryer().Exec(ctx, query, args...)
	if err != nil {
		err := fmt.Errorf("could not update event %s: %w", id, err)
		log.Error(err)
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

const responseColumns = `event_id, user_key, status, comment, created_at, updated_at`

func scanResponses(rows pgx.Rows) ([]ResponseRecord, error) {
	defer rows.Close()
	responses := make([]ResponseRecord, 0, 16)
	for rows.Next() {
		var (
			r      ResponseRecord
			status string
		)
		if err := rows.Scan(&r.EventId, &r.UserKey, &status, &r.Comment, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("could not scan response row: %w", err)
		}
		r.Status = ResponseStatus(status)
		responses = append(responses, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over response rows: %w", err)
	}
	return responses, nil
}

// ListResponses returns the responses of one event, or of every event when eventId is empty.
func (r *RepositoryImpl) ListResponses(ctx context.Context, eventId string) ([]ResponseRecord, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if eventId == "" {
		rows, err = r.getQueryer().Query(ctx,
			`SELECT `+responseColumns+` FROM responses ORDER BY event_id, created_at, user_key`)
	} else {
		rows, err = r.getQueryer().Query(ctx,
			`SELECT `+responseColumns+` FROM responses WHERE event_id = $1 ORDER BY created_at, user_key`, eventId)
	}
	if err != nil {
		err := fmt.Errorf("could not query responses: %w", err)
		log.Error(err)
		return nil, err
	}
	responses, err := scanResponses(rows)
	if err != nil {
		log.Error(err)
		return nil, err
	}
	return responses, nil
}

func (r *RepositoryImpl) ListResponsesUpdatedSince(ctx context.Context, since time.Time) ([]ResponseRecord, error) {
	rows, err := r.getQueryer().Query(ctx,
		`SELECT `+responseColumns+` FROM responses WHERE updated_at > $1 ORDER BY updated_at, event_id, user_key`, since)
	if err != nil {
		err := fmt.Errorf("could not query responses updated since %s: %w", since, err)
		log.Error(err)
		return nil, err
	}
	responses, err := scanResponses(rows)
	if err != nil {
		log.Error(err)
		return nil, err
	}
	return responses, nil
}

// UpsertResponse inserts or replaces the (event, user) response, keeping the
// original created_at.
func (r *RepositoryImpl) UpsertResponse(ctx context.Context, response ResponseRecord) (ResponseRecord, error) {
	query := `INSERT INTO responses (event_id, user_key, status, comment, created_at, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6)
				ON CONFLICT (event_id, user_key) DO UPDATE
				SET status = EXCLUDED.status,
				    comment = EXCLUDED.comment,
				    updated_at = EXCLUDED.updated_at
				RETURNING ` + responseColumns

	var (
		saved  ResponseRecord
		status string
	)
	err := r.getQueryer().QueryRow(ctx, query,
		response.EventId,
		response.UserKey,
		string(response.Status),
		response.Comment,
		response.CreatedAt,
		response.UpdatedAt,
	).Scan(&saved.EventId, &saved.UserKey, &status, &saved.Comment, &saved.CreatedAt, &saved.UpdatedAt)
	if err != nil {
		err := fmt.Errorf("could not save response of %s for event %s: %w", response.UserKey, response.EventId, err)
		log.Error(err)
		return ResponseRecord{}, err
	}
	saved.Status = ResponseStatus(status)
	return saved, nil
}

func (r *RepositoryImpl) ListMembers(ctx context.Context) ([]Member, error) {
	rows, err := r.getQueryer().Query(ctx, `SELECT user_key, name, display_name, part FROM members ORDER BY user_key`)
	if err != nil {
		err := fmt.Errorf("could not query members: %w", err)
		log.Error(err)
		return nil, err
	}
	defer rows.Close()

	members := make([]Member, 0, 32)
	for rows.Next() {
		var m Member
		if err := rows.Scan(&m.UserKey, &m.Name, &m.DisplayName, &m.Part); err != nil {
			err := fmt.Errorf("could not scan member row: %w", err)
			log.Error(err)
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

func (r *RepositoryImpl) UpsertMember(ctx context.Context, member Member) error {
	query := `INSERT INTO members (user_key, name, display_name, part) VALUES ($1, $2, $3, $4)
				ON CONFLICT (user_key) DO UPDATE
				SET name = EXCLUDED.name, display_name = EXCLUDED.display_name, part = EXCLUDED.part`
	_, err := r.getQueryer().Exec(ctx, query, member.UserKey, member.Name, member.DisplayName, member.Part)
	if err != nil {
		err := fmt.Errorf("could not save member %s: %w", member.UserKey, err)
		log.Error(err)
		return err
	}
	return nil
}

func (r *RepositoryImpl) GetProperty(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := r.getQueryer().QueryRow(ctx, `SELECT value FROM properties WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		err := fmt.Errorf("could not read property %s: %w", key, err)
		log.Error(err)
		return "", false, err
	}
	return value, true, nil
}

func (r *RepositoryImpl) SetProperty(ctx context.Context, key, value string, at time.Time) error {
	query := `INSERT INTO properties (key, value, updated_at) VALUES ($1, $2, $3)
				ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`
	if _, err := r.getQueryer().Exec(ctx, query, key, value, at); err != nil {
		err := fmt.Errorf("could not write property %s: %w", key, err)
		log.Error(err)
		return err
	}
	return nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
