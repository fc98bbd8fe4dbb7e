package postgres

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"

	"taskline/backend/internal/model"
	"taskline/backend/internal/store"
)

const userColumns = `
	user_id, coalesce(user_name, ''), coalesce(picture_url, ''),
	coalesce(status_message, ''), coalesce(last_event, ''),
	last_seen_at, created_at`

func scanUser(row pgx.Row) (model.User, error) {
	var u model.User
	err := row.Scan(&u.ID, &u.Name, &u.PictureURL, &u.StatusMessage, &u.LastEvent, &u.LastSeenAt, &u.CreatedAt)
	return u, err
}

func (s *Store) UpsertUser(ctx context.Context, u model.User) (model.User, error) {
	if strings.TrimSpace(u.ID) == "" {
		return model.User{}, errors.New("user_id_required")
	}

	out, err := scanUser(s.pool.QueryRow(ctx, `
		insert into public.users (user_id, user_name, picture_url, status_message, last_event, last_seen_at)
		values ($1, nullif($2, ''), nullif($3, ''), nullif($4, ''), nullif($5, ''), now())
		on conflict (user_id) do update
		set user_name      = coalesce(excluded.user_name, users.user_name),
		    picture_url    = coalesce(excluded.picture_url, users.picture_url),
		    status_message = coalesce(excluded.status_message, users.status_message),
		    last_event     = coalesce(excluded.last_event, users.last_event),
		    last_seen_at   = excluded.last_seen_at
		returning `+userColumns,
		u.ID, u.Name, u.PictureURL, u.StatusMessage, u.LastEvent))
	if err != nil {
		return model.User{}, mapPgErr(err)
	}
	return out, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (*model.User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx, `
		select `+userColumns+`
		from public.users
		where user_id = $1
	`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, mapPgErr(err)
	}
	return &u, nil
}

func (s *Store) ListUsers(ctx context.Context, limit int) ([]model.User, error) {
	query := `
		select ` + userColumns + `
		from public.users
		order by last_seen_at desc
	`
	args := []any{}
	if limit > 0 {
		args = append(args, limit)
		query += " limit $1"
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, mapPgErr(err)
	}
	defer rows.Close()

	var out []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, mapPgErr(err)
		}
		out = append(out, u)
	}
	return out, nil
}
