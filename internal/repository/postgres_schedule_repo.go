package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/studyhub/internal/model"
)

const scheduleColumns = `id, title, description, start_time, end_time, location, link, color, created_at, updated_at`

// PostgresScheduleRepo はPostgreSQLを使用したコンテスト予定リポジトリ。
type PostgresScheduleRepo struct {
	db *sql.DB
}

// NewPostgresScheduleRepo はPostgresScheduleRepoを生成する。
func NewPostgresScheduleRepo(db *sql.DB) *PostgresScheduleRepo {
	return &PostgresScheduleRepo{db: db}
}

func scanSchedule(row rowScanner) (*model.Schedule, error) {
	s := &model.Schedule{}
	var location, link sql.NullString
	err := row.Scan(&s.ID, &s.Title, &s.Description, &s.StartTime, &s.EndTime,
		&location, &link, &s.Color, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	s.Location = location.String
	s.Link = link.String
	return s, nil
}

// List は予定を開始日時の昇順で返す。
func (r *PostgresScheduleRepo) List(ctx context.Context) ([]*model.Schedule, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+scheduleColumns+` FROM contest_schedules ORDER BY start_time ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list schedules: %w", err)
	}
	defer rows.Close()

	schedules := []*model.Schedule{}
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan schedule: %w", err)
		}
		schedules = append(schedules, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate schedules: %w", err)
	}
	return schedules, nil
}

// FindByID は指定IDの予定を取得する。見つからない場合はnilを返す。
func (r *PostgresScheduleRepo) FindByID(ctx context.Context, id int64) (*model.Schedule, error) {
	s, err := scanSchedule(r.db.QueryRowContext(ctx,
		`SELECT `+scheduleColumns+` FROM contest_schedules WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find schedule: %w", err)
	}
	return s, nil
}

// Create は予定を作成する。
func (r *PostgresScheduleRepo) Create(ctx context.Context, s *model.Schedule) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO contest_schedules (title, description, start_time, end_time, location, link, color)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id, created_at, updated_at`,
		s.Title, s.Description, s.StartTime, s.EndTime,
		nullIfEmpty(s.Location), nullIfEmpty(s.Link), s.Color,
	).Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert schedule: %w", err)
	}
	return nil
}

// Update はnilでないフィールドのみを更新する。
func (r *PostgresScheduleRepo) Update(ctx context.Context, id int64, update model.ScheduleUpdate) (bool, error) {
	sets, args := buildScheduleUpdate(update)
	args = append(args, id)
	query := fmt.Sprintf(`UPDATE contest_schedules SET %supdated_at = now() WHERE id = $%d`,
		joinSets(sets), len(args))

	return execAffected(ctx, r.db, query, args...)
}

// buildScheduleUpdate はScheduleUpdateからSET句とパラメータを組み立てる。
// 場所とリンクの空文字はNULLとして保存する。
func buildScheduleUpdate(update model.ScheduleUpdate) ([]string, []any) {
	var sets []string
	var args []any
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if update.Title != nil {
		add("title", *update.Title)
	}
	if update.Description != nil {
		add("description", *update.Description)
	}
	if update.StartTime != nil {
		add("start_time", *update.StartTime)
	}
	if update.EndTime != nil {
		add("end_time", *update.EndTime)
	}
	if update.Location != nil {
		add("location", nullIfEmpty(*update.Location))
	}
	if update.Link != nil {
		add("link", nullIfEmpty(*update.Link))
	}
	if update.Color != nil {
		add("color", *update.Color)
	}

	return sets, args
}

// Delete は予定を削除する。
func (r *PostgresScheduleRepo) Delete(ctx context.Context, id int64) (bool, error) {
	return execAffected(ctx, r.db, `DELETE FROM contest_schedules WHERE id = $1`, id)
}

// compile-time interface check
var _ ScheduleRepository = (*PostgresScheduleRepo)(nil)
