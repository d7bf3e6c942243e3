package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/studyhub/internal/model"
)

// PostgresProgressRepo はPostgreSQLを使用した学習進捗リポジトリ。
type PostgresProgressRepo struct {
	db *sql.DB
}

// NewPostgresProgressRepo はPostgresProgressRepoを生成する。
func NewPostgresProgressRepo(db *sql.DB) *PostgresProgressRepo {
	return &PostgresProgressRepo{db: db}
}

// MarkCompleted は知識ポイントを完了済みとしてUPSERTする。
// (user_id, knowledge_point_id)の一意制約により、再実行しても1行のまま。
// 知識ポイントが存在しない場合はKNOWLEDGE_POINT_NOT_FOUNDを返す。
func (r *PostgresProgressRepo) MarkCompleted(ctx context.Context, userID, kpID int64) (*model.ProgressRecord, error) {
	rec := &model.ProgressRecord{}
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO student_progress (user_id, knowledge_point_id, is_completed)
		 VALUES ($1, $2, TRUE)
		 ON CONFLICT (user_id, knowledge_point_id)
		 DO UPDATE SET is_completed = TRUE, updated_at = now()
		 RETURNING id, user_id, knowledge_point_id, is_completed, created_at, updated_at`,
		userID, kpID,
	).Scan(&rec.ID, &rec.UserID, &rec.KnowledgePointID, &rec.IsCompleted, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if isPQError(err, pgForeignKeyViolation) {
			return nil, model.NewKnowledgePointNotFoundError(kpID)
		}
		return nil, fmt.Errorf("failed to mark progress completed: %w", err)
	}
	return rec, nil
}

// ListCompleted はユーザーの完了済み知識ポイントを完了日時の降順で返す。
func (r *PostgresProgressRepo) ListCompleted(ctx context.Context, userID int64) ([]model.CompletedPoint, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT kp.id, kp.title, kp.knowledge_group, kp.category, sp.updated_at
		 FROM student_progress sp
		 JOIN knowledge_points kp ON kp.id = sp.knowledge_point_id
		 WHERE sp.user_id = $1 AND sp.is_completed = TRUE
		 ORDER BY sp.updated_at DESC, kp.id ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list completed progress: %w", err)
	}
	defer rows.Close()

	points := []model.CompletedPoint{}
	for rows.Next() {
		var p model.CompletedPoint
		var group string
		var category sql.NullString
		if err := rows.Scan(&p.KnowledgePointID, &p.Title, &group, &category, &p.CompletedAt); err != nil {
			return nil, fmt.Errorf("failed to scan completed progress: %w", err)
		}
		p.Group = model.KnowledgeGroup(group)
		p.Category = category.String
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate completed progress: %w", err)
	}
	return points, nil
}

// compile-time interface check
var _ ProgressRepository = (*PostgresProgressRepo)(nil)
