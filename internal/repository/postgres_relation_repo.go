package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/studyhub/internal/model"
)

// PostgresRelationRepo はPostgreSQLを使用した保護者・生徒紐付けリポジトリ。
type PostgresRelationRepo struct {
	db *sql.DB
}

// NewPostgresRelationRepo はPostgresRelationRepoを生成する。
func NewPostgresRelationRepo(db *sql.DB) *PostgresRelationRepo {
	return &PostgresRelationRepo{db: db}
}

// CountBindings は保護者と生徒の紐付け件数を返す。
func (r *PostgresRelationRepo) CountBindings(ctx context.Context, parentID, studentID int64) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM parent_student_relations WHERE parent_id = $1 AND student_id = $2`,
		parentID, studentID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count bindings: %w", err)
	}
	return count, nil
}

// ListBindingsFor は保護者に紐付けられた生徒の一覧を紐付け順で返す。
func (r *PostgresRelationRepo) ListBindingsFor(ctx context.Context, parentID int64) ([]model.StudentBinding, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT u.id, u.username
		 FROM parent_student_relations psr
		 JOIN users u ON u.id = psr.student_id
		 WHERE psr.parent_id = $1
		 ORDER BY psr.id ASC`,
		parentID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list bindings: %w", err)
	}
	defer rows.Close()

	bindings := []model.StudentBinding{}
	for rows.Next() {
		var b model.StudentBinding
		if err := rows.Scan(&b.StudentID, &b.StudentUsername); err != nil {
			return nil, fmt.Errorf("failed to scan binding: %w", err)
		}
		bindings = append(bindings, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate bindings: %w", err)
	}
	return bindings, nil
}

// compile-time interface check
var _ RelationRepository = (*PostgresRelationRepo)(nil)
