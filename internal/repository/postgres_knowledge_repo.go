package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/hitoshi/studyhub/internal/model"
)

const knowledgeListColumns = `id, title, knowledge_group, category, created_at, updated_at`

// PostgresKnowledgeRepo はPostgreSQLを使用した知識ポイントリポジトリ。
type PostgresKnowledgeRepo struct {
	db *sql.DB
}

// NewPostgresKnowledgeRepo はPostgresKnowledgeRepoを生成する。
func NewPostgresKnowledgeRepo(db *sql.DB) *PostgresKnowledgeRepo {
	return &PostgresKnowledgeRepo{db: db}
}

func scanKnowledgeListRow(row rowScanner) (*model.KnowledgePoint, error) {
	kp := &model.KnowledgePoint{}
	var group string
	var category sql.NullString
	if err := row.Scan(&kp.ID, &kp.Title, &group, &category, &kp.CreatedAt, &kp.UpdatedAt); err != nil {
		return nil, err
	}
	kp.Group = model.KnowledgeGroup(group)
	kp.Category = category.String
	return kp, nil
}

// List は知識ポイントをID昇順で返す。
func (r *PostgresKnowledgeRepo) List(ctx context.Context, group model.KnowledgeGroup) ([]*model.KnowledgePoint, error) {
	query := `SELECT ` + knowledgeListColumns + ` FROM knowledge_points`
	var args []any
	if group != "" {
		query += ` WHERE knowledge_group = $1`
		args = append(args, string(group))
	}
	query += ` ORDER BY id ASC`

	return r.queryList(ctx, query, args...)
}

// Search はタイトルまたはカテゴリに部分一致する知識ポイントを返す。
func (r *PostgresKnowledgeRepo) Search(ctx context.Context, query string) ([]*model.KnowledgePoint, error) {
	pattern := "%" + escapeLike(query) + "%"
	return r.queryList(ctx,
		`SELECT `+knowledgeListColumns+` FROM knowledge_points
		 WHERE title ILIKE $1 OR category ILIKE $1
		 ORDER BY id ASC`,
		pattern,
	)
}

func (r *PostgresKnowledgeRepo) queryList(ctx context.Context, query string, args ...any) ([]*model.KnowledgePoint, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list knowledge points: %w", err)
	}
	defer rows.Close()

	points := []*model.KnowledgePoint{}
	for rows.Next() {
		kp, err := scanKnowledgeListRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan knowledge point: %w", err)
		}
		points = append(points, kp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate knowledge points: %w", err)
	}
	return points, nil
}

// FindByID は問題を含む知識ポイントを取得する。見つからない場合はnilを返す。
func (r *PostgresKnowledgeRepo) FindByID(ctx context.Context, id int64) (*model.KnowledgePoint, error) {
	kp := &model.KnowledgePoint{}
	var group string
	var category sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT id, title, knowledge_group, category, content_md, created_at, updated_at
		 FROM knowledge_points WHERE id = $1`,
		id,
	).Scan(&kp.ID, &kp.Title, &group, &category, &kp.ContentMD, &kp.CreatedAt, &kp.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find knowledge point: %w", err)
	}
	kp.Group = model.KnowledgeGroup(group)
	kp.Category = category.String

	problems, err := listProblemsFor(ctx, r.db, id)
	if err != nil {
		return nil, err
	}
	kp.Problems = problems
	return kp, nil
}

// ListSummaries は進捗集計用に全知識ポイントのID、グループ、カテゴリを返す。
func (r *PostgresKnowledgeRepo) ListSummaries(ctx context.Context) ([]model.PointSummary, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, knowledge_group, category FROM knowledge_points ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list knowledge summaries: %w", err)
	}
	defer rows.Close()

	var summaries []model.PointSummary
	for rows.Next() {
		var s model.PointSummary
		var group string
		var category sql.NullString
		if err := rows.Scan(&s.ID, &group, &category); err != nil {
			return nil, fmt.Errorf("failed to scan knowledge summary: %w", err)
		}
		s.Group = model.KnowledgeGroup(group)
		s.Category = category.String
		summaries = append(summaries, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate knowledge summaries: %w", err)
	}
	return summaries, nil
}

// Create は知識ポイントを作成する。
func (r *PostgresKnowledgeRepo) Create(ctx context.Context, kp *model.KnowledgePoint) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO knowledge_points (title, knowledge_group, category, content_md)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at, updated_at`,
		kp.Title, string(kp.Group), nullIfEmpty(kp.Category), kp.ContentMD,
	).Scan(&kp.ID, &kp.CreatedAt, &kp.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert knowledge point: %w", err)
	}
	return nil
}

// Update はnilでないフィールドのみを更新する。
func (r *PostgresKnowledgeRepo) Update(ctx context.Context, id int64, update model.KnowledgePointUpdate) (bool, error) {
	var sets []string
	var args []any
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if update.Title != nil {
		add("title", *update.Title)
	}
	if update.Group != nil {
		add("knowledge_group", string(*update.Group))
	}
	if update.Category != nil {
		add("category", nullIfEmpty(*update.Category))
	}
	if update.ContentMD != nil {
		add("content_md", *update.ContentMD)
	}

	args = append(args, id)
	query := fmt.Sprintf(`UPDATE knowledge_points SET %supdated_at = now() WHERE id = $%d`,
		joinSets(sets), len(args))

	return execAffected(ctx, r.db, query, args...)
}

// Delete は知識ポイントを削除する。問題と進捗はCASCADE削除される。
func (r *PostgresKnowledgeRepo) Delete(ctx context.Context, id int64) (bool, error) {
	return execAffected(ctx, r.db, `DELETE FROM knowledge_points WHERE id = $1`, id)
}

// execAffected はクエリを実行し、1行以上が影響を受けたかを返す。
func execAffected(ctx context.Context, db *sql.DB, query string, args ...any) (bool, error) {
	result, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to exec: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// joinSets はSET句の末尾に続くupdated_atのためにカンマ付きで連結する。
func joinSets(sets []string) string {
	if len(sets) == 0 {
		return ""
	}
	return strings.Join(sets, ", ") + ", "
}

func nullIfEmpty(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// escapeLike はLIKEパターンのメタ文字をエスケープする。
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// compile-time interface check
var _ KnowledgeRepository = (*PostgresKnowledgeRepo)(nil)
