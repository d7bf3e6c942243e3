package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/studyhub/internal/model"
)

const problemColumns = `id, knowledge_point_id, title, content_md, template_cpp, video_url,
	video_updated_at, created_at, updated_at`

// PostgresProblemRepo はPostgreSQLを使用した問題リポジトリ。
type PostgresProblemRepo struct {
	db *sql.DB
}

// NewPostgresProblemRepo はPostgresProblemRepoを生成する。
func NewPostgresProblemRepo(db *sql.DB) *PostgresProblemRepo {
	return &PostgresProblemRepo{db: db}
}

func scanProblem(row rowScanner) (*model.Problem, error) {
	p := &model.Problem{}
	var templateCpp, videoURL sql.NullString
	var videoUpdatedAt sql.NullTime
	err := row.Scan(
		&p.ID, &p.KnowledgePointID, &p.Title, &p.ContentMD, &templateCpp, &videoURL,
		&videoUpdatedAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.TemplateCpp = templateCpp.String
	p.VideoURL = videoURL.String
	if videoUpdatedAt.Valid {
		t := videoUpdatedAt.Time
		p.VideoUpdatedAt = &t
	}
	return p, nil
}

// listProblemsFor は知識ポイントに紐づく問題をID昇順で返す。
func listProblemsFor(ctx context.Context, db *sql.DB, kpID int64) ([]model.Problem, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+problemColumns+` FROM problems WHERE knowledge_point_id = $1 ORDER BY id ASC`,
		kpID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list problems: %w", err)
	}
	defer rows.Close()

	problems := []model.Problem{}
	for rows.Next() {
		p, err := scanProblem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan problem: %w", err)
		}
		problems = append(problems, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate problems: %w", err)
	}
	return problems, nil
}

// FindByID は指定IDの問題を取得する。見つからない場合はnilを返す。
func (r *PostgresProblemRepo) FindByID(ctx context.Context, id int64) (*model.Problem, error) {
	p, err := scanProblem(r.db.QueryRowContext(ctx,
		`SELECT `+problemColumns+` FROM problems WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find problem: %w", err)
	}
	return p, nil
}

// Create は問題を作成する。知識ポイントが存在しない場合はKNOWLEDGE_POINT_NOT_FOUNDを返す。
func (r *PostgresProblemRepo) Create(ctx context.Context, p *model.Problem) error {
	var videoUpdatedAt any
	if p.VideoUpdatedAt != nil {
		videoUpdatedAt = *p.VideoUpdatedAt
	}
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO problems (knowledge_point_id, title, content_md, template_cpp, video_url, video_updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, created_at, updated_at`,
		p.KnowledgePointID, p.Title, p.ContentMD,
		nullIfEmpty(p.TemplateCpp), nullIfEmpty(p.VideoURL), videoUpdatedAt,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if isPQError(err, pgForeignKeyViolation) {
			return model.NewKnowledgePointNotFoundError(p.KnowledgePointID)
		}
		return fmt.Errorf("failed to insert problem: %w", err)
	}
	return nil
}

// Update はnilでないフィールドのみを更新する。
func (r *PostgresProblemRepo) Update(ctx context.Context, id int64, update model.ProblemUpdate, videoUpdatedAt *time.Time) (bool, error) {
	var sets []string
	var args []any
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if update.Title != nil {
		add("title", *update.Title)
	}
	if update.ContentMD != nil {
		add("content_md", *update.ContentMD)
	}
	if update.TemplateCpp != nil {
		add("template_cpp", nullIfEmpty(*update.TemplateCpp))
	}
	if update.VideoURL != nil {
		add("video_url", nullIfEmpty(*update.VideoURL))
	}
	if videoUpdatedAt != nil {
		add("video_updated_at", *videoUpdatedAt)
	}

	args = append(args, id)
	query := fmt.Sprintf(`UPDATE problems SET %supdated_at = now() WHERE id = $%d`,
		joinSets(sets), len(args))

	return execAffected(ctx, r.db, query, args...)
}

// Delete は問題を削除する。
func (r *PostgresProblemRepo) Delete(ctx context.Context, id int64) (bool, error) {
	return execAffected(ctx, r.db, `DELETE FROM problems WHERE id = $1`, id)
}

// compile-time interface check
var _ ProblemRepository = (*PostgresProblemRepo)(nil)
