package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/studyhub/internal/model"
)

// pgUniqueViolation はPostgreSQLの一意制約違反のエラーコード。
const pgUniqueViolation = "23505"

// pgForeignKeyViolation はPostgreSQLの外部キー制約違反のエラーコード。
const pgForeignKeyViolation = "23503"

const userColumns = `id, username, password_hash, role, session_version, login_attempts, lock_until,
	nickname, avatar, bio, created_at, updated_at`

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*model.User, error) {
	user := &model.User{}
	var role string
	var lockUntil sql.NullTime
	err := row.Scan(
		&user.ID, &user.Username, &user.PasswordHash, &role,
		&user.SessionVersion, &user.LoginAttempts, &lockUntil,
		&user.Nickname, &user.Avatar, &user.Bio,
		&user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	user.Role = model.Role(role)
	if lockUntil.Valid {
		t := lockUntil.Time
		user.LockUntil = &t
	}
	return user, nil
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id int64) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}
	return user, nil
}

// FindByUsername はユーザー名でユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByUsername(ctx context.Context, username string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = $1`, username))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by username: %w", err)
	}
	return user, nil
}

// Create はユーザーを作成し、採番されたIDとタイムスタンプを設定する。
func (r *PostgresUserRepo) Create(ctx context.Context, user *model.User) error {
	if err := insertUser(ctx, r.db, user); err != nil {
		return err
	}
	return nil
}

// CreateMany は複数ユーザーを同一トランザクションで作成する。
func (r *PostgresUserRepo) CreateMany(ctx context.Context, users []*model.User) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, user := range users {
		if err := insertUser(ctx, tx, user); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// queryRower は*sql.DBと*sql.Txの共通インターフェース。
type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func insertUser(ctx context.Context, q queryRower, user *model.User) error {
	err := q.QueryRowContext(ctx,
		`INSERT INTO users (username, password_hash, role, nickname, avatar, bio)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, session_version, login_attempts, created_at, updated_at`,
		user.Username, user.PasswordHash, string(user.Role), user.Nickname, user.Avatar, user.Bio,
	).Scan(&user.ID, &user.SessionVersion, &user.LoginAttempts, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if isPQError(err, pgUniqueViolation) {
			return model.NewUsernameTakenError(user.Username)
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// List は全ユーザーをID昇順で返す。
func (r *PostgresUserRepo) List(ctx context.Context) ([]*model.User, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []*model.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate users: %w", err)
	}
	return users, nil
}

// ApplyPartialUpdate はnilでないフィールドのみを更新する。
func (r *PostgresUserRepo) ApplyPartialUpdate(ctx context.Context, id int64, update model.UserUpdate) (*model.User, error) {
	sets, args := buildUserUpdate(update)
	if len(sets) == 0 {
		return r.FindByID(ctx, id)
	}

	args = append(args, id)
	query := fmt.Sprintf(`UPDATE users SET %s, updated_at = now() WHERE id = $%d RETURNING `+userColumns,
		strings.Join(sets, ", "), len(args))

	user, err := scanUser(r.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update user: %w", err)
	}
	return user, nil
}

// buildUserUpdate はUserUpdateからSET句とパラメータを組み立てる。
func buildUserUpdate(update model.UserUpdate) ([]string, []any) {
	var sets []string
	var args []any

	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if update.Role != nil {
		add("role", string(*update.Role))
	}
	if update.Nickname != nil {
		add("nickname", *update.Nickname)
	}
	if update.Avatar != nil {
		add("avatar", *update.Avatar)
	}
	if update.Bio != nil {
		add("bio", *update.Bio)
	}
	if update.PasswordHash != nil {
		add("password_hash", *update.PasswordHash)
	}

	return sets, args
}

// RecordLoginFailure はログイン試行回数をアトミックにインクリメントする。
// CASE式内のlogin_attemptsは更新前の値を参照する。
func (r *PostgresUserRepo) RecordLoginFailure(ctx context.Context, id int64, threshold int, lockUntil time.Time) (*model.LoginState, error) {
	state := &model.LoginState{}
	var until sql.NullTime
	err := r.db.QueryRowContext(ctx,
		`UPDATE users
		 SET login_attempts = login_attempts + 1,
		     lock_until = CASE WHEN login_attempts + 1 >= $2 THEN $3::timestamptz ELSE NULL END,
		     updated_at = now()
		 WHERE id = $1
		 RETURNING login_attempts, lock_until`,
		id, threshold, lockUntil,
	).Scan(&state.LoginAttempts, &until)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to record login failure: %w", err)
	}
	if until.Valid {
		t := until.Time
		state.LockUntil = &t
	}
	return state, nil
}

// ResetLoginState はログイン試行回数を0に、lock_untilをNULLに戻す。
// 既にリセット済みの行は更新しないため冪等。
func (r *PostgresUserRepo) ResetLoginState(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users
		 SET login_attempts = 0, lock_until = NULL, updated_at = now()
		 WHERE id = $1 AND (login_attempts <> 0 OR lock_until IS NOT NULL)`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to reset login state: %w", err)
	}
	return nil
}

// IncrementSessionVersion はセッションバージョンをアトミックに1増やし、新しい値を返す。
func (r *PostgresUserRepo) IncrementSessionVersion(ctx context.Context, id int64) (int64, error) {
	var version int64
	err := r.db.QueryRowContext(ctx,
		`UPDATE users SET session_version = session_version + 1, updated_at = now()
		 WHERE id = $1
		 RETURNING session_version`,
		id,
	).Scan(&version)
	if err == sql.ErrNoRows {
		return 0, model.NewUserNotFoundError()
	}
	if err != nil {
		return 0, fmt.Errorf("failed to increment session version: %w", err)
	}
	return version, nil
}

// DeleteByID は指定IDのユーザーを削除する。
func (r *PostgresUserRepo) DeleteByID(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM users WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return model.NewUserNotFoundError()
	}
	return nil
}

// isPQError はerrが指定コードのPostgreSQLエラーかどうかを返す。
func isPQError(err error, code string) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == code
	}
	return false
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
