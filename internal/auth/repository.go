package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

const userColumns = `id, first_name, last_name, email, phone, password, address, role, enabled,
	two_factor_enabled, two_factor_secret, password_reset_token, password_reset_token_expiry,
	created_at, updated_at`

type UserRepository struct {
	DB *pgxpool.Pool
}

func NewUserRepository(db *pgxpool.Pool) *UserRepository {
	return &UserRepository{DB: db}
}

func (r *UserRepository) Create(ctx context.Context, u *User) (*User, error) {
	query := `
		INSERT INTO users
		(first_name, last_name, email, phone, password, address, role, enabled, two_factor_enabled, two_factor_secret)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING ` + userColumns

	row := r.DB.QueryRow(ctx, query,
		u.FirstName, u.LastName, NormalizeEmail(u.Email), u.Phone, u.PasswordHash, u.Address,
		string(u.Role), u.Enabled, u.TwoFactorEnabled, u.TwoFactorSecret)
	created, err := scanUser(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return created, nil
}

func (r *UserRepository) FindByID(ctx context.Context, id int64) (*User, error) {
	row := r.DB.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id=$1`, id)
	return findOne(row)
}

func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*User, error) {
	row := r.DB.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE LOWER(email)=$1`, NormalizeEmail(email))
	return findOne(row)
}

func (r *UserRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := r.DB.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM users WHERE LOWER(email)=$1)`, NormalizeEmail(email)).Scan(&exists)
	return exists, err
}

func (r *UserRepository) List(ctx context.Context) ([]User, error) {
	rows, err := r.DB.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return collectUsers(rows)
}

func (r *UserRepository) ListByRole(ctx context.Context, role Role) ([]User, error) {
	rows, err := r.DB.Query(ctx, `SELECT `+userColumns+` FROM users WHERE role=$1 ORDER BY id`, string(role))
	if err != nil {
		return nil, err
	}
	return collectUsers(rows)
}

func (r *UserRepository) Update(ctx context.Context, id int64, fn func(*User) error) (*User, error) {
	return r.updateWhere(ctx, `id=$1`, id, fn)
}

func (r *UserRepository) UpdateByEmail(ctx context.Context, email string, fn func(*User) error) (*User, error) {
	return r.updateWhere(ctx, `LOWER(email)=$1`, NormalizeEmail(email), fn)
}

// UpdateByResetToken locks the row holding digest. A concurrent caller that
// waited on the lock re-checks the condition after the winner commits and
// finds no row.
func (r *UserRepository) UpdateByResetToken(ctx context.Context, digest string, fn func(*User) error) (*User, error) {
	return r.updateWhere(ctx, `password_reset_token=$1`, digest, fn)
}

func (r *UserRepository) updateWhere(ctx context.Context, cond string, arg any, fn func(*User) error) (*User, error) {
	var out *User
	err := pgx.BeginFunc(ctx, r.DB, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE `+cond+` FOR UPDATE`, arg)
		u, err := scanUser(row)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrUserNotFound
		}
		if err != nil {
			return err
		}

		if err := fn(u); err != nil {
			return err
		}

		row = tx.QueryRow(ctx, `
			UPDATE users SET
				first_name=$2, last_name=$3, email=$4, phone=$5, password=$6, address=$7, role=$8,
				enabled=$9, two_factor_enabled=$10, two_factor_secret=$11,
				password_reset_token=$12, password_reset_token_expiry=$13, updated_at=NOW()
			WHERE id=$1
			RETURNING `+userColumns,
			u.ID, u.FirstName, u.LastName, NormalizeEmail(u.Email), u.Phone, u.PasswordHash, u.Address,
			string(u.Role), u.Enabled, u.TwoFactorEnabled, u.TwoFactorSecret,
			u.PasswordResetToken, u.PasswordResetTokenExpiry)
		out, err = scanUser(row)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
				return ErrEmailTaken
			}
			return fmt.Errorf("update user %d: %w", u.ID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *UserRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.DB.Exec(ctx, `DELETE FROM users WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func findOne(row pgx.Row) (*User, error) {
	u, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return u, err
}

func collectUsers(rows pgx.Rows) ([]User, error) {
	defer rows.Close()

	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

func scanUser(row pgx.Row) (*User, error) {
	var (
		u    User
		role string
	)
	if err := row.Scan(
		&u.ID, &u.FirstName, &u.LastName, &u.Email, &u.Phone, &u.PasswordHash, &u.Address, &role,
		&u.Enabled, &u.TwoFactorEnabled, &u.TwoFactorSecret, &u.PasswordResetToken,
		&u.PasswordResetTokenExpiry, &u.CreatedAt, &u.UpdatedAt,
	); err != nil {
		return nil, err
	}
	u.Role = Role(role)
	return &u, nil
}
