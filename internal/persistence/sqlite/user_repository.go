package sqlite

import (
	"context"
	"database/sql"
	"strings"

	"github.com/example/eventhub/internal/persistence"
	"github.com/example/eventhub/internal/query"
)

const userColumns = `id, name, email, password_hash, role, active, photo, tagline, bio, interests, favorites,
	private_favorites, password_changed_at, password_reset_token, password_reset_expires, created_at, updated_at`

// UserRepository implements persistence.UserRepository using SQLite.
type UserRepository struct {
	pool *ConnectionPool
}

// NewUserRepository creates a new SQLite user repository.
func NewUserRepository(pool *ConnectionPool) *UserRepository {
	return &UserRepository{pool: pool}
}

// CreateUser inserts a new user. Emails are stored lowercased.
func (r *UserRepository) CreateUser(ctx context.Context, user persistence.User) error {
	if user.ID == "" || user.PasswordHash == "" {
		return persistence.ErrConstraintViolation
	}
	args, err := userArgs(user)
	if err != nil {
		return err
	}

	stmt := `INSERT INTO users (` + userColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := r.pool.DB().ExecContext(ctx, stmt, args...); err != nil {
		return mapError(err)
	}
	return nil
}

// UpdateUser overwrites every mutable column of an existing user.
func (r *UserRepository) UpdateUser(ctx context.Context, user persistence.User) error {
	if user.ID == "" || user.PasswordHash == "" {
		return persistence.ErrConstraintViolation
	}
	args, err := userArgs(user)
	if err != nil {
		return err
	}

	stmt := `
		UPDATE users
		SET name = ?, email = ?, password_hash = ?, role = ?, active = ?, photo = ?, tagline = ?, bio = ?,
			interests = ?, favorites = ?, private_favorites = ?, password_changed_at = ?,
			password_reset_token = ?, password_reset_expires = ?, updated_at = ?
		WHERE id = ?`
	// args[0] is the id and args[15] is created_at, which never changes.
	updateArgs := append(append([]any{}, args[1:15]...), args[16], args[0])
	result, err := r.pool.DB().ExecContext(ctx, stmt, updateArgs...)
	if err != nil {
		return mapError(err)
	}
	return expectAffected(result)
}

// GetUser retrieves a user by id.
func (r *UserRepository) GetUser(ctx context.Context, id string) (persistence.User, error) {
	if id == "" {
		return persistence.User{}, persistence.ErrNotFound
	}
	row := r.pool.DB().QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	return scanUser(row)
}

// GetUserByEmail performs a case-insensitive lookup.
func (r *UserRepository) GetUserByEmail(ctx context.Context, email string) (persistence.User, error) {
	email = normalizeEmail(email)
	if email == "" {
		return persistence.User{}, persistence.ErrNotFound
	}
	row := r.pool.DB().QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, email)
	return scanUser(row)
}

// GetUserByResetToken looks a user up by the hash of a password reset token.
// Expiry is checked by the caller.
func (r *UserRepository) GetUserByResetToken(ctx context.Context, tokenHash string) (persistence.User, error) {
	if tokenHash == "" {
		return persistence.User{}, persistence.ErrNotFound
	}
	row := r.pool.DB().QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE password_reset_token = ?`, tokenHash)
	return scanUser(row)
}

// FindUsers returns the users matching q and the total match count.
func (r *UserRepository) FindUsers(ctx context.Context, q query.Query) ([]persistence.User, int, error) {
	c, err := usersCollection.compile(q)
	if err != nil {
		return nil, 0, err
	}

	stmt, args := c.selectSQL("users", userColumns)
	rows, err := r.pool.DB().QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, 0, mapError(err)
	}
	defer rows.Close()

	users := make([]persistence.User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, mapError(err)
	}

	total, err := countRows(ctx, r.pool.DB(), c, "users", len(users))
	if err != nil {
		return nil, 0, err
	}
	return users, total, nil
}

// DeleteUser removes a user permanently. Bookings keep their user id.
func (r *UserRepository) DeleteUser(ctx context.Context, id string) error {
	if id == "" {
		return persistence.ErrNotFound
	}
	result, err := r.pool.DB().ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return mapError(err)
	}
	return expectAffected(result)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (persistence.User, error) {
	var (
		user                  persistence.User
		role                  string
		interests, favorites  string
		changedAt, resetToken sql.NullString
		resetExpires          sql.NullString
		createdAt, updatedAt  string
	)
	err := row.Scan(
		&user.ID, &user.Name, &user.Email, &user.PasswordHash, &role, &user.Active,
		&user.Photo, &user.Tagline, &user.Bio, &interests, &favorites, &user.PrivateFavorites,
		&changedAt, &resetToken, &resetExpires, &createdAt, &updatedAt,
	)
	if err != nil {
		return persistence.User{}, mapError(err)
	}

	user.Role = persistence.Role(role)
	user.PasswordResetToken = resetToken.String
	if user.Interests, err = decodeStrings(interests); err != nil {
		return persistence.User{}, err
	}
	if user.Favorites, err = decodeStrings(favorites); err != nil {
		return persistence.User{}, err
	}
	if user.PasswordChangedAt, err = parseNullTime(changedAt); err != nil {
		return persistence.User{}, err
	}
	if user.PasswordResetExpires, err = parseNullTime(resetExpires); err != nil {
		return persistence.User{}, err
	}
	if user.CreatedAt, err = parseTime(createdAt); err != nil {
		return persistence.User{}, err
	}
	if user.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return persistence.User{}, err
	}
	return user, nil
}

// userArgs returns the column values in userColumns order.
func userArgs(user persistence.User) ([]any, error) {
	interests, err := encodeStrings(user.Interests)
	if err != nil {
		return nil, err
	}
	favorites, err := encodeStrings(user.Favorites)
	if err != nil {
		return nil, err
	}
	role := user.Role
	if role == "" {
		role = persistence.RoleUser
	}
	return []any{
		user.ID,
		user.Name,
		normalizeEmail(user.Email),
		user.PasswordHash,
		string(role),
		user.Active,
		user.Photo,
		user.Tagline,
		user.Bio,
		interests,
		favorites,
		user.PrivateFavorites,
		formatNullTime(user.PasswordChangedAt),
		nullString(user.PasswordResetToken),
		formatNullTime(user.PasswordResetExpires),
		formatTime(user.CreatedAt),
		formatTime(user.UpdatedAt),
	}, nil
}

func countRows(ctx context.Context, q queryer, c compiled, table string, fetched int) (int, error) {
	if !c.paged {
		return fetched, nil
	}
	stmt, args := c.countSQL(table)
	var total int
	if err := q.QueryRowContext(ctx, stmt, args...).Scan(&total); err != nil {
		return 0, mapError(err)
	}
	return total, nil
}

// normalizeEmail normalizes email addresses for consistent storage and lookup.
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
