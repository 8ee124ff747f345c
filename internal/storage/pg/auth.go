package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/lib/pq"

	"github.com/akulagin/authd/internal/domain"
	internal_errors "github.com/akulagin/authd/internal/errors"
)

const opTimeout = 5 * time.Second

// =========================================================================
// Public Methods (satisfy the service.AuthStorage interface)
// =========================================================================

// User is a public, read-only method to fetch a user by their email. It uses
// the main database connection pool for efficiency.
func (s *Storage) User(email string) (domain.User, error) {
	return s.user(s.db, email)
}

// SaveUserWithVerification inserts the user row and its paired verification
// code as a single atomic unit: if the verification insert fails, the user
// row is rolled back.
func (s *Storage) SaveUserWithVerification(user domain.User, code string) (domain.User, domain.Verification, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var saved domain.User
	var verification domain.Verification
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		saved, err = s.saveUser(tx, user)
		if err != nil {
			return err
		}
		verification, err = s.saveVerification(tx, saved.Id, code)
		return err
	})
	if err != nil {
		return domain.User{}, domain.Verification{}, err
	}
	return saved, verification, nil
}

// VerificationByCode is a public, read-only lookup of a verification row.
func (s *Storage) VerificationByCode(code string) (domain.Verification, error) {
	return s.verificationByCode(s.db, code)
}

// ConsumeVerification deletes the verification row and flips the owning
// user's verified flag in one transaction. Deleting first claims the code,
// so two concurrent consumers cannot both succeed.
func (s *Storage) ConsumeVerification(v domain.Verification) (domain.User, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var user domain.User
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.deleteVerification(tx, v.Id); err != nil {
			return err
		}
		var err error
		user, err = s.updateUserVerified(tx, v.UserId)
		return err
	})
	if err != nil {
		return domain.User{}, err
	}
	return user, nil
}

// IsUserVerified is a public, read-only check of the verified flag.
func (s *Storage) IsUserVerified(userId int64) (bool, error) {
	return s.isUserVerified(s.db, userId)
}

// DeleteUser is the public entry point for deleting a user account. The
// schema's ON DELETE CASCADE removes any outstanding verification rows.
func (s *Storage) DeleteUser(email string) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		return s.deleteUser(tx, email)
	})
}

// =========================================================================
// Internal Methods (Core Database Logic)
// These methods accept a Querier and are transaction-agnostic.
// =========================================================================

func (s *Storage) saveUser(q Querier, user domain.User) (domain.User, error) {
	err := q.QueryRow(`
        INSERT INTO users(email, first_name, last_name, role, password_hash, is_verified)
        VALUES($1, $2, $3, $4, $5, $6)
        RETURNING id, created_at, updated_at`,
		user.Email, user.FirstName, user.LastName, user.Role, user.PasswordHash, user.IsVerified,
	).Scan(&user.Id, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.User{}, &internal_errors.ErrorWithStatusCode{Message: "User already exists", StatusCode: http.StatusConflict}
		}
		return domain.User{}, fmt.Errorf("failed to insert user: %w", err)
	}
	return user, nil
}

func (s *Storage) user(q Querier, email string) (domain.User, error) {
	var user domain.User
	err := q.QueryRow(`
        SELECT id, email, first_name, last_name, role, password_hash, is_verified,
               (created_at at time zone 'utc'), (updated_at at time zone 'utc')
        FROM users WHERE email = $1`,
		email,
	).Scan(&user.Id, &user.Email, &user.FirstName, &user.LastName, &user.Role,
		&user.PasswordHash, &user.IsVerified, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.User{}, &internal_errors.ErrorWithStatusCode{Message: "User not found", StatusCode: http.StatusNotFound}
		}
		return domain.User{}, fmt.Errorf("failed to query user: %w", err)
	}
	return user, nil
}

func (s *Storage) updateUserVerified(q Querier, userId int64) (domain.User, error) {
	var user domain.User
	err := q.QueryRow(`
        UPDATE users SET is_verified = TRUE, updated_at = now()
        WHERE id = $1
        RETURNING id, email, first_name, last_name, role, password_hash, is_verified,
                  (created_at at time zone 'utc'), (updated_at at time zone 'utc')`,
		userId,
	).Scan(&user.Id, &user.Email, &user.FirstName, &user.LastName, &user.Role,
		&user.PasswordHash, &user.IsVerified, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.User{}, &internal_errors.ErrorWithStatusCode{Message: "User not found", StatusCode: http.StatusNotFound}
		}
		return domain.User{}, fmt.Errorf("failed to update user verified flag: %w", err)
	}
	return user, nil
}

func (s *Storage) deleteUser(q Querier, email string) error {
	result, err := q.Exec("DELETE FROM users WHERE email = $1", email)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	rowsDeleted, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check affected rows for user deletion: %w", err)
	}
	if rowsDeleted == 0 {
		return &internal_errors.ErrorWithStatusCode{Message: "User not found for deletion", StatusCode: http.StatusNotFound}
	}
	return nil
}

func (s *Storage) saveVerification(q Querier, userId int64, code string) (domain.Verification, error) {
	v := domain.Verification{UserId: userId, Code: code}
	err := q.QueryRow("INSERT INTO verifications(user_id, code) VALUES($1, $2) RETURNING id",
		userId, code).Scan(&v.Id)
	if err != nil {
		return domain.Verification{}, fmt.Errorf("failed to insert verification: %w", err)
	}
	return v, nil
}

func (s *Storage) verificationByCode(q Querier, code string) (domain.Verification, error) {
	var v domain.Verification
	err := q.QueryRow("SELECT id, user_id, code FROM verifications WHERE code = $1", code).
		Scan(&v.Id, &v.UserId, &v.Code)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Verification{}, &internal_errors.ErrorWithStatusCode{Message: "Verification not found", StatusCode: http.StatusNotFound}
		}
		return domain.Verification{}, fmt.Errorf("failed to query verification: %w", err)
	}
	return v, nil
}

func (s *Storage) deleteVerification(q Querier, id int64) error {
	result, err := q.Exec("DELETE FROM verifications WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete verification: %w", err)
	}
	rowsDeleted, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check affected rows for verification deletion: %w", err)
	}
	if rowsDeleted == 0 {
		return &internal_errors.ErrorWithStatusCode{Message: "Verification not found", StatusCode: http.StatusNotFound}
	}
	return nil
}

func (s *Storage) isUserVerified(q Querier, userId int64) (bool, error) {
	var verified bool
	err := q.QueryRow("SELECT is_verified FROM users WHERE id = $1", userId).Scan(&verified)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, &internal_errors.ErrorWithStatusCode{Message: "User not found", StatusCode: http.StatusNotFound}
		}
		return false, fmt.Errorf("failed to query verified flag: %w", err)
	}
	return verified, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation"
}
