package service

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/akulagin/authd/internal/domain"
	"github.com/akulagin/authd/internal/email"
	internal_errors "github.com/akulagin/authd/internal/errors"
	"github.com/akulagin/authd/internal/logger"
)

type AuthService interface {
	SignUp(params SignUpParams) (domain.User, string, error)
	SignIn(email, password string) (domain.User, string, error)
	Verify(code string) (domain.User, error)
	CurrentUser(token string) (domain.User, error)
}

type SignUpParams struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
}

type AuthStorage interface {
	User(email string) (domain.User, error)
	SaveUserWithVerification(user domain.User, code string) (domain.User, domain.Verification, error)
	VerificationByCode(code string) (domain.Verification, error)
	ConsumeVerification(v domain.Verification) (domain.User, error)
	IsUserVerified(userId int64) (bool, error)
}

type Jwt interface {
	NewToken(user domain.User) (string, error)
	DecodeToken(jwtStr string) (domain.User, error)
}

type Auth struct {
	storage AuthStorage
	email   email.Sender
	jwt     Jwt
}

func NewAuth(storage AuthStorage, email email.Sender, jwt Jwt) *Auth {
	return &Auth{
		storage: storage,
		email:   email,
		jwt:     jwt,
	}
}

// SignUp creates an unverified account, its paired single-use verification
// code and an access token. The user and verification rows are written as
// one atomic unit by the storage layer.
func (a *Auth) SignUp(params SignUpParams) (domain.User, string, error) {
	emailAddr := strings.ToLower(strings.TrimSpace(params.Email))

	_, err := a.storage.User(emailAddr)
	if err == nil {
		return domain.User{}, "", &internal_errors.ErrorWithStatusCode{Message: "User already exists", StatusCode: http.StatusBadRequest}
	}
	if !internal_errors.IsNotFound(err) {
		return domain.User{}, "", err
	}

	passHash, err := bcrypt.GenerateFromPassword([]byte(params.Password), bcrypt.DefaultCost)
	if err != nil {
		logger.Log.Error("failed to hash password", "error", err)
		return domain.User{}, "", err
	}

	user := domain.User{
		Email:        emailAddr,
		FirstName:    sanitizeName(params.FirstName),
		LastName:     sanitizeName(params.LastName),
		Role:         domain.RoleUser,
		PasswordHash: string(passHash),
	}

	code := uuid.NewString()
	saved, verification, err := a.storage.SaveUserWithVerification(user, code)
	if err != nil {
		// concurrent signup with the same email loses the unique-index race
		if internal_errors.IsConflict(err) {
			return domain.User{}, "", &internal_errors.ErrorWithStatusCode{Message: "User already exists", StatusCode: http.StatusBadRequest}
		}
		return domain.User{}, "", err
	}

	emailBody := fmt.Sprintf(`
		Hello,

		Confirm your registration by opening the link below

		/auth/verification/%s

		If you did not request this, please ignore this email.
	`, verification.Code)

	// Delivery failure must not lose the account: the code stays in the
	// store and delivery can be retried out of band.
	if err := a.email.Send(saved.Email, "Please confirm your email address", emailBody); err != nil {
		logger.Log.Warn("failed to send verification email", "user_id", saved.Id, "error", err)
	}

	token, err := a.jwt.NewToken(saved)
	if err != nil {
		logger.Log.Error("failed to create jwt token", "user_id", saved.Id, "error", err)
		return domain.User{}, "", err
	}

	return saved, token, nil
}

// SignIn checks existence, verified flag and password, in that order, each
// short-circuiting, and returns an access token.
func (a *Auth) SignIn(emailAddr, password string) (domain.User, string, error) {
	emailAddr = strings.ToLower(strings.TrimSpace(emailAddr))

	user, err := a.storage.User(emailAddr)
	if err != nil {
		if internal_errors.IsNotFound(err) {
			return domain.User{}, "", &internal_errors.ErrorWithStatusCode{Message: "User does not exist", StatusCode: http.StatusBadRequest}
		}
		return domain.User{}, "", err
	}

	if !user.IsVerified {
		return domain.User{}, "", &internal_errors.ErrorWithStatusCode{Message: "User is not verified", StatusCode: http.StatusBadRequest}
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		logger.Log.Debug("password verification failed", "user_id", user.Id)
		return domain.User{}, "", &internal_errors.ErrorWithStatusCode{Message: "Password is incorrect", StatusCode: http.StatusBadRequest}
	}

	token, err := a.jwt.NewToken(user)
	if err != nil {
		logger.Log.Error("failed to create jwt token", "user_id", user.Id, "error", err)
		return domain.User{}, "", err
	}

	return user, token, nil
}

// Verify consumes a verification code: the owning user's flag flips to
// verified and the code is deleted in the same transaction, so a second
// call with the same code always fails.
func (a *Auth) Verify(code string) (domain.User, error) {
	verification, err := a.storage.VerificationByCode(code)
	if err != nil {
		if internal_errors.IsNotFound(err) {
			return domain.User{}, &internal_errors.ErrorWithStatusCode{Message: "Verification does not exist", StatusCode: http.StatusBadRequest}
		}
		return domain.User{}, err
	}

	verified, err := a.storage.IsUserVerified(verification.UserId)
	if err != nil {
		return domain.User{}, err
	}
	if verified {
		return domain.User{}, &internal_errors.ErrorWithStatusCode{Message: "User is already verified", StatusCode: http.StatusBadRequest}
	}

	user, err := a.storage.ConsumeVerification(verification)
	if err != nil {
		if internal_errors.IsNotFound(err) {
			// someone else consumed the code between lookup and delete
			return domain.User{}, &internal_errors.ErrorWithStatusCode{Message: "Verification does not exist", StatusCode: http.StatusBadRequest}
		}
		return domain.User{}, err
	}

	return user, nil
}

// CurrentUser verifies the token (signature and expiry, never a bare
// decode) and returns the fresh user row for its email claim.
func (a *Auth) CurrentUser(token string) (domain.User, error) {
	claims, err := a.jwt.DecodeToken(token)
	if err != nil {
		return domain.User{}, err
	}

	user, err := a.storage.User(strings.ToLower(claims.Email))
	if err != nil {
		if internal_errors.IsNotFound(err) {
			return domain.User{}, &internal_errors.ErrorWithStatusCode{Message: "User does not exist", StatusCode: http.StatusBadRequest}
		}
		return domain.User{}, err
	}

	return user, nil
}
