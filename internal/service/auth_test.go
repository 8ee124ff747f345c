package service

import (
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/akulagin/authd/internal/domain"
	internal_errors "github.com/akulagin/authd/internal/errors"
)

// --- Mocks ---

type MockAuthStorage struct {
	UserFunc                     func(email string) (domain.User, error)
	SaveUserWithVerificationFunc func(user domain.User, code string) (domain.User, domain.Verification, error)
	VerificationByCodeFunc       func(code string) (domain.Verification, error)
	ConsumeVerificationFunc      func(v domain.Verification) (domain.User, error)
	IsUserVerifiedFunc           func(userId int64) (bool, error)
}

func notFound(message string) error {
	return &internal_errors.ErrorWithStatusCode{Message: message, StatusCode: http.StatusNotFound}
}

func (m *MockAuthStorage) User(email string) (domain.User, error) {
	if m.UserFunc != nil {
		return m.UserFunc(email)
	}
	return domain.User{}, notFound("User not found")
}

func (m *MockAuthStorage) SaveUserWithVerification(user domain.User, code string) (domain.User, domain.Verification, error) {
	if m.SaveUserWithVerificationFunc != nil {
		return m.SaveUserWithVerificationFunc(user, code)
	}
	user.Id = 1
	return user, domain.Verification{Id: 1, UserId: 1, Code: code}, nil
}

func (m *MockAuthStorage) VerificationByCode(code string) (domain.Verification, error) {
	if m.VerificationByCodeFunc != nil {
		return m.VerificationByCodeFunc(code)
	}
	return domain.Verification{}, notFound("Verification not found")
}

func (m *MockAuthStorage) ConsumeVerification(v domain.Verification) (domain.User, error) {
	if m.ConsumeVerificationFunc != nil {
		return m.ConsumeVerificationFunc(v)
	}
	return domain.User{Id: v.UserId, IsVerified: true}, nil
}

func (m *MockAuthStorage) IsUserVerified(userId int64) (bool, error) {
	if m.IsUserVerifiedFunc != nil {
		return m.IsUserVerifiedFunc(userId)
	}
	return false, nil
}

type MockSender struct {
	SendFunc func(recipientEmail, subject, body string) error
}

func (m *MockSender) Send(recipientEmail, subject, body string) error {
	if m.SendFunc != nil {
		return m.SendFunc(recipientEmail, subject, body)
	}
	return nil
}

type MockJwt struct {
	NewTokenFunc    func(user domain.User) (string, error)
	DecodeTokenFunc func(jwtStr string) (domain.User, error)
}

func (m *MockJwt) NewToken(user domain.User) (string, error) {
	if m.NewTokenFunc != nil {
		return m.NewTokenFunc(user)
	}
	return "test_token", nil
}

func (m *MockJwt) DecodeToken(jwtStr string) (domain.User, error) {
	if m.DecodeTokenFunc != nil {
		return m.DecodeTokenFunc(jwtStr)
	}
	return domain.User{}, &internal_errors.ErrorWithStatusCode{Message: "Unauthorized request", StatusCode: http.StatusUnauthorized}
}

func newTestAuth(storage *MockAuthStorage, sender *MockSender, jwt *MockJwt) *Auth {
	if storage == nil {
		storage = &MockAuthStorage{}
	}
	if sender == nil {
		sender = &MockSender{}
	}
	if jwt == nil {
		jwt = &MockJwt{}
	}
	return NewAuth(storage, sender, jwt)
}

func assertBusinessError(t *testing.T, err error, message string) {
	t.Helper()
	var e *internal_errors.ErrorWithStatusCode
	require.ErrorAs(t, err, &e)
	assert.Equal(t, message, e.Message)
	assert.Equal(t, http.StatusBadRequest, e.StatusCode)
}

var signUpParams = SignUpParams{
	Email:     "A@B.com",
	Password:  "password123",
	FirstName: "Ivan",
	LastName:  "Petrov",
}

// --- SignUp ---

func TestSignUpSuccess(t *testing.T) {
	var savedUser domain.User
	var savedCode string
	storage := &MockAuthStorage{
		SaveUserWithVerificationFunc: func(user domain.User, code string) (domain.User, domain.Verification, error) {
			savedUser = user
			savedCode = code
			user.Id = 42
			return user, domain.Verification{Id: 7, UserId: 42, Code: code}, nil
		},
	}
	var sentBody string
	sender := &MockSender{
		SendFunc: func(recipientEmail, subject, body string) error {
			sentBody = body
			return nil
		},
	}

	auth := newTestAuth(storage, sender, nil)
	user, token, err := auth.SignUp(signUpParams)

	require.NoError(t, err)
	assert.Equal(t, "test_token", token)
	assert.Equal(t, int64(42), user.Id)

	assert.Equal(t, "a@b.com", savedUser.Email, "email must be lowercased")
	assert.Equal(t, domain.RoleUser, savedUser.Role)
	assert.False(t, savedUser.IsVerified)
	assert.NotEqual(t, signUpParams.Password, savedUser.PasswordHash)
	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(savedUser.PasswordHash), []byte(signUpParams.Password)))

	require.NotEmpty(t, savedCode)
	assert.Contains(t, sentBody, savedCode, "verification email must carry the code")
}

func TestSignUpSanitizesNames(t *testing.T) {
	var savedUser domain.User
	storage := &MockAuthStorage{
		SaveUserWithVerificationFunc: func(user domain.User, code string) (domain.User, domain.Verification, error) {
			savedUser = user
			return user, domain.Verification{Code: code}, nil
		},
	}

	auth := newTestAuth(storage, nil, nil)
	params := signUpParams
	params.FirstName = "<script>alert(1)</script>Ivan"
	_, _, err := auth.SignUp(params)

	require.NoError(t, err)
	assert.Equal(t, "Ivan", savedUser.FirstName)
}

func TestSignUpUserExists(t *testing.T) {
	storage := &MockAuthStorage{
		UserFunc: func(email string) (domain.User, error) {
			return domain.User{Id: 1, Email: email}, nil
		},
	}

	auth := newTestAuth(storage, nil, nil)
	_, _, err := auth.SignUp(signUpParams)

	assertBusinessError(t, err, "User already exists")
}

func TestSignUpLosesUniqueIndexRace(t *testing.T) {
	storage := &MockAuthStorage{
		SaveUserWithVerificationFunc: func(user domain.User, code string) (domain.User, domain.Verification, error) {
			return domain.User{}, domain.Verification{}, &internal_errors.ErrorWithStatusCode{Message: "User already exists", StatusCode: http.StatusConflict}
		},
	}

	auth := newTestAuth(storage, nil, nil)
	_, _, err := auth.SignUp(signUpParams)

	assertBusinessError(t, err, "User already exists")
}

func TestSignUpStorageError(t *testing.T) {
	mockErr := errors.New("connection refused")
	storage := &MockAuthStorage{
		SaveUserWithVerificationFunc: func(user domain.User, code string) (domain.User, domain.Verification, error) {
			return domain.User{}, domain.Verification{}, mockErr
		},
	}

	auth := newTestAuth(storage, nil, nil)
	_, _, err := auth.SignUp(signUpParams)

	require.ErrorIs(t, err, mockErr)
}

func TestSignUpEmailFailureDoesNotLoseAccount(t *testing.T) {
	sender := &MockSender{
		SendFunc: func(recipientEmail, subject, body string) error {
			return errors.New("smtp down")
		},
	}

	auth := newTestAuth(nil, sender, nil)
	_, token, err := auth.SignUp(signUpParams)

	require.NoError(t, err)
	assert.Equal(t, "test_token", token)
}

// --- SignIn ---

func verifiedUser(t *testing.T, password string) domain.User {
	t.Helper()
	passHash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	require.NoError(t, err)
	return domain.User{Id: 1, Email: "a@b.com", PasswordHash: string(passHash), IsVerified: true}
}

func TestSignInSuccess(t *testing.T) {
	stored := verifiedUser(t, "password123")
	storage := &MockAuthStorage{
		UserFunc: func(email string) (domain.User, error) { return stored, nil },
	}

	auth := newTestAuth(storage, nil, nil)
	user, token, err := auth.SignIn("A@B.com", "password123")

	require.NoError(t, err)
	assert.Equal(t, "test_token", token)
	assert.Equal(t, stored.Id, user.Id)
}

func TestSignInUnknownUser(t *testing.T) {
	auth := newTestAuth(nil, nil, nil)
	_, _, err := auth.SignIn("nobody@b.com", "password123")

	assertBusinessError(t, err, "User does not exist")
}

func TestSignInUnverifiedCheckedBeforePassword(t *testing.T) {
	stored := verifiedUser(t, "password123")
	stored.IsVerified = false
	storage := &MockAuthStorage{
		UserFunc: func(email string) (domain.User, error) { return stored, nil },
	}

	auth := newTestAuth(storage, nil, nil)
	// wrong password too: the verified check must win
	_, _, err := auth.SignIn("a@b.com", "wrongpassword")

	assertBusinessError(t, err, "User is not verified")
}

func TestSignInWrongPassword(t *testing.T) {
	stored := verifiedUser(t, "password123")
	storage := &MockAuthStorage{
		UserFunc: func(email string) (domain.User, error) { return stored, nil },
	}

	auth := newTestAuth(storage, nil, nil)
	_, _, err := auth.SignIn("a@b.com", "wrongpassword")

	assertBusinessError(t, err, "Password is incorrect")
}

// --- Verify ---

func TestVerifyUnknownCode(t *testing.T) {
	auth := newTestAuth(nil, nil, nil)
	_, err := auth.Verify("no-such-code")

	assertBusinessError(t, err, "Verification does not exist")
}

func TestVerifyAlreadyVerified(t *testing.T) {
	storage := &MockAuthStorage{
		VerificationByCodeFunc: func(code string) (domain.Verification, error) {
			return domain.Verification{Id: 1, UserId: 2, Code: code}, nil
		},
		IsUserVerifiedFunc: func(userId int64) (bool, error) { return true, nil },
	}

	auth := newTestAuth(storage, nil, nil)
	_, err := auth.Verify("code")

	assertBusinessError(t, err, "User is already verified")
}

func TestVerifyConsumesCode(t *testing.T) {
	consumed := false
	storage := &MockAuthStorage{
		VerificationByCodeFunc: func(code string) (domain.Verification, error) {
			return domain.Verification{Id: 1, UserId: 2, Code: code}, nil
		},
		ConsumeVerificationFunc: func(v domain.Verification) (domain.User, error) {
			consumed = true
			return domain.User{Id: v.UserId, IsVerified: true}, nil
		},
	}

	auth := newTestAuth(storage, nil, nil)
	user, err := auth.Verify("code")

	require.NoError(t, err)
	assert.True(t, consumed)
	assert.True(t, user.IsVerified)
}

func TestVerifyConcurrentConsumeFails(t *testing.T) {
	storage := &MockAuthStorage{
		VerificationByCodeFunc: func(code string) (domain.Verification, error) {
			return domain.Verification{Id: 1, UserId: 2, Code: code}, nil
		},
		ConsumeVerificationFunc: func(v domain.Verification) (domain.User, error) {
			return domain.User{}, notFound("Verification not found")
		},
	}

	auth := newTestAuth(storage, nil, nil)
	_, err := auth.Verify("code")

	assertBusinessError(t, err, "Verification does not exist")
}

// --- CurrentUser ---

func TestCurrentUserSuccess(t *testing.T) {
	stored := domain.User{Id: 1, Email: "a@b.com", IsVerified: true}
	storage := &MockAuthStorage{
		UserFunc: func(email string) (domain.User, error) {
			assert.Equal(t, "a@b.com", email)
			return stored, nil
		},
	}
	jwt := &MockJwt{
		DecodeTokenFunc: func(jwtStr string) (domain.User, error) {
			return domain.User{Id: 1, Email: "A@B.com"}, nil
		},
	}

	auth := newTestAuth(storage, nil, jwt)
	user, err := auth.CurrentUser("token")

	require.NoError(t, err)
	assert.Equal(t, stored, user)
}

func TestCurrentUserBadToken(t *testing.T) {
	auth := newTestAuth(nil, nil, nil)
	_, err := auth.CurrentUser("garbage")

	var e *internal_errors.ErrorWithStatusCode
	require.ErrorAs(t, err, &e)
	assert.Equal(t, http.StatusUnauthorized, e.StatusCode)
}

func TestCurrentUserDeletedAfterTokenIssued(t *testing.T) {
	jwt := &MockJwt{
		DecodeTokenFunc: func(jwtStr string) (domain.User, error) {
			return domain.User{Id: 1, Email: "a@b.com"}, nil
		},
	}

	auth := newTestAuth(nil, nil, jwt)
	_, err := auth.CurrentUser("token")

	assertBusinessError(t, err, "User does not exist")
}

// --- Hashing properties ---

func TestPasswordHashingRoundTrip(t *testing.T) {
	for _, password := range []string{"password123", "p@$$w0rd!", strings.Repeat("x", 60)} {
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		require.NoError(t, err)

		assert.NotEqual(t, password, string(hash))
		assert.NoError(t, bcrypt.CompareHashAndPassword(hash, []byte(password)))
		assert.Error(t, bcrypt.CompareHashAndPassword(hash, []byte("wrong"+password)))
	}
}
