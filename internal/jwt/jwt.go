package jwt

import (
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/akulagin/authd/internal/domain"
	internal_errors "github.com/akulagin/authd/internal/errors"
	"github.com/akulagin/authd/internal/logger"
)

type JwtService interface {
	NewToken(user domain.User) (string, error)
	DecodeToken(jwtStr string) (domain.User, error)
}

type Jwt struct {
	secretKey string
	ttl       time.Duration
}

func New(secretKey string, ttl time.Duration) *Jwt {
	return &Jwt{secretKey, ttl}
}

// NewToken signs the user record into an HS256 token expiring after ttl.
func (j *Jwt) NewToken(user domain.User) (string, error) {
	claims := jwt.MapClaims{
		"uid":       user.Id,
		"email":     user.Email,
		"firstname": user.FirstName,
		"lastname":  user.LastName,
		"role":      string(user.Role),
		"verified":  user.IsVerified,
		"exp":       time.Now().Add(j.ttl).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(j.secretKey))
	if err != nil {
		logger.Log.Error("failed to sign token", "error", err)
		return "", &internal_errors.ErrorWithStatusCode{Message: "Can't create token", StatusCode: http.StatusInternalServerError}
	}

	return tokenString, nil
}

// DecodeToken verifies signature and expiration and returns the embedded
// user claims. Every caller gets the strict path; there is no unverified
// decode.
func (j *Jwt) DecodeToken(jwtStr string) (domain.User, error) {
	unauthorized := &internal_errors.ErrorWithStatusCode{Message: "Unauthorized request", StatusCode: http.StatusUnauthorized}

	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}))
	token, err := parser.Parse(jwtStr, func(token *jwt.Token) (interface{}, error) {
		return []byte(j.secretKey), nil
	})
	if err != nil {
		logger.Log.Debug("token verification failed", "error", err)
		return domain.User{}, unauthorized
	}
	if !token.Valid {
		return domain.User{}, unauthorized
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return domain.User{}, unauthorized
	}
	return userFromClaims(claims)
}

func userFromClaims(claims jwt.MapClaims) (domain.User, error) {
	invalid := &internal_errors.ErrorWithStatusCode{Message: "Invalid token claims", StatusCode: http.StatusUnauthorized}

	uid, ok := claims["uid"].(float64)
	if !ok {
		return domain.User{}, invalid
	}
	email, ok := claims["email"].(string)
	if !ok {
		return domain.User{}, invalid
	}
	firstName, ok := claims["firstname"].(string)
	if !ok {
		return domain.User{}, invalid
	}
	lastName, ok := claims["lastname"].(string)
	if !ok {
		return domain.User{}, invalid
	}
	role, ok := claims["role"].(string)
	if !ok {
		return domain.User{}, invalid
	}
	verified, ok := claims["verified"].(bool)
	if !ok {
		return domain.User{}, invalid
	}

	return domain.User{
		Id:         int64(uid),
		Email:      email,
		FirstName:  firstName,
		LastName:   lastName,
		Role:       domain.Role(role),
		IsVerified: verified,
	}, nil
}
