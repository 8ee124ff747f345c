package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/akulagin/authd/internal/domain"
	"github.com/akulagin/authd/internal/service"
	"github.com/akulagin/authd/internal/validation"
)

const jwtCookieName = "jwt"

type signUpRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"firstname"`
	LastName  string `json:"lastname"`
}

func (r *signUpRequest) payload() map[string]string {
	return map[string]string{
		"email":     r.Email,
		"password":  r.Password,
		"firstname": r.FirstName,
		"lastname":  r.LastName,
	}
}

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (r *signInRequest) payload() map[string]string {
	return map[string]string{
		"email":    r.Email,
		"password": r.Password,
	}
}

// Rule tables are static: one predicate and one message per field.
// Bcrypt truncates input at 72 bytes, hence the upper bound.
var signUpRules = validation.Rules{
	"email": {
		Validator: validation.IsEmail,
		Message:   "Please enter a valid email address",
	},
	"firstname": {
		Validator: validation.LengthBetween(1, 20),
		Message:   "Please enter your first name",
	},
	"lastname": {
		Validator: validation.LengthBetween(1, 20),
		Message:   "Please enter your last name",
	},
	"password": {
		Validator: validation.LengthBetween(8, 72),
		Message:   "Please enter a valid password",
	},
}

var signInRules = validation.Rules{
	"email": {
		Validator: validation.IsEmail,
		Message:   "Please enter a valid email address",
	},
	"password": {
		Validator: validation.NotEmpty,
		Message:   "Please enter a password",
	},
}

func (h *Handler) SignUp(w http.ResponseWriter, r *http.Request) {
	var req signUpRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if errs := validation.Body(req.payload(), signUpRules); len(errs) > 0 {
		writeValidationErrors(w, errs)
		return
	}

	user, token, err := h.auth.SignUp(service.SignUpParams{
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	h.setJwtCookie(w, token)
	writeJSON(w, http.StatusOK, envelope{
		Message: "User created successfully",
		Data:    map[string]domain.User{"user": user},
	})
}

func (h *Handler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if errs := validation.Body(req.payload(), signInRules); len(errs) > 0 {
		writeValidationErrors(w, errs)
		return
	}

	user, token, err := h.auth.SignIn(req.Email, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}

	h.setJwtCookie(w, token)
	writeJSON(w, http.StatusOK, envelope{
		Message: "User signed in successfully",
		Data:    map[string]domain.User{"user": user},
	})
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	token, ok := tokenFromRequest(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Please sign-in"})
		return
	}

	user, err := h.auth.CurrentUser(token)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, envelope{
		Message: "User fetched successfully",
		Data:    map[string]domain.User{"user": user},
	})
}

func (h *Handler) Verification(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	if code == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Verification code is required"})
		return
	}

	user, err := h.auth.Verify(code)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, envelope{
		Message: "User verified successfully",
		Data:    map[string]domain.User{"user": user},
	})
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	cookie := &http.Cookie{
		Path:     "/",
		Name:     jwtCookieName,
		Value:    "",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cfg.Public.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	}
	http.SetCookie(w, cookie)

	writeJSON(w, http.StatusOK, envelope{Message: "User signed out successfully"})
}

func (h *Handler) setJwtCookie(w http.ResponseWriter, token string) {
	cookie := &http.Cookie{
		Path:     "/",
		Name:     jwtCookieName,
		Value:    token,
		MaxAge:   int(h.cfg.JwtTTL().Seconds()),
		HttpOnly: true,
		Secure:   h.cfg.Public.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	}
	http.SetCookie(w, cookie)
}
