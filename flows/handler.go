package flows

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/panyam/authkit"
)

// Handler serves the flows as JSON endpoints under Config.BasePath:
//
//	GET  /verify-email?identifier=&token=
//	POST /resend-verification      {email}
//	POST /forgot-password          {email|login}
//	GET  /reset-password?login=&token=
//	POST /reset-password           {login, token, password}
//	POST /register                 {login|email, password, name}
//
// Bodies may be JSON, urlencoded or multipart.
func (f *Flows) Handler() http.Handler {
	router := mux.NewRouter()
	sub := router.PathPrefix(f.cfg.BasePath).Subrouter()
	sub.HandleFunc("/verify-email", f.handleVerifyEmail).Methods(http.MethodGet)
	sub.HandleFunc("/resend-verification", f.handleResend).Methods(http.MethodPost)
	sub.HandleFunc("/forgot-password", f.handleForgotPassword).Methods(http.MethodPost)
	sub.HandleFunc("/reset-password", f.handleCheckReset).Methods(http.MethodGet)
	sub.HandleFunc("/reset-password", f.handleResetPassword).Methods(http.MethodPost)
	sub.HandleFunc("/register", f.handleRegister).Methods(http.MethodPost)
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found", "NOT_FOUND")
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", "METHOD_NOT_ALLOWED")
	})
	return router
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg, code string) {
	writeJSON(w, status, map[string]any{"error": msg, "code": code})
}

// writeFlowError maps flow errors to responses. Unknown errors are 500s
// with a generic message.
func (f *Flows) writeFlowError(w http.ResponseWriter, r *http.Request, err error) {
	var policy *PolicyError
	var limited *RateLimitError
	var cfgErr *authkit.ConfigurationError
	switch {
	case errors.As(err, &policy):
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":      "password does not meet policy",
			"code":       "WEAK_PASSWORD",
			"violations": policy.Violations,
		})
	case errors.As(err, &limited):
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(limited.RetryAfter.Seconds()))))
		writeError(w, http.StatusTooManyRequests, err.Error(), "RATE_LIMITED")
	case errors.Is(err, ErrInvalidToken):
		writeError(w, http.StatusBadRequest, err.Error(), "INVALID_TOKEN")
	case errors.Is(err, ErrAlreadyVerified):
		writeError(w, http.StatusConflict, err.Error(), "ALREADY_VERIFIED")
	case errors.Is(err, ErrLoginTaken):
		writeError(w, http.StatusConflict, err.Error(), "LOGIN_TAKEN")
	case errors.Is(err, ErrUnknownLogin):
		writeError(w, http.StatusBadRequest, err.Error(), "UNKNOWN_LOGIN")
	case errors.As(err, &cfgErr):
		f.log.ErrorContext(r.Context(), "flows misconfigured", "error", err)
		writeError(w, http.StatusInternalServerError, "flow not configured", "CONFIGURATION")
	default:
		f.log.ErrorContext(r.Context(), "flow failed", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error", "INTERNAL")
	}
}

func firstOf(form map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := form[k]; v != "" {
			return v
		}
	}
	return ""
}

func (f *Flows) parse(w http.ResponseWriter, r *http.Request) (map[string]string, bool) {
	form, err := authkit.ParseForm(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
		return nil, false
	}
	return form, true
}

func (f *Flows) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	user, err := f.VerifyEmail(r.Context(), q.Get("identifier"), q.Get("token"))
	if err != nil {
		f.writeFlowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Email verified successfully",
		"user":    user,
	})
}

func (f *Flows) handleResend(w http.ResponseWriter, r *http.Request) {
	form, ok := f.parse(w, r)
	if !ok {
		return
	}
	login := firstOf(form, "email", "login")
	if login == "" {
		writeError(w, http.StatusBadRequest, "email required", "MISSING_FIELD")
		return
	}
	if err := f.ResendVerification(r.Context(), login, r); err != nil {
		f.writeFlowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Verification email sent"})
}

func (f *Flows) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	form, ok := f.parse(w, r)
	if !ok {
		return
	}
	login := firstOf(form, "email", "login")
	if login == "" {
		writeError(w, http.StatusBadRequest, "email required", "MISSING_FIELD")
		return
	}
	if err := f.RequestPasswordReset(r.Context(), login, r); err != nil {
		var limited *RateLimitError
		if errors.As(err, &limited) {
			f.writeFlowError(w, r, err)
			return
		}
		// the response must not reveal whether the login exists
		f.log.WarnContext(r.Context(), "password reset request failed", "error", err)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "If that account exists, a reset link has been sent",
	})
}

func (f *Flows) handleCheckReset(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if err := f.CheckResetToken(r.Context(), q.Get("login"), q.Get("token")); err != nil {
		f.writeFlowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"valid": true})
}

func (f *Flows) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	form, ok := f.parse(w, r)
	if !ok {
		return
	}
	login, token, pw := firstOf(form, "login", "email"), form["token"], form["password"]
	if login == "" || token == "" || pw == "" {
		writeError(w, http.StatusBadRequest, "login, token and password required", "MISSING_FIELD")
		return
	}
	if err := f.ResetPassword(r.Context(), login, token, pw); err != nil {
		f.writeFlowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Password updated"})
}

func (f *Flows) handleRegister(w http.ResponseWriter, r *http.Request) {
	form, ok := f.parse(w, r)
	if !ok {
		return
	}
	in := RegisterInput{
		Login:    firstOf(form, "login", "email", "username", "phone"),
		Password: form["password"],
		Name:     form["name"],
		Email:    form["email"],
	}
	if in.Login == "" || in.Password == "" {
		writeError(w, http.StatusBadRequest, "login and password required", "MISSING_FIELD")
		return
	}
	user, err := f.Register(r.Context(), in, r)
	if err != nil {
		f.writeFlowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"user": user})
}
