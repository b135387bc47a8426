package auth

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/mossfield/farmstead/internal/apperror"
)

// Handler handles HTTP requests for authentication and the password flows.
// Responses carry outcomes only; one-time codes and reset codes travel by
// mail and never appear in a payload.
type Handler struct {
	service AuthService

	// secureCookies is off in development so the app works over plain
	// HTTP on localhost.
	secureCookies bool
	sessionTTL    time.Duration
}

// NewHandler creates a new auth handler.
func NewHandler(service AuthService, secureCookies bool, sessionTTL time.Duration) *Handler {
	return &Handler{service: service, secureCookies: secureCookies, sessionTTL: sessionTTL}
}

// Login handles POST /login.
func (h *Handler) Login(c echo.Context) error {
	var req LoginRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}

	token, session, err := h.service.Login(c.Request().Context(), LoginInput{
		Username:   req.Username,
		Password:   req.Password,
		SourceAddr: c.RealIP(),
	})
	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return apperror.NewUnauthorized("Invalid username or password.")
	case errors.Is(err, ErrAccountBlocked):
		return apperror.NewForbidden("Your account has been blocked. Please contact an administrator.")
	case err != nil:
		return err
	}

	h.setSessionCookie(c, token)
	return c.JSON(http.StatusOK, map[string]any{
		"username": session.Username,
		"role":     session.Role,
	})
}

// Logout handles POST /logout.
func (h *Handler) Logout(c echo.Context) error {
	if cookie, err := c.Cookie(SessionCookieName); err == nil && cookie.Value != "" {
		if err := h.service.Logout(c.Request().Context(), cookie.Value, c.RealIP()); err != nil {
			return err
		}
	}
	h.clearSessionCookie(c)
	return c.JSON(http.StatusOK, map[string]string{"message": "Logged out."})
}

// Me handles GET /account/me and returns the session identity.
func (h *Handler) Me(c echo.Context) error {
	session := GetSession(c)
	return c.JSON(http.StatusOK, map[string]any{
		"user_id":  session.UserID,
		"username": session.Username,
		"role":     session.Role,
	})
}

// StartPasswordChange handles POST /account/password/change. On success a
// confirmation code has been mailed; the response says only that.
func (h *Handler) StartPasswordChange(c echo.Context) error {
	var req ChangePasswordStartRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}

	err := h.service.RequestPasswordChange(c.Request().Context(),
		GetSessionToken(c), req.CurrentPassword, c.RealIP())
	if errors.Is(err, ErrWrongPassword) {
		return apperror.NewUnauthorized("Current password is incorrect.")
	}
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, map[string]string{
		"message": "A confirmation code has been sent to your email address.",
	})
}

// ConfirmPasswordChange handles POST /account/password/confirm.
func (h *Handler) ConfirmPasswordChange(c echo.Context) error {
	var req ChangePasswordConfirmRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}

	err := h.service.ConfirmPasswordChange(c.Request().Context(),
		GetSessionToken(c), req, c.RealIP())
	switch {
	case errors.Is(err, ErrChallengeMissing):
		return apperror.NewBadRequest("No password change in progress. Start over.")
	case errors.Is(err, ErrChallengeExpired):
		return apperror.NewBadRequest("The confirmation code has expired. Start over.")
	case errors.Is(err, ErrCodeMismatch):
		return apperror.NewBadRequest("Incorrect confirmation code.")
	case err != nil:
		return err
	}

	return c.JSON(http.StatusOK, map[string]string{"message": "Password changed."})
}

// ForgotPassword handles POST /forgot-password.
func (h *Handler) ForgotPassword(c echo.Context) error {
	var req ForgotPasswordRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}

	err := h.service.RequestPasswordReset(c.Request().Context(), req.Email, c.RealIP())
	if apperror.IsNotFound(err) {
		return apperror.NewNotFound("No account found for that email address.")
	}
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, map[string]string{
		"message": "A reset link and code have been sent to your email address.",
	})
}

// VerifyResetCode handles POST /reset-password/verify.
func (h *Handler) VerifyResetCode(c echo.Context) error {
	var req VerifyResetRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}

	err := h.service.VerifyResetCode(c.Request().Context(), req.Token, req.Code)
	switch {
	case errors.Is(err, ErrInvalidOrExpired):
		return apperror.NewBadRequest("This reset link is invalid or has expired.")
	case errors.Is(err, ErrCodeMismatch):
		return apperror.NewBadRequest("Incorrect code. Check your email and try again.")
	case err != nil:
		return err
	}

	return c.JSON(http.StatusOK, map[string]string{"message": "Code verified. Choose a new password."})
}

// CompletePasswordReset handles POST /reset-password.
func (h *Handler) CompletePasswordReset(c echo.Context) error {
	var req CompleteResetRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}

	err := h.service.CompletePasswordReset(c.Request().Context(), req, c.RealIP())
	if errors.Is(err, ErrInvalidOrExpired) {
		return apperror.NewBadRequest("This reset link is invalid or has expired.")
	}
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, map[string]string{
		"message": "Password reset. You can now log in with your new password.",
	})
}

func (h *Handler) setSessionCookie(c echo.Context, token string) {
	c.SetCookie(&http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(h.sessionTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *Handler) clearSessionCookie(c echo.Context) {
	c.SetCookie(&http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}
