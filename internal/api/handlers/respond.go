// Package handlers implements the Mongard HTTP API. Every response uses
// one envelope: successes carry success:true plus the payload, failures
// carry success:false plus a stable message that never leaks internals.
package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mongardhq/mongard/internal/auth"
	"github.com/mongardhq/mongard/internal/backup"
	"github.com/mongardhq/mongard/internal/crypto"
	"github.com/mongardhq/mongard/internal/db"
	"github.com/mongardhq/mongard/internal/mongoconn"
	"github.com/mongardhq/mongard/internal/storage"
)

// respond writes the success envelope with the given payload merged in.
func respond(c *gin.Context, status int, payload gin.H) {
	if payload == nil {
		payload = gin.H{}
	}
	payload["success"] = true
	c.JSON(status, payload)
}

// respondValidation reports a request shape problem.
func respondValidation(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": msg})
}

// respondError translates an error onto the envelope. Decryption failures
// surface as permission denials and an unmapped error becomes a plain
// internal error, logged with its cause.
func respondError(c *gin.Context, logger zerolog.Logger, err error) {
	status, msg := statusForError(err)
	if status == http.StatusInternalServerError {
		logger.Error().Err(err).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Msg("request failed")
	}
	c.JSON(status, gin.H{"success": false, "error": msg})
}

func statusForError(err error) (int, string) {
	switch {
	case errors.Is(err, auth.ErrAuthFailed):
		return http.StatusUnauthorized, "invalid email or password"
	case errors.Is(err, auth.ErrSessionExpired):
		return http.StatusUnauthorized, "session expired"
	case errors.Is(err, auth.ErrEmailNotVerified):
		return http.StatusForbidden, "email address not verified"
	case errors.Is(err, auth.ErrPermissionDenied),
		errors.Is(err, auth.ErrNotMember),
		errors.Is(err, crypto.ErrDecryptionFailed),
		errors.Is(err, crypto.ErrInvalidCiphertext):
		return http.StatusForbidden, "permission denied"
	case errors.Is(err, db.ErrNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, db.ErrDuplicate):
		return http.StatusConflict, "already exists"
	case errors.Is(err, db.ErrBackupAlreadyRunning):
		return http.StatusConflict, "backup already running for this schedule"
	case errors.Is(err, auth.ErrLastAdmin):
		return http.StatusBadRequest, "an organization needs at least one admin"
	case errors.Is(err, auth.ErrAlreadyVerified):
		return http.StatusBadRequest, "email already verified"
	case errors.Is(err, auth.ErrTokenNotFound),
		errors.Is(err, auth.ErrTokenExpired),
		errors.Is(err, auth.ErrTokenAlreadyUsed):
		return http.StatusBadRequest, "invalid or expired token"
	case errors.Is(err, auth.ErrInvitationInvalid),
		errors.Is(err, auth.ErrEmailMismatch):
		return http.StatusBadRequest, "invalid invitation"
	case errors.Is(err, backup.ErrScheduleDisabled):
		return http.StatusBadRequest, "schedule is disabled"
	case errors.Is(err, storage.ErrNotConnected):
		return http.StatusBadRequest, "drive account not connected"
	case errors.Is(err, storage.ErrDestinationUnavailable):
		return http.StatusBadRequest, "destination backend not configured"
	case errors.Is(err, mongoconn.ErrTimeout):
		return http.StatusGatewayTimeout, "mongodb operation timed out"
	case errors.Is(err, mongoconn.ErrUnreachable):
		return http.StatusBadGateway, "mongodb deployment unreachable"
	case errors.Is(err, context.Canceled):
		return http.StatusBadRequest, "request cancelled"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

// bindJSON binds the request body, reporting schema problems on the
// envelope. Returns false when it already responded.
func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		respondValidation(c, "invalid request: "+err.Error())
		return false
	}
	return true
}

// pathUUID parses a :name path segment as a UUID. Returns false when it
// already responded.
func pathUUID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		respondValidation(c, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}
