// Package auth provides identity, sessions, email verification and the
// tenancy permission predicates for Mongard.
package auth

import "errors"

// Errors returned by the identity and tenancy layers. The HTTP surface maps
// them onto stable status codes; ErrPermissionDenied deliberately never
// reveals whether a row is missing or a role is wrong.
var (
	ErrAuthFailed        = errors.New("invalid email or password")
	ErrEmailNotVerified  = errors.New("email not verified")
	ErrPermissionDenied  = errors.New("permission denied")
	ErrNotMember         = errors.New("user is not a member of this organization")
	ErrSessionExpired    = errors.New("session expired")
	ErrTokenNotFound     = errors.New("verification token not found")
	ErrTokenExpired      = errors.New("verification token has expired")
	ErrTokenAlreadyUsed  = errors.New("verification token has already been used")
	ErrAlreadyVerified   = errors.New("email is already verified")
	ErrInvitationInvalid = errors.New("invitation is invalid or no longer pending")
	ErrEmailMismatch     = errors.New("invitation email does not match the account")
	ErrLastAdmin         = errors.New("organization must retain at least one admin")
)
