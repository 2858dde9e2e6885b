package models

import "errors"

var (
	// ErrUserDenied means the user refused consent on the authorization page.
	ErrUserDenied = errors.New("user denied authorization")
	// ErrCallbackTimeout means no authorization callback arrived in time.
	ErrCallbackTimeout = errors.New("timed out waiting for authorization callback")
	// ErrTokenExchange covers failures of the code-for-token exchange.
	ErrTokenExchange = errors.New("token exchange failed")
	// ErrTokenRefresh covers failures of the refresh-token exchange.
	ErrTokenRefresh = errors.New("token refresh failed")

	ErrMalformedExtraction = errors.New("malformed extraction output")
	ErrInvalidEventDate    = errors.New("invalid date")
	ErrRemoteInsertion     = errors.New("remote insertion failed")
)
