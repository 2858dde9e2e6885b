package credstore

import (
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// Grant is the persisted OAuth2 authorization: an access/refresh token pair
// plus the scopes it was issued for.
type Grant struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type,omitempty"`
	Expiry       time.Time `json:"expiry"`
	Scope        []string  `json:"scope"`
}

// Complete reports whether both tokens are present. A grant that is not
// complete must never be used or persisted.
func (g *Grant) Complete() bool {
	return g != nil && g.AccessToken != "" && g.RefreshToken != ""
}

// Token converts the grant for use with golang.org/x/oauth2.
func (g *Grant) Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  g.AccessToken,
		RefreshToken: g.RefreshToken,
		TokenType:    g.TokenType,
		Expiry:       g.Expiry,
	}
}

// FromToken builds a grant from a token endpoint response. The scope
// reported by the endpoint wins over the requested one when present.
func FromToken(tok *oauth2.Token, requested []string) *Grant {
	scope := requested
	if s, ok := tok.Extra("scope").(string); ok && strings.TrimSpace(s) != "" {
		scope = strings.Fields(s)
	}
	return &Grant{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		Expiry:       tok.Expiry,
		Scope:        append([]string(nil), scope...),
	}
}
