/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package auth issues and checks the bearer tokens guarding the control API.
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/samber/lo"
)

// Issuer is stamped into every token and required on parse.
const Issuer = "grimnir-automation"

// Operator roles.
const (
	RoleOperator = "operator"
	RoleAdmin    = "admin"
	RoleObserver = "observer"
)

var knownRoles = []string{RoleOperator, RoleAdmin, RoleObserver}

// Claims extends standard registered claims with roles.
type Claims struct {
	UserID string   `json:"uid"`
	Roles  []string `json:"roles"`
	jwt.RegisteredClaims
}

// HasRole reports whether the claims carry any of roles.
func (c *Claims) HasRole(roles ...string) bool {
	return lo.Some(c.Roles, roles)
}

// Issue signs an HS256 token for claims valid for ttl.
func Issue(secret []byte, claims Claims, ttl time.Duration) (string, error) {
	if unknown := lo.Without(claims.Roles, knownRoles...); len(unknown) > 0 {
		return "", fmt.Errorf("unknown roles %v", unknown)
	}
	now := time.Now()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Issuer:    Issuer,
		Subject:   claims.UserID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// Parse validates token string. Only HS256 tokens from Issuer are accepted.
func Parse(secret []byte, token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, err
	}
	if !parsed.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}
