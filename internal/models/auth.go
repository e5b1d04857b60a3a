package models

import (
	"github.com/golang-jwt/jwt/v5"
)

// JWTClaims represents the JWT payload for access tokens.
type JWTClaims struct {
	UserID   string   `json:"user_id"`
	Role     UserRole `json:"role"`
	Email    string   `json:"email"`
	FullName string   `json:"full_name"`
	jwt.RegisteredClaims
}

// Actor is the identity snapshot the review workflow acts on behalf of.
type Actor struct {
	UserID string
	Name   string
	Role   UserRole
}

// ActorFromClaims derives an actor from verified token claims.
func ActorFromClaims(claims *JWTClaims) *Actor {
	if claims == nil {
		return nil
	}
	name := claims.FullName
	if name == "" {
		name = claims.Email
	}
	return &Actor{UserID: claims.UserID, Name: name, Role: claims.Role}
}

// UserInfo is the public identity returned to clients.
type UserInfo struct {
	ID       string   `json:"id"`
	Email    string   `json:"email"`
	FullName string   `json:"full_name"`
	Role     UserRole `json:"role"`
}
