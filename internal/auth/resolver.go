package auth

import (
	"context"

	"door-monitor/internal/api"
	"door-monitor/internal/logger"
	"door-monitor/internal/model"
)

type IdentityLookup interface {
	Me(ctx context.Context, token string) (api.Identity, error)
}

type Source string

const (
	SourceDemo     Source = "demo"
	SourceBackend  Source = "backend"
	SourceToken    Source = "token"
	SourceFallback Source = "fallback"
)

type Resolution struct {
	Role model.Role
	// Label is the role string as reported, e.g. "auditor" for the middle tier.
	Label    string
	Username string
	Demo     bool
	// Invalid means the token could not be decoded and should be discarded.
	Invalid bool
	Source  Source
}

type Resolver struct {
	lookup IdentityLookup
}

func NewResolver(lookup IdentityLookup) *Resolver {
	return &Resolver{lookup: lookup}
}

// Resolve always yields a role. Demo tokens are decoded locally; other tokens
// go to the identity endpoint first and fall back to the token payload.
// Anything undecodable resolves to viewer.
func (r *Resolver) Resolve(ctx context.Context, token string) Resolution {
	if token == "" {
		return Resolution{Role: model.RoleViewer, Invalid: true, Source: SourceFallback}
	}

	if IsDemo(token) {
		res := fromPayload(token)
		res.Demo = true
		if !res.Invalid {
			res.Source = SourceDemo
		}
		return res
	}

	if r.lookup != nil {
		id, err := r.lookup.Me(ctx, token)
		if err == nil {
			role, _ := model.ParseRole(id.Role)
			return Resolution{Role: role, Label: id.Role, Username: id.Username, Source: SourceBackend}
		}
		logger.Debugf("identity lookup failed, decoding token locally: %v", err)
	}

	return fromPayload(token)
}

func fromPayload(token string) Resolution {
	claims, err := DecodePayload(token)
	if err != nil {
		return Resolution{Role: model.RoleViewer, Invalid: true, Source: SourceFallback}
	}

	username, _ := claims["sub"].(string)
	label, ok := RoleFromClaims(claims)
	if !ok {
		return Resolution{Role: model.RoleViewer, Username: username, Source: SourceFallback}
	}
	role, known := model.ParseRole(label)
	if !known {
		return Resolution{Role: model.RoleViewer, Label: label, Username: username, Source: SourceFallback}
	}
	return Resolution{Role: role, Label: label, Username: username, Source: SourceToken}
}
