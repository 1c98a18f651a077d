package model

import appErr "github.com/xxxsen/notevault/internal/pkg/errors"

const (
	ShareStateActive   = 1
	ShareStateInactive = 2
)

type ShareToken struct {
	Token      string          `json:"token"`
	DocumentID string          `json:"document_id"`
	IssuedBy   string          `json:"issued_by"`
	Permission SharePermission `json:"permission"`
	ExpiresAt  int64           `json:"expires_at"`
	MaxUses    int64           `json:"max_uses"`
	UsageCount int64           `json:"usage_count"`
	Revoked    bool            `json:"revoked"`
	State      int             `json:"state"`
	LastUsedAt int64           `json:"last_used_at"`
	Ctime      int64           `json:"ctime"`
	Mtime      int64           `json:"mtime"`
}

// TokenVerdict is the outcome of checking a token against its guards at a given time.
type TokenVerdict int

const (
	TokenUsable TokenVerdict = iota
	TokenRevoked
	TokenExpired
	TokenExhausted
)

// Check evaluates the guards in a fixed order: revocation, expiry, quota.
// Expiry never depends on usage.
func (t *ShareToken) Check(now int64) TokenVerdict {
	if t.Revoked {
		return TokenRevoked
	}
	if t.ExpiresAt > 0 && now >= t.ExpiresAt {
		return TokenExpired
	}
	if t.MaxUses > 0 && t.UsageCount >= t.MaxUses {
		return TokenExhausted
	}
	return TokenUsable
}

// Err maps a failed verdict to its terminal error; TokenUsable maps to nil.
func (v TokenVerdict) Err() error {
	switch v {
	case TokenRevoked:
		return appErr.ErrTokenRevoked
	case TokenExpired:
		return appErr.ErrTokenExpired
	case TokenExhausted:
		return appErr.ErrTokenExhausted
	}
	return nil
}
