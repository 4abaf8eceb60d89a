package httpapi

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/stormstack/thunder/pkg/errs"
)

// JoinToken is a short-lived, operator-minted credential that gates
// cluster membership as an additional factor on top of the bearer
// scope check: a node.register caller needs both a scoped bearer
// token and one of these.
type JoinToken struct {
	Token     string    `json:"token"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (t *JoinToken) expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// JoinTokenManager mints and validates join tokens. It is optional:
// a nil *JoinTokenManager on Deps leaves node registration gated only
// by the bearer scope.
type JoinTokenManager struct {
	mu       sync.RWMutex
	tokens   map[string]*JoinToken
	required bool
}

// NewJoinTokenManager constructs a manager. required controls whether
// registerNode rejects requests with no join token at all.
func NewJoinTokenManager(required bool) *JoinTokenManager {
	return &JoinTokenManager{
		tokens:   make(map[string]*JoinToken),
		required: required,
	}
}

// Required reports whether node registration must present a token.
func (m *JoinTokenManager) Required() bool {
	if m == nil {
		return false
	}
	return m.required
}

// Generate mints a new random 32-byte join token for role, valid for ttl.
func (m *JoinTokenManager) Generate(role string, ttl time.Duration) (*JoinToken, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, errs.Wrap(errs.KindInternal, err, "generating join token")
	}

	now := time.Now()
	jt := &JoinToken{
		Token:     hex.EncodeToString(raw),
		Role:      role,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}

	m.mu.Lock()
	m.tokens[jt.Token] = jt
	m.mu.Unlock()

	return jt, nil
}

// Validate succeeds if the token is present and unexpired, erroring
// otherwise. A valid token is not consumed: it stays usable until it
// expires or is revoked. An expired token is dropped when it is seen.
func (m *JoinTokenManager) Validate(raw string) error {
	if raw == "" {
		return errs.New(errs.KindUnauthorized, "join token required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	jt, ok := m.tokens[raw]
	if !ok {
		return errs.New(errs.KindUnauthorized, "unknown join token")
	}
	if jt.expired(time.Now()) {
		delete(m.tokens, raw)
		return errs.New(errs.KindUnauthorized, "join token expired")
	}
	return nil
}

// Revoke invalidates a token ahead of its expiry.
func (m *JoinTokenManager) Revoke(raw string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tokens, raw)
}

// CleanupExpired drops every token past its expiry.
func (m *JoinTokenManager) CleanupExpired() {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, jt := range m.tokens {
		if jt.expired(now) {
			delete(m.tokens, k)
		}
	}
}

// List returns a snapshot of all outstanding tokens, for operator visibility.
func (m *JoinTokenManager) List() []*JoinToken {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*JoinToken, 0, len(m.tokens))
	for _, jt := range m.tokens {
		cp := *jt
		out = append(out, &cp)
	}
	return out
}

type mintJoinTokenRequest struct {
	Role string `json:"role"`
	TTL  string `json:"ttl"`
}

func (h *handlers) mintJoinToken(w http.ResponseWriter, r *http.Request) {
	if h.deps.JoinTokens == nil {
		RespondError(w, errs.New(errs.KindUnavailable, "join tokens are not enabled on this control plane"))
		return
	}

	var req mintJoinTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, errs.New(errs.KindInvalidArgument, "decoding join token request: %v", err))
		return
	}

	ttl := 15 * time.Minute
	if req.TTL != "" {
		parsed, err := time.ParseDuration(req.TTL)
		if err != nil {
			RespondError(w, errs.New(errs.KindInvalidArgument, "invalid ttl: %v", err))
			return
		}
		ttl = parsed
	}

	jt, err := h.deps.JoinTokens.Generate(req.Role, ttl)
	if err != nil {
		RespondError(w, err)
		return
	}
	Respond(w, http.StatusCreated, jt)
}
