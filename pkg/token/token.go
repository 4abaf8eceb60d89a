// Package token implements C6: self-issued, HMAC-SHA256 signed match
// auth tokens, following the same go-jose signer/verifier shape the
// corpus uses for its own session tokens, generalized to support key
// rotation with a grace-period verifier chain.
package token

import (
	"fmt"
	"sync"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"

	"github.com/stormstack/thunder/pkg/errs"
	"github.com/stormstack/thunder/pkg/metrics"
	"github.com/stormstack/thunder/pkg/types"
)

const issuer = "stormstack-thunder"

// claims is the wire shape of a match token, combining the registered
// JWT claims with the domain-specific ones.
type claims struct {
	PlayerID   string `json:"player_id"`
	MatchID    string `json:"match_id"`
	PlayerName string `json:"player_name"`
}

// signingKey pairs a key with the id it is referenced by during
// rotation.
type signingKey struct {
	id        string
	secret    []byte
	retiredAt time.Time // zero while active
}

// Issuer issues and verifies match auth tokens, with support for
// rotating the signing key while still accepting tokens signed by the
// previous key until its grace period elapses.
type Issuer struct {
	ttl   time.Duration
	grace time.Duration

	mu   sync.RWMutex
	keys []signingKey // keys[0] is always the active signing key
}

// New constructs an Issuer with secret as the initial signing key.
// secret must be at least 32 bytes.
func New(secret string, ttl, rotationGrace time.Duration) (*Issuer, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("match token signing key must be at least 32 bytes, got %d", len(secret))
	}
	return &Issuer{
		ttl:   ttl,
		grace: rotationGrace,
		keys:  []signingKey{{id: "k1", secret: []byte(secret)}},
	}, nil
}

// Rotate installs newSecret as the active signing key. Tokens signed by
// the previous key continue to verify until rotationGrace elapses.
func (iss *Issuer) Rotate(newSecret string) error {
	if len(newSecret) < 32 {
		return fmt.Errorf("match token signing key must be at least 32 bytes, got %d", len(newSecret))
	}

	iss.mu.Lock()
	defer iss.mu.Unlock()

	now := time.Now()
	for i := range iss.keys {
		if iss.keys[i].retiredAt.IsZero() {
			iss.keys[i].retiredAt = now
		}
	}

	newID := fmt.Sprintf("k%d", len(iss.keys)+1)
	iss.keys = append([]signingKey{{id: newID, secret: []byte(newSecret)}}, iss.keys...)
	iss.pruneExpiredLocked(now)
	return nil
}

func (iss *Issuer) pruneExpiredLocked(now time.Time) {
	var live []signingKey
	for _, k := range iss.keys {
		if k.retiredAt.IsZero() || now.Sub(k.retiredAt) < iss.grace {
			live = append(live, k)
		}
	}
	iss.keys = live
}

// Issue mints a match auth token for (playerID, matchID, playerName).
func (iss *Issuer) Issue(playerID, matchID, playerName string) (string, *types.MatchTokenClaims, error) {
	iss.mu.RLock()
	active := iss.keys[0]
	iss.mu.RUnlock()

	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.HS256, Key: active.secret},
		(&jose.SignerOptions{}).WithType("JWT").WithHeader("kid", active.id),
	)
	if err != nil {
		return "", nil, errs.Wrap(errs.KindInternal, err, "creating token signer")
	}

	now := time.Now()
	expiresAt := now.Add(iss.ttl)
	registered := jwt.Claims{
		Subject:   playerID,
		Issuer:    issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		Expiry:    jwt.NewNumericDate(expiresAt),
		NotBefore: jwt.NewNumericDate(now),
	}
	custom := claims{PlayerID: playerID, MatchID: matchID, PlayerName: playerName}

	raw, err := jwt.Signed(signer).Claims(registered).Claims(custom).Serialize()
	if err != nil {
		return "", nil, errs.Wrap(errs.KindInternal, err, "signing match token")
	}

	metrics.TokensIssuedTotal.Inc()
	return raw, &types.MatchTokenClaims{
		PlayerID:   playerID,
		MatchID:    matchID,
		PlayerName: playerName,
		IssuedAt:   now,
		ExpiresAt:  expiresAt,
	}, nil
}

// Verify checks a match token's signature against every key still
// within its grace period and validates its expiry.
func (iss *Issuer) Verify(raw string) (*types.MatchTokenClaims, error) {
	tok, err := jwt.ParseSigned(raw, []jose.SignatureAlgorithm{jose.HS256})
	if err != nil {
		metrics.TokenVerificationsTotal.WithLabelValues("invalid").Inc()
		return nil, errs.Wrap(errs.KindTokenInvalid, err, "parsing match token")
	}

	iss.mu.RLock()
	keys := append([]signingKey(nil), iss.keys...)
	iss.mu.RUnlock()

	var registered jwt.Claims
	var custom claims
	verifyErr := fmt.Errorf("no signing key within its grace period")
	now := time.Now()
	for _, k := range keys {
		if !k.retiredAt.IsZero() && now.Sub(k.retiredAt) >= iss.grace {
			continue
		}
		if err := tok.Claims(k.secret, &registered, &custom); err != nil {
			verifyErr = err
			continue
		}
		verifyErr = nil
		break
	}
	if verifyErr != nil {
		metrics.TokenVerificationsTotal.WithLabelValues("invalid").Inc()
		return nil, errs.Wrap(errs.KindTokenInvalid, verifyErr, "verifying match token signature")
	}

	if err := registered.ValidateWithLeeway(jwt.Expected{Issuer: issuer, Time: time.Now()}, 0); err != nil {
		metrics.TokenVerificationsTotal.WithLabelValues("expired").Inc()
		return nil, errs.Wrap(errs.KindTokenExpired, err, "match token is expired or not yet valid")
	}

	metrics.TokenVerificationsTotal.WithLabelValues("valid").Inc()
	return &types.MatchTokenClaims{
		PlayerID:   custom.PlayerID,
		MatchID:    custom.MatchID,
		PlayerName: custom.PlayerName,
		IssuedAt:   registered.IssuedAt.Time(),
		ExpiresAt:  registered.Expiry.Time(),
	}, nil
}

// VerifyForMatch verifies raw and additionally requires its match_id
// claim to equal expectedMatchID.
func (iss *Issuer) VerifyForMatch(raw, expectedMatchID string) (*types.MatchTokenClaims, error) {
	claims, err := iss.Verify(raw)
	if err != nil {
		return nil, err
	}
	if claims.MatchID != expectedMatchID {
		return nil, errs.New(errs.KindTokenInvalid, "match token is not valid for match %s", expectedMatchID)
	}
	return claims, nil
}

// VerifyForPlayer verifies raw for expectedMatchID and additionally
// requires its player_id claim to equal expectedPlayerID.
func (iss *Issuer) VerifyForPlayer(raw, expectedPlayerID, expectedMatchID string) (*types.MatchTokenClaims, error) {
	claims, err := iss.VerifyForMatch(raw, expectedMatchID)
	if err != nil {
		return nil, err
	}
	if claims.PlayerID != expectedPlayerID {
		return nil, errs.New(errs.KindTokenInvalid, "match token is not valid for player %s", expectedPlayerID)
	}
	return claims, nil
}
