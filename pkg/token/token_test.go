package token

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stormstack/thunder/pkg/errs"
)

const testSecret1 = "0123456789abcdef0123456789abcdef"
const testSecret2 = "fedcba9876543210fedcba9876543210"
const testSecret3 = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"

func TestIssuer_IssueAndVerify(t *testing.T) {
	iss, err := New(testSecret1, time.Hour, time.Hour)
	require.NoError(t, err)

	raw, claims, err := iss.Issue("p1", "m1", "Alice")
	require.NoError(t, err)
	assert.Equal(t, "p1", claims.PlayerID)

	got, err := iss.Verify(raw)
	require.NoError(t, err)
	assert.Equal(t, "p1", got.PlayerID)
	assert.Equal(t, "m1", got.MatchID)
	assert.Equal(t, "Alice", got.PlayerName)
}

func TestIssuer_ShortSecretRejected(t *testing.T) {
	_, err := New("tooshort", time.Hour, time.Hour)
	assert.Error(t, err)
}

func TestIssuer_ExpiredTokenRejected(t *testing.T) {
	iss, err := New(testSecret1, time.Millisecond, time.Hour)
	require.NoError(t, err)

	raw, _, err := iss.Issue("p1", "m1", "Alice")
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)

	_, err = iss.Verify(raw)
	assert.True(t, errs.Is(err, errs.KindTokenExpired))
}

func TestIssuer_TamperedTokenRejected(t *testing.T) {
	iss, err := New(testSecret1, time.Hour, time.Hour)
	require.NoError(t, err)

	raw, _, err := iss.Issue("p1", "m1", "Alice")
	require.NoError(t, err)

	_, err = iss.Verify(raw + "x")
	assert.True(t, errs.Is(err, errs.KindTokenInvalid))
}

func TestIssuer_RotateAcceptsOldTokenDuringGrace(t *testing.T) {
	iss, err := New(testSecret1, time.Hour, time.Hour)
	require.NoError(t, err)

	raw, _, err := iss.Issue("p1", "m1", "Alice")
	require.NoError(t, err)

	require.NoError(t, iss.Rotate(testSecret2))

	got, err := iss.Verify(raw)
	require.NoError(t, err)
	assert.Equal(t, "p1", got.PlayerID)
}

func TestIssuer_NewTokensSignedWithRotatedKey(t *testing.T) {
	iss, err := New(testSecret1, time.Hour, time.Hour)
	require.NoError(t, err)
	require.NoError(t, iss.Rotate(testSecret2))

	raw, _, err := iss.Issue("p2", "m2", "Bob")
	require.NoError(t, err)

	got, err := iss.Verify(raw)
	require.NoError(t, err)
	assert.Equal(t, "p2", got.PlayerID)
}

func TestIssuer_RotateRejectsShortSecret(t *testing.T) {
	iss, err := New(testSecret1, time.Hour, time.Hour)
	require.NoError(t, err)
	assert.Error(t, iss.Rotate("short"))
}

func TestIssuer_VerifyForMatchRejectsWrongMatch(t *testing.T) {
	iss, err := New(testSecret1, time.Hour, time.Hour)
	require.NoError(t, err)

	raw, _, err := iss.Issue("p1", "m1", "Alice")
	require.NoError(t, err)

	_, err = iss.VerifyForMatch(raw, "m2")
	assert.True(t, errs.Is(err, errs.KindTokenInvalid))

	got, err := iss.VerifyForMatch(raw, "m1")
	require.NoError(t, err)
	assert.Equal(t, "m1", got.MatchID)
}

func TestIssuer_VerifyForPlayerRejectsWrongPlayer(t *testing.T) {
	iss, err := New(testSecret1, time.Hour, time.Hour)
	require.NoError(t, err)

	raw, _, err := iss.Issue("p1", "m1", "Alice")
	require.NoError(t, err)

	_, err = iss.VerifyForPlayer(raw, "p2", "m1")
	assert.True(t, errs.Is(err, errs.KindTokenInvalid))

	got, err := iss.VerifyForPlayer(raw, "p1", "m1")
	require.NoError(t, err)
	assert.Equal(t, "p1", got.PlayerID)
}

func TestIssuer_OldKeyRejectedAfterGraceExpires(t *testing.T) {
	iss, err := New(testSecret1, time.Hour, 10*time.Millisecond)
	require.NoError(t, err)

	raw, _, err := iss.Issue("p1", "m1", "Alice")
	require.NoError(t, err)

	require.NoError(t, iss.Rotate(testSecret2))
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, iss.Rotate(testSecret3)) // triggers prune of the fully-expired key

	_, err = iss.Verify(raw)
	assert.True(t, errs.Is(err, errs.KindTokenInvalid))
}
