package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecretsManager_EncryptDecryptRoundTrip(t *testing.T) {
	sm, err := NewSecretsManager(DeriveKeyFromClusterID("cluster-a"))
	require.NoError(t, err)

	sealed, err := sm.Encrypt([]byte("signing-key-material"))
	require.NoError(t, err)
	assert.NotEqual(t, "signing-key-material", string(sealed))

	plain, err := sm.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, "signing-key-material", string(plain))
}

func TestSecretsManager_DifferentClusterIDsProduceIncompatibleKeys(t *testing.T) {
	a, err := NewSecretsManager(DeriveKeyFromClusterID("cluster-a"))
	require.NoError(t, err)
	b, err := NewSecretsManager(DeriveKeyFromClusterID("cluster-b"))
	require.NoError(t, err)

	sealed, err := a.Encrypt([]byte("signing-key-material"))
	require.NoError(t, err)

	_, err = b.Decrypt(sealed)
	assert.Error(t, err)
}

func TestNewSecretsManager_RejectsWrongKeyLength(t *testing.T) {
	_, err := NewSecretsManager([]byte("too-short"))
	assert.Error(t, err)
}
