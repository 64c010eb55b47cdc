package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptSecretsRoundTrip(t *testing.T) {
	tmpDir := t.TempDir()
	password := "test-password-12345"
	secrets := map[string]string{
		"ANTHROPIC_API_KEY": "sk-ant-test123",
		"OPENAI_API_KEY":    "sk-test-openai",
	}

	require.NoError(t, EncryptSecretsFile(tmpDir, password, secrets))

	secretsPath := filepath.Join(tmpDir, DefaultConfigDir, secretsFileName)
	info, err := os.Stat(secretsPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	decrypted, err := DecryptSecretsFile(tmpDir, password)
	require.NoError(t, err)
	assert.Equal(t, secrets, decrypted)
}

func TestDecryptWithWrongPassword(t *testing.T) {
	tmpDir := t.TempDir()
	secrets := map[string]string{"ANTHROPIC_API_KEY": "sk-ant-test123"}

	require.NoError(t, EncryptSecretsFile(tmpDir, "correct-password", secrets))

	_, err := DecryptSecretsFile(tmpDir, "wrong-password")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decryption failed")
}

func TestSecretsFileExists(t *testing.T) {
	tmpDir := t.TempDir()
	assert.False(t, SecretsFileExists(tmpDir))

	require.NoError(t, EncryptSecretsFile(tmpDir, "test-password", map[string]string{"ANTHROPIC_API_KEY": "x"}))
	assert.True(t, SecretsFileExists(tmpDir))
}

func TestGetSecretPrecedence(t *testing.T) {
	LoadDecryptedSecrets(map[string]string{"TEST_SECRET": "from-secrets-file"})
	defer LoadDecryptedSecrets(nil)

	os.Setenv("TEST_SECRET", "from-env-var")
	defer os.Unsetenv("TEST_SECRET")

	secret, err := GetSecret("TEST_SECRET")
	require.NoError(t, err)
	assert.Equal(t, "from-secrets-file", secret)

	LoadDecryptedSecrets(map[string]string{"OTHER_SECRET": "other-value"})
	secret, err = GetSecret("TEST_SECRET")
	require.NoError(t, err)
	assert.Equal(t, "from-env-var", secret)

	LoadDecryptedSecrets(nil)
	os.Unsetenv("TEST_SECRET")
	_, err = GetSecret("TEST_SECRET")
	assert.Error(t, err)
}

func TestCorruptedSecretsFile(t *testing.T) {
	tmpDir := t.TempDir()
	dir := filepath.Join(tmpDir, DefaultConfigDir)
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, secretsFileName), []byte("corrupted"), 0600))

	_, err := DecryptSecretsFile(tmpDir, "any-password")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "corrupted or invalid format")
}

func TestEmptySecrets(t *testing.T) {
	tmpDir := t.TempDir()
	require.NoError(t, EncryptSecretsFile(tmpDir, "test-password", map[string]string{}))

	decrypted, err := DecryptSecretsFile(tmpDir, "test-password")
	require.NoError(t, err)
	assert.Empty(t, decrypted)
}
