package password

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

var testParams = Params{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}

func TestHashVerify(t *testing.T) {
	h := NewHasher(testParams)

	hash, err := h.Hash("s3cret")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(hash, "$argon2id$v=19$m=1024,t=1,p=1$"))

	ok, err := h.Verify(hash, "s3cret")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = h.Verify(hash, "wrong")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestHashIsSalted(t *testing.T) {
	h := NewHasher(testParams)
	a, err := h.Hash("same")
	require.NoError(t, err)
	b, err := h.Hash("same")
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}

func TestVerifyAcceptsBcrypt(t *testing.T) {
	legacy, err := bcrypt.GenerateFromPassword([]byte("123456"), bcrypt.MinCost)
	require.NoError(t, err)

	h := NewHasher(testParams)
	ok, err := h.Verify(string(legacy), "123456")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = h.Verify(string(legacy), "654321")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestVerifyRejectsUnknownFormat(t *testing.T) {
	h := NewHasher(testParams)
	_, err := h.Verify("plaintext", "plaintext")
	require.ErrorIs(t, err, ErrUnsupportedHash)

	_, err = h.Verify("$argon2id$v=19$broken", "x")
	require.ErrorIs(t, err, ErrUnsupportedHash)
}
