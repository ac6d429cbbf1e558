package claims

import (
	"bytes"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

const testKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func TestSigner_Deterministic(t *testing.T) {
	s, err := NewSignerFromHex(testKey)
	require.NoError(t, err)

	helper := common.HexToAddress("0x1111111111111111111111111111111111111111")

	a, err := s.Sign(helper, 7, 9000)
	require.NoError(t, err)
	b, err := s.Sign(helper, 7, 9000)
	require.NoError(t, err)
	require.Len(t, a, 65)
	require.True(t, bytes.Equal(a, b))
	require.Contains(t, []byte{27, 28}, a[64])

	other := common.HexToAddress("0x2222222222222222222222222222222222222222")
	for _, sig := range [][]byte{
		must(t)(s.Sign(other, 7, 9000)),
		must(t)(s.Sign(helper, 8, 9000)),
		must(t)(s.Sign(helper, 7, 8999)),
	} {
		require.False(t, bytes.Equal(a, sig))
	}
}

func TestSigner_Recover(t *testing.T) {
	s, err := NewSignerFromHex("0x" + testKey)
	require.NoError(t, err)

	helper := common.HexToAddress("0xAbCdEf0123456789aBcDeF0123456789AbCdEf01")
	sig, err := s.Sign(helper, 42, 5000)
	require.NoError(t, err)

	addr, err := RecoverSigner(helper, 42, 5000, sig)
	require.NoError(t, err)
	require.Equal(t, s.Address(), addr)

	addr, err = RecoverSigner(helper, 43, 5000, sig)
	require.NoError(t, err)
	require.NotEqual(t, s.Address(), addr)
}

func TestClaimDigest_Layout(t *testing.T) {
	helper := common.HexToAddress("0x1111111111111111111111111111111111111111")

	digest, err := ClaimDigest(helper, 5, 600)
	require.NoError(t, err)

	packed := append(helper.Bytes(), common.LeftPadBytes(big.NewInt(5).Bytes(), 32)...)
	packed = append(packed, common.LeftPadBytes(big.NewInt(600).Bytes(), 32)...)
	require.Equal(t, crypto.Keccak256(packed), digest)

	msg, err := ClaimMessageHash(helper, 5, 600)
	require.NoError(t, err)
	require.Equal(t, crypto.Keccak256([]byte("\x19Ethereum Signed Message:\n32"), digest), msg)
}

func TestSigner_InvalidInput(t *testing.T) {
	s, err := NewSignerFromHex(testKey)
	require.NoError(t, err)

	_, err = s.Sign(common.Address{}, 1, 100)
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = s.Sign(common.HexToAddress("0x1111111111111111111111111111111111111111"), 1, 10001)
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = NewSignerFromHex("zz")
	require.Error(t, err)
}

func must(t *testing.T) func([]byte, error) []byte {
	return func(b []byte, err error) []byte {
		t.Helper()
		require.NoError(t, err)
		return b
	}
}
