package signing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	body := []byte(`{"chain_id":1,"block_number":18000000}`)
	sig := Sign("s3cret", body)

	require.NotEmpty(t, sig)
	assert.True(t, Verify("s3cret", body, sig))
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	body := []byte(`{"x":1}`)
	sig := Sign("right", body)

	assert.False(t, Verify("wrong", body, sig))
}

func TestVerifyRejectsTamperedBody(t *testing.T) {
	sig := Sign("s", []byte(`{"x":1}`))
	assert.False(t, Verify("s", []byte(`{"x":2}`), sig))
}

func TestVerifyRejectsMalformedHex(t *testing.T) {
	assert.False(t, Verify("s", []byte("body"), "not-hex"))
}

func TestSignIsLowercaseHex(t *testing.T) {
	sig := Sign("s", []byte("body"))
	for _, r := range sig {
		assert.False(t, r >= 'A' && r <= 'F')
	}
}
