package errkind

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyByErrorsIs(t *testing.T) {
	underlying := errors.New("connection reset")
	wrapped := Transient(underlying)

	assert.True(t, errors.Is(wrapped, ErrTransient))
	assert.True(t, errors.Is(wrapped, underlying))
	assert.False(t, errors.Is(wrapped, ErrPermanent))
}

func TestWrapPreservesUnderlyingMessage(t *testing.T) {
	underlying := fmt.Errorf("dial tcp: timeout")
	wrapped := Poison(underlying)

	assert.Contains(t, wrapped.Error(), "timeout")
}

func TestCircuitOpenWithNilErr(t *testing.T) {
	err := CircuitOpen(nil)
	assert.True(t, errors.Is(err, ErrCircuitOpen))
	assert.Equal(t, ErrCircuitOpen.Error(), err.Error())
}

func TestExitCodes(t *testing.T) {
	assert.Equal(t, 0, ExitCode(nil))
	assert.Equal(t, 1, ExitCode(Config(errors.New("x"))))
	assert.Equal(t, 3, ExitCode(Permanent(errors.New("x"))))
	assert.Equal(t, 1, ExitCode(Transient(errors.New("x"))))
	assert.Equal(t, 1, ExitCode(errors.New("unclassified")))
}
