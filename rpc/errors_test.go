package rpc

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestServerErrorPanicsOutsideReservedBand(t *testing.T) {
	assert.Panics(t, func() { ServerError(-1, "bad") })
	assert.NotPanics(t, func() { ServerError(-32050, "ok") })
}

func TestToJSONErrorWrapsPlainError(t *testing.T) {
	je := toJSONError(errors.New("boom"))
	assert.Equal(t, CodeInternalError, je.Code)
	assert.Equal(t, "boom", je.Message)
}

func TestToJSONErrorPreservesRPCCode(t *testing.T) {
	je := toJSONError(&methodNotFoundError{"x_y"})
	assert.Equal(t, CodeMethodNotFound, je.Code)
}

func TestToJSONErrorCarriesData(t *testing.T) {
	err := ServerError(-32010, "custom", map[string]int{"n": 1})
	je := toJSONError(err)
	assert.Equal(t, -32010, je.Code)
	assert.NotNil(t, je.Data)
}

func TestRestartNeededErrorUnwraps(t *testing.T) {
	cause := errors.New("eof")
	err := &RestartNeededError{Cause: cause}
	assert.ErrorIs(t, err, cause)
}
