package http

import (
	"errors"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewValidatorRegistersSymbolTag(t *testing.T) {
	v, err := newValidator()
	require.NoError(t, err)

	type req struct {
		Symbol string `query:"symbol" validate:"required,symbol"`
	}
	for _, ok := range []string{"TCS.NS", "^NSEI", "BRK-B", "EURUSD=X"} {
		assert.NoError(t, v.Struct(req{Symbol: ok}), ok)
	}

	err = v.Struct(req{Symbol: "TCS NS;drop"})
	var fieldErrs validator.ValidationErrors
	require.True(t, errors.As(err, &fieldErrs))
	assert.Equal(t, "symbol", fieldErrs[0].Tag())
	assert.Equal(t, "symbol", fieldErrs[0].Field(), "errors report the query name")
}
