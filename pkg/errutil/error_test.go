package errutil

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSentinelMatchesAfterWrapping(t *testing.T) {
	sentinel := Conflict("submission is not pending", nil)

	wrapped := fmt.Errorf("approve: %w", sentinel)
	require.ErrorIs(t, wrapped, sentinel)

	withCause := Conflict("submission is not pending", errors.New("rows affected 0"))
	require.ErrorIs(t, withCause, sentinel)

	require.NotErrorIs(t, NotFound("submission is not pending", nil), sentinel)
}

func TestStatusOf(t *testing.T) {
	code, ok := StatusOf(fmt.Errorf("x: %w", ValidationFailed("bad", nil)))
	require.True(t, ok)
	require.Equal(t, StatusValidationFailed, code)
	require.Equal(t, http.StatusBadRequest, code.HTTPStatus())

	_, ok = StatusOf(errors.New("plain"))
	require.False(t, ok)
}

func TestInternalHidesCause(t *testing.T) {
	err := Internal("storage failure", errors.New("dial tcp 10.0.0.1:5432"))

	var be BaseError
	require.True(t, errors.As(err, &be))
	body := be.JSON().(map[string]interface{})["error"].(map[string]interface{})
	require.Equal(t, "storage failure", body["message"])
	require.Contains(t, err.Error(), "dial tcp")
}
