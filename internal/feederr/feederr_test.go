package feederr

import (
	"errors"
	"testing"

	pkgerrors "github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestError_IsMatchesByKind(t *testing.T) {
	err := Request("fetch availability", errors.New("boom"))
	require.ErrorIs(t, err, ErrRequest)
	require.NotErrorIs(t, err, ErrAuth)

	wrapped := pkgerrors.Wrap(err, "availability cycle")
	require.ErrorIs(t, wrapped, ErrRequest)
	require.Equal(t, KindRequest, KindOf(wrapped))
}

func TestError_UnwrapKeepsCause(t *testing.T) {
	cause := errors.New("conn refused")
	err := Persistence("insert carparks", cause)
	require.ErrorIs(t, err, cause)
	require.Equal(t, "feed persistence error: insert carparks: conn refused", err.Error())
}

func TestKindOf_PlainError(t *testing.T) {
	require.Equal(t, Kind(""), KindOf(errors.New("x")))
}
