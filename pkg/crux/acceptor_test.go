package crux

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcceptorLocalAddrIsBound(t *testing.T) {
	svc := NewService()
	acc, err := NewAcceptor(svc, "127.0.0.1:0")
	require.NoError(t, err)
	defer acc.Close()

	assert.NotEmpty(t, acc.LocalAddr().String())
	assert.NotEqual(t, "127.0.0.1:0", acc.LocalAddr().String())
}

func TestAcceptorCloseIsIdempotent(t *testing.T) {
	svc := NewService()
	acc, err := NewAcceptor(svc, "127.0.0.1:0")
	require.NoError(t, err)

	acc.Close()
	assert.NotPanics(t, func() { acc.Close() })
}

func TestAcceptorAcceptAfterCloseFailsFast(t *testing.T) {
	svc := NewService()
	acc, err := NewAcceptor(svc, "127.0.0.1:0")
	require.NoError(t, err)
	acc.Close()

	target := svc.NewConnection()
	err = acc.Accept(target)
	assert.ErrorIs(t, err, ErrAcceptorClosed)
}
