package console

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRestoreIsSafeWithoutTerminal(t *testing.T) {
	requireT := require.New(t)

	var c *Console
	requireT.NoError(c.Restore())
	requireT.NoError((&Console{}).Restore())
}

func TestRestoreIsIdempotent(t *testing.T) {
	requireT := require.New(t)

	c, err := Open(true)
	requireT.NoError(err)
	if c == nil {
		t.Skip("no terminal available")
	}

	requireT.NoError(c.Restore())
	requireT.NoError(c.Restore())
}
