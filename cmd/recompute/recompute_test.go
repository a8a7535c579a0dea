package recompute

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecomputeCommand_Metadata(t *testing.T) {
	assert.Equal(t, "recompute", Cmd.Use)
	assert.NotNil(t, Cmd.RunE)
	require.NotNil(t, Cmd.Flags().Lookup("as-of"))
}
