package alerts

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAlertsCommand_Metadata(t *testing.T) {
	assert.Equal(t, "alerts", Cmd.Use)
	assert.NotNil(t, Cmd.RunE)
	require.NotNil(t, Cmd.Flags().Lookup("severity"))
}
