package importcmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestImportCommand_Metadata(t *testing.T) {
	assert.Equal(t, "import", Cmd.Use)
	assert.Contains(t, Cmd.Short, "statement CSV")
	assert.NotNil(t, Cmd.RunE)
}
