package container

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"subsentry/internal/config"
)

func testAppConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.InitializeConfig()
	require.NoError(t, err)
	cfg.Data.Directory = t.TempDir()
	return cfg
}

func TestNewContainer(t *testing.T) {
	c, err := NewContainer(testAppConfig(t))
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	assert.NotNil(t, c.GetLogger())
	assert.NotNil(t, c.GetConfig())
	assert.NotNil(t, c.GetRuleStore())
	assert.NotNil(t, c.GetNormalizer())
	assert.NotNil(t, c.GetStorage())
	assert.NotNil(t, c.GetReader())
	assert.NotNil(t, c.GetEngine())
	assert.NotNil(t, c.GetReportBuilder())
}

func TestNewContainer_NilConfig(t *testing.T) {
	_, err := NewContainer(nil)
	assert.Error(t, err)
}

func TestNewContainer_BadEngineConfig(t *testing.T) {
	cfg := testAppConfig(t)
	cfg.Engine.CandidateMinMembers = 0

	_, err := NewContainer(cfg)
	assert.Error(t, err)
}

func TestContainer_Close(t *testing.T) {
	c, err := NewContainer(testAppConfig(t))
	require.NoError(t, err)
	assert.NoError(t, c.Close())
}
