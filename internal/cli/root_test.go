package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCmd_Subcommands(t *testing.T) {
	root := NewRootCmd()

	for _, name := range []string{"serve", "lambda"} {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err)
		assert.Equal(t, name, cmd.Name())
		assert.NotNil(t, cmd.Flags().Lookup("edge-issuer"), "config flags registered on %s", name)
	}

	assert.NotNil(t, root.PersistentFlags().Lookup("config"))
}

func TestLoadProvider(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gatehouse.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
edge:
  issuer: https://login.example.com
  service_name: docs
permissions:
  type: allow_all
observability:
  type: noop
`), 0o644))

	cmd := NewServeCmd()
	require.NoError(t, cmd.Flags().Parse([]string{"--edge-service-name", "guides"}))

	configFile = path
	t.Cleanup(func() { configFile = "" })

	provider, configPath, err := loadProvider(cmd)
	require.NoError(t, err)
	assert.Equal(t, path, configPath)

	assert.Equal(t, map[string]string{
		"x-issuer":       "https://login.example.com",
		"x-service-name": "guides",
	}, provider.DefaultCustomHeaders())

	_, err = provider.EdgeAdapter()
	assert.NoError(t, err)
}

func TestLoadProvider_MissingFile(t *testing.T) {
	configFile = filepath.Join(t.TempDir(), "missing.yaml")
	t.Cleanup(func() { configFile = "" })

	_, _, err := loadProvider(NewServeCmd())
	assert.Error(t, err)
}
