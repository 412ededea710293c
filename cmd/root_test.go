package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/deepfake-detector/internal/config"
)

func TestRootCommandTree(t *testing.T) {
	root := NewRootCommand()
	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "classify", "migrate", "healthcheck"} {
		assert.True(t, names[want], want)
	}
	assert.NotNil(t, root.PersistentFlags().Lookup("config"))
	assert.NotNil(t, root.PersistentFlags().Lookup("log-level"))
}

func TestClassifyRequiresArguments(t *testing.T) {
	root := NewRootCommand()
	root.SetArgs([]string{"classify"})
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	require.Error(t, root.Execute())
}

func TestLogLevelFlagOverridesEnvironment(t *testing.T) {
	t.Setenv("DFD_LOG_LEVEL", "warn")
	opts := &rootOptions{viper: config.NewViper()}
	root := newRootCommand(opts)
	root.SetArgs([]string{"--log-level", "debug", "healthcheck", "--help"})
	root.SetOut(&bytes.Buffer{})
	require.NoError(t, root.Execute())

	cfg, _, err := opts.load()
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestEnvironmentSelectsBackend(t *testing.T) {
	t.Setenv("DFD_STORAGE_BACKEND", "document")
	opts := &rootOptions{viper: config.NewViper()}

	cfg, _, err := opts.load()
	require.NoError(t, err)
	assert.Equal(t, config.BackendDocument, cfg.Storage.Backend)
}
