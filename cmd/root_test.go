package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viralscope/viralscope/internal/config"
)

func TestRootCommand_RegistersSubcommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "worker", "viral", "discover", "migrate"} {
		assert.True(t, names[want], "missing subcommand %s", want)
	}
}

func TestBuildPipeline_TaxonomyPath(t *testing.T) {
	orig := cfg
	defer func() { cfg = orig }()
	cfg = &config.Config{}

	cfg.AI.TaxonomyPath = filepath.Join(t.TempDir(), "missing.yaml")
	_, err := buildPipeline(&services{})
	assert.Error(t, err, "unreadable taxonomy file fails startup")

	path := filepath.Join(t.TempDir(), "taxonomy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("taxonomy:\n  primaries:\n    - Gaming\n"), 0o644))
	cfg.AI.TaxonomyPath = path
	p, err := buildPipeline(&services{})
	require.NoError(t, err)
	assert.NotNil(t, p)
}

func TestInitStore_RequiresDatabaseURL(t *testing.T) {
	orig := cfg
	defer func() { cfg = orig }()
	cfg = &config.Config{}

	_, err := initStore(t.Context())
	assert.Error(t, err)
}
