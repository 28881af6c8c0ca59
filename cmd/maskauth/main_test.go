package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tribal-authentica/maskauth/pkg/utils"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() { rootCmd.SetArgs(nil) })
	err := rootCmd.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "maskauth "+AppVersion+"\n", out)
}

func TestVoteRequiresOneDecision(t *testing.T) {
	_, err := execute(t, "vote", "1")
	assert.Equal(t, utils.ErrCodeValidation, utils.CodeOf(err))

	_, err = execute(t, "vote", "x", "--approve")
	assert.Equal(t, "Invalid submission id: x", utils.DisplayMessage(err))
}

func TestSubmissionsRejectsUnknownFormat(t *testing.T) {
	_, err := execute(t, "submissions", "--format", "xml")
	assert.Equal(t, utils.ErrCodeValidation, utils.CodeOf(err))
}

func TestConfigValidate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
chain:
  node_url: "http://localhost:8545"
  chain_id: 31337
contract:
  address: "0x5FbDB2315678afecb367f032d93F642f64180aa3"
  deploy_block: 12
dashboard:
  event_source: "index"
storage:
  type: "sqlite"
  connection_string: "`+filepath.Join(t.TempDir(), "index.db")+`"
`), 0o600))

	out, err := execute(t, "config", "validate", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Configuration is valid!")
	assert.Contains(t, out, "Node: http://localhost:8545 (chain 31337)")
	assert.Contains(t, out, "deploy block 12")
	assert.Contains(t, out, "Event source: index")
	assert.Contains(t, out, "Warning: dashboard reads events from the index but the indexer is disabled")
}
