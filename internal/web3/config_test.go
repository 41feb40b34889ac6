package web3

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDeployments = `
default: local
deployments:
  local:
    rpc_url: http://127.0.0.1:8545
    chain_id: 1337
    pool_address: "0x00000000000000000000000000000000000000c3"
    token_address: "0x00000000000000000000000000000000000000b2"
  sepolia:
    rpc_url: https://sepolia.example.org
    chain_id: 11155111
    token_decimals: 6
`

func writeDeployments(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "deployments.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDeployments(t *testing.T) {
	defs, err := LoadDeployments(writeDeployments(t, sampleDeployments))
	require.NoError(t, err)

	assert.Equal(t, []string{"local", "sepolia"}, defs.Names())

	name, dep, err := defs.Lookup("")
	require.NoError(t, err)
	assert.Equal(t, "local", name)
	assert.Equal(t, int64(1337), dep.ChainID)

	_, dep, err = defs.Lookup("sepolia")
	require.NoError(t, err)
	assert.Equal(t, 6, dep.TokenDecimals)

	_, _, err = defs.Lookup("mainnet")
	assert.Error(t, err)
}

func TestLookupWithoutDefault(t *testing.T) {
	single, err := LoadDeployments(writeDeployments(t, "deployments:\n  only:\n    rpc_url: http://x\n"))
	require.NoError(t, err)
	name, _, err := single.Lookup("")
	require.NoError(t, err)
	assert.Equal(t, "only", name)

	multi, err := LoadDeployments(writeDeployments(t, "deployments:\n  a: {}\n  b: {}\n"))
	require.NoError(t, err)
	_, _, err = multi.Lookup("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a, b")
}

func TestLoadDeploymentsErrors(t *testing.T) {
	empty, err := LoadDeployments("")
	require.NoError(t, err)
	assert.Empty(t, empty.Deployments)

	_, err = LoadDeployments(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = LoadDeployments(writeDeployments(t, "deployments: [unclosed"))
	assert.Error(t, err)
}
