package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metartpay/chainpay/types"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chainpay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_FromFile(t *testing.T) {
	path := writeConfig(t, `
cluster: mainnet
allow_prefill: true
mysql_dsn: "user:pass@tcp(db:3306)/chainpay"
networks:
  eth:
    enabled: true
    rpc_url: "https://rpc.example/eth"
    required_confirmations: 5
  sol:
    enabled: true
    rpc_url: "https://rpc.example/sol"
  bsc:
    enabled: false
    rpc_url: "https://rpc.example/bsc"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "mainnet", cfg.Cluster)
	assert.True(t, cfg.AllowPrefill)
	assert.Equal(t, "user:pass@tcp(db:3306)/chainpay", cfg.MySQLDSN)

	nets := cfg.NetworkConfigs()
	require.Len(t, nets, 2)

	eth := nets[types.NetworkETH]
	assert.Equal(t, "https://rpc.example/eth", eth.RPCURL)
	assert.Equal(t, uint64(5), eth.RequiredConfirmations)
	assert.Equal(t, int64(1), eth.ChainID)

	sol := nets[types.NetworkSolana]
	assert.Equal(t, "https://rpc.example/sol", sol.RPCURL)
	assert.Equal(t, uint64(1), sol.RequiredConfirmations)
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "networks: {}\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "devnet", cfg.Cluster)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, ":9109", cfg.MetricsAddr)
	assert.Equal(t, 2*time.Minute, cfg.RefreshInterval)
	assert.Empty(t, cfg.NetworkConfigs())
}

func TestNetworkConfigs_SkipsUnknownNames(t *testing.T) {
	cfg := &Config{Networks: map[string]NetworkSettings{
		"dogecoin": {Enabled: true, RPCURL: "https://rpc.example/doge"},
	}}
	assert.Empty(t, cfg.NetworkConfigs())
}
