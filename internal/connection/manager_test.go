package connection

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tribal-authentica/maskauth/internal/config"
	"github.com/tribal-authentica/maskauth/internal/metrics"
	"github.com/tribal-authentica/maskauth/pkg/utils"
)

const sepoliaChainID = "0xaa36a7"

// newRPCNode serves the handful of JSON-RPC methods the manager relies on
func newRPCNode(t *testing.T, chainID string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		resp := map[string]interface{}{"jsonrpc": "2.0", "id": req.ID}
		switch req.Method {
		case "eth_chainId":
			resp["result"] = chainID
		case "eth_blockNumber":
			resp["result"] = "0x10"
		default:
			resp["error"] = map[string]interface{}{"code": -32601, "message": "method not found"}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func chainConfig(primary string, backups ...string) *config.ChainConfig {
	return &config.ChainConfig{
		NodeURL:        primary,
		BackupNodes:    backups,
		ChainID:        11155111,
		RequestTimeout: 2 * time.Second,
		RetryAttempts:  1,
		RetryDelay:     10 * time.Millisecond,
	}
}

func TestConnectFailsOverToBackupOnChainMismatch(t *testing.T) {
	mainnet := newRPCNode(t, "0x1")
	sepolia := newRPCNode(t, sepoliaChainID)

	cm := NewConnectionManager(chainConfig(mainnet.URL, sepolia.URL), nil)
	defer cm.Close()

	client, err := cm.GetClientWithContext(context.Background())
	require.NoError(t, err)
	require.NotNil(t, client)

	stats := cm.Stats()
	assert.Equal(t, sepolia.URL, stats.CurrentURL)
	assert.Equal(t, uint64(1), stats.FailedRequests)
	assert.True(t, cm.IsConnected())
}

func TestConnectExhaustsAllNodes(t *testing.T) {
	mainnet := newRPCNode(t, "0x1")
	pm := metrics.NewPrometheusMetrics(prometheus.NewRegistry())

	cm := NewConnectionManager(chainConfig(mainnet.URL), pm)
	_, err := cm.GetClientWithContext(context.Background())

	require.Error(t, err)
	assert.Equal(t, utils.ErrCodeConnection, utils.CodeOf(err))
	assert.False(t, cm.IsConnected())
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.ConnectionErrorsTotal.WithLabelValues(mainnet.URL, "health_check_failed")))
}

func TestHealthCheckUpdatesStats(t *testing.T) {
	node := newRPCNode(t, sepoliaChainID)
	cm := NewConnectionManager(chainConfig(node.URL), nil)
	defer cm.Close()

	require.NoError(t, cm.HealthCheckWithContext(context.Background()))

	stats := cm.Stats()
	assert.Equal(t, uint64(11155111), stats.ChainID)
	assert.Equal(t, uint64(16), stats.LatestBlock)
	assert.True(t, stats.IsHealthy)
	assert.False(t, stats.LastHealthCheck.IsZero())
}

func TestGetAllURLsRotatesFromCurrentIndex(t *testing.T) {
	cm := NewConnectionManager(chainConfig("a", "b", "c"), nil)

	assert.Equal(t, []string{"a", "b", "c"}, cm.getAllURLs())

	cm.currentIndex = 1
	assert.Equal(t, []string{"b", "c", "a"}, cm.getAllURLs())

	cm.currentIndex = 5
	assert.Equal(t, []string{"c", "a", "b"}, cm.getAllURLs())
}

func TestClientRecordsRPCMetrics(t *testing.T) {
	node := newRPCNode(t, sepoliaChainID)
	pm := metrics.NewPrometheusMetrics(prometheus.NewRegistry())
	cm := NewConnectionManager(chainConfig(node.URL), pm)
	defer cm.Close()

	client := NewClient(cm, pm)

	block, err := client.BlockNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(16), block)

	id, err := client.ChainID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(11155111), id.Int64())

	assert.Equal(t, 1.0, testutil.ToFloat64(pm.RPCRequestsTotal.WithLabelValues("eth_blockNumber", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.RPCRequestsTotal.WithLabelValues("eth_chainId", "success")))
}
