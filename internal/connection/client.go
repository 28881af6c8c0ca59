package connection

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"
	"github.com/tribal-authentica/maskauth/internal/metrics"
	"github.com/tribal-authentica/maskauth/pkg/utils"
)

// Client is a chain client that resolves the live node through the manager on
// every call, so a failover is picked up transparently. Each call is metered.
type Client struct {
	manager Manager
	metrics *metrics.PrometheusMetrics
	logger  *logrus.Entry
}

// NewClient creates a new chain client. metrics may be nil.
func NewClient(manager Manager, m *metrics.PrometheusMetrics) *Client {
	return &Client{
		manager: manager,
		metrics: m,
		logger:  utils.ComponentLogger("chain_client"),
	}
}

func (c *Client) observe(method string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
		c.logger.WithError(err).WithField("method", method).Debug("RPC request failed")
	}
	if c.metrics != nil {
		c.metrics.RecordRPCRequest(method, status, time.Since(start))
	}
}

// CallContract executes an eth_call
func (c *Client) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) (out []byte, err error) {
	defer func(start time.Time) { c.observe("eth_call", start, err) }(time.Now())

	client, err := c.manager.GetClientWithContext(ctx)
	if err != nil {
		return nil, err
	}
	return client.CallContract(ctx, msg, blockNumber)
}

// FilterLogs executes an eth_getLogs
func (c *Client) FilterLogs(ctx context.Context, query ethereum.FilterQuery) (logs []types.Log, err error) {
	defer func(start time.Time) { c.observe("eth_getLogs", start, err) }(time.Now())

	client, err := c.manager.GetClientWithContext(ctx)
	if err != nil {
		return nil, err
	}
	return client.FilterLogs(ctx, query)
}

// BlockNumber returns the latest block number
func (c *Client) BlockNumber(ctx context.Context) (n uint64, err error) {
	defer func(start time.Time) { c.observe("eth_blockNumber", start, err) }(time.Now())

	return c.manager.GetLatestBlockNumber(ctx)
}

// ChainID returns the chain id of the connected node
func (c *Client) ChainID(ctx context.Context) (id *big.Int, err error) {
	defer func(start time.Time) { c.observe("eth_chainId", start, err) }(time.Now())

	client, err := c.manager.GetClientWithContext(ctx)
	if err != nil {
		return nil, err
	}
	return client.ChainID(ctx)
}

// HeaderByNumber returns a block header; nil means latest
func (c *Client) HeaderByNumber(ctx context.Context, number *big.Int) (header *types.Header, err error) {
	defer func(start time.Time) { c.observe("eth_getBlockByNumber", start, err) }(time.Now())

	client, err := c.manager.GetClientWithContext(ctx)
	if err != nil {
		return nil, err
	}
	return client.HeaderByNumber(ctx, number)
}

// PendingNonceAt returns the next nonce for account
func (c *Client) PendingNonceAt(ctx context.Context, account common.Address) (nonce uint64, err error) {
	defer func(start time.Time) { c.observe("eth_getTransactionCount", start, err) }(time.Now())

	client, err := c.manager.GetClientWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return client.PendingNonceAt(ctx, account)
}

// SuggestGasTipCap returns a priority fee suggestion
func (c *Client) SuggestGasTipCap(ctx context.Context) (tip *big.Int, err error) {
	defer func(start time.Time) { c.observe("eth_maxPriorityFeePerGas", start, err) }(time.Now())

	client, err := c.manager.GetClientWithContext(ctx)
	if err != nil {
		return nil, err
	}
	return client.SuggestGasTipCap(ctx)
}

// EstimateGas estimates the gas needed for msg
func (c *Client) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (gas uint64, err error) {
	defer func(start time.Time) { c.observe("eth_estimateGas", start, err) }(time.Now())

	client, err := c.manager.GetClientWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return client.EstimateGas(ctx, msg)
}

// SendTransaction broadcasts a signed transaction
func (c *Client) SendTransaction(ctx context.Context, tx *types.Transaction) (err error) {
	defer func(start time.Time) { c.observe("eth_sendRawTransaction", start, err) }(time.Now())

	client, err := c.manager.GetClientWithContext(ctx)
	if err != nil {
		return err
	}
	return client.SendTransaction(ctx, tx)
}
