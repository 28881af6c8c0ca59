package contract

import (
	"context"
	"encoding/hex"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tribal-authentica/maskauth/pkg/utils"
)

var (
	contractAddr = common.HexToAddress("0xbcdd5cc1cd0fa804ae1ea14e05922a6222a5bc9f")
	submitterA   = common.HexToAddress("0x1111111111111111111111111111111111111111")
	gwei         = big.NewInt(1_000_000_000)
)

type fakeSubmission struct {
	submitter     common.Address
	ipfsHash      string
	approvals     uint8
	rejections    uint8
	authenticated bool
	completed     bool
}

// fakeBackend answers calls by ABI-encoding canned state
type fakeBackend struct {
	t           *testing.T
	abi         abi.ABI
	submissions []fakeSubmission
	logs        []types.Log
	callErr     error
	lastQuery   ethereum.FilterQuery
	sent        []*types.Transaction
}

func newFakeBackend(t *testing.T) *fakeBackend {
	parsed, err := ParsedABI()
	require.NoError(t, err)
	return &fakeBackend{t: t, abi: parsed}
}

func (f *fakeBackend) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if f.callErr != nil {
		return nil, f.callErr
	}
	method, err := f.abi.MethodById(msg.Data[:4])
	require.NoError(f.t, err)

	switch method.Name {
	case methodSubmissionCount:
		return method.Outputs.Pack(big.NewInt(int64(len(f.submissions))))
	case methodSubmissions:
		args, err := method.Inputs.Unpack(msg.Data[4:])
		require.NoError(f.t, err)
		s := f.submissions[args[0].(*big.Int).Int64()]
		return method.Outputs.Pack(s.submitter, s.ipfsHash, s.approvals, s.rejections, s.authenticated, s.completed)
	}
	return nil, errors.New("unexpected method " + method.Name)
}

func (f *fakeBackend) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	f.lastQuery = q
	return f.logs, nil
}

func (f *fakeBackend) BlockNumber(context.Context) (uint64, error) { return 100, nil }

func (f *fakeBackend) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	return &types.Header{Number: big.NewInt(100), BaseFee: new(big.Int).Mul(big.NewInt(10), gwei)}, nil
}

func (f *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) { return 7, nil }

func (f *fakeBackend) SuggestGasTipCap(context.Context) (*big.Int, error) { return new(big.Int).Set(gwei), nil }

func (f *fakeBackend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) { return 50_000, nil }

func (f *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeBackend) maskSubmittedLog(id int64, submitter common.Address, ipfsHash string, txHash common.Hash, block uint64, index uint) types.Log {
	event := f.abi.Events[eventMaskSubmitted]
	data, err := event.Inputs.NonIndexed().Pack(ipfsHash)
	require.NoError(f.t, err)
	return types.Log{
		Address:     contractAddr,
		Topics:      []common.Hash{event.ID, common.BigToHash(big.NewInt(id)), common.BytesToHash(submitter.Bytes())},
		Data:        data,
		TxHash:      txHash,
		BlockNumber: block,
		Index:       index,
	}
}

func newTestSigner(t *testing.T) *Signer {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	signer, err := NewSigner("0x"+hex.EncodeToString(crypto.FromECDSA(key)), 11155111)
	require.NoError(t, err)
	return signer
}

func TestSubmissionReads(t *testing.T) {
	backend := newFakeBackend(t)
	backend.submissions = []fakeSubmission{
		{submitter: submitterA, ipfsHash: "QmA", approvals: 8, rejections: 2, authenticated: true, completed: true},
		{submitter: submitterA, ipfsHash: "QmB", approvals: 3},
	}
	binding, err := New(backend, contractAddr, 0, nil)
	require.NoError(t, err)

	count, err := binding.SubmissionCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(2), count)

	sub, err := binding.Submission(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), sub.SubmissionID)
	assert.Equal(t, submitterA, sub.Submitter)
	assert.Equal(t, "QmB", sub.IPFSHash)
	assert.Equal(t, uint8(3), sub.ApprovalCount)
	assert.False(t, sub.IsCompleted)

	first, err := binding.Submission(context.Background(), 0)
	require.NoError(t, err)
	assert.True(t, first.IsAuthenticated)
	assert.True(t, first.IsCompleted)
}

func TestReadFailureIsBlockchainError(t *testing.T) {
	backend := newFakeBackend(t)
	backend.callErr = errors.New("connection refused")
	binding, err := New(backend, contractAddr, 0, nil)
	require.NoError(t, err)

	_, err = binding.SubmissionCount(context.Background())
	require.Error(t, err)
	assert.Equal(t, utils.ErrCodeBlockchain, utils.CodeOf(err))
	assert.Contains(t, utils.DisplayMessage(err), "connection refused")
}

func TestSubmissionEventsDecodesLogs(t *testing.T) {
	backend := newFakeBackend(t)
	txA := common.HexToHash("0xaa")
	txB := common.HexToHash("0xbb")
	removed := backend.maskSubmittedLog(2, submitterA, "QmGone", common.HexToHash("0xcc"), 12, 0)
	removed.Removed = true
	backend.logs = []types.Log{
		backend.maskSubmittedLog(0, submitterA, "QmA", txA, 10, 3),
		backend.maskSubmittedLog(1, submitterA, "QmB", txB, 11, 0),
		removed,
	}

	binding, err := New(backend, contractAddr, 42, nil)
	require.NoError(t, err)

	events, err := binding.SubmissionEvents(context.Background(), binding.DeployBlock())
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, uint64(0), events[0].SubmissionID)
	assert.Equal(t, submitterA, events[0].Submitter)
	assert.Equal(t, "QmA", events[0].IPFSHash)
	assert.Equal(t, txA, events[0].TransactionHash)
	assert.Equal(t, uint64(10), events[0].BlockNumber)
	assert.Equal(t, uint(3), events[0].LogIndex)
	assert.Equal(t, "QmB", events[1].IPFSHash)

	assert.Equal(t, big.NewInt(42), backend.lastQuery.FromBlock)
	assert.Nil(t, backend.lastQuery.ToBlock)
	assert.Equal(t, []common.Address{contractAddr}, backend.lastQuery.Addresses)
	assert.Equal(t, binding.event.ID, backend.lastQuery.Topics[0][0])
}

func TestSubmissionEventsInRangeBoundsQuery(t *testing.T) {
	backend := newFakeBackend(t)
	binding, err := New(backend, contractAddr, 0, nil)
	require.NoError(t, err)

	events, err := binding.SubmissionEventsInRange(context.Background(), 5, 9)
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.Equal(t, big.NewInt(5), backend.lastQuery.FromBlock)
	assert.Equal(t, big.NewInt(9), backend.lastQuery.ToBlock)
}

func TestWritesRequireWallet(t *testing.T) {
	binding, err := New(newFakeBackend(t), contractAddr, 0, nil)
	require.NoError(t, err)

	_, ok := binding.WalletAddress()
	assert.False(t, ok)

	_, err = binding.ValidateMask(context.Background(), 0, true)
	require.Error(t, err)
	assert.Equal(t, utils.ErrCodeWallet, utils.CodeOf(err))
	assert.Equal(t, "Please connect your wallet!", utils.DisplayMessage(err))
}

func TestSubmitMaskSendsSignedDynamicFeeTx(t *testing.T) {
	backend := newFakeBackend(t)
	signer := newTestSigner(t)
	binding, err := New(backend, contractAddr, 0, signer)
	require.NoError(t, err)

	hash, err := binding.SubmitMask(context.Background(), "Gelede")
	require.NoError(t, err)
	require.Len(t, backend.sent, 1)

	tx := backend.sent[0]
	assert.Equal(t, tx.Hash(), hash)
	assert.Equal(t, uint8(types.DynamicFeeTxType), tx.Type())
	assert.Equal(t, uint64(7), tx.Nonce())
	assert.Equal(t, uint64(50_000), tx.Gas())
	assert.Equal(t, &contractAddr, tx.To())
	assert.Equal(t, gwei, tx.GasTipCap())
	assert.Equal(t, new(big.Int).Mul(big.NewInt(21), gwei), tx.GasFeeCap())

	from, err := types.Sender(types.LatestSignerForChainID(big.NewInt(11155111)), tx)
	require.NoError(t, err)
	assert.Equal(t, signer.Address(), from)

	method, err := backend.abi.MethodById(tx.Data()[:4])
	require.NoError(t, err)
	assert.Equal(t, methodSubmitMask, method.Name)
	args, err := method.Inputs.Unpack(tx.Data()[4:])
	require.NoError(t, err)
	assert.Equal(t, "Gelede", args[0])
}

func TestValidateMaskPacksArguments(t *testing.T) {
	backend := newFakeBackend(t)
	binding, err := New(backend, contractAddr, 0, newTestSigner(t))
	require.NoError(t, err)

	_, err = binding.ValidateMask(context.Background(), 4, false)
	require.NoError(t, err)
	require.Len(t, backend.sent, 1)

	method, err := backend.abi.MethodById(backend.sent[0].Data()[:4])
	require.NoError(t, err)
	assert.Equal(t, methodValidateMask, method.Name)
	args, err := method.Inputs.Unpack(backend.sent[0].Data()[4:])
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(4), args[0])
	assert.Equal(t, false, args[1])
}

func TestNewSignerRejectsBadKey(t *testing.T) {
	_, err := NewSigner("not-a-key", 11155111)
	require.Error(t, err)
	assert.Equal(t, utils.ErrCodeWallet, utils.CodeOf(err))
}
