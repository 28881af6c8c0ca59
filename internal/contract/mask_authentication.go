package contract

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"
	"github.com/tribal-authentica/maskauth/internal/models"
	"github.com/tribal-authentica/maskauth/pkg/utils"
)

// ErrWalletNotConnected is returned by writes when no validator key is configured
var ErrWalletNotConnected = utils.NewAppError(utils.ErrCodeWallet, "Please connect your wallet!")

// Backend is the chain access a MaskAuthentication binding needs.
// *ethclient.Client and *connection.Client both satisfy it.
type Backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error)
	BlockNumber(ctx context.Context) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// MaskAuthentication reads and writes the MaskAuthentication contract
type MaskAuthentication struct {
	backend     Backend
	address     common.Address
	abi         abi.ABI
	event       abi.Event
	deployBlock uint64
	signer      *Signer
	logger      *logrus.Entry
}

// New creates a contract binding. signer may be nil for read-only use.
func New(backend Backend, address common.Address, deployBlock uint64, signer *Signer) (*MaskAuthentication, error) {
	parsed, err := ParsedABI()
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeInternal, "Failed to parse contract ABI", err.Error())
	}

	return &MaskAuthentication{
		backend:     backend,
		address:     address,
		abi:         parsed,
		event:       parsed.Events[eventMaskSubmitted],
		deployBlock: deployBlock,
		signer:      signer,
		logger:      utils.ComponentLogger("contract").WithField("address", address.Hex()),
	}, nil
}

// Address returns the contract address
func (m *MaskAuthentication) Address() common.Address {
	return m.address
}

// WalletAddress returns the validator account, if a key is loaded
func (m *MaskAuthentication) WalletAddress() (common.Address, bool) {
	if m.signer == nil {
		return common.Address{}, false
	}
	return m.signer.Address(), true
}

// SubmissionCount reads submissionCount()
func (m *MaskAuthentication) SubmissionCount(ctx context.Context) (uint64, error) {
	out, err := m.call(ctx, methodSubmissionCount)
	if err != nil {
		return 0, err
	}

	count, ok := out[0].(*big.Int)
	if !ok || !count.IsUint64() {
		return 0, utils.NewAppError(utils.ErrCodeBlockchain, "Unexpected submissionCount result", fmt.Sprintf("%v", out[0]))
	}
	return count.Uint64(), nil
}

// Submission reads submissions(id)
func (m *MaskAuthentication) Submission(ctx context.Context, id uint64) (models.Submission, error) {
	out, err := m.call(ctx, methodSubmissions, new(big.Int).SetUint64(id))
	if err != nil {
		return models.Submission{}, err
	}
	if len(out) != 6 {
		return models.Submission{}, utils.NewAppError(utils.ErrCodeBlockchain,
			"Unexpected submissions result", fmt.Sprintf("got %d values", len(out)))
	}

	submitter, ok1 := out[0].(common.Address)
	ipfsHash, ok2 := out[1].(string)
	approvals, ok3 := out[2].(uint8)
	rejections, ok4 := out[3].(uint8)
	authenticated, ok5 := out[4].(bool)
	completed, ok6 := out[5].(bool)
	if !(ok1 && ok2 && ok3 && ok4 && ok5 && ok6) {
		return models.Submission{}, utils.NewAppError(utils.ErrCodeBlockchain,
			"Unexpected submissions result", fmt.Sprintf("%v", out))
	}

	return models.Submission{
		SubmissionID:    id,
		Submitter:       submitter,
		IPFSHash:        ipfsHash,
		ApprovalCount:   approvals,
		RejectionCount:  rejections,
		IsAuthenticated: authenticated,
		IsCompleted:     completed,
	}, nil
}

// SubmissionEvents returns every MaskSubmitted log from fromBlock to the chain head
func (m *MaskAuthentication) SubmissionEvents(ctx context.Context, fromBlock uint64) ([]models.SubmissionEvent, error) {
	return m.filterEvents(ctx, fromBlock, nil)
}

// SubmissionEventsInRange returns MaskSubmitted logs in [fromBlock, toBlock]
func (m *MaskAuthentication) SubmissionEventsInRange(ctx context.Context, fromBlock, toBlock uint64) ([]models.SubmissionEvent, error) {
	return m.filterEvents(ctx, fromBlock, new(big.Int).SetUint64(toBlock))
}

// LatestBlock returns the chain head
func (m *MaskAuthentication) LatestBlock(ctx context.Context) (uint64, error) {
	block, err := m.backend.BlockNumber(ctx)
	if err != nil {
		return 0, utils.NewAppError(utils.ErrCodeBlockchain, "Failed to get latest block", err.Error())
	}
	return block, nil
}

// DeployBlock returns the first block scanned for events
func (m *MaskAuthentication) DeployBlock() uint64 {
	return m.deployBlock
}

func (m *MaskAuthentication) filterEvents(ctx context.Context, fromBlock uint64, toBlock *big.Int) ([]models.SubmissionEvent, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   toBlock,
		Addresses: []common.Address{m.address},
		Topics:    [][]common.Hash{{m.event.ID}},
	}

	logs, err := m.backend.FilterLogs(ctx, query)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeBlockchain, "Failed to get MaskSubmitted logs", err.Error())
	}

	events := make([]models.SubmissionEvent, 0, len(logs))
	for _, log := range logs {
		if log.Removed {
			continue
		}
		event, err := m.ParseSubmissionEvent(log)
		if err != nil {
			m.logger.WithError(err).WithFields(logrus.Fields{
				"tx_hash":   log.TxHash.Hex(),
				"log_index": log.Index,
			}).Warn("Skipping undecodable MaskSubmitted log")
			continue
		}
		events = append(events, *event)
	}

	m.logger.WithFields(logrus.Fields{
		"from_block": fromBlock,
		"logs":       len(logs),
		"events":     len(events),
	}).Debug("Fetched MaskSubmitted events")

	return events, nil
}

// ParseSubmissionEvent decodes a MaskSubmitted log
func (m *MaskAuthentication) ParseSubmissionEvent(log types.Log) (*models.SubmissionEvent, error) {
	if len(log.Topics) == 0 || log.Topics[0] != m.event.ID {
		return nil, utils.NewAppError(utils.ErrCodeValidation, "Log is not a MaskSubmitted event")
	}

	values := make(map[string]interface{})
	topicIndex := 1
	for _, input := range m.event.Inputs {
		if !input.Indexed {
			continue
		}
		if topicIndex >= len(log.Topics) {
			return nil, fmt.Errorf("insufficient topics for indexed parameter %s", input.Name)
		}
		values[input.Name] = parseTopicValue(input.Type, log.Topics[topicIndex])
		topicIndex++
	}

	nonIndexed := m.event.Inputs.NonIndexed()
	if len(nonIndexed) > 0 && len(log.Data) > 0 {
		unpacked, err := nonIndexed.Unpack(log.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to unpack event data: %w", err)
		}
		for i, input := range nonIndexed {
			if i < len(unpacked) {
				values[input.Name] = unpacked[i]
			}
		}
	}

	id, ok1 := values["submissionId"].(*big.Int)
	submitter, ok2 := values["submitter"].(common.Address)
	ipfsHash, ok3 := values["ipfsHash"].(string)
	if !(ok1 && ok2 && ok3) {
		return nil, fmt.Errorf("malformed MaskSubmitted event in tx %s", log.TxHash.Hex())
	}

	return &models.SubmissionEvent{
		SubmissionID:    id.Uint64(),
		Submitter:       submitter,
		IPFSHash:        ipfsHash,
		TransactionHash: log.TxHash,
		BlockNumber:     log.BlockNumber,
		LogIndex:        log.Index,
	}, nil
}

// parseTopicValue parses a topic value based on type
func parseTopicValue(typ abi.Type, topic common.Hash) interface{} {
	switch typ.T {
	case abi.AddressTy:
		return common.BytesToAddress(topic.Bytes())
	case abi.IntTy, abi.UintTy:
		return new(big.Int).SetBytes(topic.Bytes())
	case abi.BoolTy:
		return topic.Big().Sign() != 0
	default:
		// Dynamic types are hashed into the topic
		return topic
	}
}

// SubmitMask sends submitMask(ipfsHash)
func (m *MaskAuthentication) SubmitMask(ctx context.Context, ipfsHash string) (common.Hash, error) {
	return m.transact(ctx, methodSubmitMask, ipfsHash)
}

// ValidateMask sends validateMask(id, approved)
func (m *MaskAuthentication) ValidateMask(ctx context.Context, id uint64, approved bool) (common.Hash, error) {
	return m.transact(ctx, methodValidateMask, new(big.Int).SetUint64(id), approved)
}

func (m *MaskAuthentication) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	input, err := m.abi.Pack(method, args...)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeInternal, "Failed to pack "+method, err.Error())
	}

	output, err := m.backend.CallContract(ctx, ethereum.CallMsg{To: &m.address, Data: input}, nil)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeBlockchain, "Failed to read "+method, err.Error())
	}

	values, err := m.abi.Unpack(method, output)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeBlockchain, "Failed to decode "+method, err.Error())
	}
	if len(values) == 0 {
		return nil, utils.NewAppError(utils.ErrCodeBlockchain, "Empty result from "+method)
	}
	return values, nil
}

// transact builds, signs and sends an EIP-1559 transaction calling method
func (m *MaskAuthentication) transact(ctx context.Context, method string, args ...interface{}) (common.Hash, error) {
	if m.signer == nil {
		return common.Hash{}, ErrWalletNotConnected
	}

	input, err := m.abi.Pack(method, args...)
	if err != nil {
		return common.Hash{}, utils.NewAppError(utils.ErrCodeInternal, "Failed to pack "+method, err.Error())
	}

	from := m.signer.Address()
	nonce, err := m.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return common.Hash{}, utils.NewAppError(utils.ErrCodeBlockchain, "Failed to get account nonce", err.Error())
	}

	tipCap, err := m.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return common.Hash{}, utils.NewAppError(utils.ErrCodeBlockchain, "Failed to suggest gas tip", err.Error())
	}

	head, err := m.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return common.Hash{}, utils.NewAppError(utils.ErrCodeBlockchain, "Failed to get latest header", err.Error())
	}
	if head.BaseFee == nil {
		return common.Hash{}, utils.NewAppError(utils.ErrCodeBlockchain, "Chain does not support EIP-1559 transactions")
	}
	feeCap := new(big.Int).Add(tipCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))

	gas, err := m.backend.EstimateGas(ctx, ethereum.CallMsg{
		From:      from,
		To:        &m.address,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Data:      input,
	})
	if err != nil {
		return common.Hash{}, utils.NewAppError(utils.ErrCodeBlockchain, "Failed to estimate gas for "+method, err.Error())
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   m.signer.ChainID(),
		Nonce:     nonce,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &m.address,
		Value:     new(big.Int),
		Data:      input,
	})

	signed, err := m.signer.SignTx(tx)
	if err != nil {
		return common.Hash{}, utils.NewAppError(utils.ErrCodeWallet, "Failed to sign transaction", err.Error())
	}

	if err := m.backend.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, utils.NewAppError(utils.ErrCodeBlockchain, "Failed to send "+method+" transaction", err.Error())
	}

	m.logger.WithFields(logrus.Fields{
		"method":  method,
		"tx_hash": signed.Hash().Hex(),
		"from":    from.Hex(),
		"nonce":   nonce,
	}).Info("Transaction sent")

	return signed.Hash(), nil
}
