package contract

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// MaskAuthenticationABI is the subset of the MaskAuthentication contract ABI used by maskauth
const MaskAuthenticationABI = `[
	{
		"inputs": [{"internalType": "uint256", "name": "", "type": "uint256"}],
		"name": "submissions",
		"outputs": [
			{"internalType": "address", "name": "submitter", "type": "address"},
			{"internalType": "string", "name": "ipfsHash", "type": "string"},
			{"internalType": "uint8", "name": "approvalCount", "type": "uint8"},
			{"internalType": "uint8", "name": "rejectionCount", "type": "uint8"},
			{"internalType": "bool", "name": "isAuthenticated", "type": "bool"},
			{"internalType": "bool", "name": "isCompleted", "type": "bool"}
		],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [],
		"name": "submissionCount",
		"outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [{"internalType": "string", "name": "ipfsHash", "type": "string"}],
		"name": "submitMask",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [
			{"internalType": "uint256", "name": "submissionId", "type": "uint256"},
			{"internalType": "bool", "name": "approved", "type": "bool"}
		],
		"name": "validateMask",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true, "internalType": "uint256", "name": "submissionId", "type": "uint256"},
			{"indexed": true, "internalType": "address", "name": "submitter", "type": "address"},
			{"indexed": false, "internalType": "string", "name": "ipfsHash", "type": "string"}
		],
		"name": "MaskSubmitted",
		"type": "event"
	}
]`

const (
	methodSubmissionCount = "submissionCount"
	methodSubmissions     = "submissions"
	methodSubmitMask      = "submitMask"
	methodValidateMask    = "validateMask"
	eventMaskSubmitted    = "MaskSubmitted"
)

// ParsedABI parses MaskAuthenticationABI
func ParsedABI() (abi.ABI, error) {
	return abi.JSON(strings.NewReader(MaskAuthenticationABI))
}
