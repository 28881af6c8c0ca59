package models

import (
	"github.com/ethereum/go-ethereum/common"
)

// Submission is a snapshot of submissions(id) on the MaskAuthentication contract
type Submission struct {
	SubmissionID    uint64         `json:"submission_id"`
	Submitter       common.Address `json:"submitter"`
	IPFSHash        string         `json:"ipfs_hash"`
	ApprovalCount   uint8          `json:"approval_count"`
	RejectionCount  uint8          `json:"rejection_count"`
	IsAuthenticated bool           `json:"is_authenticated"`
	IsCompleted     bool           `json:"is_completed"`
}

// SubmissionEvent is a decoded MaskSubmitted log
type SubmissionEvent struct {
	SubmissionID    uint64         `json:"submission_id" db:"submission_id"`
	Submitter       common.Address `json:"submitter" db:"submitter"`
	IPFSHash        string         `json:"ipfs_hash" db:"ipfs_hash"`
	TransactionHash common.Hash    `json:"transaction_hash" db:"tx_hash"`
	BlockNumber     uint64         `json:"block_number" db:"block_number"`
	LogIndex        uint           `json:"log_index" db:"log_index"`
}

// ReconciledSubmission pairs a submission with the transaction that created it.
// TxHash is empty when no MaskSubmitted log matched the submission's IPFS hash.
type ReconciledSubmission struct {
	Submission
	TxHash string `json:"tx_hash"`
}

// HasTransaction reports whether the creating transaction was resolved
func (r ReconciledSubmission) HasTransaction() bool {
	return r.TxHash != ""
}
