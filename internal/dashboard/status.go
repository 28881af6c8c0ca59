package dashboard

import (
	"fmt"
	"math"

	"github.com/tribal-authentica/maskauth/internal/models"
)

const (
	// VotesRequired is the number of votes after which a submission is final
	VotesRequired = 10
	// ApprovalThreshold is the minimum approval percentage to authenticate
	ApprovalThreshold = 80
)

// State is the derived outcome of a submission
type State string

const (
	StatePending       State = "pending"
	StateAuthenticated State = "authenticated"
	StateRejected      State = "rejected"
)

// Status is the presentational status of a submission. It is derived from
// the vote counts only and never written back on chain.
type Status struct {
	TotalVotes         int     `json:"total_votes"`
	ApprovalPercentage float64 `json:"approval_percentage"`
	ApprovalRounded    int     `json:"approval_rounded"`
	IsFinalized        bool    `json:"is_finalized"`
	IsAuthenticated    bool    `json:"is_authenticated"`
	VotesNeeded        int     `json:"votes_needed"`
	Progress           int     `json:"progress"`
	State              State   `json:"state"`
	Label              string  `json:"label"`
	Detail             string  `json:"detail,omitempty"`
	// Diverges is set when the contract's own flags disagree with the derived decision
	Diverges bool `json:"diverges,omitempty"`
}

// DeriveStatus computes the status of a submission from its vote counts
func DeriveStatus(s models.Submission) Status {
	approvals := int(s.ApprovalCount)
	total := approvals + int(s.RejectionCount)

	status := Status{TotalVotes: total}
	if total > 0 {
		status.ApprovalPercentage = float64(approvals) / float64(total) * 100
		status.ApprovalRounded = int(math.Round(status.ApprovalPercentage))
	}

	status.IsFinalized = total >= VotesRequired
	// Integer comparison keeps 8/10 exactly at the threshold
	status.IsAuthenticated = status.IsFinalized && approvals*100 >= ApprovalThreshold*total

	status.Progress = total * 100 / VotesRequired
	if status.Progress > 100 {
		status.Progress = 100
	}

	switch {
	case !status.IsFinalized:
		status.VotesNeeded = VotesRequired - total
		status.State = StatePending
		status.Label = fmt.Sprintf("%d more votes needed", status.VotesNeeded)
		if status.VotesNeeded == 1 {
			status.Detail = "1 more vote needed for final decision"
		} else {
			status.Detail = fmt.Sprintf("%d more votes needed for final decision", status.VotesNeeded)
		}
	case status.IsAuthenticated:
		status.State = StateAuthenticated
		status.Label = "Authenticated"
	default:
		status.State = StateRejected
		status.Label = "Rejected"
	}

	status.Diverges = s.IsCompleted != status.IsFinalized ||
		(s.IsCompleted && s.IsAuthenticated != status.IsAuthenticated)

	return status
}
