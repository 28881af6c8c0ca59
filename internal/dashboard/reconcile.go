package dashboard

import (
	"github.com/tribal-authentica/maskauth/internal/models"
)

// ReconcileReport describes how well events covered the submissions
type ReconcileReport struct {
	Unresolved []uint64 // submission ids without a matching event
	Duplicates []string // ipfs hashes seen in more than one event
}

// Reconcile pairs every submission with the hash of the transaction that
// created it, matched by IPFS hash. Output order equals input order. A
// submission without a matching event gets an empty TxHash. When several
// events share an IPFS hash the last one in the given order wins.
func Reconcile(submissions []models.Submission, events []models.SubmissionEvent) []models.ReconciledSubmission {
	out, _ := reconcile(submissions, events)
	return out
}

func reconcile(submissions []models.Submission, events []models.SubmissionEvent) ([]models.ReconciledSubmission, ReconcileReport) {
	var report ReconcileReport

	lookup := make(map[string]string, len(events))
	for _, event := range events {
		if _, seen := lookup[event.IPFSHash]; seen {
			report.Duplicates = append(report.Duplicates, event.IPFSHash)
		}
		lookup[event.IPFSHash] = event.TransactionHash.Hex()
	}

	out := make([]models.ReconciledSubmission, len(submissions))
	for i, submission := range submissions {
		txHash := lookup[submission.IPFSHash]
		if txHash == "" {
			report.Unresolved = append(report.Unresolved, submission.SubmissionID)
		}
		out[i] = models.ReconciledSubmission{Submission: submission, TxHash: txHash}
	}

	return out, report
}
