package dashboard

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/tribal-authentica/maskauth/pkg/utils"
)

const txNotFound = "Transaction not found"

// Presenter renders submissions for a reader
type Presenter interface {
	Submissions(w io.Writer, views []View) error
	Submission(w io.Writer, detail *Detail) error
}

// NewPresenter returns the presenter for format: json or table
func NewPresenter(format string) (Presenter, error) {
	switch strings.ToLower(format) {
	case "json":
		return JSONPresenter{}, nil
	case "", "table":
		return TablePresenter{}, nil
	default:
		return nil, utils.NewAppError(utils.ErrCodeValidation, "Unsupported output format", format)
	}
}

// JSONPresenter writes indented JSON
type JSONPresenter struct{}

func (JSONPresenter) Submissions(w io.Writer, views []View) error {
	return writeJSON(w, views)
}

func (JSONPresenter) Submission(w io.Writer, detail *Detail) error {
	return writeJSON(w, detail)
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// TablePresenter writes aligned text columns
type TablePresenter struct{}

func (TablePresenter) Submissions(w io.Writer, views []View) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSUBMITTER\tIPFS HASH\tVOTES\tAPPROVAL\tSTATUS\tTRANSACTION")
	for _, v := range views {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d/%d\t%d%%\t%s\t%s\n",
			v.SubmissionID,
			utils.ShortAddress(v.Submitter),
			v.IPFSHash,
			v.ApprovalCount,
			v.Status.TotalVotes,
			v.Status.ApprovalRounded,
			v.Status.Label,
			txColumn(v),
		)
	}
	return tw.Flush()
}

func (TablePresenter) Submission(w io.Writer, d *Detail) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Submission\t#%d\n", d.SubmissionID)
	fmt.Fprintf(tw, "Submitter\t%s\n", d.Submitter.Hex())
	fmt.Fprintf(tw, "IPFS hash\t%s\n", d.IPFSHash)
	fmt.Fprintf(tw, "Approvals\t%d\n", d.ApprovalCount)
	fmt.Fprintf(tw, "Rejections\t%d\n", d.RejectionCount)
	fmt.Fprintf(tw, "Approval\t%d%%\n", d.Status.ApprovalRounded)
	fmt.Fprintf(tw, "Progress\t%d%%\n", d.Status.Progress)
	fmt.Fprintf(tw, "Status\t%s\n", d.Status.Label)
	if d.Status.Detail != "" {
		fmt.Fprintf(tw, "\t%s\n", d.Status.Detail)
	}
	fmt.Fprintf(tw, "Transaction\t%s\n", txColumn(d.View))
	fmt.Fprintf(tw, "Images\t%s\n", strings.Join(d.Images, ", "))
	return tw.Flush()
}

func txColumn(v View) string {
	switch {
	case v.ExplorerURL != "":
		return v.ExplorerURL
	case v.HasTransaction():
		return v.TxHash
	default:
		return txNotFound
	}
}
