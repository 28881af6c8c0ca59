package storage

import (
	"context"
	"database/sql"
	"errors"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/tribal-authentica/maskauth/internal/models"
	"github.com/tribal-authentica/maskauth/pkg/utils"
)

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSubmissionEvent(row rowScanner) (*models.SubmissionEvent, error) {
	var (
		event                   models.SubmissionEvent
		submitter, txHash       string
		id, blockNumber, logIdx int64
	)
	if err := row.Scan(&id, &submitter, &event.IPFSHash, &txHash, &blockNumber, &logIdx); err != nil {
		return nil, err
	}

	event.SubmissionID = uint64(id)
	event.Submitter = common.HexToAddress(submitter)
	event.TransactionHash = common.HexToHash(txHash)
	event.BlockNumber = uint64(blockNumber)
	event.LogIndex = uint(logIdx)
	return &event, nil
}

func scanSubmissionEvents(rows *sql.Rows) ([]models.SubmissionEvent, error) {
	var events []models.SubmissionEvent
	for rows.Next() {
		event, err := scanSubmissionEvent(rows)
		if err != nil {
			return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to scan submission event", err.Error())
		}
		events = append(events, *event)
	}
	if err := rows.Err(); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to iterate submission events", err.Error())
	}
	return events, nil
}

func getLatestIndexedBlock(ctx context.Context, db *sql.DB, query string) (uint64, bool, error) {
	var value string
	err := db.QueryRowContext(ctx, query, latestIndexedBlockKey).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get latest indexed block", err.Error())
	}
	block, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0, false, utils.NewAppError(utils.ErrCodeDatabase, "Corrupt latest indexed block", value)
	}
	return block, true, nil
}
