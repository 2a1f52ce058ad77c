package run

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"

	"github.com/qym-labs/qym/pkg/checkpoint"
)

// SaveCSV writes the snapshot's outcomes to a fresh CSV file in the
// checkpoint column layout. Unlike the checkpoint it is written in one
// pass after the run, so it is complete and truncates any previous
// export at the same path.
func SaveCSV(dir string, snap Snapshot) (string, error) {
	mkdirErr := os.MkdirAll(dir, 0o755)
	if mkdirErr != nil {
		return "", fmt.Errorf("create export dir: %w", mkdirErr)
	}

	path := filepath.Join(dir, snap.RunName+".csv")

	file, createErr := os.Create(path)
	if createErr != nil {
		return "", fmt.Errorf("create export %s: %w", path, createErr)
	}

	writer := csv.NewWriter(file)

	writeErr := writeRecords(writer, snap)

	writer.Flush()
	if writeErr == nil {
		writeErr = writer.Error()
	}

	closeErr := file.Close()

	if writeErr != nil {
		return "", fmt.Errorf("write export %s: %w", path, writeErr)
	}

	if closeErr != nil {
		return "", fmt.Errorf("close export %s: %w", path, closeErr)
	}

	return path, nil
}

func writeRecords(writer *csv.Writer, snap Snapshot) error {
	headerErr := writer.Write(checkpoint.Header(snap.Metrics))
	if headerErr != nil {
		return headerErr
	}

	for _, itemID := range snap.ItemOrder {
		row := exportRow(snap, itemID)

		record, recErr := row.Record(snap.Metrics)
		if recErr != nil {
			return fmt.Errorf("row %s: %w", itemID, recErr)
		}

		rowErr := writer.Write(record)
		if rowErr != nil {
			return fmt.Errorf("row %s: %w", itemID, rowErr)
		}
	}

	return nil
}

// exportRow flattens one outcome into the checkpoint row shape.
func exportRow(snap Snapshot, itemID string) checkpoint.Row {
	row := checkpoint.Row{
		DatasetName: snap.DatasetName,
		RunName:     snap.RunName,
		RunMetadata: snap.Metadata,
		RunConfig:   snap.Config,
		ItemID:      itemID,
	}

	if itemErr, failed := snap.Errors[itemID]; failed {
		row.Input = itemErr.Input
		row.TraceID = itemErr.TraceID
		row.TaskStartedAtMS = itemErr.TaskStartedAtMS
		row.Err = itemErr.Message

		return row
	}

	result := snap.Results[itemID]
	row.Input = result.Input
	row.Output = result.Output
	row.Expected = result.Expected
	row.Scores = result.Scores
	row.TraceID = result.TraceID
	row.TimeSeconds = result.TimeSeconds
	row.TaskStartedAtMS = result.TaskStartedAtMS

	return row
}
