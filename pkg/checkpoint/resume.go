package checkpoint

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
)

// syntheticIDPattern matches auto-assigned item ids. When every
// recorded id is synthetic, resume matches by position rather than id.
var syntheticIDPattern = regexp.MustCompile(`^item_\d+$`)

// State summarizes an existing checkpoint for resume reconciliation.
type State struct {
	Path        string
	DatasetName string
	RunName     string

	// Metrics holds the metric names recovered from the header, in
	// header order.
	Metrics []string

	// Completed holds every attempted item id, success or error, in
	// file order.
	Completed []string

	// Errored holds the subset of Completed whose rows are error rows.
	Errored map[string]bool

	// SyntheticIDs is true when every recorded id is auto-assigned,
	// meaning ids carry positional rather than stable identity.
	SyntheticIDs bool

	// Rows holds the parsed rows, in file order.
	Rows []Row
}

// CompletedSet returns the attempted ids as a set.
func (s *State) CompletedSet() map[string]bool {
	set := make(map[string]bool, len(s.Completed))
	for _, id := range s.Completed {
		set[id] = true
	}

	return set
}

// Load reads a checkpoint file and classifies every row. Malformed
// rows abort the load; a checkpoint is trusted or it is not.
func Load(path string) (*State, error) {
	file, openErr := os.Open(path)
	if openErr != nil {
		return nil, fmt.Errorf("open checkpoint %s: %w", path, openErr)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1

	header, headerErr := reader.Read()
	if headerErr == io.EOF {
		return nil, fmt.Errorf("%w: %s", ErrNoHeader, path)
	}

	if headerErr != nil {
		return nil, fmt.Errorf("read checkpoint header %s: %w", path, headerErr)
	}

	state := &State{
		Path:         path,
		Metrics:      MetricsFromHeader(header),
		Errored:      make(map[string]bool),
		SyntheticIDs: true,
	}

	for {
		record, readErr := reader.Read()
		if errors.Is(readErr, io.EOF) {
			break
		}

		if readErr != nil {
			return nil, fmt.Errorf("read checkpoint %s: %w", path, readErr)
		}

		row, parseErr := ParseRow(header, record)
		if parseErr != nil {
			return nil, fmt.Errorf("checkpoint %s line %d: %w", path, len(state.Rows)+2, parseErr)
		}

		if state.DatasetName == "" {
			state.DatasetName = row.DatasetName
			state.RunName = row.RunName
		}

		if !syntheticIDPattern.MatchString(row.ItemID) {
			state.SyntheticIDs = false
		}

		state.Completed = append(state.Completed, row.ItemID)
		if row.IsError() {
			state.Errored[row.ItemID] = true
		}

		state.Rows = append(state.Rows, row)
	}

	if len(state.Rows) == 0 {
		state.SyntheticIDs = false
	}

	return state, nil
}
