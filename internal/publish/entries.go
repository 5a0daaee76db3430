package publish

import (
	"strconv"

	"github.com/rotisserie/eris"

	"github.com/keo-sports/stage-engine/internal/classification"
	"github.com/keo-sports/stage-engine/internal/ingest"
	"github.com/keo-sports/stage-engine/internal/model"
)

// ParseEntries turns a reviewer sheet into entries. The first row is the
// header; recognised columns are user_id (required), time as HH:MM:SS or
// official_time_seconds, mountain_points, status and result_id.
func ParseEntries(rows [][]string) ([]Entry, error) {
	if len(rows) == 0 {
		return nil, eris.Wrap(ErrValidation, "sheet is empty")
	}
	idx := ingest.HeaderIndex(rows[0])
	if _, ok := idx["user_id"]; !ok {
		return nil, eris.Wrap(ErrValidation, "sheet has no user_id column")
	}
	_, hasClock := idx["time"]
	_, hasSeconds := idx["official_time_seconds"]
	if !hasClock && !hasSeconds {
		return nil, eris.Wrap(ErrValidation, "sheet has no time or official_time_seconds column")
	}

	entries := make([]Entry, 0, len(rows)-1)
	for n, row := range rows[1:] {
		line := n + 2
		user := ingest.Cell(row, idx, "user_id")
		if user == "" {
			continue
		}

		e := Entry{
			UserID:   user,
			ResultID: ingest.Cell(row, idx, "result_id"),
			Status:   model.ResultStatus(ingest.Cell(row, idx, "status")),
		}

		var err error
		if clock := ingest.Cell(row, idx, "time"); clock != "" {
			e.OfficialTimeSeconds, err = classification.ParseClock(clock)
		} else {
			e.OfficialTimeSeconds, err = strconv.Atoi(ingest.Cell(row, idx, "official_time_seconds"))
		}
		if err != nil {
			return nil, eris.Wrapf(ErrValidation, "line %d: time for %s: %v", line, user, err)
		}

		if pts := ingest.Cell(row, idx, "mountain_points"); pts != "" {
			if e.MountainPoints, err = strconv.Atoi(pts); err != nil {
				return nil, eris.Wrapf(ErrValidation, "line %d: mountain points for %s: %v", line, user, err)
			}
		}
		entries = append(entries, e)
	}
	return entries, nil
}
