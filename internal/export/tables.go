package export

import (
	"strconv"
	"time"

	"github.com/keo-sports/stage-engine/internal/classification"
	"github.com/keo-sports/stage-engine/internal/model"
	"github.com/keo-sports/stage-engine/internal/standings"
)

const dateLayout = "2006-01-02"

// StagesTable lists stages with their derived status and counts.
func StagesTable(eventID string, rows []standings.StageRow) Table {
	t := Table{
		Title:  "Stages " + eventID,
		Header: []string{"ORDER", "STAGE", "DATE", "STATUS", "RESULTS", "OFFICIAL", "PENDING", "DQ"},
	}
	for _, r := range rows {
		t.Rows = append(t.Rows, []string{
			strconv.Itoa(r.StageOrder),
			r.Name,
			formatDate(r.Date),
			string(r.Summary.Status),
			strconv.Itoa(r.Summary.Total),
			strconv.Itoa(r.Summary.Official),
			strconv.Itoa(r.Summary.Pending),
			strconv.Itoa(r.Summary.DQ),
		})
	}
	return t
}

// ResultsTable lists the results of one stage in rank order.
func ResultsTable(v *standings.StageResultsView) Table {
	t := Table{
		Title:  v.Stage.Name + " (" + string(v.Summary.Status) + ")",
		Header: []string{"RANK", "RIDER", "TIME", "OFFICIAL", "POINTS", "STATUS"},
	}
	for _, r := range v.Results {
		official := "-"
		if r.OfficialTimeSeconds != nil {
			official = classification.FormatClock(*r.OfficialTimeSeconds)
		}
		t.Rows = append(t.Rows, []string{
			strconv.Itoa(r.Rank),
			r.Name,
			classification.FormatClock(r.ElapsedTimeSeconds),
			official,
			strconv.Itoa(r.Points()),
			string(r.Status),
		})
	}
	return t
}

// GCTable lists the General Classification with one column per stage.
func GCTable(v *standings.GCView) Table {
	t := Table{
		Title:  "General Classification " + v.EventID,
		Header: []string{"RANK", "RIDER"},
	}
	for _, st := range v.Stages {
		t.Header = append(t.Header, st.Name)
	}
	t.Header = append(t.Header, "TOTAL", "GAP", "STAGES")

	for _, r := range v.Standings {
		row := []string{strconv.Itoa(r.Rank), r.Name}
		for _, st := range r.Stages {
			row = append(row, classification.FormatStageTime(st))
		}
		row = append(row, r.Total, r.Gap, strconv.Itoa(r.StagesCompleted))
		t.Rows = append(t.Rows, row)
	}
	return t
}

// KOMTable lists the Mountain Classification.
func KOMTable(v *standings.KOMView) Table {
	t := Table{
		Title:  "Mountain Classification " + v.EventID,
		Header: []string{"RANK", "RIDER", "POINTS", "SEGMENTS"},
	}
	for _, r := range v.Standings {
		t.Rows = append(t.Rows, []string{
			strconv.Itoa(r.Rank),
			r.Name,
			strconv.Itoa(r.TotalPoints),
			strconv.Itoa(r.SegmentsCompleted) + "/" + strconv.Itoa(v.Segments),
		})
	}
	return t
}

// BoardTable flattens a stage's segment boards, one row per effort.
func BoardTable(v *standings.BoardView) Table {
	t := Table{
		Title:  v.Stage.Name + " segments",
		Header: []string{"SEGMENT", "CATEGORY", "POS", "RIDER", "TIME", "POINTS", "STATUS"},
	}
	for _, b := range v.Boards {
		for _, r := range b.Results {
			name, ok := v.Names[r.UserID]
			if !ok {
				name = r.UserID
			}
			t.Rows = append(t.Rows, []string{
				b.Segment.Name,
				b.Segment.Category.Label(),
				optionalInt(r.Position),
				name,
				classification.FormatSegmentTime(r.ElapsedTimeSeconds),
				strconv.Itoa(r.Points()),
				string(r.Status),
			})
		}
	}
	return t
}

// RunsTable lists publish journal entries.
func RunsTable(runs []model.PublishRun) Table {
	t := Table{
		Title:  "Publish runs",
		Header: []string{"ID", "KIND", "STAGE", "STATUS", "ROWS", "CREATED", "ERROR"},
	}
	for _, r := range runs {
		t.Rows = append(t.Rows, []string{
			truncateID(r.ID),
			string(r.Kind),
			r.StageID,
			string(r.Status),
			strconv.Itoa(r.RowCount),
			r.CreatedAt.Format("2006-01-02 15:04"),
			r.Error,
		})
	}
	return t
}

func optionalInt(v *int) string {
	if v == nil {
		return "-"
	}
	return strconv.Itoa(*v)
}

func formatDate(d time.Time) string {
	if d.IsZero() {
		return "-"
	}
	return d.Format(dateLayout)
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
