package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keo-sports/stage-engine/internal/classification"
	"github.com/keo-sports/stage-engine/internal/ingest"
	"github.com/keo-sports/stage-engine/internal/model"
	"github.com/keo-sports/stage-engine/internal/standings"
)

func ptr[T any](v T) *T { return &v }

func sampleTable() Table {
	return Table{
		Title:  "General Classification ev1",
		Header: []string{"RANK", "RIDER", "TOTAL"},
		Rows: [][]string{
			{"1", "Ana Climber", "01:00:00"},
			{"2", "Ben, Sprinter", "01:01:00"},
		},
	}
}

func TestParseFormat(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"", FormatTable, false},
		{"table", FormatTable, false},
		{"CSV", FormatCSV, false},
		{" json ", FormatJSON, false},
		{"xlsx", FormatXLSX, false},
		{"pdf", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, err := ParseFormat(tt.in)
			if tt.wantErr {
				assert.ErrorContains(t, err, "unknown format")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWriteTable(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatTable, sampleTable(), nil))

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 6)
	assert.Equal(t, "General Classification ev1", lines[0])
	assert.Empty(t, lines[1])
	assert.True(t, strings.HasPrefix(lines[2], "RANK  RIDER"))
	assert.True(t, strings.HasPrefix(lines[3], "----  -----"))
	assert.Contains(t, lines[4], "Ana Climber")
	assert.Contains(t, lines[5], "01:01:00")
}

func TestWriteCSV(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatCSV, sampleTable(), nil))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, []string{"RANK", "RIDER", "TOTAL"}, records[0])
	assert.Equal(t, "Ben, Sprinter", records[2][1])
}

func TestWriteJSON_EncodesRawView(t *testing.T) {
	t.Parallel()

	raw := map[string]any{"event_id": "ev1", "standings": []int{1, 2}}
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatJSON, sampleTable(), raw))

	var got map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "ev1", got["event_id"])
	assert.Contains(t, buf.String(), "\n  ")
}

func TestWriteXLSX(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatXLSX, sampleTable(), nil))

	path := filepath.Join(t.TempDir(), "gc.xlsx")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))

	rows, err := ingest.ReadXLSX(path, ingest.XLSXOptions{SheetName: "General Classification ev1"})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"RANK", "RIDER", "TOTAL"}, rows[0])
	assert.Equal(t, []string{"1", "Ana Climber", "01:00:00"}, rows[1])
}

func TestWrite_UnknownFormat(t *testing.T) {
	t.Parallel()
	err := Write(&bytes.Buffer{}, Format("pdf"), sampleTable(), nil)
	assert.ErrorContains(t, err, "unknown format")
}

func TestSheetName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Sheet1", sheetName("  "))
	assert.Equal(t, "Stage 1- Col-Climb", sheetName("Stage 1: Col/Climb"))
	assert.Len(t, []rune(sheetName(strings.Repeat("x", 40))), 31)
}

func TestFormatBinary(t *testing.T) {
	t.Parallel()
	assert.True(t, FormatXLSX.Binary())
	assert.False(t, FormatCSV.Binary())
}

func TestStagesTable(t *testing.T) {
	t.Parallel()

	rows := []standings.StageRow{
		{
			Stage: model.Stage{ID: "st1", Name: "Prologue", StageOrder: 1, Date: time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)},
			Summary: classification.StageSummary{
				StageID: "st1", Status: model.StageStatusMixed, Total: 3, Official: 2, Pending: 1,
			},
		},
		{
			Stage:   model.Stage{ID: "st2", Name: "Queen stage", StageOrder: 2},
			Summary: classification.StageSummary{StageID: "st2", Status: model.StageStatusPending},
		},
	}

	tbl := StagesTable("ev1", rows)
	require.Len(t, tbl.Rows, 2)
	assert.Equal(t, []string{"1", "Prologue", "2026-07-01", "mixed", "3", "2", "1", "0"}, tbl.Rows[0])
	assert.Equal(t, "-", tbl.Rows[1][2])
	assert.Equal(t, "pending", tbl.Rows[1][3])
}

func TestResultsTable(t *testing.T) {
	t.Parallel()

	v := &standings.StageResultsView{
		Stage:   model.Stage{ID: "st1", Name: "Prologue"},
		Summary: classification.StageSummary{Status: model.StageStatusOfficial},
		Results: []standings.RankedResult{
			{
				StageResult: model.StageResult{
					UserID: "A", ElapsedTimeSeconds: 3600, OfficialTimeSeconds: ptr(3590),
					MountainPoints: 3, OfficialMountainPoints: ptr(5), Status: model.ResultStatusOfficial,
				},
				Rank: 1, Name: "Ana",
			},
			{
				StageResult: model.StageResult{UserID: "B", ElapsedTimeSeconds: 3725, MountainPoints: 2, Status: model.ResultStatusPending},
				Rank:        2, Name: "Ben",
			},
		},
	}

	tbl := ResultsTable(v)
	assert.Equal(t, "Prologue (official)", tbl.Title)
	assert.Equal(t, []string{"1", "Ana", "01:00:00", "00:59:50", "5", "official"}, tbl.Rows[0])
	assert.Equal(t, []string{"2", "Ben", "01:02:05", "-", "2", "pending"}, tbl.Rows[1])
}

func TestGCTable(t *testing.T) {
	t.Parallel()

	gap := 60
	v := &standings.GCView{
		EventID: "ev1",
		Stages:  []model.Stage{{ID: "st1", Name: "Stage 1"}, {ID: "st2", Name: "Stage 2"}},
		Standings: []standings.GCRow{
			{
				GCStanding: classification.GCStanding{
					UserID: "A", Rank: 1, TotalTimeSeconds: 7200, StagesCompleted: 2,
					Stages: []classification.GCStageTime{
						{StageID: "st1", HasResult: true, TimeSeconds: 3600},
						{StageID: "st2", HasResult: true, TimeSeconds: 3600},
					},
				},
				Name: "Ana", Total: "02:00:00", Gap: "",
			},
			{
				GCStanding: classification.GCStanding{
					UserID: "B", Rank: 2, TotalTimeSeconds: 7260, StagesCompleted: 1, GapSeconds: &gap,
					Stages: []classification.GCStageTime{
						{StageID: "st1", HasResult: true, TimeSeconds: 7260},
						{StageID: "st2"},
					},
				},
				Name: "Ben", Total: "02:01:00", Gap: "+00:01:00",
			},
		},
	}

	tbl := GCTable(v)
	assert.Equal(t, []string{"RANK", "RIDER", "Stage 1", "Stage 2", "TOTAL", "GAP", "STAGES"}, tbl.Header)
	assert.Equal(t, []string{"1", "Ana", "01:00:00", "01:00:00", "02:00:00", "", "2"}, tbl.Rows[0])
	assert.Equal(t, []string{"2", "Ben", "02:01:00", "-", "02:01:00", "+00:01:00", "1"}, tbl.Rows[1])
}

func TestKOMTable(t *testing.T) {
	t.Parallel()

	v := &standings.KOMView{
		EventID:  "ev1",
		Segments: 3,
		Standings: []standings.KOMRow{
			{KOMStanding: classification.KOMStanding{UserID: "A", TotalPoints: 15, SegmentsCompleted: 2, Rank: 1}, Name: "Ana"},
		},
	}
	tbl := KOMTable(v)
	assert.Equal(t, [][]string{{"1", "Ana", "15", "2/3"}}, tbl.Rows)
}

func TestBoardTable(t *testing.T) {
	t.Parallel()

	v := &standings.BoardView{
		Stage: model.Stage{ID: "st1", Name: "Stage 1"},
		Boards: []classification.SegmentBoard{{
			Segment: model.Segment{ID: "seg1", Name: "Col du Test", Category: model.CategoryHC},
			Results: []model.SegmentResult{
				{UserID: "A", ElapsedTimeSeconds: 754, Position: ptr(1), PointsEarned: ptr(20), Status: model.ResultStatusOfficial},
				{UserID: "Z", ElapsedTimeSeconds: 3725, Status: model.ResultStatusPending},
			},
		}},
		Names: map[string]string{"A": "Ana"},
	}

	tbl := BoardTable(v)
	require.Len(t, tbl.Rows, 2)
	assert.Equal(t, []string{"Col du Test", "HC (Hors Catégorie)", "1", "Ana", "12:34", "20", "official"}, tbl.Rows[0])
	assert.Equal(t, []string{"Col du Test", "HC (Hors Catégorie)", "-", "Z", "1:02:05", "0", "pending"}, tbl.Rows[1])
}

func TestRunsTable(t *testing.T) {
	t.Parallel()

	runs := []model.PublishRun{{
		ID:        "0123456789abcdef",
		Kind:      model.PublishKindStage,
		StageID:   "st1",
		Status:    model.PublishRunFinalizeFailed,
		RowCount:  4,
		Error:     "finalizer: status 503",
		CreatedAt: time.Date(2026, 7, 1, 18, 30, 0, 0, time.UTC),
	}}
	tbl := RunsTable(runs)
	assert.Equal(t, []string{"01234567", "stage", "st1", "finalize_failed", "4", "2026-07-01 18:30", "finalizer: status 503"}, tbl.Rows[0])
}
