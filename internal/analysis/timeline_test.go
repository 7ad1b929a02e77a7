package analysis

import (
	"bytes"
	"testing"

	"github.com/Akshita1414/Taarini/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestFormatTimestamp(t *testing.T) {
	assert.Equal(t, "00:00", FormatTimestamp(0))
	assert.Equal(t, "00:09", FormatTimestamp(9.99))
	assert.Equal(t, "01:05", FormatTimestamp(65))
	assert.Equal(t, "1:00:10", FormatTimestamp(3610))
	assert.Equal(t, "00:00", FormatTimestamp(-3))
}

func TestBuildTimeline(t *testing.T) {
	result, err := DecodeResult([]byte(resultJSON("vid")))
	require.NoError(t, err)

	tl := BuildTimeline(result, func(ref string) string { return "http://svc" + ref })

	require.Len(t, tl.Entries, 3)
	for i, e := range tl.Entries {
		assert.Equal(t, i, e.Index)
		assert.Equal(t, result.Frames[i].TimestampSeconds, e.TimestampSeconds)
	}
	assert.Equal(t, "00:20", tl.Entries[2].Label)
	assert.Equal(t, 0.93, tl.Entries[2].MaxConfidence)
	assert.Equal(t, 0.72, tl.Entries[2].MaxWaterRatio)
	assert.Equal(t, "http://svc/static/uploads/frame_20.jpg", tl.Entries[2].OriginalURL)

	assert.Equal(t, "vid", tl.Summary.VideoID)
	assert.Equal(t, "00:25", tl.Summary.DurationLabel)
	assert.Equal(t, 1, tl.Summary.StatusCounts[models.StatusSafe])
	assert.Equal(t, 1, tl.Summary.StatusCounts[models.StatusWarning])
	assert.Equal(t, 1, tl.Summary.StatusCounts[models.StatusCritical])
	require.NotNil(t, tl.Summary.FirstCriticalSeconds)
	assert.Equal(t, 20.0, *tl.Summary.FirstCriticalSeconds)
	assert.Equal(t, "00:20", tl.Summary.FirstCriticalLabel)
}

func TestBuildTimeline_KeepsArrayOrder(t *testing.T) {
	result := &models.VideoAnalysisResult{
		OverallStatus: models.StatusSafe,
		Frames: []models.FrameResult{
			{TimestampSeconds: 20, Status: models.StatusSafe, AlertLevel: models.AlertNone},
			{TimestampSeconds: 10, Status: models.StatusSafe, AlertLevel: models.AlertNone},
		},
	}

	tl := BuildTimeline(result, nil)
	assert.Equal(t, 20.0, tl.Entries[0].TimestampSeconds)
	assert.Equal(t, 10.0, tl.Entries[1].TimestampSeconds)
	assert.Equal(t, 20.0, result.Frames[0].TimestampSeconds)
	assert.Nil(t, tl.Summary.FirstCriticalSeconds)
}

func TestBuildTimeline_SubmergedFromDetections(t *testing.T) {
	result := &models.VideoAnalysisResult{
		OverallStatus: models.StatusCritical,
		Frames: []models.FrameResult{{
			Status:     models.StatusCritical,
			AlertLevel: models.AlertCritical,
			HumanCount: 2,
			Detections: []models.Detection{{IsSubmerged: true}, {IsSubmerged: false}},
		}},
	}

	assert.Equal(t, 1, BuildTimeline(result, nil).Entries[0].SubmergedCount)
	assert.Empty(t, BuildTimeline(nil, nil).Entries)
}

func TestWriteTimelineXLSX(t *testing.T) {
	result, err := DecodeResult([]byte(resultJSON("vid")))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteTimelineXLSX(&buf, BuildTimeline(result, nil)))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{"Frames", "Summary"}, f.GetSheetList())

	rows, err := f.GetRows("Frames")
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, "#", rows[0][0])
	assert.Equal(t, "00:20", rows[3][2])
	assert.Equal(t, "critical", rows[3][4])

	status, err := f.GetCellValue("Summary", "B2")
	require.NoError(t, err)
	assert.Equal(t, "critical", status)
}
