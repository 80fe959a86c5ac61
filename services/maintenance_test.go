package services

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

type fakeExpirer struct {
	olderThan time.Duration
	deleted   int64
	err       error
}

func (f *fakeExpirer) Expire(_ context.Context, olderThan time.Duration) (int64, error) {
	f.olderThan = olderThan
	return f.deleted, f.err
}

func TestCronService_SweepSessions(t *testing.T) {
	exp := &fakeExpirer{deleted: 4}
	c := NewCronService(exp, 90*24*time.Hour, nil)

	require.NoError(t, c.SweepSessions())
	assert.Equal(t, 90*24*time.Hour, exp.olderThan)

	exp.err = errors.New("mongo down")
	assert.Error(t, c.SweepSessions())
}

func TestCronService_ScheduleRetention(t *testing.T) {
	c := NewCronService(&fakeExpirer{}, time.Hour, nil)
	require.NoError(t, c.ScheduleRetention("0 3 * * *"))
	assert.Len(t, c.scheduler.Jobs(), 1)

	assert.Error(t, c.ScheduleRetention("not a cron"))
}

func TestUsageReport_ExportXLSX(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	_, err := h.documents.IngestDocument(ctx, digitalReport(), "report.pdf", "alice")
	require.NoError(t, err)
	_, err = h.documents.IngestDocument(ctx, digitalReport(), "report.pdf", "alice")
	require.NoError(t, err)

	reports := NewUsageReportService(h.documents.meter, nil)
	summary, err := reports.Summary(ctx, "alice", time.Time{})
	require.NoError(t, err)
	assert.Greater(t, summary.SavedCost, 0.0)

	data, err := reports.ExportXLSX(ctx, "alice", time.Time{})
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, []string{"Summary", "Records"}, f.GetSheetList())

	rows, err := f.GetRows("Records")
	require.NoError(t, err)
	assert.Greater(t, len(rows), 1, "header plus at least one record")
}
