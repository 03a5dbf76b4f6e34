package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"familycal/internal/calendar"
	"familycal/internal/model"
	"familycal/internal/store"
)

func TestLocalAddr(t *testing.T) {
	assert.Equal(t, "127.0.0.1:8080", localAddr(":8080"))
	assert.Equal(t, "127.0.0.1:8080", localAddr("0.0.0.0:8080"))
	assert.Equal(t, "192.168.1.5:9000", localAddr("192.168.1.5:9000"))
	assert.Equal(t, "garbage", localAddr("garbage"))
}

func TestPrintWeek(t *testing.T) {
	st, err := store.NewMemory()
	require.NoError(t, err)
	svc := calendar.NewService(st, calendar.Options{Location: time.UTC, WeekStart: time.Monday})
	ctx := context.Background()

	for _, ev := range []model.BaseEvent{
		{Title: "Dentist", Type: "Appointment", OwnerTag: "Mia",
			Start: time.Date(2024, 1, 8, 9, 0, 0, 0, time.UTC), End: time.Date(2024, 1, 8, 10, 0, 0, 0, time.UTC)},
		{Title: "Call", Type: "Work", OwnerTag: "Leo",
			Start: time.Date(2024, 1, 8, 9, 30, 0, 0, time.UTC), End: time.Date(2024, 1, 8, 10, 30, 0, 0, time.UTC)},
	} {
		_, err := svc.Create(ctx, ev)
		require.NoError(t, err)
	}

	var buf bytes.Buffer
	require.NoError(t, printWeek(ctx, &buf, svc, time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)))
	out := buf.String()
	assert.Contains(t, out, "Week of Mon Jan 8, 2024")
	assert.Contains(t, out, "Monday, Jan 8")
	assert.Contains(t, out, "Dentist (Mia) [1/2]")
	assert.Contains(t, out, "Call (Leo) [2/2]")

	buf.Reset()
	require.NoError(t, printWeek(ctx, &buf, svc, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)))
	assert.Contains(t, buf.String(), "no events")
}
