package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDueDate(t *testing.T) {
	loc := time.FixedZone("test", 3*60*60)

	tests := []struct {
		name     string
		raw      string
		want     time.Time
		dateOnly bool
		wantErr  bool
	}{
		{
			name:     "date only resolves to end of day",
			raw:      "2024-06-01",
			want:     time.Date(2024, 6, 1, 23, 59, 0, 0, loc),
			dateOnly: true,
		},
		{
			name: "local date time with seconds",
			raw:  "2024-06-01T15:04:05",
			want: time.Date(2024, 6, 1, 15, 4, 5, 0, loc),
		},
		{
			name: "space separated date time",
			raw:  "2024-06-01 09:30",
			want: time.Date(2024, 6, 1, 9, 30, 0, 0, loc),
		},
		{
			name: "rfc3339 keeps its instant",
			raw:  "2024-06-01T12:00:00Z",
			want: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
		},
		{name: "garbage", raw: "next tuesday", wantErr: true},
		{name: "empty", raw: "  ", wantErr: true},
		{name: "impossible date", raw: "2024-02-31", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, dateOnly, err := ParseDueDate(tt.raw, loc)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidDueDate))
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "want %s, got %s", tt.want, got)
			assert.Equal(t, tt.dateOnly, dateOnly)
		})
	}
}

func TestTask_Offset(t *testing.T) {
	task := Task{}
	_, ok := task.Offset()
	assert.False(t, ok)

	minutes := 60
	task.ReminderOffset = &minutes
	d, ok := task.Offset()
	assert.True(t, ok)
	assert.Equal(t, time.Hour, d)
}

func TestTask_DueDay(t *testing.T) {
	task := Task{DueDate: "2024-06-01T23:30:00Z"}

	day, err := task.DueDay(time.UTC)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), day)

	plus2 := time.FixedZone("plus2", 2*60*60)
	day, err = task.DueDay(plus2)
	require.NoError(t, err)
	assert.Equal(t, 2, day.Day(), "calendar date follows the configured zone")
}

func TestNewNotification_DedupesChannels(t *testing.T) {
	n := NewNotification("t", "m", []Channel{ChannelDesktop, ChannelEmail, ChannelDesktop, ""}, Options{})

	assert.Equal(t, []Channel{ChannelDesktop, ChannelEmail}, n.Channels)
	assert.Equal(t, KindInfo, n.Options.Kind)
	assert.True(t, n.Wants(ChannelEmail))
	assert.False(t, n.Wants(ChannelMobile))
}
