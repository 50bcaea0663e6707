package controller

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/relabs-tech/dyntarget/internal/controller/mocks"
	"github.com/relabs-tech/dyntarget/internal/gps"
	"github.com/relabs-tech/dyntarget/internal/prefs"
	"github.com/relabs-tech/dyntarget/internal/tracking"
)

var _ Tracker = (*tracking.Scheduler)(nil)

func setup(t *testing.T) (*Controller, *mocks.MockTracker, string) {
	t.Helper()
	ctrl := gomock.NewController(t)
	tracker := mocks.NewMockTracker(ctrl)
	path := filepath.Join(t.TempDir(), "prefs.toml")
	return New(tracker, path, nil), tracker, path
}

func savedTracking(t *testing.T, path string) bool {
	t.Helper()
	p, err := prefs.Load(path)
	require.NoError(t, err)
	return p.Tracking
}

func TestController_StartRemembersChoice(t *testing.T) {
	c, tracker, path := setup(t)
	tracker.EXPECT().Start(gomock.Any()).Return(nil)

	require.NoError(t, c.Start(context.Background()))
	assert.True(t, savedTracking(t, path))
}

func TestController_StartFailureIsNotRemembered(t *testing.T) {
	c, tracker, path := setup(t)
	denied := errors.New("permission denied")
	tracker.EXPECT().Start(gomock.Any()).Return(denied)

	err := c.Start(context.Background())
	assert.ErrorIs(t, err, denied)

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestController_StopRemembersChoice(t *testing.T) {
	c, tracker, path := setup(t)
	require.NoError(t, prefs.Save(path, prefs.Prefs{Tracking: true}))
	tracker.EXPECT().Stop()

	c.Stop()
	assert.False(t, savedTracking(t, path))
}

func TestController_Toggle(t *testing.T) {
	tests := []struct {
		name    string
		running bool
		setup   func(*mocks.MockTracker)
		want    bool
		wantErr bool
	}{
		{
			name:    "stopped starts",
			running: false,
			setup:   func(m *mocks.MockTracker) { m.EXPECT().Start(gomock.Any()).Return(nil) },
			want:    true,
		},
		{
			name:    "running stops",
			running: true,
			setup:   func(m *mocks.MockTracker) { m.EXPECT().Stop() },
			want:    false,
		},
		{
			name:    "start failure",
			running: false,
			setup: func(m *mocks.MockTracker) {
				m.EXPECT().Start(gomock.Any()).Return(errors.New("no fix source"))
			},
			want:    false,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, tracker, _ := setup(t)
			tracker.EXPECT().Running().Return(tt.running)
			tt.setup(tracker)

			got, err := c.Toggle(context.Background())
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestController_Restore(t *testing.T) {
	t.Run("saved on starts", func(t *testing.T) {
		c, tracker, path := setup(t)
		require.NoError(t, prefs.Save(path, prefs.Prefs{Tracking: true}))
		tracker.EXPECT().Start(gomock.Any()).Return(nil)

		assert.NoError(t, c.Restore(context.Background()))
	})

	t.Run("saved off stays stopped", func(t *testing.T) {
		c, _, path := setup(t)
		require.NoError(t, prefs.Save(path, prefs.Prefs{Tracking: false}))

		assert.NoError(t, c.Restore(context.Background()))
	})

	t.Run("no file stays stopped", func(t *testing.T) {
		c, _, _ := setup(t)
		assert.NoError(t, c.Restore(context.Background()))
	})

	t.Run("unreadable file stays stopped", func(t *testing.T) {
		c, _, path := setup(t)
		require.NoError(t, os.WriteFile(path, []byte("tracking = ["), 0o644))
		assert.NoError(t, c.Restore(context.Background()))
	})

	t.Run("start error surfaces", func(t *testing.T) {
		c, tracker, path := setup(t)
		require.NoError(t, prefs.Save(path, prefs.Prefs{Tracking: true}))
		tracker.EXPECT().Start(gomock.Any()).Return(errors.New("busy"))

		assert.Error(t, c.Restore(context.Background()))
	})
}

func TestController_Delegates(t *testing.T) {
	c, tracker, _ := setup(t)
	last := gps.Position{Latitude: 1, Longitude: 2}

	tracker.EXPECT().Running().Return(true)
	tracker.EXPECT().LastKnown().Return(last, true)
	tracker.EXPECT().Snapshot().Return(tracking.State{Running: true, LastKnown: &last})
	tracker.EXPECT().Observe(gomock.Any()).Return(func() {})

	assert.True(t, c.Running())
	got, ok := c.LastKnown()
	assert.True(t, ok)
	assert.Equal(t, last, got)
	assert.Equal(t, &last, c.State().LastKnown)
	assert.NotNil(t, c.Observe(func(tracking.State) {}))
}
