package plugin

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ias-audio/smartx-bridge/internal/connection"
)

func TestFullyQualifiedName(t *testing.T) {
	assert.Equal(t, "hw_0_0_p", fullyQualifiedName("hw:0,0", Playback))
	assert.Equal(t, "hw_0_0_c", fullyQualifiedName("hw:0,0", Capture))
}

func TestBlockingTimeoutMs(t *testing.T) {
	assert.Equal(t, 500, blockingTimeoutMs(0, 4, 256))
	assert.Equal(t, 1000, blockingTimeoutMs(48000, 4, 12000))
}

func TestTranslateConstraintList(t *testing.T) {
	r := connection.NewRange(44100, 48000)
	out := translate(r)
	assert.True(t, out.HasList)
	assert.Equal(t, []int32{44100, 48000}, out.List)
}

func TestTranslateConstraintMinMax(t *testing.T) {
	r := connection.NewMinMax(1, 8)
	out := translate(r)
	assert.False(t, out.HasList)
	assert.Equal(t, int32(1), out.Min)
	assert.Equal(t, int32(8), out.Max)
}

func TestHandlePollREventsByDirection(t *testing.T) {
	playback := &Connector{direction: Playback}
	r, w := playback.HandlePollREvents()
	assert.False(t, r)
	assert.True(t, w)

	capture := &Connector{direction: Capture}
	r, w = capture.HandlePollREvents()
	assert.True(t, r)
	assert.False(t, w)
}

func TestOpenOnceLockRejectsSecondOpenFromSameProcess(t *testing.T) {
	dir := t.TempDir()
	f1, err := openOnceLock(dir, "dev1_p")
	require.NoError(t, err)
	defer f1.Close()

	_, err = openOnceLock(dir, "dev1_p")
	assert.Error(t, err)

	assert.FileExists(t, filepath.Join(dir, "dev1_p.lock"))
}

func TestStateRoundTrip(t *testing.T) {
	c := &Connector{}
	c.setState(StateXRun)
	assert.Equal(t, StateXRun, c.loadState())
	c.setState(StateNormal)
	assert.Equal(t, StateNormal, c.loadState())
}
