package h2mux

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeSettingsPayloadRoundTrip(t *testing.T) {
	s := DefaultSettings()
	s.HeaderTableSize = 8192
	s.InitialWindowSize = 1 << 20

	payload := EncodeSettingsPayload(nil, s)
	require.Equal(t, 0, len(payload)%6)

	cur := DefaultSettings()
	windowDelta, connectDisabled, err := applySettingsPayload(&cur, payload)
	require.NoError(t, err)
	require.False(t, connectDisabled)
	require.Equal(t, uint32(8192), cur.HeaderTableSize)
	require.Equal(t, int32(1<<20-defaultInitialWindowSize), windowDelta)
}

func TestApplySettingsPayloadRejectsBadLength(t *testing.T) {
	_, _, err := applySettingsPayload(&Settings{}, []byte{1, 2, 3})
	require.Error(t, err)
}

func TestApplySettingsPayloadRejectsOversizeInitialWindow(t *testing.T) {
	payload := appendSetting(nil, SettingInitialWindowSize, 1<<31)
	_, _, err := applySettingsPayload(&Settings{}, payload)
	require.Error(t, err)
}

func TestApplySettingsPayloadDetectsConnectDisabled(t *testing.T) {
	cur := Settings{EnableConnect: true, hasEnableConnect: true}
	payload := appendSetting(nil, SettingEnableConnect, 0)
	_, connectDisabled, err := applySettingsPayload(&cur, payload)
	require.NoError(t, err)
	require.True(t, connectDisabled)
}

func TestApplySettingsPayloadIgnoresUnknownIdentifiers(t *testing.T) {
	payload := appendSetting(nil, 0x99, 42)
	cur := DefaultSettings()
	_, _, err := applySettingsPayload(&cur, payload)
	require.NoError(t, err)
}
