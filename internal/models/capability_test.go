package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCapabilities(t *testing.T) {
	caps, err := ParseCapabilities([]string{"stream_control", "status_read"})
	require.NoError(t, err)
	assert.Equal(t, []Capability{CapabilityStreamControl, CapabilityStatusRead}, caps)

	_, err = ParseCapabilities([]string{"stream_control", "root_access"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "root_access")

	_, err = ParseCapabilities(nil)
	assert.Error(t, err)
}

func TestCapabilityList_Contains(t *testing.T) {
	list := CapabilityList{CapabilityPlaybackControl, CapabilityVolumeControl}

	assert.True(t, list.Contains(CapabilityPlaybackControl))
	assert.False(t, list.Contains(CapabilityPiPControl))
	assert.False(t, CapabilityList(nil).Contains(CapabilityStatusRead))
}

func TestDeviceInfo_Validate(t *testing.T) {
	valid := DeviceInfo{Name: "Pixel 8", OS: "Android", Capabilities: []string{"status_read"}}
	assert.NoError(t, valid.Validate())

	noName := valid
	noName.Name = ""
	assert.Error(t, noName.Validate())

	noOS := valid
	noOS.OS = ""
	assert.Error(t, noOS.Validate())

	noCaps := valid
	noCaps.Capabilities = nil
	assert.Error(t, noCaps.Validate())
}
