package buildinfo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInfoAccessors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		info *Info
		want [3]string
	}{
		{"nil info", nil, [3]string{UnknownValue, UnknownValue, UnknownValue}},
		{"empty fields", &Info{}, [3]string{UnknownValue, UnknownValue, UnknownValue}},
		{"populated", &Info{Version: "v1.2.0", BuildDate: "2026-03-01", DeviceID: "tablet-7"}, [3]string{"v1.2.0", "2026-03-01", "tablet-7"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := [3]string{tt.info.GetVersion(), tt.info.GetBuildDate(), tt.info.GetDeviceID()}
			assert.Equal(t, tt.want, got)
		})
	}
}
