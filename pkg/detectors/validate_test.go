package detectors

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckParameter(t *testing.T) {
	tests := []struct {
		name    string
		value   float64
		low     float64
		high    float64
		iv      Interval
		wantErr bool
	}{
		{name: "open inside", value: 0.5, low: 0, high: 1, iv: Open},
		{name: "open at low", value: 0, low: 0, high: 1, iv: Open, wantErr: true},
		{name: "open at high", value: 1, low: 0, high: 1, iv: Open, wantErr: true},
		{name: "left closed at low", value: 0, low: 0, high: 1, iv: LeftClosed},
		{name: "left closed at high", value: 1, low: 0, high: 1, iv: LeftClosed, wantErr: true},
		{name: "right closed at high", value: 1, low: 0, high: 1, iv: RightClosed},
		{name: "right closed at low", value: 0, low: 0, high: 1, iv: RightClosed, wantErr: true},
		{name: "closed at both", value: 1, low: 1, high: 1, iv: Closed},
		{name: "closed below", value: -0.1, low: 0, high: 1, iv: Closed, wantErr: true},
		{name: "unbounded high", value: 1e9, low: 1, high: PositiveInf, iv: LeftClosed},
		{name: "unbounded both", value: 1, low: NegativeInf, high: PositiveInf, iv: Open, wantErr: true},
		{name: "inverted bounds", value: 1, low: 2, high: 0, iv: Open, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckParameter("p", tt.value, tt.low, tt.high, tt.iv)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, IsConfigurationError(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCheckParameterMessage(t *testing.T) {
	err := CheckParameter("alpha", 1.5, 0, 1, Open)
	require.Error(t, err)
	assert.Equal(t, "configuration: alpha: is set to 1.5, not in the range of (0, 1)", err.Error())

	err = CheckParameter("beta", 0, 1, PositiveInf, LeftClosed)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "[1, +Inf)")
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.Contamination = 0.7
	assert.True(t, IsConfigurationError(cfg.Validate()))

	cfg = DefaultConfig()
	cfg.Jobs = 0
	assert.True(t, IsConfigurationError(cfg.Validate()))
}
