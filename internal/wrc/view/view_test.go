package view

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/wrc.report/internal/units"
	"github.com/banshee-data/wrc.report/internal/wrc/packet"
)

func sample() packet.Telemetry {
	return packet.Telemetry{
		PacketUID:               7,
		GameTotalTime:           1843.25,
		ShiftlightsFraction:     0.62,
		ShiftlightsRPMValid:     true,
		VehicleGearIndex:        10,
		VehicleGearIndexNeutral: 0,
		VehicleGearIndexReverse: 10,
		VehicleGearMaximum:      6,
		VehicleSpeed:            10,
		VehicleEngineRPMCurrent: 3100,
		VehicleThrottle:         0.5,
		VehicleBrake:            0.999,
		VehicleClutch:           1,
		VehicleHandbrake:        0,
		StageCurrentTime:        924.497,
		StageCurrentDistance:    2500,
		StageLength:             10000,
	}
}

func TestNew(t *testing.T) {
	v := New(sample())
	require.NotNil(t, v.ShiftLight)

	assert.Equal(t, "00:15:24", v.StageTime)
	assert.Equal(t, "00:30:43", v.TotalTime)
	assert.Equal(t, "R", v.Gear)
	assert.InDelta(t, 36.0, v.Speed, 1e-9)
	assert.Equal(t, units.KPH, v.Units)
	assert.Equal(t, 50, v.Throttle)
	assert.Equal(t, 99, v.Brake)
	assert.Equal(t, 100, v.Clutch)
	assert.Equal(t, 0, v.Handbrake)
	assert.Equal(t, 62, *v.ShiftLight)
	assert.InDelta(t, 25.0, v.StageProgress, 1e-9)
}

func TestNewInvalidShiftLight(t *testing.T) {
	rec := sample()
	rec.ShiftlightsRPMValid = false
	v := New(rec)
	assert.Nil(t, v.ShiftLight)
	assert.Contains(t, v.String(), "shift -")

	b, err := json.Marshal(v)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"shift_light_pct":null`)
}

func TestNewWithUnits(t *testing.T) {
	assert.InDelta(t, 22.369, NewWithUnits(sample(), units.MPH).Speed, 1e-3)

	v := NewWithUnits(sample(), "furlongs")
	assert.Equal(t, units.MPS, v.Units)
	assert.InDelta(t, 10.0, v.Speed, 1e-9)
}

func TestNewDoesNotMutateRecord(t *testing.T) {
	rec := sample()
	before := rec
	_ = New(rec).String()
	assert.Equal(t, before, rec)
}

func TestStringIsDeterministic(t *testing.T) {
	rec := sample()
	first := New(rec).String()
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, New(rec).String())
	}
	assert.Equal(t,
		"stage 00:15:24 total 00:30:43 gear R 36.0 kph 3100 rpm thr 50% brk 99% clu 100% hb 0% shift 62% progress 25.0%",
		first)
}

func TestEmptyRecord(t *testing.T) {
	v := New(packet.Telemetry{})
	assert.Equal(t, "00:00:00", v.StageTime)
	assert.Equal(t, "N", v.Gear)
	assert.Nil(t, v.ShiftLight)
	assert.Zero(t, v.StageProgress)
}

func TestNonFiniteTimes(t *testing.T) {
	rec := sample()
	rec.StageCurrentTime = float32(math.NaN())
	assert.Equal(t, units.InvalidDuration, New(rec).StageTime)
}

func TestMarshalJSONNonFinite(t *testing.T) {
	rec := sample()
	rec.VehicleSpeed = float32(math.Inf(-1))
	rec.VehicleEngineRPMCurrent = float32(math.NaN())
	rec.StageCurrentDistance = math.NaN()

	b, err := json.Marshal(New(rec))
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(b, &got))
	for _, key := range []string{"speed", "rpm", "stage_progress_pct"} {
		assert.Contains(t, got, key)
		assert.Nil(t, got[key], key)
	}
	assert.Equal(t, "R", got["gear"])
	assert.Equal(t, float64(62), got["shift_light_pct"])
}
