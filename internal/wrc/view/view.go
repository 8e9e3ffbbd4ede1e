// Package view renders human-oriented projections of telemetry records.
package view

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/banshee-data/wrc.report/internal/units"
	"github.com/banshee-data/wrc.report/internal/wrc/packet"
)

// View is a read-only projection of one record. Building a View never
// modifies the record it came from.
type View struct {
	StageTime string `json:"stage_time_pretty"`
	TotalTime string `json:"total_time_pretty"`

	Gear  string  `json:"gear"`
	Speed float64 `json:"speed"`
	Units string  `json:"speed_units"`
	RPM   float32 `json:"rpm"`

	Throttle  int `json:"throttle_pct"`
	Brake     int `json:"brake_pct"`
	Clutch    int `json:"clutch_pct"`
	Handbrake int `json:"handbrake_pct"`

	// ShiftLight is nil when the record's shift light data is not valid.
	ShiftLight *int `json:"shift_light_pct"`

	StageProgress float64 `json:"stage_progress_pct"`
}

// New projects t with speed in km/h.
func New(t packet.Telemetry) View {
	return NewWithUnits(t, units.KPH)
}

// NewWithUnits projects t with speed converted to speedUnits. Unknown units
// leave the speed in m/s.
func NewWithUnits(t packet.Telemetry, speedUnits string) View {
	if !units.IsValid(speedUnits) {
		speedUnits = units.MPS
	}
	v := View{
		StageTime: t.StageTimePretty(),
		TotalTime: t.TotalTimePretty(),
		Gear:      t.Gear().String(),
		Speed:     units.ConvertSpeed(float64(t.VehicleSpeed), speedUnits),
		Units:     speedUnits,
		RPM:       t.VehicleEngineRPMCurrent,
		Throttle:  t.ThrottlePercentage(),
		Brake:     t.BrakePercentage(),
		Clutch:    t.ClutchPercentage(),
		Handbrake: t.HandbrakePercentage(),
	}
	if frac, ok := t.ShiftLightFraction(); ok {
		pct := units.Percentage(frac)
		v.ShiftLight = &pct
	}
	if t.StageLength > 0 {
		v.StageProgress = t.StageCurrentDistance / t.StageLength * 100
	}
	return v
}

// MarshalJSON writes non-finite speed, rpm and progress as null.
func (v View) MarshalJSON() ([]byte, error) {
	type plain View
	return json.Marshal(struct {
		plain
		Speed         *float64 `json:"speed"`
		RPM           *float32 `json:"rpm"`
		StageProgress *float64 `json:"stage_progress_pct"`
	}{
		plain:         plain(v),
		Speed:         packet.Nullable(v.Speed),
		RPM:           packet.Nullable(v.RPM),
		StageProgress: packet.Nullable(v.StageProgress),
	})
}

// String renders a single dashboard line. Output depends only on the View,
// so rendering the same record twice yields identical text.
func (v View) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "stage %s total %s gear %s %.1f %s %.0f rpm",
		v.StageTime, v.TotalTime, v.Gear, v.Speed, v.Units, v.RPM)
	fmt.Fprintf(&b, " thr %d%% brk %d%% clu %d%% hb %d%%",
		v.Throttle, v.Brake, v.Clutch, v.Handbrake)
	if v.ShiftLight != nil {
		fmt.Fprintf(&b, " shift %d%%", *v.ShiftLight)
	} else {
		b.WriteString(" shift -")
	}
	fmt.Fprintf(&b, " progress %.1f%%", v.StageProgress)
	return b.String()
}
