package packet

import (
	"bytes"
	"encoding/json"
	"math"
	"reflect"
	"strconv"

	"github.com/banshee-data/wrc.report/internal/units"
)

// StageTimePretty returns the time spent on the current stage as HH:MM:SS.
func (t Telemetry) StageTimePretty() string {
	return units.FormatDuration(t.StageCurrentTime)
}

// TotalTimePretty returns the in-game time since boot as HH:MM:SS.
func (t Telemetry) TotalTimePretty() string {
	return units.FormatDuration(t.GameTotalTime)
}

// ThrottlePercentage returns the throttle input as a truncated percentage.
func (t Telemetry) ThrottlePercentage() int { return units.Percentage(t.VehicleThrottle) }

// BrakePercentage returns the brake input as a truncated percentage.
func (t Telemetry) BrakePercentage() int { return units.Percentage(t.VehicleBrake) }

// ClutchPercentage returns the clutch input as a truncated percentage.
func (t Telemetry) ClutchPercentage() int { return units.Percentage(t.VehicleClutch) }

// HandbrakePercentage returns the handbrake input as a truncated percentage.
func (t Telemetry) HandbrakePercentage() int { return units.Percentage(t.VehicleHandbrake) }

// ShiftLightFraction returns the shift light fraction and whether the
// shift light data in the record is valid.
func (t Telemetry) ShiftLightFraction() (float32, bool) {
	if !t.ShiftlightsRPMValid {
		return 0, false
	}
	return t.ShiftlightsFraction, true
}

// Gear is the drivetrain state of a record.
type Gear struct {
	Index   uint8 `json:"index"`
	Neutral uint8 `json:"neutral"`
	Reverse uint8 `json:"reverse"`
	Maximum uint8 `json:"maximum"`
}

// Gear returns the gear index together with the per-car sentinels.
func (t Telemetry) Gear() Gear {
	return Gear{
		Index:   t.VehicleGearIndex,
		Neutral: t.VehicleGearIndexNeutral,
		Reverse: t.VehicleGearIndexReverse,
		Maximum: t.VehicleGearMaximum,
	}
}

func (g Gear) IsNeutral() bool { return g.Index == g.Neutral }
func (g Gear) IsReverse() bool { return !g.IsNeutral() && g.Index == g.Reverse }

// String renders "N", "R" or the forward gear index.
func (g Gear) String() string {
	switch {
	case g.IsNeutral():
		return "N"
	case g.IsReverse():
		return "R"
	default:
		return strconv.Itoa(int(g.Index))
	}
}

// Corner indexes the array returned by Wheels.
type Corner int

const (
	BackLeft Corner = iota
	BackRight
	FrontLeft
	FrontRight
)

var cornerNames = [...]string{"bl", "br", "fl", "fr"}

func (c Corner) String() string {
	if c < 0 || int(c) >= len(cornerNames) {
		return "Corner(" + strconv.Itoa(int(c)) + ")"
	}
	return cornerNames[c]
}

// Wheel groups the four per-corner readings.
type Wheel struct {
	HubPosition       float32 `json:"hub_position"`
	HubVelocity       float32 `json:"hub_velocity"`
	ContactPatchSpeed float32 `json:"cp_forward_speed"`
	BrakeTemperature  float32 `json:"brake_temperature"`
}

// Wheels returns the per-corner state indexed by Corner.
func (t Telemetry) Wheels() [4]Wheel {
	return [4]Wheel{
		BackLeft:   {t.VehicleHubPositionBL, t.VehicleHubVelocityBL, t.VehicleCPForwardSpeedBL, t.VehicleBrakeTemperatureBL},
		BackRight:  {t.VehicleHubPositionBR, t.VehicleHubVelocityBR, t.VehicleCPForwardSpeedBR, t.VehicleBrakeTemperatureBR},
		FrontLeft:  {t.VehicleHubPositionFL, t.VehicleHubVelocityFL, t.VehicleCPForwardSpeedFL, t.VehicleBrakeTemperatureFL},
		FrontRight: {t.VehicleHubPositionFR, t.VehicleHubVelocityFR, t.VehicleCPForwardSpeedFR, t.VehicleBrakeTemperatureFR},
	}
}

// Field is one named value of a record, in wire order.
type Field struct {
	Name  string
	Value any
}

var fieldNames = func() []string {
	typ := reflect.TypeOf(Telemetry{})
	names := make([]string, typ.NumField())
	for i := range names {
		names[i] = typ.Field(i).Tag.Get("json")
	}
	return names
}()

// FieldNames returns the JSON field names in wire order.
func FieldNames() []string {
	return append([]string(nil), fieldNames...)
}

// Fields returns every field of t in wire order, named by its JSON name.
func (t Telemetry) Fields() []Field {
	v := reflect.ValueOf(t)
	out := make([]Field, len(fieldNames))
	for i := range out {
		out[i] = Field{Name: fieldNames[i], Value: v.Field(i).Interface()}
	}
	return out
}

// MarshalJSON writes the record with its wire-order field names. Non-finite
// floats, which a lenient decoder may pass through, are written as null.
func (t Telemetry) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range t.Fields() {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(strconv.Quote(f.Name))
		buf.WriteByte(':')

		if !isFinite(f.Value) {
			buf.WriteString("null")
			continue
		}
		b, err := json.Marshal(f.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(b)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Nullable returns a pointer to v, or nil when v is NaN or infinite, for
// JSON fields that must read null instead of failing to encode.
func Nullable[F float32 | float64](v F) *F {
	f := float64(v)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &v
}

func isFinite(v any) bool {
	switch x := v.(type) {
	case float32:
		f := float64(x)
		return !math.IsNaN(f) && !math.IsInf(f, 0)
	case float64:
		return !math.IsNaN(x) && !math.IsInf(x, 0)
	default:
		return true
	}
}
