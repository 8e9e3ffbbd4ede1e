package packet

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

/*
Wire layout (237 bytes, little-endian, no padding):

	offset  size  field
	0       8     packet_uid                      u64
	8       4     game_total_time                 f32
	12      4     game_delta_time                 f32
	16      8     game_frame_count                u64
	24      12    shiftlights fraction/start/end  3 x f32
	36      1     shiftlights_rpm_valid           bool (0 = false)
	37      4     gear index/neutral/reverse/max  4 x u8
	41      8     vehicle speed/transmission      2 x f32
	49      72    position, velocity, acceleration, left, forward, up (x,y,z each)
	121     64    hub position, hub velocity, cp forward speed, brake temp (bl,br,fl,fr each)
	185     12    engine rpm max/idle/current     3 x f32
	197     20    throttle, brake, clutch, steering, handbrake
	217     4     stage_current_time              f32
	221     8     stage_current_distance          f64
	229     8     stage_length                    f64
*/

// Policy selects how a Decoder treats non-finite values in fields that must
// be finite (position, velocity, engine rotation rate).
type Policy int

const (
	// PolicyStrict rejects the datagram with a *MalformedError.
	PolicyStrict Policy = iota
	// PolicyLenient passes the record through unchanged and reports the
	// offending fields as warnings.
	PolicyLenient
)

func (p Policy) String() string {
	switch p {
	case PolicyStrict:
		return "strict"
	case PolicyLenient:
		return "lenient"
	default:
		return fmt.Sprintf("Policy(%d)", int(p))
	}
}

// ParsePolicy parses "strict" or "lenient" (case-insensitive). An empty
// string selects PolicyStrict.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "strict":
		return PolicyStrict, nil
	case "lenient", "warn":
		return PolicyLenient, nil
	default:
		return PolicyStrict, fmt.Errorf("unknown malformed policy %q: expected strict or lenient", s)
	}
}

// Decoder decodes telemetry datagrams under a malformed-value policy.
// The zero value is a strict decoder.
type Decoder struct {
	Policy Policy
}

// Decode transcodes b into a Telemetry record.
//
// b must be exactly Size bytes. Shorter input fails with ErrTruncated and
// longer input with ErrSizeMismatch; neither ever reads out of bounds. Under
// PolicyLenient the returned warnings list non-finite fields that were
// passed through.
func (d Decoder) Decode(b []byte) (Telemetry, []FieldError, error) {
	if len(b) < Size {
		return Telemetry{}, nil, fmt.Errorf("%w: got %d bytes, want %d", ErrTruncated, len(b), Size)
	}
	if len(b) > Size {
		return Telemetry{}, nil, fmt.Errorf("%w: got %d bytes, want %d", ErrSizeMismatch, len(b), Size)
	}

	t := decodeFields(b)
	issues := t.nonFinite()
	if len(issues) == 0 {
		return t, nil, nil
	}
	if d.Policy == PolicyLenient {
		return t, issues, nil
	}
	return Telemetry{}, nil, &MalformedError{Fields: issues}
}

// Decode decodes b with the strict policy.
func Decode(b []byte) (Telemetry, error) {
	t, _, err := Decoder{}.Decode(b)
	return t, err
}

// Encode serialises t into a new Size-byte datagram. It is the inverse of
// Decode for any record whose bool field round-trips (true encodes as 1).
func Encode(t Telemetry) []byte {
	return AppendEncode(make([]byte, 0, Size), t)
}

// finiteFields are the fields whose value must be a finite number.
var finiteFields = []struct {
	name string
	get  func(*Telemetry) float32
}{
	{"vehicle_position_x", func(t *Telemetry) float32 { return t.VehiclePositionX }},
	{"vehicle_position_y", func(t *Telemetry) float32 { return t.VehiclePositionY }},
	{"vehicle_position_z", func(t *Telemetry) float32 { return t.VehiclePositionZ }},
	{"vehicle_velocity_x", func(t *Telemetry) float32 { return t.VehicleVelocityX }},
	{"vehicle_velocity_y", func(t *Telemetry) float32 { return t.VehicleVelocityY }},
	{"vehicle_velocity_z", func(t *Telemetry) float32 { return t.VehicleVelocityZ }},
	{"vehicle_engine_rpm_max", func(t *Telemetry) float32 { return t.VehicleEngineRPMMax }},
	{"vehicle_engine_rpm_idle", func(t *Telemetry) float32 { return t.VehicleEngineRPMIdle }},
	{"vehicle_engine_rpm_current", func(t *Telemetry) float32 { return t.VehicleEngineRPMCurrent }},
}

func (t *Telemetry) nonFinite() []FieldError {
	var issues []FieldError
	for _, f := range finiteFields {
		v := f.get(t)
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			issues = append(issues, FieldError{Field: f.name, Value: v})
		}
	}
	return issues
}

// reader walks a buffer already checked to hold Size bytes.
type reader struct {
	b   []byte
	off int
}

func (r *reader) u8() uint8 {
	v := r.b[r.off]
	r.off++
	return v
}

func (r *reader) boolean() bool {
	return r.u8() != 0
}

func (r *reader) u64() uint64 {
	v := binary.LittleEndian.Uint64(r.b[r.off:])
	r.off += 8
	return v
}

func (r *reader) f32() float32 {
	v := math.Float32frombits(binary.LittleEndian.Uint32(r.b[r.off:]))
	r.off += 4
	return v
}

func (r *reader) f64() float64 {
	v := math.Float64frombits(binary.LittleEndian.Uint64(r.b[r.off:]))
	r.off += 8
	return v
}

func decodeFields(b []byte) Telemetry {
	r := reader{b: b}
	var t Telemetry

	t.PacketUID = r.u64()
	t.GameTotalTime = r.f32()
	t.GameDeltaTime = r.f32()
	t.GameFrameCount = r.u64()

	t.ShiftlightsFraction = r.f32()
	t.ShiftlightsRPMStart = r.f32()
	t.ShiftlightsRPMEnd = r.f32()
	t.ShiftlightsRPMValid = r.boolean()

	t.VehicleGearIndex = r.u8()
	t.VehicleGearIndexNeutral = r.u8()
	t.VehicleGearIndexReverse = r.u8()
	t.VehicleGearMaximum = r.u8()

	t.VehicleSpeed = r.f32()
	t.VehicleTransmissionSpeed = r.f32()

	t.VehiclePositionX = r.f32()
	t.VehiclePositionY = r.f32()
	t.VehiclePositionZ = r.f32()
	t.VehicleVelocityX = r.f32()
	t.VehicleVelocityY = r.f32()
	t.VehicleVelocityZ = r.f32()
	t.VehicleAccelerationX = r.f32()
	t.VehicleAccelerationY = r.f32()
	t.VehicleAccelerationZ = r.f32()
	t.VehicleLeftDirectionX = r.f32()
	t.VehicleLeftDirectionY = r.f32()
	t.VehicleLeftDirectionZ = r.f32()
	t.VehicleForwardDirectionX = r.f32()
	t.VehicleForwardDirectionY = r.f32()
	t.VehicleForwardDirectionZ = r.f32()
	t.VehicleUpDirectionX = r.f32()
	t.VehicleUpDirectionY = r.f32()
	t.VehicleUpDirectionZ = r.f32()

	t.VehicleHubPositionBL = r.f32()
	t.VehicleHubPositionBR = r.f32()
	t.VehicleHubPositionFL = r.f32()
	t.VehicleHubPositionFR = r.f32()
	t.VehicleHubVelocityBL = r.f32()
	t.VehicleHubVelocityBR = r.f32()
	t.VehicleHubVelocityFL = r.f32()
	t.VehicleHubVelocityFR = r.f32()
	t.VehicleCPForwardSpeedBL = r.f32()
	t.VehicleCPForwardSpeedBR = r.f32()
	t.VehicleCPForwardSpeedFL = r.f32()
	t.VehicleCPForwardSpeedFR = r.f32()
	t.VehicleBrakeTemperatureBL = r.f32()
	t.VehicleBrakeTemperatureBR = r.f32()
	t.VehicleBrakeTemperatureFL = r.f32()
	t.VehicleBrakeTemperatureFR = r.f32()

	t.VehicleEngineRPMMax = r.f32()
	t.VehicleEngineRPMIdle = r.f32()
	t.VehicleEngineRPMCurrent = r.f32()

	t.VehicleThrottle = r.f32()
	t.VehicleBrake = r.f32()
	t.VehicleClutch = r.f32()
	t.VehicleSteering = r.f32()
	t.VehicleHandbrake = r.f32()

	t.StageCurrentTime = r.f32()
	t.StageCurrentDistance = r.f64()
	t.StageLength = r.f64()

	return t
}

// AppendEncode appends the wire form of t to dst.
func AppendEncode(dst []byte, t Telemetry) []byte {
	le := binary.LittleEndian
	f32 := func(b []byte, v float32) []byte { return le.AppendUint32(b, math.Float32bits(v)) }
	f64 := func(b []byte, v float64) []byte { return le.AppendUint64(b, math.Float64bits(v)) }

	dst = le.AppendUint64(dst, t.PacketUID)
	dst = f32(dst, t.GameTotalTime)
	dst = f32(dst, t.GameDeltaTime)
	dst = le.AppendUint64(dst, t.GameFrameCount)

	dst = f32(dst, t.ShiftlightsFraction)
	dst = f32(dst, t.ShiftlightsRPMStart)
	dst = f32(dst, t.ShiftlightsRPMEnd)
	if t.ShiftlightsRPMValid {
		dst = append(dst, 1)
	} else {
		dst = append(dst, 0)
	}

	dst = append(dst,
		t.VehicleGearIndex,
		t.VehicleGearIndexNeutral,
		t.VehicleGearIndexReverse,
		t.VehicleGearMaximum,
	)

	for _, v := range [...]float32{
		t.VehicleSpeed,
		t.VehicleTransmissionSpeed,
		t.VehiclePositionX, t.VehiclePositionY, t.VehiclePositionZ,
		t.VehicleVelocityX, t.VehicleVelocityY, t.VehicleVelocityZ,
		t.VehicleAccelerationX, t.VehicleAccelerationY, t.VehicleAccelerationZ,
		t.VehicleLeftDirectionX, t.VehicleLeftDirectionY, t.VehicleLeftDirectionZ,
		t.VehicleForwardDirectionX, t.VehicleForwardDirectionY, t.VehicleForwardDirectionZ,
		t.VehicleUpDirectionX, t.VehicleUpDirectionY, t.VehicleUpDirectionZ,
		t.VehicleHubPositionBL, t.VehicleHubPositionBR, t.VehicleHubPositionFL, t.VehicleHubPositionFR,
		t.VehicleHubVelocityBL, t.VehicleHubVelocityBR, t.VehicleHubVelocityFL, t.VehicleHubVelocityFR,
		t.VehicleCPForwardSpeedBL, t.VehicleCPForwardSpeedBR, t.VehicleCPForwardSpeedFL, t.VehicleCPForwardSpeedFR,
		t.VehicleBrakeTemperatureBL, t.VehicleBrakeTemperatureBR, t.VehicleBrakeTemperatureFL, t.VehicleBrakeTemperatureFR,
		t.VehicleEngineRPMMax, t.VehicleEngineRPMIdle, t.VehicleEngineRPMCurrent,
		t.VehicleThrottle, t.VehicleBrake, t.VehicleClutch, t.VehicleSteering, t.VehicleHandbrake,
		t.StageCurrentTime,
	} {
		dst = f32(dst, v)
	}

	dst = f64(dst, t.StageCurrentDistance)
	dst = f64(dst, t.StageLength)
	return dst
}
