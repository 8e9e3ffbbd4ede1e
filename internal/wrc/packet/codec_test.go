package packet

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sampleTelemetry returns a mid-stage sample with every field populated.
func sampleTelemetry() Telemetry {
	return Telemetry{
		PacketUID:                 48213,
		GameTotalTime:             1843.25,
		GameDeltaTime:             0.016667,
		GameFrameCount:            110595,
		ShiftlightsFraction:       0.62,
		ShiftlightsRPMStart:       5200,
		ShiftlightsRPMEnd:         7400,
		ShiftlightsRPMValid:       true,
		VehicleGearIndex:          3,
		VehicleGearIndexNeutral:   0,
		VehicleGearIndexReverse:   10,
		VehicleGearMaximum:        6,
		VehicleSpeed:              27.4,
		VehicleTransmissionSpeed:  27.9,
		VehiclePositionX:          -1204.5,
		VehiclePositionY:          88.25,
		VehiclePositionZ:          3310.75,
		VehicleVelocityX:          -3.1,
		VehicleVelocityY:          0.2,
		VehicleVelocityZ:          27.2,
		VehicleAccelerationX:      1.5,
		VehicleAccelerationY:      -9.6,
		VehicleAccelerationZ:      2.25,
		VehicleLeftDirectionX:     0.99,
		VehicleLeftDirectionY:     0.01,
		VehicleLeftDirectionZ:     0.11,
		VehicleForwardDirectionX:  -0.11,
		VehicleForwardDirectionY:  0.02,
		VehicleForwardDirectionZ:  0.99,
		VehicleUpDirectionX:       -0.01,
		VehicleUpDirectionY:       0.999,
		VehicleUpDirectionZ:       -0.02,
		VehicleHubPositionBL:      0.041,
		VehicleHubPositionBR:      0.038,
		VehicleHubPositionFL:      0.052,
		VehicleHubPositionFR:      0.049,
		VehicleHubVelocityBL:      -0.12,
		VehicleHubVelocityBR:      0.08,
		VehicleHubVelocityFL:      -0.2,
		VehicleHubVelocityFR:      0.15,
		VehicleCPForwardSpeedBL:   27.1,
		VehicleCPForwardSpeedBR:   27.3,
		VehicleCPForwardSpeedFL:   27.6,
		VehicleCPForwardSpeedFR:   27.5,
		VehicleBrakeTemperatureBL: 212.5,
		VehicleBrakeTemperatureBR: 209.75,
		VehicleBrakeTemperatureFL: 356.25,
		VehicleBrakeTemperatureFR: 349.5,
		VehicleEngineRPMMax:       8000,
		VehicleEngineRPMIdle:      950,
		VehicleEngineRPMCurrent:   6564,
		VehicleThrottle:           0.87,
		VehicleBrake:              0,
		VehicleClutch:             0.05,
		VehicleSteering:           -0.31,
		VehicleHandbrake:          0,
		StageCurrentTime:          924.497,
		StageCurrentDistance:      8421.337,
		StageLength:               12873.5,
	}
}

func randomTelemetry(rng *rand.Rand) Telemetry {
	var t Telemetry
	v := reflectFields(&t)
	for _, f := range v {
		switch p := f.(type) {
		case *uint64:
			*p = rng.Uint64()
		case *uint8:
			*p = uint8(rng.Intn(256))
		case *bool:
			*p = rng.Intn(2) == 1
		case *float32:
			*p = float32(rng.NormFloat64() * 1000)
		case *float64:
			*p = rng.Float64() * 20000
		}
	}
	return t
}

func TestSizeMatchesLayout(t *testing.T) {
	assert.Equal(t, Size, binary.Size(Telemetry{}), "packed struct size must equal wire size")
	assert.Len(t, Encode(Telemetry{}), Size)
	assert.Len(t, Encode(sampleTelemetry()), Size)
}

func TestRoundTrip(t *testing.T) {
	in := sampleTelemetry()
	out, err := Decode(Encode(in))
	require.NoError(t, err)
	if diff := cmp.Diff(in, out); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestRoundTripRandomRecords(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 500; i++ {
		in := randomTelemetry(rng)
		out, err := Decode(Encode(in))
		if err != nil {
			t.Fatalf("record %d: decode: %v", i, err)
		}
		if diff := cmp.Diff(in, out); diff != "" {
			t.Fatalf("record %d: round trip mismatch (-want +got):\n%s", i, diff)
		}
	}
}

func TestDecodeAgreesWithPackedStructRead(t *testing.T) {
	// encoding/binary reads structs field by field with no padding, which
	// makes it an independent check of the hand-written field order.
	rng := rand.New(rand.NewSource(11))
	for i := 0; i < 50; i++ {
		buf := Encode(randomTelemetry(rng))

		var want Telemetry
		require.NoError(t, binary.Read(bytes.NewReader(buf), binary.LittleEndian, &want))

		got, err := Decode(buf)
		require.NoError(t, err)
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("record %d: decode disagrees with binary.Read (-want +got):\n%s", i, diff)
		}
	}
}

func TestDecodeFieldOffsets(t *testing.T) {
	buf := make([]byte, Size)
	binary.LittleEndian.PutUint64(buf[0:], 0x0102030405060708)
	binary.LittleEndian.PutUint64(buf[16:], 99)
	buf[36] = 1
	buf[37], buf[38], buf[39], buf[40] = 4, 0, 9, 5
	binary.LittleEndian.PutUint32(buf[41:], math.Float32bits(31.5))
	binary.LittleEndian.PutUint32(buf[193:], math.Float32bits(7100))
	binary.LittleEndian.PutUint32(buf[197:], math.Float32bits(0.75))
	binary.LittleEndian.PutUint32(buf[217:], math.Float32bits(61.25))
	binary.LittleEndian.PutUint64(buf[221:], math.Float64bits(1234.5))
	binary.LittleEndian.PutUint64(buf[229:], math.Float64bits(9876.25))

	got, err := Decode(buf)
	require.NoError(t, err)

	assert.Equal(t, uint64(0x0102030405060708), got.PacketUID)
	assert.Equal(t, uint64(99), got.GameFrameCount)
	assert.True(t, got.ShiftlightsRPMValid)
	assert.Equal(t, Gear{Index: 4, Neutral: 0, Reverse: 9, Maximum: 5}, got.Gear())
	assert.Equal(t, float32(31.5), got.VehicleSpeed)
	assert.Equal(t, float32(7100), got.VehicleEngineRPMCurrent)
	assert.Equal(t, float32(0.75), got.VehicleThrottle)
	assert.Equal(t, float32(61.25), got.StageCurrentTime)
	assert.Equal(t, 1234.5, got.StageCurrentDistance)
	assert.Equal(t, 9876.25, got.StageLength)
}

func TestDecodeNonZeroBoolByte(t *testing.T) {
	buf := Encode(sampleTelemetry())
	buf[36] = 0x7f
	got, err := Decode(buf)
	require.NoError(t, err)
	assert.True(t, got.ShiftlightsRPMValid)
}

func TestDecodeTruncated(t *testing.T) {
	full := Encode(sampleTelemetry())
	for n := 0; n < Size; n++ {
		got, err := Decode(full[:n])
		if !errors.Is(err, ErrTruncated) {
			t.Fatalf("len %d: expected ErrTruncated, got %v", n, err)
		}
		if !got.IsZero() {
			t.Fatalf("len %d: expected empty record on failure", n)
		}
	}
	_, err := Decode(nil)
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestDecodeOversized(t *testing.T) {
	buf := append(Encode(sampleTelemetry()), 0, 0, 0)
	_, err := Decode(buf)
	assert.ErrorIs(t, err, ErrSizeMismatch)
	assert.NotErrorIs(t, err, ErrTruncated)
}

func TestMalformedPolicy(t *testing.T) {
	in := sampleTelemetry()
	in.VehiclePositionY = float32(math.NaN())
	in.VehicleEngineRPMCurrent = float32(math.Inf(1))
	buf := Encode(in)

	t.Run("strict rejects", func(t *testing.T) {
		got, warnings, err := Decoder{Policy: PolicyStrict}.Decode(buf)
		require.ErrorIs(t, err, ErrMalformed)
		assert.Nil(t, warnings)
		assert.True(t, got.IsZero())

		var merr *MalformedError
		require.ErrorAs(t, err, &merr)
		require.Len(t, merr.Fields, 2)
		assert.Equal(t, "vehicle_position_y", merr.Fields[0].Field)
		assert.Equal(t, "NaN", merr.Fields[0].Reason())
		assert.Equal(t, "vehicle_engine_rpm_current", merr.Fields[1].Field)
		assert.Equal(t, "+Inf", merr.Fields[1].Reason())
	})

	t.Run("lenient passes through", func(t *testing.T) {
		got, warnings, err := Decoder{Policy: PolicyLenient}.Decode(buf)
		require.NoError(t, err)
		require.Len(t, warnings, 2)
		assert.Equal(t, "vehicle_position_y", warnings[0].Field)

		if diff := cmp.Diff(in, got, cmpopts.EquateNaNs()); diff != "" {
			t.Errorf("lenient decode altered fields (-want +got):\n%s", diff)
		}
	})

	t.Run("package decode is strict", func(t *testing.T) {
		_, err := Decode(buf)
		assert.ErrorIs(t, err, ErrMalformed)
	})
}

func TestNonFiniteOutsideConstrainedFieldsIsAccepted(t *testing.T) {
	in := sampleTelemetry()
	in.VehicleAccelerationX = float32(math.NaN())
	in.VehicleBrakeTemperatureFL = float32(math.Inf(-1))

	got, err := Decode(Encode(in))
	require.NoError(t, err)
	assert.True(t, math.IsNaN(float64(got.VehicleAccelerationX)))
	assert.True(t, math.IsInf(float64(got.VehicleBrakeTemperatureFL), -1))
}

func TestParsePolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    Policy
		wantErr bool
	}{
		{"", PolicyStrict, false},
		{"strict", PolicyStrict, false},
		{"LENIENT", PolicyLenient, false},
		{" warn ", PolicyLenient, false},
		{"ignore", PolicyStrict, true},
	}
	for _, tt := range tests {
		got, err := ParsePolicy(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParsePolicy(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParsePolicy(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
	assert.Equal(t, "lenient", PolicyLenient.String())
}

func BenchmarkDecode(b *testing.B) {
	buf := Encode(sampleTelemetry())
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, err := Decode(buf); err != nil {
			b.Fatal(err)
		}
	}
}
