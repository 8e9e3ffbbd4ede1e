// Package packet owns the WRC telemetry record and its binary codec.
//
// The simulation broadcasts one fixed-size, little-endian, unpadded datagram
// per sample. Fields are identified only by position, so the declaration
// order of Telemetry is the wire contract: reordering fields here breaks
// decoding. JSON names are a stable public contract for downstream
// consumers and must not be renamed.
package packet

// Size is the length in bytes of one telemetry datagram.
const Size = 237

// Telemetry is one decoded telemetry sample.
//
// The zero value is an empty sentinel, not a sample: a record with all-zero
// fields says nothing about the car. Consumers should check IsZero or the
// packet identifier before trusting zero readings. Records are passed by
// value and are never modified after decode.
type Telemetry struct {
	// Rolling packet identifier. Increases per sender but may reset when
	// the game restarts its telemetry session.
	PacketUID uint64 `json:"packet_uid"`

	GameTotalTime  float32 `json:"game_total_time"`  // seconds since game boot
	GameDeltaTime  float32 `json:"game_delta_time"`  // seconds since previous frame
	GameFrameCount uint64  `json:"game_frame_count"` // frames since game boot

	// Shift light position between ShiftlightsRPMStart (0) and
	// ShiftlightsRPMEnd (1). Only meaningful when ShiftlightsRPMValid.
	ShiftlightsFraction float32 `json:"shiftlights_fraction"`
	ShiftlightsRPMStart float32 `json:"shiftlights_rpm_start"`
	ShiftlightsRPMEnd   float32 `json:"shiftlights_rpm_end"`
	ShiftlightsRPMValid bool    `json:"shiftlights_rpm_valid"`

	// Gear index is opaque; compare it with the neutral and reverse
	// sentinels carried in the same record since they differ per car.
	VehicleGearIndex        uint8 `json:"vehicle_gear_index"`
	VehicleGearIndexNeutral uint8 `json:"vehicle_gear_index_neutral"`
	VehicleGearIndexReverse uint8 `json:"vehicle_gear_index_reverse"`
	VehicleGearMaximum      uint8 `json:"vehicle_gear_maximum"`

	VehicleSpeed             float32 `json:"vehicle_speed"`              // body speed, m/s
	VehicleTransmissionSpeed float32 `json:"vehicle_transmission_speed"` // speedo speed at the wheels, m/s

	// World frame: x positive left, y positive up, z positive forward.
	VehiclePositionX     float32 `json:"vehicle_position_x"`
	VehiclePositionY     float32 `json:"vehicle_position_y"`
	VehiclePositionZ     float32 `json:"vehicle_position_z"`
	VehicleVelocityX     float32 `json:"vehicle_velocity_x"`
	VehicleVelocityY     float32 `json:"vehicle_velocity_y"`
	VehicleVelocityZ     float32 `json:"vehicle_velocity_z"`
	VehicleAccelerationX float32 `json:"vehicle_acceleration_x"`
	VehicleAccelerationY float32 `json:"vehicle_acceleration_y"`
	VehicleAccelerationZ float32 `json:"vehicle_acceleration_z"`

	// Car basis vectors, passed through as sent (not re-normalized).
	VehicleLeftDirectionX    float32 `json:"vehicle_left_direction_x"`
	VehicleLeftDirectionY    float32 `json:"vehicle_left_direction_y"`
	VehicleLeftDirectionZ    float32 `json:"vehicle_left_direction_z"`
	VehicleForwardDirectionX float32 `json:"vehicle_forward_direction_x"`
	VehicleForwardDirectionY float32 `json:"vehicle_forward_direction_y"`
	VehicleForwardDirectionZ float32 `json:"vehicle_forward_direction_z"`
	VehicleUpDirectionX      float32 `json:"vehicle_up_direction_x"`
	VehicleUpDirectionY      float32 `json:"vehicle_up_direction_y"`
	VehicleUpDirectionZ      float32 `json:"vehicle_up_direction_z"`

	// Per-corner state: bl, br, fl, fr. See Wheels for a grouped view.
	VehicleHubPositionBL      float32 `json:"vehicle_hub_position_bl"`
	VehicleHubPositionBR      float32 `json:"vehicle_hub_position_br"`
	VehicleHubPositionFL      float32 `json:"vehicle_hub_position_fl"`
	VehicleHubPositionFR      float32 `json:"vehicle_hub_position_fr"`
	VehicleHubVelocityBL      float32 `json:"vehicle_hub_velocity_bl"`
	VehicleHubVelocityBR      float32 `json:"vehicle_hub_velocity_br"`
	VehicleHubVelocityFL      float32 `json:"vehicle_hub_velocity_fl"`
	VehicleHubVelocityFR      float32 `json:"vehicle_hub_velocity_fr"`
	VehicleCPForwardSpeedBL   float32 `json:"vehicle_cp_forward_speed_bl"`
	VehicleCPForwardSpeedBR   float32 `json:"vehicle_cp_forward_speed_br"`
	VehicleCPForwardSpeedFL   float32 `json:"vehicle_cp_forward_speed_fl"`
	VehicleCPForwardSpeedFR   float32 `json:"vehicle_cp_forward_speed_fr"`
	VehicleBrakeTemperatureBL float32 `json:"vehicle_brake_temperature_bl"`
	VehicleBrakeTemperatureBR float32 `json:"vehicle_brake_temperature_br"`
	VehicleBrakeTemperatureFL float32 `json:"vehicle_brake_temperature_fl"`
	VehicleBrakeTemperatureFR float32 `json:"vehicle_brake_temperature_fr"`

	VehicleEngineRPMMax     float32 `json:"vehicle_engine_rpm_max"`
	VehicleEngineRPMIdle    float32 `json:"vehicle_engine_rpm_idle"`
	VehicleEngineRPMCurrent float32 `json:"vehicle_engine_rpm_current"`

	// Inputs after assists. Pedals and handbrake are documented as [0,1]
	// and steering as [-1,1]; the decoder does not enforce either range.
	VehicleThrottle  float32 `json:"vehicle_throttle"`
	VehicleBrake     float32 `json:"vehicle_brake"`
	VehicleClutch    float32 `json:"vehicle_clutch"`
	VehicleSteering  float32 `json:"vehicle_steering"`
	VehicleHandbrake float32 `json:"vehicle_handbrake"`

	StageCurrentTime     float32 `json:"stage_current_time"`     // seconds
	StageCurrentDistance float64 `json:"stage_current_distance"` // metres
	StageLength          float64 `json:"stage_length"`           // metres
}

// IsZero reports whether t is the empty sentinel record.
func (t Telemetry) IsZero() bool {
	return t == Telemetry{}
}
