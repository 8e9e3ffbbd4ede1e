// Package sim produces synthetic telemetry for demos and end-to-end tests.
//
// A Generator drives a simple car model along a stage and emits one record
// per tick. An Impairer then drops, duplicates or reorders the encoded
// datagrams the way a congested network would, so a receiver's sequence
// handling can be exercised without the game.
package sim

import (
	"math"

	"github.com/banshee-data/wrc.report/internal/wrc/packet"
)

// Config configures a Generator.
type Config struct {
	// Rate is the number of samples per second of simulated time.
	Rate float64
	// StartUID is the first packet identifier of every session.
	StartUID uint64
	// StageLength is the stage distance in metres.
	StageLength float64
	// RestartAfter restarts the session after this many samples, which a
	// receiver sees as a sender reset. Zero never restarts.
	RestartAfter int
}

// DefaultConfig returns a 60 Hz generator on a 12 km stage.
func DefaultConfig() Config {
	return Config{
		Rate:        60,
		StartUID:    1,
		StageLength: 12000,
	}
}

const (
	rpmIdle  = 950
	rpmMax   = 8000
	rpmStart = 5200
	rpmEnd   = 7400
	gears    = 6
	reverse  = 10
)

// topSpeed is the speed in m/s at which each forward gear reaches rpmMax.
var topSpeed = [gears + 1]float64{0, 12, 20, 28, 36, 44, 56}

// Generator emits records from a simulated car. It is not safe for
// concurrent use.
type Generator struct {
	cfg Config
	dt  float64

	uid     uint64
	samples int

	frame     uint64
	total     float64
	stageTime float64
	distance  float64
	speed     float64
	heading   float64
	x, z      float64
}

// NewGenerator returns a Generator positioned at the stage start.
func NewGenerator(cfg Config) *Generator {
	def := DefaultConfig()
	if cfg.Rate <= 0 {
		cfg.Rate = def.Rate
	}
	if cfg.StageLength <= 0 {
		cfg.StageLength = def.StageLength
	}
	g := &Generator{cfg: cfg, dt: 1 / cfg.Rate}
	g.Restart()
	return g
}

// Restart begins a new session: identifiers start over from StartUID and
// the car returns to the stage start.
func (g *Generator) Restart() {
	g.uid = g.cfg.StartUID
	g.samples = 0
	g.frame = 0
	g.total = 0
	g.stageTime = 0
	g.distance = 0
	g.speed = 0
	g.heading = 0
	g.x, g.z = 0, 0
}

// Config returns the effective configuration.
func (g *Generator) Config() Config { return g.cfg }

// targetSpeed is a smooth speed profile in m/s with long straights and
// tighter sections.
func targetSpeed(t float64) float64 {
	v := 26 + 14*math.Sin(2*math.Pi*t/40) + 6*math.Sin(2*math.Pi*t/7)
	return math.Max(v, 4)
}

func clamp01(v float64) float64 {
	return math.Min(math.Max(v, 0), 1)
}

// Next advances the model by one tick and returns the resulting record.
func (g *Generator) Next() packet.Telemetry {
	if g.cfg.RestartAfter > 0 && g.samples >= g.cfg.RestartAfter {
		g.Restart()
	}

	prev := g.speed
	g.stageTime += g.dt
	g.total += g.dt
	g.frame++
	g.speed = targetSpeed(g.stageTime)
	accel := (g.speed - prev) / g.dt
	if g.samples == 0 {
		accel = 0
	}

	g.heading = 0.6 * math.Sin(g.stageTime/12)
	fx, fz := math.Sin(g.heading), math.Cos(g.heading)
	g.x += fx * g.speed * g.dt
	g.z += fz * g.speed * g.dt
	g.distance = math.Min(g.distance+g.speed*g.dt, g.cfg.StageLength)

	gear := 1
	for gear < gears && g.speed > topSpeed[gear]*0.9 {
		gear++
	}
	rpm := math.Min(rpmIdle+(rpmMax-rpmIdle)*g.speed/topSpeed[gear], rpmMax)

	throttle, brake := 0.0, 0.0
	if accel >= 0 {
		throttle = clamp01(0.35 + accel/6)
	} else {
		brake = clamp01(-accel / 9)
	}

	rec := packet.Telemetry{
		PacketUID:      g.uid,
		GameTotalTime:  float32(g.total),
		GameDeltaTime:  float32(g.dt),
		GameFrameCount: g.frame,

		ShiftlightsFraction: float32(clamp01((rpm - rpmStart) / (rpmEnd - rpmStart))),
		ShiftlightsRPMStart: rpmStart,
		ShiftlightsRPMEnd:   rpmEnd,
		ShiftlightsRPMValid: true,

		VehicleGearIndex:        uint8(gear),
		VehicleGearIndexNeutral: 0,
		VehicleGearIndexReverse: reverse,
		VehicleGearMaximum:      gears,

		VehicleSpeed:             float32(g.speed),
		VehicleTransmissionSpeed: float32(g.speed * 1.02),

		VehiclePositionX: float32(g.x),
		VehiclePositionY: float32(120 + 4*math.Sin(g.distance/300)),
		VehiclePositionZ: float32(g.z),
		VehicleVelocityX: float32(fx * g.speed),
		VehicleVelocityZ: float32(fz * g.speed),

		VehicleAccelerationX: float32(fx * accel),
		VehicleAccelerationY: -9.81,
		VehicleAccelerationZ: float32(fz * accel),

		VehicleLeftDirectionX:    float32(fz),
		VehicleLeftDirectionZ:    float32(-fx),
		VehicleForwardDirectionX: float32(fx),
		VehicleForwardDirectionZ: float32(fz),
		VehicleUpDirectionY:      1,

		VehicleCPForwardSpeedBL: float32(g.speed),
		VehicleCPForwardSpeedBR: float32(g.speed),
		VehicleCPForwardSpeedFL: float32(g.speed),
		VehicleCPForwardSpeedFR: float32(g.speed),

		VehicleBrakeTemperatureBL: float32(140 + 260*brake),
		VehicleBrakeTemperatureBR: float32(140 + 260*brake),
		VehicleBrakeTemperatureFL: float32(160 + 420*brake),
		VehicleBrakeTemperatureFR: float32(160 + 420*brake),

		VehicleEngineRPMMax:     rpmMax,
		VehicleEngineRPMIdle:    rpmIdle,
		VehicleEngineRPMCurrent: float32(rpm),

		VehicleThrottle: float32(throttle),
		VehicleBrake:    float32(brake),
		VehicleSteering: float32(math.Cos(g.stageTime/12) * 0.05),

		StageCurrentTime:     float32(g.stageTime),
		StageCurrentDistance: g.distance,
		StageLength:          g.cfg.StageLength,
	}

	g.uid++
	g.samples++
	return rec
}
