// Package serialmux drives a serial shift light display from telemetry
// samples. Frames are queued without blocking the ingest loop and written by
// a single goroutine; lines the device sends back are logged.
package serialmux

import (
	"bufio"
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/banshee-data/wrc.report/internal/units"
	"github.com/banshee-data/wrc.report/internal/wrc/packet"
)

var ErrWriteFailed = fmt.Errorf("failed to write to serial port")

// DefaultQueueSize bounds the number of frames waiting to be written.
const DefaultQueueSize = 16

// ShiftLight writes one frame per published sample to a serial device.
type ShiftLight[T SerialPorter] struct {
	port   T
	frames chan string

	writeMu sync.Mutex
	dropped atomic.Uint64
	written atomic.Uint64

	closeOnce sync.Once
	closeErr  error
}

// NewShiftLight wraps port. queueSize <= 0 selects DefaultQueueSize.
func NewShiftLight[T SerialPorter](port T, queueSize int) *ShiftLight[T] {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &ShiftLight[T]{
		port:   port,
		frames: make(chan string, queueSize),
	}
}

// FormatFrame renders the device line for t: gear label, current engine
// speed and shift light percentage, comma separated. The percentage is -1
// when the record's shift light data is not valid.
func FormatFrame(t packet.Telemetry) string {
	pct := -1
	if frac, ok := t.ShiftLightFraction(); ok {
		pct = units.Percentage(frac)
	}
	rpm := float64(t.VehicleEngineRPMCurrent)
	if math.IsNaN(rpm) || math.IsInf(rpm, 0) || rpm < 0 {
		rpm = 0
	}
	return fmt.Sprintf("%s,%d,%d\n", t.Gear(), int64(rpm), pct)
}

// Publish queues a frame for t. It never blocks; when the queue is full the
// frame is dropped and false is returned.
func (s *ShiftLight[T]) Publish(t packet.Telemetry) bool {
	select {
	case s.frames <- FormatFrame(t):
		return true
	default:
		s.dropped.Add(1)
		return false
	}
}

// Dropped is the number of frames discarded because the queue was full.
func (s *ShiftLight[T]) Dropped() uint64 { return s.dropped.Load() }

// Written is the number of frames written to the device.
func (s *ShiftLight[T]) Written() uint64 { return s.written.Load() }

// SendFrame writes a single line to the serial port.
func (s *ShiftLight[T]) SendFrame(frame string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if !strings.HasSuffix(frame, "\n") {
		frame += "\n"
	}
	n, err := s.port.Write([]byte(frame))
	if err != nil {
		return err
	}
	if n != len(frame) {
		return ErrWriteFailed
	}
	s.written.Add(1)
	return nil
}

// Run writes queued frames until ctx is done or a write fails.
func (s *ShiftLight[T]) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame := <-s.frames:
			if err := s.SendFrame(frame); err != nil {
				return fmt.Errorf("shift light write: %w", err)
			}
		}
	}
}

// Monitor reads lines sent back by the device and logs them at debug level.
// It returns when ctx is done or the port reaches EOF.
func (s *ShiftLight[T]) Monitor(ctx context.Context) error {
	scan := bufio.NewScanner(s.port)

	lineChan := make(chan string)
	scanErrChan := make(chan error, 1)

	// the blocking scan.Scan will not interfere with our outer loop awaiting
	// lines & context cancellation.
	go func() {
		defer close(lineChan)
		for scan.Scan() {
			select {
			case lineChan <- scan.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scan.Err(); err != nil {
			select {
			case scanErrChan <- err:
			case <-ctx.Done():
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-scanErrChan:
			return err
		case line, ok := <-lineChan:
			if !ok {
				select {
				case err := <-scanErrChan:
					return err
				default:
					return nil
				}
			}
			log.Debug().Str("line", line).Msg("shift light")
		}
	}
}

// Close closes the serial port. Calling it more than once is safe.
func (s *ShiftLight[T]) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.port.Close()
	})
	return s.closeErr
}
