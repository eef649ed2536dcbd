package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"
)

// Measurement Report layout (little-endian):
// [0:20] status ASCII, NUL padded; [20:24] elapsed seconds float32;
// [24:28] speed km/h float32; [28:32] timestamp ms uint32 (32 bytes total).
const (
	statusFieldLen = 20
	ReportLen      = statusFieldLen + 4 + 4 + 4
	ModeReportLen  = 1
)

var (
	ErrPayloadSize   = errors.New("payload size mismatch")
	ErrUnknownStatus = errors.New("unknown report status")
)

// Status is the measurement state carried by a Report.
type Status uint8

const (
	StatusWaiting Status = iota + 1
	StatusTiming
	StatusResult
)

func (s Status) String() string {
	switch s {
	case StatusWaiting:
		return "WAITING"
	case StatusTiming:
		return "TIMING"
	case StatusResult:
		return "RESULT"
	default:
		return fmt.Sprintf("Status(%d)", uint8(s))
	}
}

func parseStatus(s string) (Status, bool) {
	switch s {
	case "WAITING":
		return StatusWaiting, true
	case "TIMING":
		return StatusTiming, true
	case "RESULT":
		return StatusResult, true
	default:
		return 0, false
	}
}

// Report is sent by the Measurement Node on every state transition.
type Report struct {
	Status         Status  `json:"status"`
	ElapsedSeconds float32 `json:"elapsed_s"`
	SpeedKmh       float32 `json:"speed_kmh"`
	TimestampMs    uint32  `json:"timestamp_ms"`
}

// MarshalBinary encodes the report into its fixed 32-byte wire form.
func (r Report) MarshalBinary() ([]byte, error) {
	name := r.Status.String()
	if _, ok := parseStatus(name); !ok {
		return nil, fmt.Errorf("encode report: %w: %d", ErrUnknownStatus, uint8(r.Status))
	}
	buf := make([]byte, ReportLen)
	copy(buf[:statusFieldLen], name)
	binary.LittleEndian.PutUint32(buf[20:24], math.Float32bits(r.ElapsedSeconds))
	binary.LittleEndian.PutUint32(buf[24:28], math.Float32bits(r.SpeedKmh))
	binary.LittleEndian.PutUint32(buf[28:32], r.TimestampMs)
	return buf, nil
}

// ParseReport decodes a Measurement Report. Payloads that are not exactly
// ReportLen bytes, or whose status text is not recognised, are rejected.
func ParseReport(data []byte) (Report, error) {
	if len(data) != ReportLen {
		return Report{}, fmt.Errorf("%w: got %d, want %d", ErrPayloadSize, len(data), ReportLen)
	}
	raw := string(data[:statusFieldLen])
	if i := strings.IndexByte(raw, 0); i >= 0 {
		raw = raw[:i]
	}
	status, ok := parseStatus(raw)
	if !ok {
		return Report{}, fmt.Errorf("%w: %q", ErrUnknownStatus, raw)
	}
	return Report{
		Status:         status,
		ElapsedSeconds: math.Float32frombits(binary.LittleEndian.Uint32(data[20:24])),
		SpeedKmh:       math.Float32frombits(binary.LittleEndian.Uint32(data[24:28])),
		TimestampMs:    binary.LittleEndian.Uint32(data[28:32]),
	}, nil
}

// ModeReport tells the Measurement Node which pulse interpretation to use.
type ModeReport struct {
	EnergyMode bool `json:"energy_mode"`
}

func (m ModeReport) MarshalBinary() ([]byte, error) {
	if m.EnergyMode {
		return []byte{1}, nil
	}
	return []byte{0}, nil
}

// ParseModeReport decodes a 1-byte Mode Report; any non-zero byte selects energy mode.
func ParseModeReport(data []byte) (ModeReport, error) {
	if len(data) != ModeReportLen {
		return ModeReport{}, fmt.Errorf("%w: got %d, want %d", ErrPayloadSize, len(data), ModeReportLen)
	}
	return ModeReport{EnergyMode: data[0] != 0}, nil
}

// ModeName is the operator-facing name of a mode flag.
func ModeName(energy bool) string {
	if energy {
		return "ENERGY"
	}
	return "SPEED"
}
