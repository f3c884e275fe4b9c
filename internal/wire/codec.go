// Package wire implements the fixed-layout frames exchanged between nodes:
// detection reports from remote links and calibration/tuning commands from
// the master. The layout is explicit and little-endian so it stays stable
// across architectures; it must be bit-exact for interoperability with
// deployed nodes.
package wire

import (
	"encoding/binary"
	"errors"
	"math"
)

// Frame type bytes. 0x10-0x1F is reserved for commands; anything else on
// the inbound channel is payload belonging to the front-end data stream
// and is not ours to interpret.
const (
	MsgReport byte = 0x01

	CmdStartCalibration byte = 0x10
	CmdStopCalibration  byte = 0x11
	CmdSetThresholds    byte = 0x12
	CmdSetSensitivity   byte = 0x13

	cmdRangeLo byte = 0x10
	cmdRangeHi byte = 0x1F
)

// ReportSize is the exact byte length of an encoded Report:
// msgType(1) nodeID(1) occupied(1) moving(1) wander(4) jitter(4)
// rssi(1) timestamp(4).
const ReportSize = 17

// Command payload sizes including the leading type byte.
const (
	setThresholdsSize  = 9
	setSensitivitySize = 10
)

var (
	// ErrShortFrame marks a frame shorter than its type requires.
	ErrShortFrame = errors.New("wire: frame too short")
	// ErrNotReport marks a frame whose type byte is not MsgReport.
	ErrNotReport = errors.New("wire: not a report frame")
)

// Report is a remote link's detection result, computed against the remote
// node's own calibration.
type Report struct {
	NodeID    uint8
	Occupied  bool
	Moving    bool
	Wander    float32
	Jitter    float32
	RSSI      int8
	Timestamp uint32 // sender-local milliseconds
}

// Encode serializes the report into its fixed 17-byte layout.
func (r Report) Encode() []byte {
	buf := make([]byte, ReportSize)
	buf[0] = MsgReport
	buf[1] = r.NodeID
	buf[2] = boolByte(r.Occupied)
	buf[3] = boolByte(r.Moving)
	binary.LittleEndian.PutUint32(buf[4:8], math.Float32bits(r.Wander))
	binary.LittleEndian.PutUint32(buf[8:12], math.Float32bits(r.Jitter))
	buf[12] = byte(r.RSSI)
	binary.LittleEndian.PutUint32(buf[13:17], r.Timestamp)
	return buf
}

// DecodeReport parses a report frame. Frames shorter than ReportSize or
// with the wrong type byte are rejected.
func DecodeReport(frame []byte) (Report, error) {
	if len(frame) < ReportSize {
		return Report{}, ErrShortFrame
	}
	if frame[0] != MsgReport {
		return Report{}, ErrNotReport
	}
	return Report{
		NodeID:    frame[1],
		Occupied:  frame[2] != 0,
		Moving:    frame[3] != 0,
		Wander:    math.Float32frombits(binary.LittleEndian.Uint32(frame[4:8])),
		Jitter:    math.Float32frombits(binary.LittleEndian.Uint32(frame[8:12])),
		RSSI:      int8(frame[12]),
		Timestamp: binary.LittleEndian.Uint32(frame[13:17]),
	}, nil
}

// IsCommand reports whether the frame's first byte falls in the reserved
// command range.
func IsCommand(frame []byte) bool {
	return len(frame) > 0 && frame[0] >= cmdRangeLo && frame[0] <= cmdRangeHi
}

// Command is a decoded master command. Fields beyond Type are populated
// only for the command types that carry them.
type Command struct {
	Type   byte
	NodeID uint8   // CmdSetSensitivity target
	Wander float32 // threshold or sensitivity, per Type
	Jitter float32
}

// DecodeCommand parses a command frame. Known types with undersized
// payloads are rejected; unknown types within the reserved range are
// passed through with only Type set so the caller can log and ignore them.
func DecodeCommand(frame []byte) (Command, error) {
	if len(frame) == 0 {
		return Command{}, ErrShortFrame
	}
	cmd := Command{Type: frame[0]}

	switch frame[0] {
	case CmdSetThresholds:
		if len(frame) < setThresholdsSize {
			return Command{}, ErrShortFrame
		}
		cmd.Wander = math.Float32frombits(binary.LittleEndian.Uint32(frame[1:5]))
		cmd.Jitter = math.Float32frombits(binary.LittleEndian.Uint32(frame[5:9]))
	case CmdSetSensitivity:
		if len(frame) < setSensitivitySize {
			return Command{}, ErrShortFrame
		}
		cmd.NodeID = frame[1]
		cmd.Wander = math.Float32frombits(binary.LittleEndian.Uint32(frame[2:6]))
		cmd.Jitter = math.Float32frombits(binary.LittleEndian.Uint32(frame[6:10]))
	}
	return cmd, nil
}

// EncodeStartCalibration builds the start-calibration broadcast frame.
func EncodeStartCalibration() []byte {
	return []byte{CmdStartCalibration}
}

// EncodeStopCalibration builds the stop-calibration broadcast frame. On
// receipt each node derives and persists its own thresholds from its own
// baseline; the sender's thresholds are never adopted.
func EncodeStopCalibration() []byte {
	return []byte{CmdStopCalibration}
}

// EncodeSetThresholds builds a threshold-override frame.
func EncodeSetThresholds(wander, jitter float32) []byte {
	buf := make([]byte, setThresholdsSize)
	buf[0] = CmdSetThresholds
	binary.LittleEndian.PutUint32(buf[1:5], math.Float32bits(wander))
	binary.LittleEndian.PutUint32(buf[5:9], math.Float32bits(jitter))
	return buf
}

// EncodeSetSensitivity builds a per-link sensitivity frame. Only the node
// whose identity matches nodeID applies it.
func EncodeSetSensitivity(nodeID uint8, wander, jitter float32) []byte {
	buf := make([]byte, setSensitivitySize)
	buf[0] = CmdSetSensitivity
	buf[1] = nodeID
	binary.LittleEndian.PutUint32(buf[2:6], math.Float32bits(wander))
	binary.LittleEndian.PutUint32(buf[6:10], math.Float32bits(jitter))
	return buf
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
