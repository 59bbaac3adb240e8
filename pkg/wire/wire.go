// Package wire defines the glowlamp update-link register protocol: the
// logical endpoints a device exposes, the one-byte command and status
// encodings, the acknowledgement result codes, and the frame envelope used to
// correlate endpoint writes with their acknowledgements on bridged
// transports.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// HashSize is the length of the expected-digest register (SHA-256).
	HashSize = 32

	// DefaultChunkSize is the default ceiling for one data-endpoint write.
	// It is a transport payload constant, not an architectural limit, and
	// devices may advertise a different value.
	DefaultChunkSize = 512
)

// Endpoint identifies one of the logical registers exposed by a device.
type Endpoint uint8

const (
	EndpointCommand Endpoint = iota
	EndpointHash
	EndpointData
	EndpointStatus
	EndpointConfig
)

func (e Endpoint) String() string {
	switch e {
	case EndpointCommand:
		return "command"
	case EndpointHash:
		return "hash"
	case EndpointData:
		return "data"
	case EndpointStatus:
		return "status"
	case EndpointConfig:
		return "config"
	default:
		return fmt.Sprintf("endpoint(%d)", uint8(e))
	}
}

// Command is a one-byte control register write.
type Command byte

const (
	CmdBegin  Command = 0x01
	CmdCommit Command = 0x02
	CmdAbort  Command = 0x03
)

func (c Command) String() string {
	switch c {
	case CmdBegin:
		return "begin"
	case CmdCommit:
		return "commit"
	case CmdAbort:
		return "abort"
	default:
		return fmt.Sprintf("command(0x%02x)", byte(c))
	}
}

// Valid reports whether c is a defined control command.
func (c Command) Valid() bool {
	return c >= CmdBegin && c <= CmdAbort
}

// Status is the one-byte session status register.
type Status byte

const (
	StatusIdle       Status = 0x00
	StatusInProgress Status = 0x01
	StatusSuccess    Status = 0x02
	StatusError      Status = 0x03
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusInProgress:
		return "in_progress"
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	default:
		return fmt.Sprintf("status(0x%02x)", byte(s))
	}
}

// Result is the one-byte outcome carried in a write acknowledgement.
type Result byte

const (
	ResultOK        Result = 0x00
	ResultSequence  Result = 0x01
	ResultNotArmed  Result = 0x02
	ResultCapacity  Result = 0x03
	ResultIntegrity Result = 0x04
	ResultUnknown   Result = 0x7f
)

func (r Result) String() string {
	switch r {
	case ResultOK:
		return "ok"
	case ResultSequence:
		return "sequence_error"
	case ResultNotArmed:
		return "not_armed"
	case ResultCapacity:
		return "capacity_error"
	case ResultIntegrity:
		return "integrity_error"
	default:
		return fmt.Sprintf("result(0x%02x)", byte(r))
	}
}

// Register-level error taxonomy. Device components wrap these with context;
// both sides translate between them and Result codes at the link boundary.
var (
	// ErrSequence reports an operation that is invalid in the current
	// session state.
	ErrSequence = errors.New("operation invalid in current session state")

	// ErrNotArmed reports a Begin issued before the expected hash was set.
	ErrNotArmed = errors.New("expected hash not armed")

	// ErrCapacity reports a write that would exceed slot bounds or the
	// chunk ceiling.
	ErrCapacity = errors.New("write exceeds capacity")

	// ErrIntegrity reports a final digest mismatch at commit.
	ErrIntegrity = errors.New("image digest mismatch")
)

// ResultOf maps an error returned by a device handler to the Result code
// reported in the write acknowledgement.
func ResultOf(err error) Result {
	switch {
	case err == nil:
		return ResultOK
	case errors.Is(err, ErrNotArmed):
		return ResultNotArmed
	case errors.Is(err, ErrCapacity):
		return ResultCapacity
	case errors.Is(err, ErrIntegrity):
		return ResultIntegrity
	case errors.Is(err, ErrSequence):
		return ResultSequence
	default:
		return ResultUnknown
	}
}

// Err is the client-side inverse of ResultOf: it reconstructs the taxonomy
// error a nacked write stands for.
func (r Result) Err() error {
	switch r {
	case ResultOK:
		return nil
	case ResultSequence:
		return ErrSequence
	case ResultNotArmed:
		return ErrNotArmed
	case ResultCapacity:
		return ErrCapacity
	case ResultIntegrity:
		return ErrIntegrity
	default:
		return fmt.Errorf("device rejected write: %s", r)
	}
}

// Frame envelope. Bridged transports (MQTT) prefix every endpoint write with
// a sequence number so the acknowledgement can be correlated:
//
//	write frame: [SEQ:4 big-endian][PAYLOAD...]
//	ack frame:   [SEQ:4 big-endian][RESULT:1][DATA...]
//
// DATA is present only on acknowledged reads (status, config).
const frameHeaderSize = 4

// EncodeFrame prefixes payload with the sequence number.
func EncodeFrame(seq uint32, payload []byte) []byte {
	buf := make([]byte, frameHeaderSize+len(payload))
	binary.BigEndian.PutUint32(buf, seq)
	copy(buf[frameHeaderSize:], payload)
	return buf
}

// DecodeFrame splits a write frame into sequence number and payload.
func DecodeFrame(frame []byte) (seq uint32, payload []byte, err error) {
	if len(frame) < frameHeaderSize {
		return 0, nil, fmt.Errorf("frame too short: %d bytes", len(frame))
	}
	return binary.BigEndian.Uint32(frame), frame[frameHeaderSize:], nil
}

// EncodeAck builds an acknowledgement frame for seq carrying result and
// optional read data.
func EncodeAck(seq uint32, result Result, data []byte) []byte {
	buf := make([]byte, frameHeaderSize+1+len(data))
	binary.BigEndian.PutUint32(buf, seq)
	buf[frameHeaderSize] = byte(result)
	copy(buf[frameHeaderSize+1:], data)
	return buf
}

// DecodeAck splits an acknowledgement frame.
func DecodeAck(frame []byte) (seq uint32, result Result, data []byte, err error) {
	if len(frame) < frameHeaderSize+1 {
		return 0, 0, nil, fmt.Errorf("ack frame too short: %d bytes", len(frame))
	}
	return binary.BigEndian.Uint32(frame), Result(frame[frameHeaderSize]), frame[frameHeaderSize+1:], nil
}
