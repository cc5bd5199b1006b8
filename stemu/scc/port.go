package scc

import (
	"log/slog"

	"go.bug.st/serial"
)

// Port is the external serial sink/source behind an SCC channel. Reads are
// non blocking: a channel with nothing pending returns ok=false.
type Port interface {
	ReadByte() (value uint8, ok bool)
	WriteByte(value uint8)
	SetBaudRate(baud int)
	SetBreak(on bool)
	SetRTS(on bool)
	SetDTR(on bool)
	Status() (cts, dcd bool)
	Close() error
}

// nullPort is the disabled channel: reads see nothing, writes are
// discarded, modem lines idle asserted.
type nullPort struct{}

func (nullPort) ReadByte() (uint8, bool) { return 0, false }
func (nullPort) WriteByte(uint8)         {}
func (nullPort) SetBaudRate(int)         {}
func (nullPort) SetBreak(bool)           {}
func (nullPort) SetRTS(bool)             {}
func (nullPort) SetDTR(bool)             {}
func (nullPort) Status() (bool, bool)    { return true, true }
func (nullPort) Close() error            { return nil }

// NullPort returns the disabled channel backend.
func NullPort() Port { return nullPort{} }

// LogSink is a dummy serial device that logs outgoing bytes and replays a
// scripted input stream. Handy for tests and headless runs.
type LogSink struct {
	Name   string
	sent   []uint8
	input  []uint8
	logger *slog.Logger
}

// NewLogSink creates a logging port.
func NewLogSink(name string) *LogSink {
	return &LogSink{Name: name, logger: slog.Default()}
}

// Feed queues bytes for the emulated machine to receive.
func (s *LogSink) Feed(data ...uint8) {
	s.input = append(s.input, data...)
}

// Sent returns every byte the machine transmitted so far.
func (s *LogSink) Sent() []uint8 {
	return s.sent
}

func (s *LogSink) ReadByte() (uint8, bool) {
	if len(s.input) == 0 {
		return 0, false
	}
	b := s.input[0]
	s.input = s.input[1:]
	return b, true
}

func (s *LogSink) WriteByte(value uint8) {
	s.sent = append(s.sent, value)
	if s.logger != nil {
		s.logger.Debug("scc: tx byte", "port", s.Name, "value", value)
	}
}

func (s *LogSink) SetBaudRate(baud int) {
	if s.logger != nil {
		s.logger.Debug("scc: set baud", "port", s.Name, "baud", baud)
	}
}

func (s *LogSink) SetBreak(on bool) {}
func (s *LogSink) SetRTS(on bool)   {}
func (s *LogSink) SetDTR(on bool)   {}

func (s *LogSink) Status() (bool, bool) { return true, true }
func (s *LogSink) Close() error         { return nil }

// hostPort drives a real tty through the host serial stack.
type hostPort struct {
	name string
	port serial.Port
	mode serial.Mode
}

// OpenHostPort opens a host serial device eagerly. On failure the caller
// falls back to NullPort: the channel is disabled, the emulation continues.
func OpenHostPort(device string) (Port, error) {
	mode := serial.Mode{BaudRate: 9600, DataBits: 8}
	p, err := serial.Open(device, &mode)
	if err != nil {
		return nil, err
	}
	if err := p.SetReadTimeout(0); err != nil {
		p.Close()
		return nil, err
	}
	return &hostPort{name: device, port: p, mode: mode}, nil
}

func (h *hostPort) ReadByte() (uint8, bool) {
	var buf [1]byte
	n, err := h.port.Read(buf[:])
	if err != nil || n == 0 {
		return 0, false
	}
	return buf[0], true
}

func (h *hostPort) WriteByte(value uint8) {
	if _, err := h.port.Write([]byte{value}); err != nil {
		slog.Warn("scc: host serial write failed", "port", h.name, "error", err)
	}
}

func (h *hostPort) SetBaudRate(baud int) {
	h.mode.BaudRate = baud
	if err := h.port.SetMode(&h.mode); err != nil {
		slog.Debug("scc: unsupported host baud rate", "port", h.name, "baud", baud, "error", err)
	}
}

func (h *hostPort) SetBreak(on bool) {
	// Break control is not portable across host serial stacks; hold the
	// line through RTS-less writes instead of failing.
	slog.Debug("scc: break", "port", h.name, "on", on)
}

func (h *hostPort) SetRTS(on bool) {
	if err := h.port.SetRTS(on); err != nil {
		slog.Debug("scc: set RTS failed", "port", h.name, "error", err)
	}
}

func (h *hostPort) SetDTR(on bool) {
	if err := h.port.SetDTR(on); err != nil {
		slog.Debug("scc: set DTR failed", "port", h.name, "error", err)
	}
}

func (h *hostPort) Status() (bool, bool) {
	bits, err := h.port.GetModemStatusBits()
	if err != nil {
		return true, true
	}
	return bits.CTS, bits.DCD
}

func (h *hostPort) Close() error {
	return h.port.Close()
}
