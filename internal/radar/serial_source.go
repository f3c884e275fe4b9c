package radar

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	serial "github.com/jacobsa/go-serial/serial"
)

// serialSource reads metric lines streamed over UART by the CSI front end.
// Each line carries one raw sample: "<wander>,<jitter>\n".
type serialSource struct {
	port   io.ReadCloser
	reader *bufio.Reader
}

// NewSerialSource opens the front end's serial port and returns a Source
// that yields one sample per received line.
func NewSerialSource(portName string, baudRate uint) (Source, error) {
	opts := serial.OpenOptions{
		PortName:        portName,
		BaudRate:        baudRate,
		DataBits:        8,
		StopBits:        1,
		MinimumReadSize: 1,
		ParityMode:      serial.PARITY_NONE,
	}

	port, err := serial.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", portName, err)
	}

	return &serialSource{port: port, reader: bufio.NewReader(port)}, nil
}

// Next blocks until the front end emits the next metric line. Malformed
// lines are skipped rather than surfaced: the stream self-heals on the
// next line boundary.
func (s *serialSource) Next() (Sample, error) {
	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			return Sample{}, fmt.Errorf("serial read: %w", err)
		}
		sample, err := ParseSampleLine(line)
		if err != nil {
			continue
		}
		return sample, nil
	}
}

func (s *serialSource) Close() error {
	return s.port.Close()
}

// ParseSampleLine parses a "<wander>,<jitter>" metric line. Both values
// must be non-negative floats.
func ParseSampleLine(line string) (Sample, error) {
	parts := strings.Split(strings.TrimSpace(line), ",")
	if len(parts) != 2 {
		return Sample{}, fmt.Errorf("malformed metric line %q", line)
	}

	wander, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return Sample{}, fmt.Errorf("invalid wander value %q: %w", parts[0], err)
	}
	jitter, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return Sample{}, fmt.Errorf("invalid jitter value %q: %w", parts[1], err)
	}
	if wander < 0 || jitter < 0 {
		return Sample{}, fmt.Errorf("negative metric in line %q", line)
	}

	return Sample{Wander: wander, Jitter: jitter}, nil
}
