package canmon

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tarm/serial"
)

const (
	defaultSLCANBaud  = 115200
	slcanReadTimeout  = 200 * time.Millisecond
	slcanMaxFrameSize = 32
)

// SLCANDriver reads frames from an SLCAN (Lawicel) serial adapter.
// Only the receive side of the protocol is used: standard ('t') and
// extended ('T') data frames. Remote frames and adapter status replies are
// skipped.
type SLCANDriver struct {
	device  string
	baud    int
	port    *serial.Port
	pending []byte
}

func NewSLCANDriver(device string, baud int) *SLCANDriver {
	if baud == 0 {
		baud = defaultSLCANBaud
	}
	return &SLCANDriver{device: device, baud: baud}
}

func (driver *SLCANDriver) Connect() error {
	port, err := serial.OpenPort(&serial.Config{
		Name:        driver.device,
		Baud:        driver.baud,
		ReadTimeout: slcanReadTimeout,
	})
	if err != nil {
		return err
	}
	driver.port = port
	driver.pending = driver.pending[:0]
	// Open the adapter's CAN channel. This talks to the adapter itself,
	// nothing is transmitted on the bus.
	if _, err := port.Write([]byte("O\r")); err != nil {
		port.Close()
		driver.port = nil
		return err
	}
	return nil
}

func (driver *SLCANDriver) Disconnect() error {
	if driver.port == nil {
		return nil
	}
	port := driver.port
	driver.port = nil
	_, _ = port.Write([]byte("C\r"))
	return port.Close()
}

func (driver *SLCANDriver) Recv() (*Frame, error) {
	if driver.port == nil {
		return nil, errors.New("slcan: not connected")
	}
	// Drain any frame already buffered from a previous read.
	if frame := driver.nextPending(); frame != nil {
		return frame, nil
	}
	buf := make([]byte, 128)
	n, err := driver.port.Read(buf)
	if err != nil && err != io.EOF {
		log.Warnf("[SLCAN][%s] read failed : %v", driver.device, err)
		return nil, err
	}
	if n == 0 {
		// Read timeout, no traffic.
		return nil, nil
	}
	driver.pending = append(driver.pending, buf[:n]...)
	if len(driver.pending) > 4096 {
		// Garbage with no terminator, drop it rather than grow forever.
		driver.pending = driver.pending[:0]
	}
	return driver.nextPending(), nil
}

// nextPending pops complete CR terminated lines off the buffer until one
// parses as a data frame.
func (driver *SLCANDriver) nextPending() *Frame {
	for {
		end := bytes.IndexByte(driver.pending, '\r')
		if end < 0 {
			return nil
		}
		line := string(driver.pending[:end])
		driver.pending = driver.pending[end+1:]
		frame, err := parseSLCANLine(line)
		if err != nil {
			log.Debugf("[SLCAN][%s] skipping line %q : %v", driver.device, line, err)
			continue
		}
		if frame != nil {
			return frame
		}
	}
}

// parseSLCANLine decodes one SLCAN line. Returns (nil, nil) for lines that
// are valid protocol but not data frames.
func parseSLCANLine(line string) (*Frame, error) {
	if len(line) == 0 {
		return nil, nil
	}
	var idLen int
	var extended bool
	switch line[0] {
	case 't':
		idLen = 3
	case 'T':
		idLen = 8
		extended = true
	case 'r', 'R', 'z', 'Z', '\a':
		// Remote frames and command acknowledgements.
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown record type %q", line[0])
	}
	if len(line) < 1+idLen+1 || len(line) > slcanMaxFrameSize {
		return nil, fmt.Errorf("truncated frame record")
	}
	id, err := strconv.ParseUint(line[1:1+idLen], 16, 32)
	if err != nil {
		return nil, fmt.Errorf("bad identifier : %w", err)
	}
	dlc, err := strconv.ParseUint(line[1+idLen:2+idLen], 16, 8)
	if err != nil || dlc > 8 {
		return nil, fmt.Errorf("bad dlc")
	}
	payload := line[2+idLen:]
	if len(payload) != int(dlc)*2 {
		return nil, fmt.Errorf("dlc %d does not match %d payload chars", dlc, len(payload))
	}
	frame := &Frame{
		ID:        uint32(id),
		DLC:       uint8(dlc),
		Extended:  extended,
		Timestamp: time.Now(),
	}
	if _, err := hex.Decode(frame.Data[:dlc], []byte(payload)); err != nil {
		return nil, fmt.Errorf("bad payload : %w", err)
	}
	return frame, nil
}
