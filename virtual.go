package canmon

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"time"
)

// Virtual CAN bus driver used for development and tests.
// This uses TCP as transport, compatible with the virtualcan server wire
// format: a 4 byte big endian length header followed by the serialized
// frame. Only the non extended frame format is supported.

const virtualReadTimeout = 200 * time.Millisecond

// wireFrame is the fixed layout exchanged with the virtualcan server.
type wireFrame struct {
	ID    uint32
	DLC   uint8
	Flags uint8
	Res0  uint8
	Res1  uint8
	Data  [8]byte
}

func serializeWireFrame(frame wireFrame) ([]byte, error) {
	buffer := new(bytes.Buffer)
	err := binary.Write(buffer, binary.BigEndian, frame)
	if err != nil {
		return nil, err
	}
	dataBytes := buffer.Bytes()
	headerBytes := make([]byte, 4)
	binary.BigEndian.PutUint32(headerBytes, uint32(len(dataBytes)))
	return append(headerBytes, dataBytes...), nil
}

func deserializeWireFrame(buffer []byte) (*wireFrame, error) {
	var frame wireFrame
	err := binary.Read(bytes.NewBuffer(buffer), binary.BigEndian, &frame)
	if err != nil {
		return nil, err
	}
	return &frame, nil
}

// VirtualDriver connects to a virtualcan TCP server, e.g. localhost:18000.
type VirtualDriver struct {
	channel string
	conn    net.Conn
}

func NewVirtualDriver(channel string) *VirtualDriver {
	return &VirtualDriver{channel: channel}
}

func (driver *VirtualDriver) Connect() error {
	conn, err := net.Dial("tcp", driver.channel)
	if err != nil {
		return err
	}
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		if err := tcpConn.SetNoDelay(true); err != nil {
			conn.Close()
			return err
		}
	}
	driver.conn = conn
	return nil
}

func (driver *VirtualDriver) Disconnect() error {
	if driver.conn == nil {
		return nil
	}
	conn := driver.conn
	driver.conn = nil
	return conn.Close()
}

func (driver *VirtualDriver) Recv() (*Frame, error) {
	if driver.conn == nil {
		return nil, errors.New("virtual: no active connection, abort receive")
	}
	driver.conn.SetReadDeadline(time.Now().Add(virtualReadTimeout))
	headerBytes := make([]byte, 4)
	n, err := readFull(driver.conn, headerBytes)
	if netErr, ok := err.(net.Error); ok && netErr.Timeout() && n == 0 {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("virtual: reading header : %w", err)
	}
	length := binary.BigEndian.Uint32(headerBytes)
	if length > 64 {
		return nil, fmt.Errorf("virtual: implausible frame length %v", length)
	}
	frameBytes := make([]byte, length)
	driver.conn.SetReadDeadline(time.Now().Add(virtualReadTimeout))
	_, err = readFull(driver.conn, frameBytes)
	if err != nil {
		return nil, fmt.Errorf("virtual: reading frame : %w", err)
	}
	wire, err := deserializeWireFrame(frameBytes)
	if err != nil {
		return nil, err
	}
	// The peer controls the DLC field, never trust it past the CAN maximum.
	dlc := wire.DLC
	if dlc > 8 {
		dlc = 8
	}
	return &Frame{
		ID:        wire.ID,
		DLC:       dlc,
		Data:      wire.Data,
		Timestamp: time.Now(),
	}, nil
}

// readFull is io.ReadFull over the connection, kept separate so a deadline
// hit mid frame shows up as a hard error instead of a silent short read.
func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
