package canmon

import (
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
)

// Driver is the low level receive side of one CAN channel. Implementations
// exist for socketcan, SLCAN over a serial port and the TCP virtual bus.
// A monitor never transmits, so there is no send path.
type Driver interface {
	Connect() error
	Disconnect() error
	// Recv blocks up to the driver's internal read timeout and returns the
	// next frame. A nil frame with nil error means the timeout expired
	// without traffic. A non nil error means the channel failed and should
	// be restarted.
	Recv() (*Frame, error)
}

// Interface couples a named CAN channel with its driver and tracks up/down
// state. It is created once at multiplexer construction, restarted any
// number of times on I/O failure and torn down once at shutdown.
type Interface struct {
	Name   string
	driver Driver
	up     atomic.Bool
}

// NewInterface builds an interface handle from a name alone. The driver is
// selected from the name scheme:
//
//	can0, vcan1, ...           socketcan
//	slcan:/dev/ttyUSB0@115200  SLCAN on a serial port
//	virtual:localhost:18000    TCP virtual bus
func NewInterface(name string) *Interface {
	return &Interface{Name: name, driver: openDriver(name)}
}

// NewInterfaceWithDriver builds an interface handle around an explicit
// driver. Used by tests and custom backends.
func NewInterfaceWithDriver(name string, driver Driver) *Interface {
	return &Interface{Name: name, driver: driver}
}

func openDriver(name string) Driver {
	switch {
	case strings.HasPrefix(name, "slcan:"):
		device := strings.TrimPrefix(name, "slcan:")
		baud := defaultSLCANBaud
		if at := strings.LastIndex(device, "@"); at >= 0 {
			if b, err := strconv.Atoi(device[at+1:]); err == nil {
				baud = b
			}
			device = device[:at]
		}
		return NewSLCANDriver(device, baud)
	case strings.HasPrefix(name, "virtual:"):
		return NewVirtualDriver(strings.TrimPrefix(name, "virtual:"))
	default:
		return NewSocketcanDriver(name)
	}
}

// Start connects the underlying driver and marks the interface up.
func (itf *Interface) Start() error {
	err := itf.driver.Connect()
	if err != nil {
		itf.up.Store(false)
		return err
	}
	itf.up.Store(true)
	log.Debugf("[INTERFACE][%s] up", itf.Name)
	return nil
}

// Stop disconnects the driver and marks the interface down. Safe to call
// on an interface that never came up.
func (itf *Interface) Stop() {
	itf.up.Store(false)
	if err := itf.driver.Disconnect(); err != nil {
		log.Debugf("[INTERFACE][%s] disconnect: %v", itf.Name, err)
	}
}

// Restart tears the driver down and brings it back up. This is the sole
// recovery mechanism for adapter I/O failures.
func (itf *Interface) Restart() error {
	itf.Stop()
	return itf.Start()
}

// Recv pulls the next frame off the driver, stamping it with the interface
// name and receipt time. On error the interface is marked down so the
// owning worker restarts it.
func (itf *Interface) Recv() (*Frame, error) {
	frame, err := itf.driver.Recv()
	if err != nil {
		itf.up.Store(false)
		return nil, err
	}
	if frame == nil {
		return nil, nil
	}
	frame.Interface = itf.Name
	if frame.Timestamp.IsZero() {
		frame.Timestamp = time.Now()
	}
	return frame, nil
}

func (itf *Interface) IsUp() bool {
	return itf.up.Load()
}
