package canmon

import (
	"errors"
	"time"

	"github.com/brutella/can"
	log "github.com/sirupsen/logrus"
)

const socketcanReadTimeout = 200 * time.Millisecond

// Socketcan specific identifier bits.
const (
	canSffMask uint32 = 0x000007FF
	canEffFlag uint32 = 0x80000000
)

// SocketcanDriver reads frames from a socketcan interface through
// brutella/can. The library pushes frames at us via a Handle callback, the
// driver adapts that to the pull based Recv the multiplexer expects by
// buffering into a channel.
type SocketcanDriver struct {
	name string
	bus  *can.Bus
	rx   chan Frame
	errc chan error
}

func NewSocketcanDriver(name string) *SocketcanDriver {
	return &SocketcanDriver{name: name}
}

func (driver *SocketcanDriver) Connect() error {
	bus, err := can.NewBusForInterfaceWithName(driver.name)
	if err != nil {
		return err
	}
	driver.bus = bus
	driver.rx = make(chan Frame, 1024)
	driver.errc = make(chan error, 1)
	bus.Subscribe(driver)
	go func() {
		// ConnectAndPublish returns when the socket dies, surface that to
		// Recv so the worker restarts the interface.
		err := bus.ConnectAndPublish()
		if err == nil {
			err = errors.New("socketcan: connection closed")
		}
		select {
		case driver.errc <- err:
		default:
		}
	}()
	return nil
}

func (driver *SocketcanDriver) Disconnect() error {
	if driver.bus == nil {
		return nil
	}
	bus := driver.bus
	driver.bus = nil
	// Detach the handler first so a lingering publish loop cannot keep
	// pushing into the channels of a later connection.
	bus.Unsubscribe(driver)
	return bus.Disconnect()
}

// Handle implements the brutella/can handler interface.
func (driver *SocketcanDriver) Handle(frame can.Frame) {
	driver.rx <- Frame{
		ID:        frame.ID & canSffMask,
		DLC:       frame.Length,
		Data:      frame.Data,
		Extended:  frame.ID&canEffFlag != 0,
		Timestamp: time.Now(),
	}
}

func (driver *SocketcanDriver) Recv() (*Frame, error) {
	if driver.bus == nil {
		return nil, errors.New("socketcan: not connected")
	}
	select {
	case frame := <-driver.rx:
		return &frame, nil
	case err := <-driver.errc:
		log.Warnf("[SOCKETCAN][%s] receive failed : %v", driver.name, err)
		return nil, err
	case <-time.After(socketcanReadTimeout):
		return nil, nil
	}
}
