package canmon

import (
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// How long a worker waits before retrying after a failed interface
// (re)start. Recovery itself has no retry limit.
const restartRetryDelay = 500 * time.Millisecond

// Mux is a macro manager for multiple CAN interfaces. It owns one reader
// worker per interface, merges their frames into a single shared queue,
// recovers failed interfaces by restarting them indefinitely and shuts down
// cooperatively.
type Mux struct {
	interfaces []*Interface
	queue      *FrameQueue
	keepAlive  chan struct{}
	wg         sync.WaitGroup
	mu         sync.Mutex
	alive      map[string]bool
	started    bool
	stopOnce   sync.Once
}

// NewMux builds a multiplexer for the given interface names. Fails when
// the list is empty or contains duplicates, those are the only fatal
// conditions: an interface that never comes up is handled at runtime by
// restarting it forever.
func NewMux(names []string) (*Mux, error) {
	if len(names) == 0 {
		return nil, ErrNoInterfaces
	}
	seen := make(map[string]bool, len(names))
	interfaces := make([]*Interface, 0, len(names))
	for _, name := range names {
		if seen[name] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateInterface, name)
		}
		seen[name] = true
		interfaces = append(interfaces, NewInterface(name))
	}
	return &Mux{
		interfaces: interfaces,
		queue:      NewFrameQueue(),
		keepAlive:  make(chan struct{}),
		alive:      make(map[string]bool, len(names)),
	}, nil
}

// NewMuxWithInterfaces builds a multiplexer around pre-built interface
// handles. Used by tests and custom driver setups.
func NewMuxWithInterfaces(interfaces []*Interface) (*Mux, error) {
	if len(interfaces) == 0 {
		return nil, ErrNoInterfaces
	}
	seen := make(map[string]bool, len(interfaces))
	for _, itf := range interfaces {
		if seen[itf.Name] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateInterface, itf.Name)
		}
		seen[itf.Name] = true
	}
	return &Mux{
		interfaces: interfaces,
		queue:      NewFrameQueue(),
		keepAlive:  make(chan struct{}),
		alive:      make(map[string]bool, len(interfaces)),
	}, nil
}

// Start launches one reader worker per interface.
func (mux *Mux) Start() error {
	mux.mu.Lock()
	defer mux.mu.Unlock()
	if mux.started {
		return ErrAlreadyStarted
	}
	mux.started = true
	for _, itf := range mux.interfaces {
		mux.wg.Add(1)
		go mux.handler(itf)
	}
	return nil
}

// handler is the per interface reader loop. The outer loop exists to
// enable interface recovery: when the interface is deleted or goes down,
// the handler restarts it and resumes reading as soon as possible. The
// worker exits only when the keep-alive signal is cleared.
func (mux *Mux) handler(itf *Interface) {
	defer mux.wg.Done()
	defer itf.Stop()
	defer mux.setAlive(itf.Name, false)

	if err := itf.Start(); err != nil {
		log.Warnf("[MUX][%s] start failed, will keep retrying : %v", itf.Name, err)
	}
	mux.setAlive(itf.Name, true)

	for mux.keptAlive() {
		// The inner loop is the constant reading of the bus. The up check
		// is repeated here so the handler does not keep blocking on bus
		// reads while the mux is tearing everything down.
		for mux.keptAlive() && itf.IsUp() {
			frame, err := itf.Recv()
			if err != nil {
				log.Warnf("[MUX][%s] receive failed : %v", itf.Name, err)
				break
			}
			if frame != nil {
				mux.queue.Push(*frame)
				framesReceived.WithLabelValues(itf.Name).Inc()
			}
		}
		if !mux.keptAlive() {
			break
		}
		interfaceRestarts.WithLabelValues(itf.Name).Inc()
		if err := itf.Restart(); err != nil {
			log.Debugf("[MUX][%s] restart failed : %v", itf.Name, err)
			mux.sleepAlive(restartRetryDelay)
		}
	}
}

func (mux *Mux) keptAlive() bool {
	select {
	case <-mux.keepAlive:
		return false
	default:
		return true
	}
}

// sleepAlive waits for the delay but wakes early on shutdown.
func (mux *Mux) sleepAlive(d time.Duration) {
	select {
	case <-mux.keepAlive:
	case <-time.After(d):
	}
}

func (mux *Mux) setAlive(name string, up bool) {
	mux.mu.Lock()
	mux.alive[name] = up
	mux.mu.Unlock()
}

// Poll pops the next pending frame without blocking. Reports false when no
// frame is pending so the consumer loop stays responsive.
func (mux *Mux) Poll() (Frame, bool) {
	return mux.queue.Poll()
}

// QueueLen returns the number of frames waiting to be consumed.
func (mux *Mux) QueueLen() int {
	return mux.queue.Len()
}

// ActiveInterfaces returns a snapshot of interface names whose worker is
// alive and whose channel currently reports itself up. Best effort and
// racy by nature, meant for status display only.
func (mux *Mux) ActiveInterfaces() []string {
	mux.mu.Lock()
	defer mux.mu.Unlock()
	names := make([]string, 0, len(mux.interfaces))
	for _, itf := range mux.interfaces {
		if mux.alive[itf.Name] && itf.IsUp() {
			names = append(names, itf.Name)
		}
	}
	return names
}

// Shutdown clears the keep-alive signal and joins every worker before
// returning. Safe to call more than once, only the first call does work.
func (mux *Mux) Shutdown() {
	mux.stopOnce.Do(func() {
		log.Info("[MUX] shutting down, waiting for workers to end")
		close(mux.keepAlive)
		mux.wg.Wait()
	})
}
