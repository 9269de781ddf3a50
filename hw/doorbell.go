// File: hw/doorbell.go
// Package hw provides the simulated hardware collaborator: a doorbell
// with one eventfd per registered instance standing in for the MSCM/MU
// inter-core interrupt line, and cache-flush calls that are no-ops on a
// cache-coherent host.
// Author: momentics <momentics@gmail.com>

package hw

import (
	"encoding/binary"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/momentics/picc-ipc/apicore"
)

// SimDoorbell implements apicore.Doorbell over a Linux eventfd per
// instance: Notify writes to the peer's eventfd, and a background
// reader drains it and invokes the registered IRQ handler, modeling
// the inbound doorbell interrupt.
type SimDoorbell struct {
	mu    sync.Mutex
	fds   map[int]int // instance -> eventfd
	irq   map[int]apicore.IRQMode
	onIRQ map[int]func(instance int)
	stop  chan struct{}
	once  sync.Once
}

// NewSimDoorbell creates a doorbell with no instances registered yet.
func NewSimDoorbell() *SimDoorbell {
	return &SimDoorbell{
		fds:   make(map[int]int),
		irq:   make(map[int]apicore.IRQMode),
		onIRQ: make(map[int]func(instance int)),
		stop:  make(chan struct{}),
	}
}

// Register creates the eventfd for instance and starts a reader
// goroutine that calls handler whenever the fd becomes readable and
// IRQs are enabled for that instance.
func (d *SimDoorbell) Register(instance int, handler func(instance int)) error {
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_SEMAPHORE)
	if err != nil {
		return apicore.New(apicore.Inval, "eventfd create failed").WithContext("err", err.Error())
	}
	d.mu.Lock()
	d.fds[instance] = fd
	d.irq[instance] = IRQEnabledDefault
	d.onIRQ[instance] = handler
	d.mu.Unlock()

	go d.readLoop(instance, fd)
	return nil
}

// IRQEnabledDefault matches : doorbells start enabled unless
// explicitly disabled.
const IRQEnabledDefault = apicore.IRQEnabled

func (d *SimDoorbell) readLoop(instance, fd int) {
	buf := make([]byte, 8)
	for {
		n, err := unix.Read(fd, buf)
		if err != nil || n != 8 {
			select {
			case <-d.stop:
				return
			default:
				continue
			}
		}
		d.mu.Lock()
		mode := d.irq[instance]
		handler := d.onIRQ[instance]
		d.mu.Unlock()
		if mode == apicore.IRQEnabled && handler != nil {
			handler(instance)
		}
	}
}

// Notify rings the doorbell for instance by writing 1 to its eventfd.
func (d *SimDoorbell) Notify(instance int) error {
	d.mu.Lock()
	fd, ok := d.fds[instance]
	d.mu.Unlock()
	if !ok {
		return apicore.New(apicore.Inval, "doorbell not registered for instance")
	}
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, 1)
	if _, err := unix.Write(fd, buf); err != nil {
		return apicore.New(apicore.Inval, "doorbell write failed").WithContext("err", err.Error())
	}
	return nil
}

// IRQClear is a no-op here: EFD_SEMAPHORE reads already decrement the
// counter by exactly one per event, so there is nothing left to
// acknowledge once readLoop's Read returns.
func (d *SimDoorbell) IRQClear(instance int) error { return nil }

func (d *SimDoorbell) IRQEnable(instance int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.fds[instance]; !ok {
		return apicore.New(apicore.Inval, "doorbell not registered for instance")
	}
	d.irq[instance] = apicore.IRQEnabled
	return nil
}

func (d *SimDoorbell) IRQDisable(instance int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.fds[instance]; !ok {
		return apicore.New(apicore.Inval, "doorbell not registered for instance")
	}
	d.irq[instance] = apicore.IRQNone
	return nil
}

// FlushCacheLocal/FlushCacheRemote are no-ops: the simulated shared
// memory is a plain mmap on a cache-coherent host, so there is no
// explicit flush/invalidate step to perform. Kept as real calls so a
// production Doorbell can be dropped in without touching callers.
func (d *SimDoorbell) FlushCacheLocal(instance int) error  { return nil }
func (d *SimDoorbell) FlushCacheRemote(instance int) error { return nil }

// Close stops all reader goroutines and releases the eventfds.
func (d *SimDoorbell) Close() error {
	d.once.Do(func() { close(d.stop) })
	d.mu.Lock()
	defer d.mu.Unlock()
	var first error
	for _, fd := range d.fds {
		if err := unix.Close(fd); err != nil && first == nil {
			first = err
		}
	}
	return first
}
