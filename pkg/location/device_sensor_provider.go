package location

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/tarm/serial"
)

const (
	defaultFixTimeout  = 30 * time.Second
	defaultReopenDelay = 5 * time.Second
)

// DeviceSensorProvider reads NMEA fixes from a GPS receiver on a serial port.
type DeviceSensorProvider struct {
	port        string // Serial port to which the GPS device is connected
	baudRate    int    // Baud rate for the serial communication
	fixTimeout  time.Duration
	reopenDelay time.Duration

	open        func() (io.ReadCloser, error)
	checkAccess func() error
	now         func() time.Time
}

// NewDeviceSensorProvider creates a new instance of DeviceSensorProvider with the specified port and baud rate.
func NewDeviceSensorProvider(port string, baudRate int) *DeviceSensorProvider {
	d := &DeviceSensorProvider{
		port:        port,
		baudRate:    baudRate,
		fixTimeout:  defaultFixTimeout,
		reopenDelay: defaultReopenDelay,
		now:         time.Now,
	}
	d.open = func() (io.ReadCloser, error) {
		return serial.OpenPort(&serial.Config{Name: d.port, Baud: d.baudRate})
	}
	d.checkAccess = func() error {
		f, err := os.OpenFile(d.port, os.O_RDWR, 0)
		if err != nil {
			return err
		}
		return f.Close()
	}
	return d
}

// PermissionStatus maps access rights on the device node to a permission.
// A missing receiver is an acquisition problem, not a permission one.
func (d *DeviceSensorProvider) PermissionStatus(_ context.Context) (Permission, error) {
	if err := d.checkAccess(); err != nil && os.IsPermission(err) {
		return PermissionDenied, nil
	}
	return PermissionGranted, nil
}

// RequestPermission cannot prompt for a device node; it re-checks access.
func (d *DeviceSensorProvider) RequestPermission(ctx context.Context) (Permission, error) {
	return d.PermissionStatus(ctx)
}

// CurrentPosition reads from the receiver until it reports a fix.
// A serial receiver produces a single grade of fix so the accuracy hint is unused.
func (d *DeviceSensorProvider) CurrentPosition(ctx context.Context, _ Accuracy) (Position, error) {
	ctx, cancel := context.WithTimeout(ctx, d.fixTimeout)
	defer cancel()

	port, err := d.open()
	if err != nil {
		return Position{}, fmt.Errorf("failed to open GPS port %s: %w", d.port, err)
	}
	// closing the port unblocks the scanner
	stop := context.AfterFunc(ctx, func() { port.Close() })
	defer func() {
		if stop() {
			port.Close()
		}
	}()

	assembler := newFixAssembler(d.now)
	scanner := bufio.NewScanner(port)
	for scanner.Scan() {
		if pos, ok := assembler.feed(scanner.Text()); ok {
			return pos, nil
		}
	}

	if ctx.Err() != nil {
		return Position{}, fmt.Errorf("no GPS fix from %s: %w", d.port, ctx.Err())
	}
	if err := scanner.Err(); err != nil {
		return Position{}, err
	}
	return Position{}, errors.New("no valid GPS data found")
}

// Watch streams fixes from the receiver, reopening the port if it drops.
func (d *DeviceSensorProvider) Watch(ctx context.Context, opts WatchOptions, onPosition func(Position)) (Subscription, error) {
	port, err := d.open()
	if err != nil {
		return nil, fmt.Errorf("failed to open GPS port %s: %w", d.port, err)
	}

	sub := newSubscription(ctx)
	filter := newEmitFilter(opts)

	go func() {
		for {
			d.stream(sub, port, filter, onPosition, opts.OnError)
			if !sub.sleep(d.reopenDelay) {
				return
			}

			port, err = d.open()
			for err != nil {
				if opts.OnError != nil {
					opts.OnError(fmt.Errorf("failed to reopen GPS port %s: %w", d.port, err))
				}
				if !sub.sleep(d.reopenDelay) {
					return
				}
				port, err = d.open()
			}
		}
	}()

	return sub, nil
}

// stream delivers filtered fixes from one open port until it fails or the
// subscription is cancelled. The port is always closed on return.
func (d *DeviceSensorProvider) stream(sub *subscription, port io.ReadCloser, filter *emitFilter, onPosition func(Position), onError func(error)) {
	stop := context.AfterFunc(sub.ctx, func() { port.Close() })
	defer func() {
		if stop() {
			port.Close()
		}
	}()

	assembler := newFixAssembler(d.now)
	scanner := bufio.NewScanner(port)
	for scanner.Scan() {
		pos, ok := assembler.feed(scanner.Text())
		if !ok || !filter.accept(pos, d.now()) {
			continue
		}
		if !sub.deliver(onPosition, pos) {
			return
		}
	}

	if err := scanner.Err(); err != nil && sub.ctx.Err() == nil && onError != nil {
		onError(fmt.Errorf("GPS stream on %s failed: %w", d.port, err))
	}
}

// Close releases provider resources. Ports are owned per call so there is nothing to release.
func (d *DeviceSensorProvider) Close() error {
	return nil
}
