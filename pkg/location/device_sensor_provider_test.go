package location

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSensor(open func() (io.ReadCloser, error)) *DeviceSensorProvider {
	d := NewDeviceSensorProvider("/dev/ttyTEST", 9600)
	d.open = open
	d.now = fixedNow
	d.fixTimeout = time.Second
	d.reopenDelay = 10 * time.Millisecond
	return d
}

func TestDeviceSensorProvider_CurrentPosition(t *testing.T) {
	d := newTestSensor(func() (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader(ggaNoFix + "\r\n" + ggaFix + "\r\n")), nil
	})

	pos, err := d.CurrentPosition(context.Background(), AccuracyHigh)
	require.NoError(t, err)
	assert.InDelta(t, 53.361337, pos.Latitude, 1e-5)
}

func TestDeviceSensorProvider_CurrentPositionNoFix(t *testing.T) {
	d := newTestSensor(func() (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader(ggaNoFix + "\r\n")), nil
	})

	_, err := d.CurrentPosition(context.Background(), AccuracyHigh)
	assert.EqualError(t, err, "no valid GPS data found")
}

func TestDeviceSensorProvider_CurrentPositionOpenError(t *testing.T) {
	d := newTestSensor(func() (io.ReadCloser, error) {
		return nil, errors.New("no such device")
	})

	_, err := d.CurrentPosition(context.Background(), AccuracyHigh)
	assert.ErrorContains(t, err, "failed to open GPS port /dev/ttyTEST")
}

func TestDeviceSensorProvider_PermissionStatus(t *testing.T) {
	d := newTestSensor(nil)

	d.checkAccess = func() error { return fs.ErrPermission }
	perm, err := d.PermissionStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, PermissionDenied, perm)

	d.checkAccess = func() error { return fs.ErrNotExist }
	perm, err = d.RequestPermission(context.Background())
	require.NoError(t, err)
	assert.Equal(t, PermissionGranted, perm)
}

func TestDeviceSensorProvider_WatchDeliversUntilCancelled(t *testing.T) {
	reader, writer := io.Pipe()
	d := newTestSensor(func() (io.ReadCloser, error) { return reader, nil })

	var mu sync.Mutex
	var got []Position
	received := make(chan struct{}, 10)

	sub, err := d.Watch(context.Background(), WatchOptions{MinInterval: time.Hour, MinDistance: 100}, func(p Position) {
		mu.Lock()
		got = append(got, p)
		mu.Unlock()
		received <- struct{}{}
	})
	require.NoError(t, err)

	// first fix, a duplicate inside the interval, then a fix ~185m north
	go func() {
		io.WriteString(writer, ggaFix+"\r\n")
		io.WriteString(writer, ggaFix+"\r\n")
		io.WriteString(writer, ggaMoved+"\r\n")
	}()

	for i := 0; i < 2; i++ {
		select {
		case <-received:
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for position")
		}
	}

	sub.Cancel()
	sub.Cancel()

	// a far-away fix after cancel must not be delivered
	go io.WriteString(writer, ggaFar+"\r\n")
	select {
	case <-received:
		t.Fatal("position delivered after cancel")
	case <-time.After(50 * time.Millisecond):
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 2)
	assert.Greater(t, got[1].Latitude, got[0].Latitude)
}
