package location

import (
	"context"
	"errors"
)

// ErrPermissionDenied is returned when the location source may not be used.
var ErrPermissionDenied = errors.New("location permission denied")

// Provider is a source of position fixes, one-shot or continuous.
type Provider interface {
	// PermissionStatus reports the current permission without prompting.
	PermissionStatus(ctx context.Context) (Permission, error)
	// RequestPermission asks for foreground access when it is not yet granted.
	RequestPermission(ctx context.Context) (Permission, error)
	CurrentPosition(ctx context.Context, accuracy Accuracy) (Position, error)
	// Watch reports positions to onPosition until the subscription is cancelled.
	Watch(ctx context.Context, opts WatchOptions, onPosition func(Position)) (Subscription, error)
	Close() error
}

// Subscription is a live continuous watch.
type Subscription interface {
	// Cancel stops delivery. It is safe to call more than once and does not
	// wait for a callback that is already running.
	Cancel()
}
