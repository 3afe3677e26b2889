package camera

import (
	"context"
	"fmt"
	"image"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// StartPolicy says whether a device may be started as soon as the capture
// surface opens or only in response to a discrete user action.
type StartPolicy int

const (
	StartOnMount StartPolicy = iota
	StartOnUserAction
)

func (p StartPolicy) String() string {
	if p == StartOnUserAction {
		return "on-user-action"
	}
	return "on-mount"
}

// Device is a camera that can be opened into a Stream.
type Device interface {
	Name() string
	StartPolicy() StartPolicy
	Open(ctx context.Context, cfg Config) (Stream, error)
}

// Stream is a live camera stream. Grab returns the frame presented at call
// time. Close must be safe to call while Grab is in flight.
type Stream interface {
	Grab(ctx context.Context) (image.Image, error)
	Close() error
}

// Factory builds a Device from the part of a device spec after "scheme:".
type Factory func(arg string) (Device, error)

var (
	driversMu sync.RWMutex
	drivers   = map[string]Factory{}
)

// RegisterDriver makes a device scheme available to ParseDevice.
func RegisterDriver(scheme string, f Factory) {
	driversMu.Lock()
	defer driversMu.Unlock()
	drivers[scheme] = f
}

// Drivers lists the registered schemes.
func Drivers() []string {
	driversMu.RLock()
	defer driversMu.RUnlock()
	names := make([]string, 0, len(drivers))
	for name := range drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func init() {
	RegisterDriver("http", func(arg string) (Device, error) {
		return NewHTTPDevice("http:"+arg, nil), nil
	})
	RegisterDriver("https", func(arg string) (Device, error) {
		return NewHTTPDevice("https:"+arg, nil), nil
	})
	RegisterDriver("screen", func(arg string) (Device, error) {
		if arg == "" {
			return &ScreenDevice{}, nil
		}
		rect, err := parseRect(arg)
		if err != nil {
			return nil, err
		}
		return &ScreenDevice{Rect: &rect}, nil
	})
}

// ParseDevice resolves a device spec such as "screen", "screen:0,0,800,600",
// "http://phone.local:8080/shot.jpg" or "gocv:0".
func ParseDevice(spec string) (Device, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, &CameraError{Kind: NotFound, Device: spec, Cause: fmt.Errorf("no camera configured")}
	}
	scheme, arg, _ := strings.Cut(spec, ":")

	driversMu.RLock()
	f, ok := drivers[strings.ToLower(scheme)]
	driversMu.RUnlock()
	if !ok {
		return nil, &CameraError{Kind: NotFound, Device: spec, Cause: fmt.Errorf("unknown camera driver %q (available: %s)", scheme, strings.Join(Drivers(), ", "))}
	}
	d, err := f(arg)
	if err != nil {
		return nil, &CameraError{Kind: NotFound, Device: spec, Cause: err}
	}
	return d, nil
}

func parseRect(arg string) (image.Rectangle, error) {
	parts := strings.Split(arg, ",")
	if len(parts) != 4 {
		return image.Rectangle{}, fmt.Errorf("expected x,y,w,h, got %q", arg)
	}
	var n [4]int
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return image.Rectangle{}, fmt.Errorf("invalid rectangle value %q: %w", p, err)
		}
		n[i] = v
	}
	if n[2] <= 0 || n[3] <= 0 {
		return image.Rectangle{}, fmt.Errorf("rectangle must have positive size, got %dx%d", n[2], n[3])
	}
	return image.Rect(n[0], n[1], n[0]+n[2], n[1]+n[3]), nil
}
