package camera

import "errors"

// Facing selects which physical camera to prefer.
type Facing string

const (
	FacingEnvironment Facing = "environment"
	FacingUser        Facing = "user"
)

// Config carries acquisition preferences. Width and Height are a resolution
// hint; devices may deliver a different size.
type Config struct {
	Facing Facing
	Width  int
	Height int
}

// DefaultConfig prefers the rear camera at 1080p.
func DefaultConfig() Config {
	return Config{
		Facing: FacingEnvironment,
		Width:  1920,
		Height: 1080,
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	switch c.Facing {
	case FacingEnvironment, FacingUser:
	default:
		return errors.New("camera: unknown facing: " + string(c.Facing))
	}
	if c.Width < 0 || c.Height < 0 {
		return errors.New("camera: resolution hint must not be negative")
	}
	return nil
}
