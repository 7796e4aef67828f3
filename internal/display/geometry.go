package display

import (
	"fmt"
	"strconv"
	"strings"
)

// DefaultGeometry is the screen used when none is configured.
var DefaultGeometry = Geometry{Width: 1920, Height: 1080, Depth: 24}

// maxSide is the largest framebuffer side Xvfb accepts.
const maxSide = 32767

// validDepths lists the colour depths accepted for a virtual screen.
var validDepths = map[int]bool{8: true, 16: true, 24: true, 30: true}

// Geometry is a virtual screen's resolution and colour depth.
type Geometry struct {
	Width  int
	Height int
	Depth  int
}

// ParseGeometry parses "WxH" or "WxHxD". A missing depth defaults to 24.
func ParseGeometry(s string) (Geometry, error) {
	parts := strings.Split(strings.ToLower(strings.TrimSpace(s)), "x")
	if len(parts) != 2 && len(parts) != 3 {
		return Geometry{}, fmt.Errorf("%w: %q (want WxHxD)", ErrInvalidGeometry, s)
	}

	values := make([]int, len(parts))
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil {
			return Geometry{}, fmt.Errorf("%w: %q", ErrInvalidGeometry, s)
		}
		values[i] = v
	}

	g := Geometry{Width: values[0], Height: values[1], Depth: DefaultGeometry.Depth}
	if len(values) == 3 {
		g.Depth = values[2]
	}
	if err := g.Validate(); err != nil {
		return Geometry{}, err
	}
	return g, nil
}

// String returns the "WxHxD" form passed to the server's -screen flag.
func (g Geometry) String() string {
	return fmt.Sprintf("%dx%dx%d", g.Width, g.Height, g.Depth)
}

// Validate checks dimensions and depth.
func (g Geometry) Validate() error {
	if g.Width < 1 || g.Width > maxSide || g.Height < 1 || g.Height > maxSide {
		return fmt.Errorf("%w: %dx%d out of range 1-%d", ErrInvalidGeometry, g.Width, g.Height, maxSide)
	}
	if !validDepths[g.Depth] {
		return fmt.Errorf("%w: unsupported depth %d", ErrInvalidGeometry, g.Depth)
	}
	return nil
}
