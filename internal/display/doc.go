// Package display manages virtual X11 displays for xvrun.
// It parses and formats display identifiers and screen geometries,
// decides which display number to use when one is already taken,
// starts the virtual framebuffer server and probes it for readiness.
package display
