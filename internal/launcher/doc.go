// Package launcher starts a virtual display, publishes it through DISPLAY,
// waits for it to become usable and then runs a headless front-end
// against it.
//
// Run walks a fixed sequence of phases:
//
//	display-starting -> delay-wait -> frontend-running
//
// In exec mode frontend-running is terminal: the launcher's process image
// is replaced by the front-end and the display server is left behind,
// recorded in the session file. In supervise mode the launcher stays
// resident, forwards SIGINT, SIGTERM and SIGHUP to the front-end, and
// moves to exited (or failed) when the front-end is gone, stopping the
// display server it started.
package launcher
