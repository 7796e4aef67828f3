// Package daemon keeps a virtual display running on its own.
//
// It provides the display lifecycle shared by xvrund and the
// "xvrun display" commands: allocate a display number, start the server,
// wait for it to accept connections and record it in the session file.
// xvrund then watches the server's health until it is told to stop or the
// server dies.
package daemon
