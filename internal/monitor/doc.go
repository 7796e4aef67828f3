// Package monitor runs a long job on the virtual display and keeps an eye
// on it: how far through its time budget it is, what its newest log file
// says, and whether it has to be stopped.
//
// A job is stopped when its duration elapses, when an ERROR line shows up
// in its log (unless disabled), or on request.
package monitor
