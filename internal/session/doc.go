// Package session records the display and front-end xvrun is currently
// managing.
//
// The record lives in the runtime directory (tmpfs on most systems) as a
// single CBOR document. It is written before the launcher hands its process
// image to the front-end, so a later "xvrun display stop" can still find
// and stop a display server whose parent no longer exists. A reboot kills
// every process the record could describe, so it is deliberately not kept
// on persistent storage.
package session
