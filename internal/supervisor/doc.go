// Package supervisor keeps a PC/SC backend module running.
//
// Each run binds a readiness tracker, the PC/SC requester and the libusb
// receiver to a fresh module. A run that faults is relaunched after a
// short delay unless a resilience.Guard reports a crash loop. Sessions ask
// for the current run through Backend and are never migrated: when their
// run ends they are disposed and the client reconnects.
package supervisor
