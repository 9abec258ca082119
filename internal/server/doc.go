// Package server runs the file protocol over TCP. A Server accepts
// connections, reads exactly one GET/GETC/PUT/PUTC request from each,
// consults the shared cache and the file store, writes at most one response
// and closes the connection. Failures are never reported on the wire: they
// are logged and counted, and the connection is dropped.
//
// The package also builds the optional diagnostics HTTP app; its routes live
// in the routes subpackage so they can depend on a running Server.
package server
