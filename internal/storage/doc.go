// Package storage is the disk-backed file store behind the protocol's
// readFile/writeFile operations. Names are resolved under a single root
// directory and can never escape it. Writes go through a temp file and a
// rename, so a failed upload leaves the previous content intact.
package storage
