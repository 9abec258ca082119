// Package protocol implements the filehub wire format: a one-request,
// one-response exchange over a stream socket that mixes newline-delimited
// text fields with a fixed-width binary size and a raw payload.
//
//	GET <name>\n
//	GETC <name>\n
//	PUT <name>\n<decimal size>\n<payload>
//	PUTC <name>\n<32-hex digest>\n<decimal size>\n<payload>
//
// A successful GET/GETC is answered with
//
//	OK <name>\n<8-byte native-endian size>[<32-hex digest>]<payload>
//
// PUT/PUTC are never answered, and failures are signaled only by the
// connection closing. The package is pure: it reads from and writes to the
// readers and writers it is handed and never opens sockets or files.
package protocol
