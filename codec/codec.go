package codec

import (
	"net"
)

type NewCodecFunc func(conn net.Conn) Codec

// Codec frames packets on a connection. Encode may be called concurrently
// with Decode but not with itself.
type Codec interface {
	Encode(pack []byte) error
	// Decode returns the next packet body. free releases the body buffer and
	// must be called once the caller is done with pack.
	Decode() (pack []byte, free func(), err error)
}
