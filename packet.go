package threadsock

import "github.com/slackhq/threadsock/udp"

// Block is a fixed size receive buffer. A Block is owned by the BlockPool while free and by exactly one Packet while
// in flight.
type Block []byte

// Packet is a datagram handed from the receiver to the consumer. EndPoint is always a copy the Packet owns, never the
// transport's reused Addr.
type Packet struct {
	Block    Block
	Size     int
	EndPoint *udp.Addr
}
