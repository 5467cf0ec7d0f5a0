package udp

import (
	"encoding/json"
	"fmt"
	"net"
	"strconv"
)

type m map[string]any

// Addr is a datagram endpoint. Transports are allowed to reuse the Addr they hand out, anything that keeps one
// around must hold a Copy.
type Addr struct {
	IP   net.IP
	Port uint16
}

func NewAddr(ip net.IP, port uint16) *Addr {
	addr := Addr{IP: make([]byte, net.IPv6len), Port: port}
	copy(addr.IP, ip.To16())
	return &addr
}

func NewAddrFromString(s string) (*Addr, error) {
	ip, port, err := ParseIPAndPort(s)
	if err != nil {
		return nil, err
	}
	return NewAddr(ip, port), nil
}

// NewAddrFromUDPAddr converts a net.UDPAddr, the IP is copied
func NewAddrFromUDPAddr(ua *net.UDPAddr) *Addr {
	return NewAddr(ua.IP, uint16(ua.Port))
}

func (ua *Addr) Equals(t *Addr) bool {
	if t == nil || ua == nil {
		return t == nil && ua == nil
	}
	return ua.IP.Equal(t.IP) && ua.Port == t.Port
}

func (ua *Addr) String() string {
	if ua == nil {
		return "<nil>"
	}

	return net.JoinHostPort(ua.IP.String(), strconv.Itoa(int(ua.Port)))
}

func (ua *Addr) MarshalJSON() ([]byte, error) {
	if ua == nil {
		return []byte("null"), nil
	}

	return json.Marshal(m{"ip": ua.IP, "port": ua.Port})
}

// Copy returns an Addr that shares no memory with ua
func (ua *Addr) Copy() *Addr {
	if ua == nil {
		return nil
	}

	nu := Addr{
		Port: ua.Port,
		IP:   make(net.IP, len(ua.IP)),
	}

	copy(nu.IP, ua.IP)
	return &nu
}

// UDPAddr returns a net.UDPAddr pointing at the same endpoint
func (ua *Addr) UDPAddr() *net.UDPAddr {
	if ua == nil {
		return nil
	}
	return &net.UDPAddr{IP: ua.IP, Port: int(ua.Port)}
}

// setFrom overwrites ua with the endpoint in n, reusing the IP backing array when it is large enough
func (ua *Addr) setFrom(n *net.UDPAddr) {
	ua.IP = append(ua.IP[:0], n.IP.To16()...)
	ua.Port = uint16(n.Port)
}

func ParseIPAndPort(s string) (net.IP, uint16, error) {
	rIp, sPort, err := net.SplitHostPort(s)
	if err != nil {
		return nil, 0, err
	}

	addr, err := net.ResolveIPAddr("ip", rIp)
	if err != nil {
		return nil, 0, err
	}

	iPort, err := strconv.ParseUint(sPort, 10, 16)
	if err != nil {
		return nil, 0, fmt.Errorf("invalid port %q: %w", sPort, err)
	}

	return addr.IP, uint16(iPort), nil
}
