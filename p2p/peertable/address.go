package peertable

import (
	"fmt"
	"net"
)

// Address is the canonicalized, comparable network address key described in
// spec.md §3: two addresses are equal iff host and port are bitwise equal
// after canonicalization.
type Address struct {
	Host string
	Port uint16
}

// NewAddress canonicalizes host (parsing it as an IP when possible, so
// "127.0.0.1" and a rewritten form of the same address collapse to one
// key) and pairs it with port.
func NewAddress(host string, port uint16) Address {
	if ip := net.ParseIP(host); ip != nil {
		host = ip.String()
	}
	return Address{Host: host, Port: port}
}

func (a Address) String() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}
