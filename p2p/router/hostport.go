package router

import "net"

func splitHost(addr string) (string, string, error) {
	return net.SplitHostPort(addr)
}
