package util

import (
	"net"
	"strconv"

	"github.com/go-pantheon/fabrica-util/errors"
)

var ErrInvalidHostPort = errors.New("invalid host:port")

// Extract returns an address peers can dial. An unspecified host is replaced
// by the first private interface address, and the port of lis, when given,
// replaces the configured one.
func Extract(hostPort string, lis ...net.Listener) (string, error) {
	host, port, err := net.SplitHostPort(hostPort)
	if err != nil {
		return "", errors.Wrapf(ErrInvalidHostPort, "addr=%s: %v", hostPort, err)
	}

	if len(lis) > 0 && lis[0] != nil {
		if tcp, ok := lis[0].Addr().(*net.TCPAddr); ok {
			port = strconv.Itoa(tcp.Port)
		} else if _, p, err := net.SplitHostPort(lis[0].Addr().String()); err == nil {
			port = p
		}
	}

	if ip := net.ParseIP(host); host != "" && (ip == nil || !ip.IsUnspecified()) {
		return net.JoinHostPort(host, port), nil
	}

	if ip := InternalIP(); ip != "" {
		return net.JoinHostPort(ip, port), nil
	}

	return net.JoinHostPort("127.0.0.1", port), nil
}

// InternalIP returns the first private IPv4 address of an interface that is
// up, or "" when there is none.
func InternalIP() string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return ""
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			ipnet, ok := addr.(*net.IPNet)
			if !ok || ipnet.IP.To4() == nil {
				continue
			}

			if isPrivateIP(ipnet.IP.String()) {
				return ipnet.IP.String()
			}
		}
	}

	return ""
}

func isPrivateIP(addr string) bool {
	ip := net.ParseIP(addr)
	if ip == nil {
		return false
	}

	return ip.IsPrivate()
}
