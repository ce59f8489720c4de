package server

import (
	"net"
	"strconv"

	"github.com/go-pantheon/fabrica-util/errors"
)

// NoPort is returned by FindAvailablePort when every port of the range is
// taken.
const NoPort = -1

var ErrInvalidPortRange = errors.New("invalid port range")

// FindAvailablePort returns the lowest port in [from, to] that can be bound
// on all interfaces.
func FindAvailablePort(from, to int) (int, error) {
	return FindAvailablePortOn("", from, to)
}

// FindAvailablePortOn scans [from, to] in increasing order, binding and
// releasing each port on host.
func FindAvailablePortOn(host string, from, to int) (int, error) {
	if from > to || from < 1 || to > 65535 {
		return NoPort, errors.Wrapf(ErrInvalidPortRange, "from=%d to=%d", from, to)
	}

	for port := from; port <= to; port++ {
		if portFree(host, port) {
			return port, nil
		}
	}

	return NoPort, nil
}

func portFree(host string, port int) bool {
	l, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return false
	}

	_ = l.Close()

	return true
}
