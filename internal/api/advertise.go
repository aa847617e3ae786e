package api

import (
	"fmt"
	"net"
	"os"

	"github.com/dmdmdm-nz/zeroconf"

	"github.com/dmdmdm-nz/netusage/pkg/version"
)

// ServiceType is the DNS-SD type the API registers under.
const ServiceType = "_netusage._tcp"

func advertise(addr net.Addr) (*zeroconf.Server, error) {
	tcp, ok := addr.(*net.TCPAddr)
	if !ok {
		return nil, fmt.Errorf("cannot advertise non-TCP address %s", addr)
	}

	host, err := os.Hostname()
	if err != nil {
		host = "localhost"
	}

	return zeroconf.Register(
		"netusage on "+host,
		ServiceType,
		"local.",
		tcp.Port,
		advertiseTXT(),
		nil)
}

func advertiseTXT() []string {
	return []string{
		"version=" + version.Version,
		"usage=/usage",
		"stream=/ws/usage",
	}
}
