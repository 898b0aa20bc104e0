package provisioning

import (
	"fmt"
	"net"
	"sync"

	"github.com/enbility/zeroconf/v3"
)

// advertiser publishes the provisioning endpoint over DNS-SD.
type advertiser interface {
	Advertise(instance, service, domain string, port int, txt []string) error
	Shutdown()
}

// mdnsAdvertiser is the zeroconf-backed advertiser.
type mdnsAdvertiser struct {
	iface string

	mu     sync.Mutex
	server *zeroconf.Server
}

func newMDNSAdvertiser(iface string) advertiser {
	return &mdnsAdvertiser{iface: iface}
}

// interfaces returns the interface to announce on, or nil for all.
func (a *mdnsAdvertiser) interfaces() []net.Interface {
	if a.iface == "" {
		return nil
	}
	iface, err := net.InterfaceByName(a.iface)
	if err != nil {
		return nil
	}
	return []net.Interface{*iface}
}

func (a *mdnsAdvertiser) Advertise(instance, service, domain string, port int, txt []string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}

	server, err := zeroconf.Register(instance, service, domain, port, txt, a.interfaces())
	if err != nil {
		return fmt.Errorf("registering %s: %w", service, err)
	}
	a.server = server
	return nil
}

func (a *mdnsAdvertiser) Shutdown() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
}
