// ABOUTME: mDNS discovery for jam session servers on the local network
// ABOUTME: Servers advertise one service type; clients resolve the first answer
package discovery

import (
	"fmt"
	"log"
	"net"
	"time"

	"github.com/hashicorp/mdns"
)

const (
	serviceType = "_jams-server._tcp"
	mdnsDomain  = "local"
)

// ServerInfo describes one advertised server
type ServerInfo struct {
	Name string
	Host string
	Port int
}

// Advertiser announces a server until stopped
type Advertiser struct {
	server *mdns.Server
}

// Advertise announces a named server on the local network
func Advertise(name string, port int) (*Advertiser, error) {
	ips, err := getLocalIPs()
	if err != nil {
		return nil, fmt.Errorf("failed to get local IPs: %w", err)
	}

	service, err := mdns.NewMDNSService(
		name,
		serviceType,
		"",
		"",
		port,
		ips,
		[]string{"path=/jams"},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create service: %w", err)
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return nil, fmt.Errorf("failed to create mdns server: %w", err)
	}

	log.Printf("Advertising mDNS service: %s on port %d", name, port)
	return &Advertiser{server: server}, nil
}

// Stop withdraws the advertisement
func (a *Advertiser) Stop() {
	a.server.Shutdown()
}

// Discover queries for jam session servers and returns the first usable
// answer, or an error once the timeout passes.
func Discover(timeout time.Duration) (ServerInfo, error) {
	entries := make(chan *mdns.ServiceEntry, 10)
	found := make(chan ServerInfo, 1)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for entry := range entries {
			info, ok := infoFromEntry(entry)
			if !ok {
				continue
			}
			select {
			case found <- info:
			default:
			}
		}
	}()

	err := mdns.Query(&mdns.QueryParam{
		Service: serviceType,
		Domain:  mdnsDomain,
		Timeout: timeout,
		Entries: entries,
	})
	close(entries)
	<-done

	if err != nil {
		return ServerInfo{}, fmt.Errorf("mdns query failed: %w", err)
	}

	select {
	case info := <-found:
		log.Printf("Discovered server: %s at %s:%d", info.Name, info.Host, info.Port)
		return info, nil
	default:
		return ServerInfo{}, fmt.Errorf("no server found within %s", timeout)
	}
}

// infoFromEntry extracts a dialable address from one query answer.
// Answers without an address are unusable and skipped.
func infoFromEntry(entry *mdns.ServiceEntry) (ServerInfo, bool) {
	var host string
	switch {
	case entry.AddrV4 != nil:
		host = entry.AddrV4.String()
	case entry.AddrV6 != nil:
		host = entry.AddrV6.String()
	default:
		return ServerInfo{}, false
	}
	return ServerInfo{Name: entry.Name, Host: host, Port: entry.Port}, true
}

// getLocalIPs returns the non-loopback IPv4 addresses of up interfaces
func getLocalIPs() ([]net.IP, error) {
	var ips []net.IP

	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
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
			if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
				if ipnet.IP.To4() != nil {
					ips = append(ips, ipnet.IP)
				}
			}
		}
	}

	return ips, nil
}
