package adapter

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/codeofaxel/kiln/pkg/types"
)

// Discover probes the local network for printers reachable over each
// supported backend's well-known port, returning whatever it finds within
// timeout. It never registers anything — callers decide whether to act on
// a hit via the registry.
func Discover(ctx context.Context, timeout time.Duration) ([]types.DiscoveredPrinter, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var (
		mu      sync.Mutex
		results []types.DiscoveredPrinter
		wg      sync.WaitGroup
	)

	add := func(d types.DiscoveredPrinter) {
		mu.Lock()
		results = append(results, d)
		mu.Unlock()
	}

	candidates := localSubnetHosts()

	probes := []struct {
		port     string
		adapterT types.AdapterType
	}{
		{"80", types.AdapterOctoPrint},   // OctoPrint / PrusaLink typically serve on :80
		{"7125", types.AdapterMoonraker}, // Moonraker's default HTTP/websocket port
		{"8883", types.AdapterBambu},     // Bambu's LAN-mode MQTT broker
	}

	for _, host := range candidates {
		for _, p := range probes {
			wg.Add(1)
			go func(host string, port string, adapterT types.AdapterType) {
				defer wg.Done()
				addr := net.JoinHostPort(host, port)
				d := net.Dialer{Timeout: 500 * time.Millisecond}
				conn, err := d.DialContext(ctx, "tcp", addr)
				if err != nil {
					return
				}
				conn.Close()
				add(types.DiscoveredPrinter{Type: adapterT, Address: host, Name: fmt.Sprintf("%s@%s", adapterT, host)})
			}(host, p.port, p.adapterT)
		}
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		// Best-effort: return whatever was found before the deadline.
	}

	mu.Lock()
	defer mu.Unlock()
	return results, nil
}

// localSubnetHosts enumerates candidate host addresses on the local
// machine's attached IPv4 subnets. Scanning is bounded to /24s to keep the
// probe count sane on typical home/shop networks.
func localSubnetHosts() []string {
	var hosts []string
	ifaces, err := net.Interfaces()
	if err != nil {
		return hosts
	}
	for _, iface := range ifaces {
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			ip4 := ipNet.IP.To4()
			if ip4 == nil || ip4.IsLoopback() {
				continue
			}
			ones, bits := ipNet.Mask.Size()
			if bits != 32 || ones < 24 {
				continue
			}
			base := ip4.Mask(ipNet.Mask)
			for i := 1; i < 255; i++ {
				candidate := make(net.IP, 4)
				copy(candidate, base)
				candidate[3] = byte(i)
				if candidate.Equal(ip4) {
					continue
				}
				hosts = append(hosts, candidate.String())
			}
		}
	}
	return hosts
}
