// ABOUTME: One-shot mDNS browse for advertised services
// ABOUTME: Used to find access points on the local network
package discovery

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/hashicorp/mdns"
)

// ServiceInfo describes a discovered service.
type ServiceInfo struct {
	Name string
	Host string
	Port int
	TXT  map[string]string
}

// Addr returns host:port.
func (s ServiceInfo) Addr() string {
	return net.JoinHostPort(s.Host, fmt.Sprint(s.Port))
}

// Browse queries for service until timeout or ctx ends and returns what
// answered, de-duplicated by name.
func Browse(ctx context.Context, service string, timeout time.Duration) ([]ServiceInfo, error) {
	if service == "" {
		service = AccessPointService
	}
	entries := make(chan *mdns.ServiceEntry, 16)
	done := make(chan []ServiceInfo)

	go func() {
		seen := make(map[string]bool)
		var found []ServiceInfo
		for entry := range entries {
			if seen[entry.Name] || entry.AddrV4 == nil {
				continue
			}
			seen[entry.Name] = true
			found = append(found, entryInfo(entry))
		}
		done <- found
	}()

	params := mdns.DefaultParams(service)
	params.Entries = entries
	params.Timeout = timeout
	params.DisableIPv6 = true
	err := mdns.QueryContext(ctx, params)
	close(entries)
	found := <-done
	if err != nil && ctx.Err() == nil {
		return found, fmt.Errorf("mdns query %s: %w", service, err)
	}
	return found, nil
}

func entryInfo(e *mdns.ServiceEntry) ServiceInfo {
	info := ServiceInfo{
		Name: e.Name,
		Host: e.AddrV4.String(),
		Port: e.Port,
		TXT:  make(map[string]string, len(e.InfoFields)),
	}
	for _, field := range e.InfoFields {
		k, v, _ := strings.Cut(field, "=")
		info.TXT[k] = v
	}
	return info
}
