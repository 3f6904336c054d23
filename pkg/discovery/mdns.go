// Package discovery advertises TFTP servers on the local network over mDNS.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/brutella/dnssd"
)

const (
	ServiceType = "_tftp._udp"
	Domain      = "local"
)

type Service struct {
	Text map[string]string
	Name string
	Host net.IP
	Port int
}

func (s Service) Address() string {
	return net.JoinHostPort(s.Host.String(), fmt.Sprint(s.Port))
}

// Announce advertises svc until ctx is cancelled.
func Announce(ctx context.Context, svc Service) error {
	cfg := dnssd.Config{
		Name:   svc.Name,
		Type:   ServiceType,
		Domain: Domain,
		// the responder answers on every interface when no IP is given
		IPs:  nil,
		Text: svc.Text,
		Port: svc.Port,
	}

	service, err := dnssd.NewService(cfg)
	if err != nil {
		return fmt.Errorf("error while creating mdns service: %w", err)
	}

	rp, err := dnssd.NewResponder()
	if err != nil {
		return fmt.Errorf("error while creating mdns responder: %w", err)
	}

	if _, err = rp.Add(service); err != nil {
		return fmt.Errorf("error while adding mdns service: %w", err)
	}

	if err = rp.Respond(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("error while responding to mdns queries: %w", err)
	}

	return nil
}

// Browse calls found for every TFTP server seen until ctx is done.
func Browse(ctx context.Context, found func(Service)) error {
	add := func(e dnssd.BrowseEntry) {
		svc := Service{Name: e.Name, Port: e.Port, Text: e.Text}

		if len(e.IPs) > 0 {
			svc.Host = e.IPs[0]
		}

		found(svc)
	}

	err := dnssd.LookupType(ctx, ServiceType+"."+Domain+".", add, func(dnssd.BrowseEntry) {})
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("error while browsing mdns: %w", err)
	}

	return nil
}
