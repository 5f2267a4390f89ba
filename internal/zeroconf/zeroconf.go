// Package zeroconf advertises the tuning bench daemon over mDNS/DNS-SD so
// lab hosts can find boards without knowing their addresses.
package zeroconf

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/grandcat/zeroconf"
	"periph.io/x/conn/v3/physic"

	"github.com/micro-nova/mspi-tuning/internal/profile"
)

// ServiceType is the DNS-SD service the daemon registers.
const ServiceType = "_mspitune._tcp"

// Service manages mDNS service registration.
type Service struct {
	name string // instance name, e.g. "mspitune-bench1"
	port int

	mu     sync.Mutex
	txt    []string
	server *zeroconf.Server
}

// New creates a new zeroconf Service that will advertise on the given port
// with the given TXT records.
func New(name string, port int, txt []string) *Service {
	return &Service{
		name: name,
		port: port,
		txt:  txt,
	}
}

// BoardTXT describes board and backend as TXT records.
func BoardTXT(b profile.Board, backend string) []string {
	txt := []string{
		"board=" + b.Name,
		"backend=" + backend,
		fmt.Sprintf("core_mhz=%d", b.CoreClock/physic.MegaHertz),
	}
	for _, d := range []profile.Device{profile.Flash, profile.PSRAM} {
		cfg := b.Device(d)
		if !cfg.Present {
			continue
		}
		txt = append(txt, fmt.Sprintf("%s=%s-%dline-%s", d, cfg.Freq, cfg.Lines, cfg.Rate))
	}
	return txt
}

func (s *Service) register() error {
	server, err := zeroconf.Register(
		s.name,      // instance name
		ServiceType, // service type
		"local.",    // domain
		s.port,      // port
		s.txt,       // TXT records
		nil,         // ifaces: nil means all interfaces
	)
	if err != nil {
		return fmt.Errorf("zeroconf register: %w", err)
	}
	s.server = server
	slog.Info("zeroconf: registered mDNS service",
		"name", s.name,
		"port", s.port,
		"txt", s.txt,
	)
	return nil
}

// Start registers the mDNS service and blocks until ctx is cancelled, at which
// point it shuts down the server cleanly.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	err := s.register()
	s.mu.Unlock()
	if err != nil {
		return err
	}

	<-ctx.Done()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server != nil {
		s.server.Shutdown()
		s.server = nil
	}
	slog.Info("zeroconf: mDNS service unregistered")
	return nil
}

// UpdateTXT replaces the TXT records. grandcat/zeroconf has no live TXT
// update, so the registration is torn down and made again.
func (s *Service) UpdateTXT(records []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server == nil {
		return fmt.Errorf("zeroconf: server not started")
	}
	s.server.Shutdown()
	s.server = nil
	s.txt = records
	return s.register()
}
