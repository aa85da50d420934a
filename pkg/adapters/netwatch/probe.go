package netwatch

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/aretw0/lifecycle"

	"github.com/aretw0/notesync/pkg/core"
)

const (
	DefaultProbeInterval = 5 * time.Second
	DefaultProbeTimeout  = 2 * time.Second
)

// DialFunc opens a connection used only to test reachability.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// ProbeConfig configures a Probe.
type ProbeConfig struct {
	Address  string        // host:port of the backend
	Interval time.Duration // between probes
	Timeout  time.Duration // per probe
	Dial     DialFunc      // defaults to net.Dialer.DialContext
	Logger   *slog.Logger
}

// Probe derives reachability from periodic TCP dials to the backend.
type Probe struct {
	config ProbeConfig
}

// NewProbe creates a Probe.
func NewProbe(config ProbeConfig) *Probe {
	if config.Interval <= 0 {
		config.Interval = DefaultProbeInterval
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultProbeTimeout
	}
	if config.Dial == nil {
		d := &net.Dialer{}
		config.Dial = d.DialContext
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	return &Probe{config: config}
}

// Check performs a single probe.
func (p *Probe) Check(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()
	conn, err := p.config.Dial(ctx, "tcp", p.config.Address)
	if err != nil {
		p.config.Logger.Debug("probe failed", "address", p.config.Address, "error", err)
		return false
	}
	_ = conn.Close()
	return true
}

// Watch implements core.Connectivity. The first value is the result of an
// immediate probe; afterwards only transitions are emitted.
func (p *Probe) Watch(ctx context.Context) (<-chan bool, error) {
	out := make(chan bool, 1)

	lifecycle.Go(ctx, func(ctx context.Context) error {
		defer close(out)

		last := p.Check(ctx)
		select {
		case out <- last:
		case <-ctx.Done():
			return nil
		}

		ticker := time.NewTicker(p.config.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				up := p.Check(ctx)
				if up == last {
					continue
				}
				last = up
				p.config.Logger.Info("reachability changed", "address", p.config.Address, "connected", up)
				select {
				case out <- up:
				case <-ctx.Done():
					return nil
				}
			}
		}
	})
	return out, nil
}

var _ core.Connectivity = (*Probe)(nil)
