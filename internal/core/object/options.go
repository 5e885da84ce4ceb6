package object

import (
	"github.com/zeusync/authority/internal/core/network"
	"github.com/zeusync/authority/internal/core/observability/metrics"
	"github.com/zeusync/authority/internal/core/permission"
	"github.com/zeusync/authority/internal/core/replica"
)

type settings struct {
	ledger      *permission.Ledger
	metrics     *metrics.Metrics
	broadcaster replica.Broadcaster
	offline     bool
}

// Option configures a Manager or a TemplateManager.
type Option func(*settings)

// WithLedger makes the manager check and count mutations against ledger.
// Without one every mutation is allowed.
func WithLedger(l *permission.Ledger) Option {
	return func(s *settings) { s.ledger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *settings) { s.metrics = m }
}

// WithBroadcaster sets where constructions and destructions are mirrored.
func WithBroadcaster(b replica.Broadcaster) Option {
	return func(s *settings) { s.broadcaster = b }
}

func WithOffline(v bool) Option {
	return func(s *settings) { s.offline = v }
}

func newSettings(opts []Option) settings {
	s := settings{broadcaster: replica.Nop{}}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

func (s settings) authority(id network.Identity, keys permission.KeySet) Authority {
	if s.ledger == nil {
		return AllowAll{}
	}
	return NewAuthority(id, s.ledger, keys)
}
