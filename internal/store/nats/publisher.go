// Package nats publishes command status events to NATS for consumers
// outside the API process, such as home-automation bridges.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/domus/internal/domain"
)

// conn is the subset of *nats.Conn the publisher needs.
type conn interface {
	Publish(subject string, data []byte) error
	Close()
}

type Publisher struct {
	nc     conn
	prefix string
}

// Connect dials NATS. prefix is prepended to every subject; it defaults to
// "domus".
func Connect(url, prefix string) (*Publisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("domus"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("nats: disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("nats: reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats.Connect: %w", err)
	}
	return newPublisher(nc, prefix), nil
}

func newPublisher(nc conn, prefix string) *Publisher {
	if prefix == "" {
		prefix = "domus"
	}
	return &Publisher{nc: nc, prefix: prefix}
}

func (p *Publisher) Close() {
	p.nc.Close()
}

// NotifyStatus publishes the status event on the tenant's command subject.
func (p *Publisher) NotifyStatus(_ context.Context, s *domain.CommandStatus) error {
	payload, err := json.Marshal(s.Event())
	if err != nil {
		return fmt.Errorf("nats.Publisher.NotifyStatus: marshal: %w", err)
	}
	if err := p.nc.Publish(CommandSubject(p.prefix, s.TenantID), payload); err != nil {
		return fmt.Errorf("nats.Publisher.NotifyStatus: %w", err)
	}
	return nil
}

// CommandSubject returns the subject carrying a tenant's command events.
func CommandSubject(prefix string, tenantID uuid.UUID) string {
	return prefix + ".commands." + tenantID.String()
}
