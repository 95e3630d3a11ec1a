package nats

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"quizroom-service/internal/domain"
)

// Publisher mirrors every room event onto a NATS subject per room so external
// observers (reporting, dashboards) can follow rooms without touching the
// core. Delivery is best effort; the room's own subscribers never depend on it.
type Publisher struct {
	nc     *nats.Conn
	prefix string
}

func NewPublisher(url, subjectPrefix string) (*Publisher, error) {
	if subjectPrefix == "" {
		subjectPrefix = "quizroom.events"
	}
	opts := []nats.Option{
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return &Publisher{nc: nc, prefix: subjectPrefix}, nil
}

// Publish implements app.EventSink.
func (p *Publisher) Publish(code string, ev domain.RoomEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Str("room", code).Msg("marshal room event")
		return
	}
	if err := p.nc.Publish(p.prefix+"."+code, data); err != nil {
		log.Error().Err(err).Str("room", code).Msg("publish room event")
	}
}

func (p *Publisher) Close() {
	p.nc.Close()
}
