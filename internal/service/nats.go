// Package service exposes the simulator to miners over NATS request-reply:
// a miner publishes a pre-flight request and receives the full report, or a
// structured error, as the reply.
package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"RingSim/internal/core"
	"RingSim/internal/ingestion"
	"RingSim/internal/observability"
)

// DefaultSubject is the request-reply subject miners submit batches to.
const DefaultSubject = "ringsim.simulate.v1"

// PreflightService answers simulation requests. Requests are processed by
// a single worker so simulations stay single-threaded and deterministic.
type PreflightService struct {
	conn    *nats.Conn
	subject string
	engine  *core.Engine
	metrics *observability.Metrics
	log     zerolog.Logger

	requests chan *nats.Msg
	sub      *nats.Subscription
}

func NewPreflightService(conn *nats.Conn, subject string, engine *core.Engine, metrics *observability.Metrics) *PreflightService {
	if subject == "" {
		subject = DefaultSubject
	}
	return &PreflightService{
		conn:     conn,
		subject:  subject,
		engine:   engine,
		metrics:  metrics,
		log:      observability.NewLogger("preflight"),
		requests: make(chan *nats.Msg, 64),
	}
}

type errorReply struct {
	Error string `json:"error"`
}

// Run subscribes and serves until the context is cancelled.
func (s *PreflightService) Run(ctx context.Context) error {
	sub, err := s.conn.ChanSubscribe(s.subject, s.requests)
	if err != nil {
		return err
	}
	s.sub = sub
	s.log.Info().Str("subject", s.subject).Msg("pre-flight service listening")

	for {
		select {
		case <-ctx.Done():
			s.sub.Unsubscribe()
			return ctx.Err()
		case msg := <-s.requests:
			s.handle(ctx, msg)
		}
	}
}

func (s *PreflightService) handle(ctx context.Context, msg *nats.Msg) {
	start := time.Now()
	if s.metrics != nil {
		s.metrics.RequestPayloadBytes.Observe(float64(len(msg.Data)))
	}

	req, err := ingestion.ParseRequest(msg.Data)
	if err != nil {
		s.log.Warn().Err(err).Msg("rejecting malformed request")
		s.replyError(msg, err)
		s.countOutcome("malformed")
		return
	}

	report, err := s.engine.Simulate(ctx, req.Input, req.Snapshot)
	if err != nil {
		s.log.Warn().Err(err).Msg("simulation failed")
		s.replyError(msg, err)
		s.countOutcome("fatal")
		return
	}

	payload, err := ingestion.EncodeReport(report)
	if err != nil {
		s.log.Error().Err(err).Msg("encode report")
		s.replyError(msg, err)
		s.countOutcome("encode_error")
		return
	}

	if err := msg.Respond(payload); err != nil {
		s.log.Warn().Err(err).Msg("reply failed")
	}

	if s.metrics != nil {
		s.metrics.SimulationDuration.Observe(time.Since(start).Seconds())
		s.metrics.RingsSettled.Add(float64(len(report.RingMinedEvents)))
		s.metrics.RingsInvalid.Add(float64(len(report.InvalidRingEvents)))
		s.metrics.TransfersEmitted.Add(float64(len(report.TransferItems)))

		invalidOrders := 0
		for _, o := range req.Input.Orders {
			if !o.Valid {
				invalidOrders++
			}
		}
		s.metrics.OrdersInvalid.Add(float64(invalidOrders))
	}
	s.countOutcome("ok")

	s.log.Info().
		Str("simulation_id", report.SimulationID.String()).
		Int("rings_settled", len(report.RingMinedEvents)).
		Int("rings_invalid", len(report.InvalidRingEvents)).
		Int("transfers", len(report.TransferItems)).
		Dur("elapsed", time.Since(start)).
		Msg("simulation served")
}

func (s *PreflightService) replyError(msg *nats.Msg, err error) {
	payload, encodeErr := json.Marshal(errorReply{Error: err.Error()})
	if encodeErr != nil {
		return
	}
	_ = msg.Respond(payload)
}

func (s *PreflightService) countOutcome(outcome string) {
	if s.metrics != nil {
		s.metrics.SimulationsTotal.With(prometheus.Labels{"outcome": outcome}).Inc()
	}
}
