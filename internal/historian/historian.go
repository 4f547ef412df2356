// Package historian drains the settlement event queue into the settlement log, in batches.
package historian

import (
	"context"
	"time"

	"github.com/pencilparty/pencilparty/internal/models"
	"github.com/sirupsen/logrus"
)

// Source yields queued settlement events. PopSettlement returns nil, nil on timeout.
type Source interface {
	PopSettlement(ctx context.Context, timeout time.Duration) (*models.SettlementEvent, error)
}

// Sink persists a batch of events. Writing the same event twice must be harmless.
type Sink interface {
	RecordSettlements(ctx context.Context, events []models.SettlementEvent) error
}

// Service pops events from a Source, accumulates them, and writes them to a Sink once
// batchSize events are pending or flushDelay has elapsed.
type Service struct {
	src  Source
	sink Sink
	log  *logrus.Logger

	batchSize   int
	flushDelay  time.Duration
	pollTimeout time.Duration

	batch []models.SettlementEvent
}

func New(src Source, sink Sink, batchSize int, flushDelay time.Duration, logger *logrus.Logger) *Service {
	if batchSize <= 0 {
		batchSize = 20
	}
	if flushDelay <= 0 {
		flushDelay = 500 * time.Millisecond
	}
	return &Service{
		src:         src,
		sink:        sink,
		log:         logger,
		batchSize:   batchSize,
		flushDelay:  flushDelay,
		pollTimeout: time.Second,
		batch:       make([]models.SettlementEvent, 0, batchSize),
	}
}

// Run consumes until ctx is cancelled, then flushes whatever is pending.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(s.flushDelay)
	defer ticker.Stop()

	s.log.Info("historian started")
	for {
		select {
		case <-ctx.Done():
			s.flush(context.Background())
			s.log.Info("historian stopped")
			return

		case <-ticker.C:
			s.flush(ctx)

		default:
			ev, err := s.src.PopSettlement(ctx, s.pollTimeout)
			if err != nil {
				if ctx.Err() != nil {
					continue
				}
				s.log.WithError(err).Error("pop settlement event")
				s.wait(ctx)
				continue
			}
			if ev == nil {
				continue
			}
			s.batch = append(s.batch, *ev)
			if len(s.batch) >= s.batchSize {
				s.flush(ctx)
			}
		}
	}
}

// flush writes the pending batch. On failure the batch is kept and retried on the next flush.
func (s *Service) flush(ctx context.Context) {
	if len(s.batch) == 0 {
		return
	}
	if err := s.sink.RecordSettlements(ctx, s.batch); err != nil {
		s.log.WithError(err).WithField("pending", len(s.batch)).Error("flush settlement log")
		return
	}
	s.log.WithField("count", len(s.batch)).Debug("flushed settlement events")
	s.batch = s.batch[:0]
}

// wait backs off after a queue error without outliving ctx.
func (s *Service) wait(ctx context.Context) {
	t := time.NewTimer(s.pollTimeout)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
