package server

import (
	"context"
	"log"
	"time"

	"golang.org/x/time/rate"

	"github.com/yksanjo/agent-identity-hub/internal/storage"
)

// StartWorkers launches all background goroutines. Call with a cancellable
// context for graceful shutdown. sweepInterval controls how often the trust
// sweep runs; perSecond bounds how many agents each sweep processes per
// second so a large registry does not monopolize the database.
func (s *Server) StartWorkers(ctx context.Context, sweepInterval time.Duration, perSecond float64) {
	go s.runTrustSweep(ctx, sweepInterval, perSecond)
	go s.runExpirySweep(ctx)
}

// runTrustSweep periodically recalculates trust scores and runs anomaly
// detection for every active agent.
func (s *Server) runTrustSweep(ctx context.Context, interval time.Duration, perSecond float64) {
	limiter := rate.NewLimiter(rate.Limit(perSecond), 1)
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
			scored, flagged := s.sweepAgents(ctx, limiter)
			if scored > 0 {
				log.Printf("[worker] trust sweep scored %d agents, %d anomalies detected", scored, flagged)
			}
		}
	}
}

// sweepAgents walks active agents, recalculating each one's trust score and
// running the anomaly detectors. Returns the number of agents scored and the
// number of new anomalies.
func (s *Server) sweepAgents(ctx context.Context, limiter *rate.Limiter) (int, int) {
	agents, err := s.db.ListAgents(storage.AgentActive, "", 0, 0)
	if err != nil {
		log.Printf("[worker] list active agents: %v", err)
		return 0, 0
	}

	scored, flagged := 0, 0
	for _, a := range agents {
		if err := limiter.Wait(ctx); err != nil {
			return scored, flagged
		}
		if _, err := s.engine.Calculate(a.ID); err != nil {
			log.Printf("[worker] calculate trust for %s: %v", a.ID, err)
			continue
		}
		scored++
		anomalies, err := s.detector.Detect(a.ID)
		if err != nil {
			log.Printf("[anomaly] detect for %s: %v", a.ID, err)
			continue
		}
		flagged += len(anomalies)
	}
	return scored, flagged
}

// runExpirySweep flips lapsed active capabilities to the expired status
// (every 10 minutes). Verification does not depend on this; expiry is
// checked against the stored expiration at verify time. The sweep keeps
// listings and the active-capability index honest.
func (s *Server) runExpirySweep(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(10 * time.Minute):
			n, err := s.db.MarkExpiredCapabilities(time.Now().Unix())
			if err != nil {
				log.Printf("[worker] mark expired capabilities: %v", err)
				continue
			}
			if n > 0 {
				log.Printf("[worker] marked %d capabilities expired", n)
			}
		}
	}
}
