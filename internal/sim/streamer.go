package sim

import (
	"context"
	"log"
	"sync"
	"time"

	mmetrics "train-simulator/internal/metrics"
	"train-simulator/internal/publisher"
	"train-simulator/internal/schedule"
)

// Publisher receives one message per train per tick. *publisher.NATSPublisher implements it.
type Publisher interface {
	PublishPosition(msg publisher.PositionMessage) error
}

// Streamer publishes the active simulation's positions on a fixed interval.
// The simulated clock advances from the activation time at speedMultiplier.
type Streamer struct {
	orch            *Orchestrator
	pub             Publisher
	publishInterval time.Duration
	speedMultiplier float64
	metrics         *mmetrics.Collector
	now             func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	lastSeen map[string]schedule.Status // trainID -> status at previous tick
}

func NewStreamer(orch *Orchestrator, pub Publisher, publishInterval time.Duration, speedMultiplier float64, metrics *mmetrics.Collector) *Streamer {
	if publishInterval <= 0 {
		publishInterval = time.Second
	}
	if speedMultiplier <= 0 {
		speedMultiplier = 1
	}
	return &Streamer{
		orch:            orch,
		pub:             pub,
		publishInterval: publishInterval,
		speedMultiplier: speedMultiplier,
		metrics:         metrics,
		now:             time.Now,
		lastSeen:        make(map[string]schedule.Status),
	}
}

// Start launches the ticker loop. Stop cancels it and waits.
func (s *Streamer) Start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	s.cancel = cancel
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		tick := time.NewTicker(s.publishInterval)
		defer tick.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tick.C:
				s.Tick()
			}
		}
	}()
	log.Printf("position streamer started (interval=%s, speed=%.2fx)", s.publishInterval, s.speedMultiplier)
}

func (s *Streamer) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// Tick publishes one sample per train and returns how many were published.
func (s *Streamer) Tick() int {
	sim, ok := s.orch.Active()
	if !ok {
		return 0
	}
	tickStart := time.Now()
	now := s.now()
	clock := sim.ClockAt(now, s.speedMultiplier)
	simTime := schedule.FormatClock(int(clock))

	published := 0
	for _, sample := range sim.SamplesAt(clock) {
		s.logTransition(sample, simTime)
		if err := s.pub.PublishPosition(publisher.NewPositionMessage(sample, now, simTime)); err != nil {
			log.Printf("publish error for %s: %v", sample.TrainID, err)
			continue
		}
		published++
	}
	if s.metrics != nil {
		s.metrics.TickDuration.Observe(time.Since(tickStart).Seconds())
	}
	return published
}

func (s *Streamer) logTransition(sample schedule.Sample, simTime string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, seen := s.lastSeen[sample.TrainID]
	s.lastSeen[sample.TrainID] = sample.Status
	if seen && prev != sample.Status {
		log.Printf("train %s %s -> %s at %s", sample.TrainID, prev, sample.Status, simTime)
	}
}
