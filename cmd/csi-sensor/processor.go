package main

import (
	"fmt"
	"log"
	"time"

	"github.com/banshee-data/csi.report/internal/csi/estimate"
	"github.com/banshee-data/csi.report/internal/csi/grouper"
	"github.com/banshee-data/csi.report/internal/monitoring"
)

type snapshotStore interface {
	InsertSnapshot(sessionID string, at time.Time, w *grouper.WifiCsi, withCoefficients bool) (int64, error)
	InsertEstimates(snapshotID int64, s *estimate.Summary) error
}

type observer interface {
	Observe(w *grouper.WifiCsi, sum *estimate.Summary)
}

type summaryPublisher interface {
	Publish(s *estimate.Summary) error
}

// processor fans each snapshot out to the estimators and every enabled
// output. Output failures are logged and never stop the capture.
type processor struct {
	antennaDistance  float64
	estimate         bool
	keepCoefficients bool
	sessionID        string

	metrics   *monitoring.Metrics
	store     snapshotStore
	observer  observer
	publisher summaryPublisher
	now       func() time.Time
}

func (p *processor) handle(w *grouper.WifiCsi) error {
	now := time.Now
	if p.now != nil {
		now = p.now
	}
	at := now()

	var sum *estimate.Summary
	if p.estimate {
		sum = estimate.Summarize(w, p.antennaDistance, at)
		for _, a := range sum.AoA {
			p.metrics.AoA(a.Pair, a.Radians)
		}
		for _, d := range sum.ToF {
			p.metrics.ToF(fmt.Sprintf("%d", d.Core), float64(d.Delay.Nanoseconds()))
		}
	}

	if p.store != nil {
		start := time.Now()
		id, err := p.store.InsertSnapshot(p.sessionID, at, w, p.keepCoefficients)
		if err == nil && sum != nil {
			err = p.store.InsertEstimates(id, sum)
		}
		if err != nil {
			log.Printf("[store] seq %d: %v", w.SeqCnt, err)
		} else {
			p.metrics.StoreLatency(time.Since(start).Seconds())
		}
	}

	if p.observer != nil {
		p.observer.Observe(w, sum)
	}

	if p.publisher != nil && sum != nil {
		if err := p.publisher.Publish(sum); err != nil {
			log.Printf("[publish] seq %d: %v", w.SeqCnt, err)
		}
	}
	return nil
}
