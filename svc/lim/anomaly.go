package lim

import (
	"pastebin/metrics"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	anomalyMinRequests = 10
	anomalyErrorRate   = 5.0
)

// AnomalyDetector keeps a five minute rolling window of request and 5xx
// counts in one minute buckets and fires onAnomaly when the error rate spikes.
type AnomalyDetector struct {
	mu           sync.Mutex
	window       []bucket
	windowSize   int
	currentIndex int
	onAnomaly    func()
	done         chan struct{}
	stopOnce     sync.Once
	log          zerolog.Logger
}
type bucket struct {
	requests int64
	errors   int64
}

func NewAnomalyDetector(onAnomaly func(), log zerolog.Logger) *AnomalyDetector {
	return &AnomalyDetector{
		window:     make([]bucket, 5),
		windowSize: 5,
		onAnomaly:  onAnomaly,
		done:       make(chan struct{}),
		log:        log,
	}
}
func (d *AnomalyDetector) Start() {
	ticker := time.NewTicker(1 * time.Minute)
	go func() {
		for {
			select {
			case <-ticker.C:
				d.AdvanceWindow()
			case <-d.done:
				ticker.Stop()
				return
			}
		}
	}()
}
func (d *AnomalyDetector) Stop() {
	d.stopOnce.Do(func() { close(d.done) })
}
func (d *AnomalyDetector) RecordRequest() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.window[d.currentIndex].requests++
}
func (d *AnomalyDetector) RecordError() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.window[d.currentIndex].errors++
}
// AdvanceWindow evaluates the window and rotates to a fresh bucket. The
// callback runs outside the lock.
func (d *AnomalyDetector) AdvanceWindow() {
	d.mu.Lock()
	var totalReqs, totalErrs int64
	for _, b := range d.window {
		totalReqs += b.requests
		totalErrs += b.errors
	}
	var errorRate float64
	if totalReqs > 0 {
		errorRate = (float64(totalErrs) / float64(totalReqs)) * 100.0
	}
	d.currentIndex = (d.currentIndex + 1) % d.windowSize
	d.window[d.currentIndex] = bucket{}
	d.mu.Unlock()

	metrics.RecentErrorRatePercent.Set(errorRate)
	if totalReqs > anomalyMinRequests && errorRate > anomalyErrorRate {
		d.log.Warn().
			Float64("error_rate", errorRate).
			Int64("total_reqs", totalReqs).
			Int64("total_errs", totalErrs).
			Msg("high error rate, tightening rate limits")
		if d.onAnomaly != nil {
			d.onAnomaly()
		}
	}
}
