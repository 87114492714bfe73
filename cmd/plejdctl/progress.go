package main

import (
	"fmt"
	"sync/atomic"
	"time"
)

const (
	progressUpdateInterval = 100 * time.Millisecond
	clearLineSequence      = "\r\033[K"
)

// ProgressPrinter displays a single updating status line with elapsed or
// remaining time, used by the scan command while it waits on BLE I/O.
//
// A ProgressPrinter is single-use: call Start once, then Stop exactly
// once to release its goroutine. It cannot be restarted after Stop.
type ProgressPrinter struct {
	prefix     string
	phase      atomic.Value
	stopPhases map[string]struct{}
	startTime  time.Time
	ticker     atomic.Pointer[time.Ticker]
	stopChan   chan struct{}
	done       chan struct{}
	started    atomic.Bool
	countUp    bool
	duration   time.Duration
}

// NewCountdownProgressPrinter creates a progress printer counting down
// from duration, switching to the given phase names triggers a graceful
// shutdown via Callback.
func NewCountdownProgressPrinter(prefix, phase string, duration time.Duration, stopPhases ...string) *ProgressPrinter {
	stopSet := make(map[string]struct{}, len(stopPhases))
	for _, p := range stopPhases {
		stopSet[p] = struct{}{}
	}
	p := &ProgressPrinter{prefix: prefix, stopPhases: stopSet, duration: duration}
	p.phase.Store(phase)
	return p
}

// NewProgressPrinter creates a progress printer that counts up, showing
// elapsed time since Start.
func NewProgressPrinter(prefix, phase string, stopPhases ...string) *ProgressPrinter {
	stopSet := make(map[string]struct{}, len(stopPhases))
	for _, p := range stopPhases {
		stopSet[p] = struct{}{}
	}
	p := &ProgressPrinter{prefix: prefix, stopPhases: stopSet, countUp: true}
	p.phase.Store(phase)
	return p
}

// Start begins displaying progress updates in a background goroutine.
// Panics if called more than once on the same instance.
func (p *ProgressPrinter) Start() {
	if !p.started.CompareAndSwap(false, true) {
		panic("ProgressPrinter.Start called more than once")
	}
	if p.stopChan != nil {
		panic("ProgressPrinter cannot be reused after Stop")
	}

	p.done = make(chan struct{})
	p.stopChan = make(chan struct{})
	p.startTime = time.Now()
	ticker := time.NewTicker(progressUpdateInterval)
	p.ticker.Store(ticker)
	p.run(ticker)
}

func (p *ProgressPrinter) printLine(phase string, seconds int) {
	if seconds > 0 {
		fmt.Printf("\r%s (%s %ds)   ", p.prefix, phase, seconds)
	} else {
		fmt.Printf("\r%s (%s...)   ", p.prefix, phase)
	}
}

func (p *ProgressPrinter) run(ticker *time.Ticker) {
	fmt.Printf("\r%s (%s...)   ", p.prefix, p.phase.Load().(string))

	go func() {
		defer close(p.done)
		defer func() {
			if r := recover(); r != nil {
				fmt.Printf("\nprogress printer panic: %v\n", r)
			}
		}()

		for {
			select {
			case <-p.stopChan:
				return
			case <-ticker.C:
				phase := p.phase.Load().(string)
				if _, stop := p.stopPhases[phase]; stop {
					return
				}
				elapsed := time.Since(p.startTime)

				var seconds int
				if p.countUp {
					seconds = int(elapsed.Seconds())
				} else if remaining := p.duration - elapsed; remaining > 0 {
					seconds = int(remaining.Seconds() + 0.5)
				}
				p.printLine(phase, seconds)
			}
		}
	}()
}

// Callback returns a phase-update function for passing to code that reports
// progress through a plain func(string) hook. Switching to a registered
// stop phase calls Stop automatically. Safe for concurrent use.
func (p *ProgressPrinter) Callback() func(phase string) {
	return func(phase string) {
		p.phase.Store(phase)
		if _, stop := p.stopPhases[phase]; stop {
			p.Stop()
		}
	}
}

// Stop stops the progress display and clears the line. Safe to call more
// than once and from multiple goroutines; only the first call does
// anything.
func (p *ProgressPrinter) Stop() {
	ticker := p.ticker.Swap(nil)
	if ticker == nil {
		return
	}
	ticker.Stop()
	close(p.stopChan)
	<-p.done
	p.stopChan = nil
	fmt.Print(clearLineSequence)
}
