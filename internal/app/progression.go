package app

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// progression owns the per-room one-shot timers that drive the tick loop. The
// loop lives in the service, not in any participant's connection, so a host
// disconnect never stalls a running room. At most one timer is armed per room;
// arming replaces and cancels any existing timer for that code.
type progression struct {
	clock    clockwork.Clock
	interval time.Duration

	mu     sync.Mutex
	timers map[string]*armedTimer
}

type armedTimer struct {
	timer clockwork.Timer
	done  chan struct{}
}

func newProgression(clock clockwork.Clock, interval time.Duration) *progression {
	return &progression{
		clock:    clock,
		interval: interval,
		timers:   make(map[string]*armedTimer),
	}
}

// arm schedules fire to run after one tick interval, replacing any timer
// already armed for the room.
func (p *progression) arm(code string, fire func()) {
	entry := &armedTimer{
		timer: p.clock.NewTimer(p.interval),
		done:  make(chan struct{}),
	}

	p.mu.Lock()
	if old, ok := p.timers[code]; ok {
		stopAndDrainTimer(old.timer)
		close(old.done)
	}
	p.timers[code] = entry
	p.mu.Unlock()

	go func() {
		select {
		case <-entry.timer.Chan():
			p.mu.Lock()
			if current, ok := p.timers[code]; !ok || current != entry {
				p.mu.Unlock()
				return
			}
			delete(p.timers, code)
			p.mu.Unlock()
			fire()
		case <-entry.done:
		}
	}()
}

// cancel disarms the room's timer if one is pending.
func (p *progression) cancel(code string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if entry, ok := p.timers[code]; ok {
		stopAndDrainTimer(entry.timer)
		close(entry.done)
		delete(p.timers, code)
		log.Debug().Str("room", code).Msg("progression timer cancelled")
	}
}

// close disarms every timer; used on shutdown.
func (p *progression) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for code, entry := range p.timers {
		stopAndDrainTimer(entry.timer)
		close(entry.done)
		delete(p.timers, code)
	}
}

// stopAndDrainTimer stops a timer and drains its channel so a fired-but-unread
// timer cannot leak a goroutine, per the time.Timer.Stop documentation.
func stopAndDrainTimer(t clockwork.Timer) {
	if !t.Stop() {
		select {
		case <-t.Chan():
		default:
		}
	}
}
