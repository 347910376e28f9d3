package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/labstack/gommon/log"

	"github.com/iliyamo/parking-reservation/internal/queue"
)

const publishTimeout = 5 * time.Second

// outbox feeds each sink from its own queue and worker, so a sink sees
// events in emit order and a slow sink does not hold up the others.
type outbox struct {
	log     *log.Logger
	mu      sync.RWMutex
	stopped bool
	queues  []chan queue.BookingEvent
	wg      sync.WaitGroup
}

func newOutbox(lg *log.Logger, buffer int, sinks []queue.Sink) *outbox {
	o := &outbox{log: lg}
	for _, s := range sinks {
		ch := make(chan queue.BookingEvent, buffer)
		o.queues = append(o.queues, ch)
		o.wg.Add(1)
		go o.run(s, ch)
	}
	return o
}

func (o *outbox) run(s queue.Sink, ch <-chan queue.BookingEvent) {
	defer o.wg.Done()
	for ev := range ch {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		if err := s.Publish(ctx, ev); err != nil {
			o.log.Warnf("publish %s for booking %s: %v", ev.Type, ev.BookingID, err)
		}
		cancel()
	}
}

// push queues ev for every sink without blocking.  A full queue drops ev.
func (o *outbox) push(ev queue.BookingEvent) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.stopped {
		return
	}
	for i, ch := range o.queues {
		select {
		case ch <- ev:
		default:
			o.log.Warnj(log.JSON{"op": "emit", "event": ev.Type, "booking": ev.BookingID,
				"lot": ev.ParkingLotID, "sink": i, "result": "dropped"})
		}
	}
}

func (o *outbox) stop() {
	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		return
	}
	o.stopped = true
	for _, ch := range o.queues {
		close(ch)
	}
	o.mu.Unlock()
	o.wg.Wait()
}

func (l *Ledger) emit(ev queue.BookingEvent) { l.out.push(ev) }
