package content

import (
	"sync"
	"time"
)

type subscriber struct {
	fn     func(Event)
	mu     sync.Mutex
	timers map[string]*time.Timer
	latest map[string]Event
	gone   bool
}

// deliver coalesces bursts per section: each new event resets the timer and
// only the most recent event is handed to the callback.
func (s *subscriber) deliver(event Event, delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gone {
		return
	}
	key := event.Store + "/" + event.Section
	s.latest[key] = event
	if timer, ok := s.timers[key]; ok {
		timer.Stop()
	}
	s.timers[key] = time.AfterFunc(delay, func() {
		s.mu.Lock()
		latest, ok := s.latest[key]
		gone := s.gone
		delete(s.latest, key)
		delete(s.timers, key)
		s.mu.Unlock()
		if ok && !gone {
			s.fn(latest)
		}
	})
}

func (s *subscriber) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gone = true
	for key, timer := range s.timers {
		timer.Stop()
		delete(s.timers, key)
		delete(s.latest, key)
	}
}

// Bus is the same-process change-notification channel shared by the override
// engine and the unified store. The browser storage event does not fire in
// the tab that wrote the value; this is the explicit replacement.
type Bus struct {
	saveDebounce   time.Duration
	notifyDebounce time.Duration

	mu      sync.Mutex
	subs    map[int]*subscriber
	nextID  int
	timers  map[string]*time.Timer
	pending map[string]Event
}

func NewBus(saveDebounce, notifyDebounce time.Duration) *Bus {
	if saveDebounce <= 0 {
		saveDebounce = defaultSaveDebounce
	}
	if notifyDebounce <= 0 {
		notifyDebounce = defaultNotifyDebounce
	}
	return &Bus{
		saveDebounce:   saveDebounce,
		notifyDebounce: notifyDebounce,
		subs:           make(map[int]*subscriber),
		timers:         make(map[string]*time.Timer),
		pending:        make(map[string]Event),
	}
}

// Subscribe registers a listener and returns its disposer. Delivery is
// debounced per section so a multi-field form save produces one callback.
func (b *Bus) Subscribe(fn func(Event)) func() {
	sub := &subscriber{
		fn:     fn,
		timers: make(map[string]*time.Timer),
		latest: make(map[string]Event),
	}
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = sub
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
		sub.stop()
	}
}

// Announce schedules a writer-side debounced broadcast: rapid saves to the
// same section collapse into one notification carrying the last payload.
func (b *Bus) Announce(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := event.Store + "/" + event.Section
	b.pending[key] = event
	if timer, ok := b.timers[key]; ok {
		timer.Stop()
	}
	b.timers[key] = time.AfterFunc(b.saveDebounce, func() {
		b.mu.Lock()
		pending, ok := b.pending[key]
		delete(b.pending, key)
		delete(b.timers, key)
		b.mu.Unlock()
		if ok {
			b.Publish(pending)
		}
	})
}

// Publish delivers an event without the writer-side delay. Subscriber-side
// debouncing still applies.
func (b *Bus) Publish(event Event) {
	b.mu.Lock()
	subs := make([]*subscriber, 0, len(b.subs))
	for _, sub := range b.subs {
		subs = append(subs, sub)
	}
	delay := b.notifyDebounce
	b.mu.Unlock()
	for _, sub := range subs {
		sub.deliver(event, delay)
	}
}

// CancelPending stops every writer-side timer without delivering.
func (b *Bus) CancelPending() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for key, timer := range b.timers {
		timer.Stop()
		delete(b.timers, key)
		delete(b.pending, key)
	}
}
