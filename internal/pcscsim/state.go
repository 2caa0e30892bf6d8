package pcscsim

import (
	"fmt"
	"math/rand"
	"sort"
	"sync"

	"github.com/GriffinCanCode/SmartCardConnector/backend/internal/pcsc"
	"github.com/GriffinCanCode/SmartCardConnector/backend/internal/usb"
)

type reader struct {
	name       string
	slot       int
	deviceID   int64
	atr        []byte // nil when no card is inserted
	eventCount uint32
}

type sContext struct {
	handle pcsc.Handle
	// cancel is closed by SCardCancel and then replaced
	cancel chan struct{}
	// released is closed by SCardReleaseContext
	released chan struct{}
}

type cardConn struct {
	handle      pcsc.Handle
	context     pcsc.Handle
	reader      string
	share       uint32
	protocol    uint32
	transaction bool
	removed     bool
}

// registry is the daemon's view of readers, contexts and connections.
type registry struct {
	mu       sync.Mutex
	rng      *rand.Rand
	readers  map[int64]*reader // by device id
	contexts map[pcsc.Handle]*sContext
	cards    map[pcsc.Handle]*cardConn
	// changed is closed and replaced whenever reader state changes
	changed chan struct{}
}

func newRegistry(seed int64) *registry {
	return &registry{
		rng:      rand.New(rand.NewSource(seed)),
		readers:  make(map[int64]*reader),
		contexts: make(map[pcsc.Handle]*sContext),
		cards:    make(map[pcsc.Handle]*cardConn),
		changed:  make(chan struct{}),
	}
}

// newHandle returns a random nonzero handle unused by any context or card;
// callers hold mu.
func (r *registry) newHandle() pcsc.Handle {
	for {
		h := pcsc.Handle(r.rng.Int31())
		if h == 0 {
			continue
		}
		if _, used := r.contexts[h]; used {
			continue
		}
		if _, used := r.cards[h]; used {
			continue
		}
		return h
	}
}

// notify wakes every GetStatusChange waiter; callers hold mu.
func (r *registry) notify() {
	close(r.changed)
	r.changed = make(chan struct{})
}

// sync reconciles readers with the attached devices. It reports whether
// anything changed.
func (r *registry) sync(devices []usb.Device) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	present := make(map[int64]usb.Device, len(devices))
	for _, d := range devices {
		present[d.ID] = d
	}

	changed := false
	for id, rd := range r.readers {
		if _, ok := present[id]; ok {
			continue
		}
		delete(r.readers, id)
		r.markRemoved(rd.name)
		changed = true
	}

	for _, d := range devices {
		prefix, ok := d.Type.ReaderName()
		if !ok {
			continue
		}
		atr, _ := d.CardType.Atr()

		rd, exists := r.readers[d.ID]
		if !exists {
			slot := r.freeSlot()
			rd = &reader{
				name:     fmt.Sprintf("%s %02X 00", prefix, slot),
				slot:     slot,
				deviceID: d.ID,
				atr:      atr,
			}
			r.readers[d.ID] = rd
			changed = true
			continue
		}
		if (rd.atr == nil) != (atr == nil) {
			if atr == nil {
				r.markRemoved(rd.name)
			}
			rd.atr = atr
			rd.eventCount++
			changed = true
		}
	}

	if changed {
		r.notify()
	}
	return changed
}

// freeSlot returns the lowest slot not used by a reader; callers hold mu.
func (r *registry) freeSlot() int {
	used := make(map[int]bool, len(r.readers))
	for _, rd := range r.readers {
		used[rd.slot] = true
	}
	slot := 0
	for used[slot] {
		slot++
	}
	return slot
}

// markRemoved flags connections on a reader whose card went away; callers
// hold mu.
func (r *registry) markRemoved(readerName string) {
	for _, c := range r.cards {
		if c.reader == readerName {
			c.removed = true
		}
	}
}

// readerList returns readers ordered by slot; callers hold mu.
func (r *registry) readerList() []*reader {
	list := make([]*reader, 0, len(r.readers))
	for _, rd := range r.readers {
		list = append(list, rd)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].slot < list[j].slot })
	return list
}

// readerByName finds a reader; callers hold mu.
func (r *registry) readerByName(name string) *reader {
	for _, rd := range r.readers {
		if rd.name == name {
			return rd
		}
	}
	return nil
}

// readerState computes the current state word of a reader; callers hold mu.
func (r *registry) readerState(rd *reader) uint32 {
	if rd.atr == nil {
		return pcsc.WithEventCount(pcsc.StateEmpty, rd.eventCount)
	}
	state := pcsc.StatePresent
	for _, c := range r.cards {
		if c.reader != rd.name || c.removed {
			continue
		}
		state |= pcsc.StateInUse
		if c.share == pcsc.ShareExclusive {
			state |= pcsc.StateExclusive
		}
	}
	return pcsc.WithEventCount(state, rd.eventCount)
}
