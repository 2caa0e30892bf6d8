package pcscsim

import (
	"context"
	"fmt"
	"time"

	"github.com/GriffinCanCode/SmartCardConnector/backend/internal/pcsc"
)

type callFunc func(ctx context.Context, call pcsc.RemoteCall) ([]interface{}, error)

func (d *Daemon) functions() map[string]callFunc {
	return map[string]callFunc{
		pcsc.FnEstablishContext: d.establishContext,
		pcsc.FnReleaseContext:   d.releaseContext,
		pcsc.FnListReaders:      d.listReaders,
		pcsc.FnGetStatusChange:  d.getStatusChange,
		pcsc.FnCancel:           d.cancel,
		pcsc.FnConnect:          d.connect,
		pcsc.FnDisconnect:       d.disconnect,
		pcsc.FnTransmit:         d.transmit,
		pcsc.FnControl:          d.control,
		pcsc.FnGetAttrib:        d.getAttrib,
		pcsc.FnSetAttrib:        d.setAttrib,
		pcsc.FnStatus:           d.status,
		pcsc.FnBeginTransaction: d.beginTransaction,
		pcsc.FnEndTransaction:   d.endTransaction,
	}
}

func fail(code pcsc.ReturnCode) ([]interface{}, error) {
	return pcsc.Result(code), nil
}

func (d *Daemon) establishContext(_ context.Context, call pcsc.RemoteCall) ([]interface{}, error) {
	scope := pcsc.ScopeSystem
	if err := call.Args(&scope); err != nil {
		return nil, err
	}

	r := d.reg
	r.mu.Lock()
	defer r.mu.Unlock()

	h := r.newHandle()
	r.contexts[h] = &sContext{handle: h, cancel: make(chan struct{}), released: make(chan struct{})}
	return pcsc.Result(pcsc.Success, h), nil
}

func (d *Daemon) releaseContext(_ context.Context, call pcsc.RemoteCall) ([]interface{}, error) {
	var h pcsc.Handle
	if err := call.Args(&h); err != nil {
		return nil, err
	}

	r := d.reg
	r.mu.Lock()
	defer r.mu.Unlock()

	sc, ok := r.contexts[h]
	if !ok {
		return fail(pcsc.ErrInvalidHandle)
	}
	delete(r.contexts, h)
	close(sc.released)
	for handle, c := range r.cards {
		if c.context == h {
			delete(r.cards, handle)
		}
	}
	return pcsc.Result(pcsc.Success), nil
}

func (d *Daemon) listReaders(_ context.Context, call pcsc.RemoteCall) ([]interface{}, error) {
	var h pcsc.Handle
	if err := call.Args(&h); err != nil {
		return nil, err
	}

	r := d.reg
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.contexts[h]; !ok {
		return fail(pcsc.ErrInvalidHandle)
	}
	readers := r.readerList()
	if len(readers) == 0 {
		return fail(pcsc.ErrNoReadersAvailable)
	}
	names := make([]string, len(readers))
	for i, rd := range readers {
		names[i] = rd.name
	}
	return pcsc.Result(pcsc.Success, names), nil
}

func (d *Daemon) getStatusChange(ctx context.Context, call pcsc.RemoteCall) ([]interface{}, error) {
	var (
		h       pcsc.Handle
		timeout = pcsc.Infinite
		states  []pcsc.NativeReaderState
	)
	if err := call.Args(&h, &timeout, &states); err != nil {
		return nil, err
	}
	if len(states) == 0 {
		return pcsc.Result(pcsc.Success, []pcsc.NativeReaderState{}), nil
	}

	var deadline <-chan time.Time
	if timeout != pcsc.Infinite {
		timer := time.NewTimer(time.Duration(timeout) * time.Millisecond)
		defer timer.Stop()
		deadline = timer.C
	}

	r := d.reg
	r.mu.Lock()
	sc, ok := r.contexts[h]
	if !ok {
		r.mu.Unlock()
		return fail(pcsc.ErrInvalidHandle)
	}
	// the PnP baseline is the reader count when the wait began unless the
	// caller supplied one
	baseline := uint32(len(r.readers))
	r.mu.Unlock()

	for {
		r.mu.Lock()
		out, changed := d.evaluate(states, baseline)
		wake, cancelled, released := r.changed, sc.cancel, sc.released
		r.mu.Unlock()

		if changed {
			return pcsc.Result(pcsc.Success, out), nil
		}

		select {
		case <-wake:
		case <-cancelled:
			return fail(pcsc.ErrCancelled)
		case <-released:
			return fail(pcsc.ErrInvalidHandle)
		case <-deadline:
			return pcsc.Result(pcsc.ErrTimeout), nil
		case <-ctx.Done():
			return fail(pcsc.ErrNoService)
		}
		if timeout == 0 {
			return pcsc.Result(pcsc.ErrTimeout), nil
		}
	}
}

// evaluate computes output states and whether any differs from what the
// caller knows; callers hold reg.mu.
func (d *Daemon) evaluate(states []pcsc.NativeReaderState, baseline uint32) ([]pcsc.NativeReaderState, bool) {
	r := d.reg
	out := make([]pcsc.NativeReaderState, len(states))
	anyChanged := false

	for i, in := range states {
		o := pcsc.NativeReaderState{ReaderName: in.ReaderName, CurrentState: in.CurrentState, Atr: pcsc.Bytes{}}

		if in.CurrentState&pcsc.StateIgnore != 0 {
			o.EventState = pcsc.StateIgnore
			out[i] = o
			continue
		}

		if in.ReaderName == pcsc.PnPNotification {
			known := baseline
			if c := pcsc.EventCount(in.CurrentState); c != 0 {
				known = c
			}
			if uint32(len(r.readers)) != known {
				// the event count stays zero for the PnP pseudo reader
				o.EventState = pcsc.StateChanged
				anyChanged = true
			}
			out[i] = o
			continue
		}

		rd := r.readerByName(in.ReaderName)
		if rd == nil {
			o.EventState = pcsc.StateUnknown | pcsc.StateChanged
			anyChanged = true
			out[i] = o
			continue
		}

		actual := r.readerState(rd)
		if rd.atr != nil {
			o.Atr = pcsc.Bytes(rd.atr)
		}
		current := in.CurrentState
		differs := current&0xFFFF == pcsc.StateUnaware ||
			(current&^pcsc.StateChanged)&0xFFFF != actual&0xFFFF ||
			(pcsc.EventCount(current) != 0 && pcsc.EventCount(current) != pcsc.EventCount(actual))
		if differs {
			actual |= pcsc.StateChanged
			anyChanged = true
		}
		o.EventState = actual
		out[i] = o
	}
	return out, anyChanged
}

func (d *Daemon) cancel(_ context.Context, call pcsc.RemoteCall) ([]interface{}, error) {
	var h pcsc.Handle
	if err := call.Args(&h); err != nil {
		return nil, err
	}

	r := d.reg
	r.mu.Lock()
	defer r.mu.Unlock()

	sc, ok := r.contexts[h]
	if !ok {
		return fail(pcsc.ErrInvalidHandle)
	}
	close(sc.cancel)
	sc.cancel = make(chan struct{})
	return pcsc.Result(pcsc.Success), nil
}

func (d *Daemon) connect(_ context.Context, call pcsc.RemoteCall) ([]interface{}, error) {
	var (
		h         pcsc.Handle
		name      string
		share     uint32
		preferred uint32
	)
	if err := call.Args(&h, &name, &share, &preferred); err != nil {
		return nil, err
	}

	r := d.reg
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.contexts[h]; !ok {
		return fail(pcsc.ErrInvalidHandle)
	}
	if share < pcsc.ShareExclusive || share > pcsc.ShareDirect {
		return fail(pcsc.ErrInvalidValue)
	}
	rd := r.readerByName(name)
	if rd == nil {
		return fail(pcsc.ErrUnknownReader)
	}

	for _, c := range r.cards {
		if c.reader != name || c.removed {
			continue
		}
		if share == pcsc.ShareExclusive || c.share == pcsc.ShareExclusive {
			return fail(pcsc.ErrSharingViolation)
		}
	}

	protocol := pcsc.ProtocolUndefined
	switch {
	case share == pcsc.ShareDirect:
	case rd.atr == nil:
		return fail(pcsc.ErrNoSmartcard)
	case preferred&pcsc.ProtocolT1 != 0:
		protocol = pcsc.ProtocolT1
	case preferred&pcsc.ProtocolT0 != 0:
		protocol = pcsc.ProtocolT0
	default:
		return fail(pcsc.ErrProtoMismatch)
	}

	card := r.newHandle()
	r.cards[card] = &cardConn{handle: card, context: h, reader: name, share: share, protocol: protocol}
	r.notify()
	return pcsc.Result(pcsc.Success, card, protocol), nil
}

// lookupCard validates a card handle; callers hold reg.mu.
func (d *Daemon) lookupCard(h pcsc.Handle) (*cardConn, pcsc.ReturnCode) {
	c, ok := d.reg.cards[h]
	if !ok {
		return nil, pcsc.ErrInvalidHandle
	}
	if c.removed {
		return c, pcsc.WarnRemovedCard
	}
	return c, pcsc.Success
}

func (d *Daemon) disconnect(_ context.Context, call pcsc.RemoteCall) ([]interface{}, error) {
	var h pcsc.Handle
	disposition := pcsc.LeaveCard
	if err := call.Args(&h, &disposition); err != nil {
		return nil, err
	}
	if disposition > pcsc.EjectCard {
		return fail(pcsc.ErrInvalidValue)
	}

	r := d.reg
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.cards[h]
	if !ok {
		return fail(pcsc.ErrInvalidHandle)
	}
	delete(r.cards, h)
	if !c.removed && disposition != pcsc.LeaveCard {
		if rd := r.readerByName(c.reader); rd != nil {
			rd.eventCount++
		}
	}
	r.notify()
	return pcsc.Result(pcsc.Success), nil
}

func (d *Daemon) transmit(_ context.Context, call pcsc.RemoteCall) ([]interface{}, error) {
	var (
		h    pcsc.Handle
		pci  pcsc.IORequest
		data pcsc.Bytes
	)
	if err := call.Args(&h, &pci, &data); err != nil {
		return nil, err
	}

	r := d.reg
	r.mu.Lock()
	defer r.mu.Unlock()

	c, code := d.lookupCard(h)
	if code != pcsc.Success {
		return fail(code)
	}
	if c.protocol == pcsc.ProtocolUndefined || pci.Protocol != c.protocol {
		return fail(pcsc.ErrProtoMismatch)
	}
	return pcsc.Result(pcsc.Success, pcsc.IORequest{Protocol: c.protocol}, respond(data)), nil
}

// respond is the simulated card's APDU handler: every well-formed command
// succeeds with no data.
func respond(apdu pcsc.Bytes) pcsc.Bytes {
	if len(apdu) < 4 {
		return pcsc.Bytes{0x67, 0x00}
	}
	return pcsc.Bytes{0x90, 0x00}
}

func (d *Daemon) control(_ context.Context, call pcsc.RemoteCall) ([]interface{}, error) {
	var h pcsc.Handle
	if err := call.Args(&h); err != nil {
		return nil, err
	}

	r := d.reg
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, code := d.lookupCard(h); code != pcsc.Success {
		return fail(code)
	}
	return fail(pcsc.ErrUnsupportedFeature)
}

func (d *Daemon) getAttrib(_ context.Context, call pcsc.RemoteCall) ([]interface{}, error) {
	var (
		h    pcsc.Handle
		attr uint32
	)
	if err := call.Args(&h, &attr); err != nil {
		return nil, err
	}

	r := d.reg
	r.mu.Lock()
	defer r.mu.Unlock()

	c, code := d.lookupCard(h)
	if code != pcsc.Success {
		return fail(code)
	}
	if attr != pcsc.AttrAtrString {
		return fail(pcsc.ErrUnsupportedFeature)
	}
	rd := r.readerByName(c.reader)
	if rd == nil || rd.atr == nil {
		return fail(pcsc.ErrNoSmartcard)
	}
	return pcsc.Result(pcsc.Success, pcsc.Bytes(rd.atr)), nil
}

func (d *Daemon) setAttrib(_ context.Context, call pcsc.RemoteCall) ([]interface{}, error) {
	var h pcsc.Handle
	if err := call.Args(&h); err != nil {
		return nil, err
	}

	r := d.reg
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, code := d.lookupCard(h); code != pcsc.Success {
		return fail(code)
	}
	return fail(pcsc.ErrUnsupportedFeature)
}

func (d *Daemon) status(_ context.Context, call pcsc.RemoteCall) ([]interface{}, error) {
	var h pcsc.Handle
	if err := call.Args(&h); err != nil {
		return nil, err
	}

	r := d.reg
	r.mu.Lock()
	defer r.mu.Unlock()

	c, code := d.lookupCard(h)
	if code != pcsc.Success {
		return fail(code)
	}
	rd := r.readerByName(c.reader)
	if rd == nil || rd.atr == nil {
		return fail(pcsc.WarnRemovedCard)
	}
	state := pcsc.CardPresent | pcsc.CardPowered
	if c.protocol != pcsc.ProtocolUndefined {
		state |= pcsc.CardSpecific
	}
	return pcsc.Result(pcsc.Success, c.reader, state, c.protocol, pcsc.Bytes(rd.atr)), nil
}

func (d *Daemon) beginTransaction(_ context.Context, call pcsc.RemoteCall) ([]interface{}, error) {
	var h pcsc.Handle
	if err := call.Args(&h); err != nil {
		return nil, err
	}

	r := d.reg
	r.mu.Lock()
	defer r.mu.Unlock()

	c, code := d.lookupCard(h)
	if code != pcsc.Success {
		return fail(code)
	}
	c.transaction = true
	return pcsc.Result(pcsc.Success), nil
}

func (d *Daemon) endTransaction(_ context.Context, call pcsc.RemoteCall) ([]interface{}, error) {
	var h pcsc.Handle
	disposition := pcsc.LeaveCard
	if err := call.Args(&h, &disposition); err != nil {
		return nil, err
	}

	r := d.reg
	r.mu.Lock()
	defer r.mu.Unlock()

	c, code := d.lookupCard(h)
	if code != pcsc.Success {
		return fail(code)
	}
	if !c.transaction {
		return fail(pcsc.ErrNotTransacted)
	}
	c.transaction = false
	return pcsc.Result(pcsc.Success), nil
}

// call dispatches one remote call.
func (d *Daemon) call(ctx context.Context, call pcsc.RemoteCall) ([]interface{}, error) {
	fn, ok := d.functions()[call.FunctionName]
	if !ok {
		return nil, fmt.Errorf("unknown function %q", call.FunctionName)
	}
	return fn(ctx, call)
}
