package provider

import (
	"context"

	"github.com/GriffinCanCode/SmartCardConnector/backend/internal/pcsc"
)

// dispatch runs the operation for e. Each operation reports exactly once
// and returns the code it reported.
func (p *Provider) dispatch(ctx context.Context, e Event) (pcsc.ResultCode, bool) {
	switch e := e.(type) {
	case EstablishContextRequested:
		return p.establishContext(ctx, e), true
	case ReleaseContextRequested:
		return p.releaseContext(ctx, e), true
	case ListReadersRequested:
		return p.listReaders(ctx, e), true
	case GetStatusChangeRequested:
		return p.getStatusChange(ctx, e), true
	case CancelRequested:
		return p.cancel(ctx, e), true
	case ConnectRequested:
		return p.connect(ctx, e), true
	case DisconnectRequested:
		return p.disconnect(ctx, e), true
	case TransmitRequested:
		return p.transmit(ctx, e), true
	case ControlRequested:
		return p.control(ctx, e), true
	case GetAttribRequested:
		return p.getAttrib(ctx, e), true
	case SetAttribRequested:
		return p.setAttrib(ctx, e), true
	case StatusRequested:
		return p.status(ctx, e), true
	case BeginTransactionRequested:
		return p.beginTransaction(ctx, e), true
	case EndTransactionRequested:
		return p.endTransaction(ctx, e), true
	default:
		return "", false
	}
}

func args(v ...interface{}) []interface{} { return v }

func (p *Provider) establishContext(ctx context.Context, e EstablishContextRequested) pcsc.ResultCode {
	var h pcsc.Handle
	code := p.invokeLingering(ctx, pcsc.FnEstablishContext, args(pcsc.ScopeSystem, nil, nil), &h)
	if code == pcsc.ResultSuccess {
		// held contexts are released after every request reported
		p.addContext(h)
		if isClosed(p.done) {
			code = pcsc.ResultNoService
		}
	}
	if code != pcsc.ResultSuccess {
		h = 0
	}
	p.reporter.ReportEstablishContextResult(e.RequestID, h, code)
	return code
}

func (p *Provider) releaseContext(ctx context.Context, e ReleaseContextRequested) pcsc.ResultCode {
	code := p.usable(e.Context)
	if code == pcsc.ResultSuccess {
		code = p.invoke(ctx, pcsc.FnReleaseContext, args(e.Context))
		if code == pcsc.ResultSuccess {
			p.removeContext(e.Context)
		}
	}
	p.reporter.ReportReleaseContextResult(e.RequestID, code)
	return code
}

func (p *Provider) listReaders(ctx context.Context, e ListReadersRequested) pcsc.ResultCode {
	readers := []string{}
	code := p.usable(e.Context)
	if code == pcsc.ResultSuccess {
		var out []string
		code = p.invoke(ctx, pcsc.FnListReaders, args(e.Context, nil), &out)
		if code == pcsc.ResultSuccess && out != nil {
			readers = out
		}
	}
	p.reporter.ReportListReadersResult(e.RequestID, readers, code)
	return code
}

func (p *Provider) getStatusChange(ctx context.Context, e GetStatusChangeRequested) pcsc.ResultCode {
	states := []pcsc.ReaderStateOut{}
	code := p.usable(e.Context)
	if code == pcsc.ResultSuccess {
		native := make([]pcsc.NativeReaderState, len(e.ReaderStates))
		for i, s := range e.ReaderStates {
			native[i] = s.Native()
		}

		var out []pcsc.NativeReaderState
		code = p.invoke(ctx, pcsc.FnGetStatusChange, args(e.Context, e.Timeout.Value(), native), &out)
		if code == pcsc.ResultSuccess {
			for _, n := range out {
				states = append(states, pcsc.ReaderStateOutFrom(n))
			}
		}
	}
	p.reporter.ReportGetStatusChangeResult(e.RequestID, states, code)
	return code
}

func (p *Provider) cancel(ctx context.Context, e CancelRequested) pcsc.ResultCode {
	code := p.usable(e.Context)
	if code == pcsc.ResultSuccess {
		code = p.invoke(ctx, pcsc.FnCancel, args(e.Context))
	}
	p.reporter.ReportCancelResult(e.RequestID, code)
	return code
}

func (p *Provider) connect(ctx context.Context, e ConnectRequested) pcsc.ResultCode {
	var (
		card     pcsc.Handle
		protocol pcsc.Protocol
	)
	code := p.usable(e.Context)
	if code == pcsc.ResultSuccess {
		code = pcsc.ResultInvalidValue
		if share, ok := e.ShareMode.Value(); ok {
			var mask uint32
			code = p.invoke(ctx, pcsc.FnConnect,
				args(e.Context, e.Reader, share, e.PreferredProtocols.Mask()), &card, &mask)
			if code == pcsc.ResultSuccess {
				protocol = pcsc.ProtocolFromMask(mask)
			} else {
				card = 0
			}
		}
	}
	p.reporter.ReportConnectResult(e.RequestID, card, protocol, code)
	return code
}

func (p *Provider) disconnect(ctx context.Context, e DisconnectRequested) pcsc.ResultCode {
	code := pcsc.ResultInvalidValue
	if disposition, ok := e.Disposition.Value(); ok {
		code = p.invoke(ctx, pcsc.FnDisconnect, args(e.Handle, disposition))
	}
	p.reporter.ReportDisconnectResult(e.RequestID, code)
	return code
}

func (p *Provider) transmit(ctx context.Context, e TransmitRequested) pcsc.ResultCode {
	var (
		pci  pcsc.IORequest
		data pcsc.Bytes
	)
	code := p.invoke(ctx, pcsc.FnTransmit,
		args(e.Handle, pcsc.IORequest{Protocol: e.Protocol.Mask()}, e.Data), &pci, &data)
	p.reporter.ReportTransmitResult(e.RequestID, orEmpty(code, data), code)
	return code
}

func (p *Provider) control(ctx context.Context, e ControlRequested) pcsc.ResultCode {
	var data pcsc.Bytes
	code := p.invoke(ctx, pcsc.FnControl, args(e.Handle, e.ControlCode, e.Data), &data)
	p.reporter.ReportControlResult(e.RequestID, orEmpty(code, data), code)
	return code
}

func (p *Provider) getAttrib(ctx context.Context, e GetAttribRequested) pcsc.ResultCode {
	var data pcsc.Bytes
	code := p.invoke(ctx, pcsc.FnGetAttrib, args(e.Handle, e.AttribID), &data)
	p.reporter.ReportGetAttribResult(e.RequestID, orEmpty(code, data), code)
	return code
}

func (p *Provider) setAttrib(ctx context.Context, e SetAttribRequested) pcsc.ResultCode {
	code := p.invoke(ctx, pcsc.FnSetAttrib, args(e.Handle, e.AttribID, e.Data))
	p.reporter.ReportSetAttribResult(e.RequestID, code)
	return code
}

func (p *Provider) status(ctx context.Context, e StatusRequested) pcsc.ResultCode {
	var (
		reader string
		state  uint32
		mask   uint32
		atr    pcsc.Bytes
	)
	code := p.invoke(ctx, pcsc.FnStatus, args(e.Handle), &reader, &state, &mask, &atr)

	var (
		connState pcsc.ConnectionState
		protocol  pcsc.Protocol
	)
	if code == pcsc.ResultSuccess {
		connState = pcsc.ConnectionStateFrom(state)
		protocol = pcsc.ProtocolFromMask(mask)
	} else {
		reader = ""
	}
	p.reporter.ReportStatusResult(e.RequestID, reader, connState, protocol, orEmpty(code, atr), code)
	return code
}

func (p *Provider) beginTransaction(ctx context.Context, e BeginTransactionRequested) pcsc.ResultCode {
	code := p.invoke(ctx, pcsc.FnBeginTransaction, args(e.Handle))
	p.reporter.ReportBeginTransactionResult(e.RequestID, code)
	return code
}

func (p *Provider) endTransaction(ctx context.Context, e EndTransactionRequested) pcsc.ResultCode {
	code := pcsc.ResultInvalidValue
	if disposition, ok := e.Disposition.Value(); ok {
		code = p.invoke(ctx, pcsc.FnEndTransaction, args(e.Handle, disposition))
	}
	p.reporter.ReportEndTransactionResult(e.RequestID, code)
	return code
}

// orEmpty returns data on success and an empty buffer otherwise
func orEmpty(code pcsc.ResultCode, data pcsc.Bytes) pcsc.Bytes {
	if code != pcsc.ResultSuccess || data == nil {
		return pcsc.Bytes{}
	}
	return data
}
