package provider

import "github.com/GriffinCanCode/SmartCardConnector/backend/internal/pcsc"

// RequestID is the caller's identifier for one request. Every accepted
// request gets exactly one report carrying the same id.
type RequestID int64

// Operation names, also used as metric and span labels
const (
	OpEstablishContext = "establishContext"
	OpReleaseContext   = "releaseContext"
	OpListReaders      = "listReaders"
	OpGetStatusChange  = "getStatusChange"
	OpCancel           = "cancel"
	OpConnect          = "connect"
	OpDisconnect       = "disconnect"
	OpTransmit         = "transmit"
	OpControl          = "control"
	OpGetAttrib        = "getAttrib"
	OpSetAttrib        = "setAttrib"
	OpStatus           = "status"
	OpBeginTransaction = "beginTransaction"
	OpEndTransaction   = "endTransaction"
)

// Event is one incoming request
type Event interface {
	Request() RequestID
	Operation() string
}

// Header carries the fields common to every event
type Header struct {
	RequestID RequestID `json:"requestId"`
}

func (h Header) Request() RequestID { return h.RequestID }

type EstablishContextRequested struct {
	Header
}

type ReleaseContextRequested struct {
	Header
	Context pcsc.Handle `json:"sCardContext"`
}

type ListReadersRequested struct {
	Header
	Context pcsc.Handle `json:"sCardContext"`
}

type GetStatusChangeRequested struct {
	Header
	Context      pcsc.Handle          `json:"sCardContext"`
	Timeout      pcsc.Timeout         `json:"timeout"`
	ReaderStates []pcsc.ReaderStateIn `json:"readerStates"`
}

type CancelRequested struct {
	Header
	Context pcsc.Handle `json:"sCardContext"`
}

type ConnectRequested struct {
	Header
	Context            pcsc.Handle    `json:"sCardContext"`
	Reader             string         `json:"reader"`
	ShareMode          pcsc.ShareMode `json:"shareMode"`
	PreferredProtocols pcsc.Protocols `json:"preferredProtocols"`
}

type DisconnectRequested struct {
	Header
	Handle      pcsc.Handle      `json:"sCardHandle"`
	Disposition pcsc.Disposition `json:"disposition"`
}

type TransmitRequested struct {
	Header
	Handle   pcsc.Handle   `json:"sCardHandle"`
	Protocol pcsc.Protocol `json:"protocol"`
	Data     pcsc.Bytes    `json:"data"`
}

type ControlRequested struct {
	Header
	Handle      pcsc.Handle `json:"sCardHandle"`
	ControlCode uint32      `json:"controlCode"`
	Data        pcsc.Bytes  `json:"data"`
}

type GetAttribRequested struct {
	Header
	Handle   pcsc.Handle `json:"sCardHandle"`
	AttribID uint32      `json:"attribId"`
}

type SetAttribRequested struct {
	Header
	Handle   pcsc.Handle `json:"sCardHandle"`
	AttribID uint32      `json:"attribId"`
	Data     pcsc.Bytes  `json:"data"`
}

type StatusRequested struct {
	Header
	Handle pcsc.Handle `json:"sCardHandle"`
}

type BeginTransactionRequested struct {
	Header
	Handle pcsc.Handle `json:"sCardHandle"`
}

type EndTransactionRequested struct {
	Header
	Handle      pcsc.Handle      `json:"sCardHandle"`
	Disposition pcsc.Disposition `json:"disposition"`
}

func (EstablishContextRequested) Operation() string { return OpEstablishContext }
func (ReleaseContextRequested) Operation() string   { return OpReleaseContext }
func (ListReadersRequested) Operation() string      { return OpListReaders }
func (GetStatusChangeRequested) Operation() string  { return OpGetStatusChange }
func (CancelRequested) Operation() string           { return OpCancel }
func (ConnectRequested) Operation() string          { return OpConnect }
func (DisconnectRequested) Operation() string       { return OpDisconnect }
func (TransmitRequested) Operation() string         { return OpTransmit }
func (ControlRequested) Operation() string          { return OpControl }
func (GetAttribRequested) Operation() string        { return OpGetAttrib }
func (SetAttribRequested) Operation() string        { return OpSetAttrib }
func (StatusRequested) Operation() string           { return OpStatus }
func (BeginTransactionRequested) Operation() string { return OpBeginTransaction }
func (EndTransactionRequested) Operation() string   { return OpEndTransaction }
