package pcsc

// Reader state bits (dwCurrentState / dwEventState). The upper 16 bits carry
// the reader's event counter.
const (
	StateUnaware     uint32 = 0x0000
	StateIgnore      uint32 = 0x0001
	StateChanged     uint32 = 0x0002
	StateUnknown     uint32 = 0x0004
	StateUnavailable uint32 = 0x0008
	StateEmpty       uint32 = 0x0010
	StatePresent     uint32 = 0x0020
	StateAtrMatch    uint32 = 0x0040
	StateExclusive   uint32 = 0x0080
	StateInUse       uint32 = 0x0100
	StateMute        uint32 = 0x0200
	StateUnpowered   uint32 = 0x0400

	stateFlagMask uint32 = 0xFFFF
)

// EventCount extracts the event counter from a state word.
func EventCount(state uint32) uint32 { return state >> 16 }

// WithEventCount stores count in the upper bits of state.
func WithEventCount(state, count uint32) uint32 {
	return state&stateFlagMask | count<<16
}

// Protocol bits.
const (
	ProtocolUndefined uint32 = 0x0000
	ProtocolT0        uint32 = 0x0001
	ProtocolT1        uint32 = 0x0002
	ProtocolRaw       uint32 = 0x0004
)

// Share modes.
const (
	ShareExclusive uint32 = 1
	ShareShared    uint32 = 2
	ShareDirect    uint32 = 3
)

// Card dispositions.
const (
	LeaveCard   uint32 = 0
	ResetCard   uint32 = 1
	UnpowerCard uint32 = 2
	EjectCard   uint32 = 3
)

// Card states reported by SCardStatus.
const (
	CardUnknown    uint32 = 0x0001
	CardAbsent     uint32 = 0x0002
	CardPresent    uint32 = 0x0004
	CardSwallowed  uint32 = 0x0008
	CardPowered    uint32 = 0x0010
	CardNegotiable uint32 = 0x0020
	CardSpecific   uint32 = 0x0040
)

const (
	// Infinite is the GetStatusChange timeout that never expires.
	Infinite uint32 = 0xFFFFFFFF
	// ScopeSystem is the only context scope a client may request.
	ScopeSystem uint32 = 2
	// AttrAtrString identifies the ATR attribute for SCardGetAttrib.
	AttrAtrString uint32 = 0x00090303
	// PnPNotification is the pseudo reader that reports reader arrival and
	// removal through GetStatusChange.
	PnPNotification = `\\?PnP?\Notification`
)

// ReaderStateFlags is the caller-facing form of a state word.
type ReaderStateFlags struct {
	Unaware     bool `json:"unaware,omitempty"`
	Ignore      bool `json:"ignore,omitempty"`
	Changed     bool `json:"changed,omitempty"`
	Unknown     bool `json:"unknown,omitempty"`
	Unavailable bool `json:"unavailable,omitempty"`
	Empty       bool `json:"empty,omitempty"`
	Present     bool `json:"present,omitempty"`
	Exclusive   bool `json:"exclusive,omitempty"`
	InUse       bool `json:"inuse,omitempty"`
	Mute        bool `json:"mute,omitempty"`
	Unpowered   bool `json:"unpowered,omitempty"`
}

// FlagsFromState decodes the flag bits of a state word. ATRMATCH has no
// caller-facing flag and is dropped.
func FlagsFromState(state uint32) ReaderStateFlags {
	return ReaderStateFlags{
		Unaware:     state&stateFlagMask == StateUnaware,
		Ignore:      state&StateIgnore != 0,
		Changed:     state&StateChanged != 0,
		Unknown:     state&StateUnknown != 0,
		Unavailable: state&StateUnavailable != 0,
		Empty:       state&StateEmpty != 0,
		Present:     state&StatePresent != 0,
		Exclusive:   state&StateExclusive != 0,
		InUse:       state&StateInUse != 0,
		Mute:        state&StateMute != 0,
		Unpowered:   state&StateUnpowered != 0,
	}
}

// State encodes the flags as a state word without an event count.
func (f ReaderStateFlags) State() uint32 {
	var s uint32
	set := func(on bool, bit uint32) {
		if on {
			s |= bit
		}
	}
	set(f.Ignore, StateIgnore)
	set(f.Changed, StateChanged)
	set(f.Unknown, StateUnknown)
	set(f.Unavailable, StateUnavailable)
	set(f.Empty, StateEmpty)
	set(f.Present, StatePresent)
	set(f.Exclusive, StateExclusive)
	set(f.InUse, StateInUse)
	set(f.Mute, StateMute)
	set(f.Unpowered, StateUnpowered)
	return s
}

// Protocols is a caller-facing protocol set.
type Protocols struct {
	T0  bool `json:"t0,omitempty"`
	T1  bool `json:"t1,omitempty"`
	Raw bool `json:"raw,omitempty"`
}

// Mask encodes the set as protocol bits.
func (p Protocols) Mask() uint32 {
	var m uint32
	if p.T0 {
		m |= ProtocolT0
	}
	if p.T1 {
		m |= ProtocolT1
	}
	if p.Raw {
		m |= ProtocolRaw
	}
	return m
}

// Protocol is a single negotiated protocol.
type Protocol string

const (
	ProtocolNameUndefined Protocol = "UNDEFINED"
	ProtocolNameT0        Protocol = "T0"
	ProtocolNameT1        Protocol = "T1"
	ProtocolNameRaw       Protocol = "RAW"
)

// ProtocolFromMask names the protocol bit in mask.
func ProtocolFromMask(mask uint32) Protocol {
	switch mask {
	case ProtocolT0:
		return ProtocolNameT0
	case ProtocolT1:
		return ProtocolNameT1
	case ProtocolRaw:
		return ProtocolNameRaw
	default:
		return ProtocolNameUndefined
	}
}

// Mask returns the protocol bit for p.
func (p Protocol) Mask() uint32 {
	switch p {
	case ProtocolNameT0:
		return ProtocolT0
	case ProtocolNameT1:
		return ProtocolT1
	case ProtocolNameRaw:
		return ProtocolRaw
	default:
		return ProtocolUndefined
	}
}

// ShareMode is the caller-facing share mode.
type ShareMode string

const (
	ShareModeShared    ShareMode = "SHARED"
	ShareModeExclusive ShareMode = "EXCLUSIVE"
	ShareModeDirect    ShareMode = "DIRECT"
)

// Value returns the native share mode, or false for an unknown name.
func (m ShareMode) Value() (uint32, bool) {
	switch m {
	case ShareModeShared:
		return ShareShared, true
	case ShareModeExclusive:
		return ShareExclusive, true
	case ShareModeDirect:
		return ShareDirect, true
	default:
		return 0, false
	}
}

// Disposition is the caller-facing card disposition.
type Disposition string

const (
	DispositionLeave   Disposition = "LEAVE_CARD"
	DispositionReset   Disposition = "RESET_CARD"
	DispositionUnpower Disposition = "UNPOWER_CARD"
	DispositionEject   Disposition = "EJECT_CARD"
)

// Value returns the native disposition, or false for an unknown name.
func (d Disposition) Value() (uint32, bool) {
	switch d {
	case DispositionLeave:
		return LeaveCard, true
	case DispositionReset:
		return ResetCard, true
	case DispositionUnpower:
		return UnpowerCard, true
	case DispositionEject:
		return EjectCard, true
	default:
		return 0, false
	}
}

// ConnectionState is the caller-facing card state from SCardStatus.
type ConnectionState string

const (
	ConnectionAbsent     ConnectionState = "ABSENT"
	ConnectionPresent    ConnectionState = "PRESENT"
	ConnectionSwallowed  ConnectionState = "SWALLOWED"
	ConnectionPowered    ConnectionState = "POWERED"
	ConnectionNegotiable ConnectionState = "NEGOTIABLE"
	ConnectionSpecific   ConnectionState = "SPECIFIC"
)

// ConnectionStateFrom picks the most advanced state bit in state.
func ConnectionStateFrom(state uint32) ConnectionState {
	switch {
	case state&CardSpecific != 0:
		return ConnectionSpecific
	case state&CardNegotiable != 0:
		return ConnectionNegotiable
	case state&CardPowered != 0:
		return ConnectionPowered
	case state&CardSwallowed != 0:
		return ConnectionSwallowed
	case state&CardPresent != 0:
		return ConnectionPresent
	default:
		return ConnectionAbsent
	}
}

// Timeout is the caller-facing GetStatusChange timeout. A nil Milliseconds
// means wait forever.
type Timeout struct {
	Milliseconds *uint32 `json:"milliseconds,omitempty"`
}

// Value returns the native timeout.
func (t Timeout) Value() uint32 {
	if t.Milliseconds == nil {
		return Infinite
	}
	return *t.Milliseconds
}
