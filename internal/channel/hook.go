package channel

// VerdictKind tags what a hook decided to do with a message.
type VerdictKind int

const (
	// VerdictPass forwards the message unchanged to the next hook.
	VerdictPass VerdictKind = iota
	// VerdictReplace forwards a substituted message to the next hook.
	VerdictReplace
	// VerdictConsume stops propagation; later hooks, the destination
	// service and the default receiver never see the message.
	VerdictConsume
)

// String returns the string representation of a VerdictKind
func (k VerdictKind) String() string {
	switch k {
	case VerdictPass:
		return "pass"
	case VerdictReplace:
		return "replace"
	case VerdictConsume:
		return "consume"
	default:
		return "unknown"
	}
}

// Verdict is the tagged result of Hook.Intercept. Message is only read for
// VerdictReplace.
type Verdict struct {
	Kind    VerdictKind
	Message Message
}

// Pass lets the message continue unchanged.
func Pass() Verdict { return Verdict{Kind: VerdictPass} }

// Replace continues propagation with msg in place of the original.
func Replace(msg Message) Verdict { return Verdict{Kind: VerdictReplace, Message: msg} }

// Consume marks the message as handled.
func Consume() Verdict { return Verdict{Kind: VerdictConsume} }

// Sender is the outbound half of a channel.
type Sender interface {
	Send(msg Message) error
}

// Hook intercepts inbound messages before they reach their destination
// service. reply sends back over the same channel, which lets a hook answer
// a request on behalf of real hardware.
//
// Hooks run on the channel's reader goroutine and must not block.
type Hook interface {
	Intercept(msg Message, reply Sender) Verdict
}

// HookFunc adapts a function to the Hook interface.
type HookFunc func(msg Message, reply Sender) Verdict

// Intercept calls f.
func (f HookFunc) Intercept(msg Message, reply Sender) Verdict {
	return f(msg, reply)
}
