package pcsc

import "fmt"

// ReturnCode is a native PC/SC return value (LONG in winscard.h).
type ReturnCode uint32

const (
	Success               ReturnCode = 0x00000000
	ErrInternalError      ReturnCode = 0x80100001
	ErrCancelled          ReturnCode = 0x80100002
	ErrInvalidHandle      ReturnCode = 0x80100003
	ErrInvalidParameter   ReturnCode = 0x80100004
	ErrNoMemory           ReturnCode = 0x80100006
	ErrInsufficientBuffer ReturnCode = 0x80100008
	ErrUnknownReader      ReturnCode = 0x80100009
	ErrTimeout            ReturnCode = 0x8010000A
	ErrSharingViolation   ReturnCode = 0x8010000B
	ErrNoSmartcard        ReturnCode = 0x8010000C
	ErrProtoMismatch      ReturnCode = 0x8010000F
	ErrNotReady           ReturnCode = 0x80100010
	ErrInvalidValue       ReturnCode = 0x80100011
	ErrSystemCancelled    ReturnCode = 0x80100012
	ErrCommError          ReturnCode = 0x80100013
	ErrUnknownCard        ReturnCode = 0x8010000D
	ErrNotTransacted      ReturnCode = 0x80100016
	ErrReaderUnavailable  ReturnCode = 0x80100017
	ErrShutdown           ReturnCode = 0x80100018
	ErrNoService          ReturnCode = 0x8010001D
	ErrServiceStopped     ReturnCode = 0x8010001E
	ErrUnexpected         ReturnCode = 0x8010001F
	ErrServerTooBusy      ReturnCode = 0x80100031
	ErrNoReadersAvailable ReturnCode = 0x8010002E
	ErrUnsupportedFeature ReturnCode = 0x80100022
	ErrUnknownError       ReturnCode = 0x80100014

	WarnUnsupportedCard  ReturnCode = 0x80100065
	WarnUnresponsiveCard ReturnCode = 0x80100066
	WarnUnpoweredCard    ReturnCode = 0x80100067
	WarnResetCard        ReturnCode = 0x80100068
	WarnRemovedCard      ReturnCode = 0x80100069
)

// ResultCode is the caller-facing outcome string carried by every report.
type ResultCode string

const (
	ResultSuccess             ResultCode = "SUCCESS"
	ResultRemovedCard         ResultCode = "REMOVED_CARD"
	ResultResetCard           ResultCode = "RESET_CARD"
	ResultUnpoweredCard       ResultCode = "UNPOWERED_CARD"
	ResultUnresponsiveCard    ResultCode = "UNRESPONSIVE_CARD"
	ResultUnsupportedCard     ResultCode = "UNSUPPORTED_CARD"
	ResultReaderUnavailable   ResultCode = "READER_UNAVAILABLE"
	ResultSharingViolation    ResultCode = "SHARING_VIOLATION"
	ResultNotTransacted       ResultCode = "NOT_TRANSACTED"
	ResultNoSmartcard         ResultCode = "NO_SMARTCARD"
	ResultProtoMismatch       ResultCode = "PROTO_MISMATCH"
	ResultSystemCancelled     ResultCode = "SYSTEM_CANCELLED"
	ResultNotReady            ResultCode = "NOT_READY"
	ResultCancelled           ResultCode = "CANCELLED"
	ResultInsufficientBuffer  ResultCode = "INSUFFICIENT_BUFFER"
	ResultInvalidHandle       ResultCode = "INVALID_HANDLE"
	ResultInvalidParameter    ResultCode = "INVALID_PARAMETER"
	ResultInvalidValue        ResultCode = "INVALID_VALUE"
	ResultNoMemory            ResultCode = "NO_MEMORY"
	ResultTimeout             ResultCode = "TIMEOUT"
	ResultUnknownReader       ResultCode = "UNKNOWN_READER"
	ResultUnsupportedFeature  ResultCode = "UNSUPPORTED_FEATURE"
	ResultNoReadersAvailable  ResultCode = "NO_READERS_AVAILABLE"
	ResultServiceStopped      ResultCode = "SERVICE_STOPPED"
	ResultNoService           ResultCode = "NO_SERVICE"
	ResultCommError           ResultCode = "COMM_ERROR"
	ResultInternalError       ResultCode = "INTERNAL_ERROR"
	ResultUnknownError        ResultCode = "UNKNOWN_ERROR"
	ResultServerTooBusy       ResultCode = "SERVER_TOO_BUSY"
	ResultUnexpected          ResultCode = "UNEXPECTED"
	ResultShutdown            ResultCode = "SHUTDOWN"
	ResultUnknown             ResultCode = "UNKNOWN"
)

var resultByCode = map[ReturnCode]ResultCode{
	Success:               ResultSuccess,
	WarnRemovedCard:       ResultRemovedCard,
	WarnResetCard:         ResultResetCard,
	WarnUnpoweredCard:     ResultUnpoweredCard,
	WarnUnresponsiveCard:  ResultUnresponsiveCard,
	WarnUnsupportedCard:   ResultUnsupportedCard,
	ErrReaderUnavailable:  ResultReaderUnavailable,
	ErrSharingViolation:   ResultSharingViolation,
	ErrNotTransacted:      ResultNotTransacted,
	ErrNoSmartcard:        ResultNoSmartcard,
	ErrProtoMismatch:      ResultProtoMismatch,
	ErrSystemCancelled:    ResultSystemCancelled,
	ErrNotReady:           ResultNotReady,
	ErrCancelled:          ResultCancelled,
	ErrInsufficientBuffer: ResultInsufficientBuffer,
	ErrInvalidHandle:      ResultInvalidHandle,
	ErrInvalidParameter:   ResultInvalidParameter,
	ErrInvalidValue:       ResultInvalidValue,
	ErrNoMemory:           ResultNoMemory,
	ErrTimeout:            ResultTimeout,
	ErrUnknownReader:      ResultUnknownReader,
	ErrUnsupportedFeature: ResultUnsupportedFeature,
	ErrNoReadersAvailable: ResultNoReadersAvailable,
	ErrServiceStopped:     ResultServiceStopped,
	ErrNoService:          ResultNoService,
	ErrCommError:          ResultCommError,
	ErrInternalError:      ResultInternalError,
	ErrUnknownError:       ResultUnknownError,
	ErrServerTooBusy:      ResultServerTooBusy,
	ErrUnexpected:         ResultUnexpected,
	ErrShutdown:           ResultShutdown,
}

// Result translates a native return code. Codes outside the vocabulary map
// to ResultUnknown.
func (c ReturnCode) Result() ResultCode {
	if r, ok := resultByCode[c]; ok {
		return r
	}
	return ResultUnknown
}

// String returns the code in the hex form PC/SC tooling prints
func (c ReturnCode) String() string {
	return fmt.Sprintf("0x%08X", uint32(c))
}

// Error lets a failing ReturnCode travel as an error value.
func (c ReturnCode) Error() string {
	return fmt.Sprintf("pcsc: %s (%s)", c.Result(), c.String())
}
