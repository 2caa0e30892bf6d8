package provider

import "github.com/GriffinCanCode/SmartCardConnector/backend/internal/pcsc"

// Reporter receives the outcome of each request. Output arguments are
// meaningful only when code is SUCCESS; on failure they hold zero values
// and empty collections.
type Reporter interface {
	ReportEstablishContextResult(id RequestID, context pcsc.Handle, code pcsc.ResultCode)
	ReportReleaseContextResult(id RequestID, code pcsc.ResultCode)
	ReportListReadersResult(id RequestID, readers []string, code pcsc.ResultCode)
	ReportGetStatusChangeResult(id RequestID, states []pcsc.ReaderStateOut, code pcsc.ResultCode)
	ReportCancelResult(id RequestID, code pcsc.ResultCode)
	ReportConnectResult(id RequestID, handle pcsc.Handle, protocol pcsc.Protocol, code pcsc.ResultCode)
	ReportDisconnectResult(id RequestID, code pcsc.ResultCode)
	ReportTransmitResult(id RequestID, data pcsc.Bytes, code pcsc.ResultCode)
	ReportControlResult(id RequestID, data pcsc.Bytes, code pcsc.ResultCode)
	ReportGetAttribResult(id RequestID, data pcsc.Bytes, code pcsc.ResultCode)
	ReportSetAttribResult(id RequestID, code pcsc.ResultCode)
	ReportStatusResult(id RequestID, reader string, state pcsc.ConnectionState, protocol pcsc.Protocol, atr pcsc.Bytes, code pcsc.ResultCode)
	ReportBeginTransactionResult(id RequestID, code pcsc.ResultCode)
	ReportEndTransactionResult(id RequestID, code pcsc.ResultCode)
}
