package provider

import (
	"github.com/GriffinCanCode/SmartCardConnector/backend/internal/pcsc"
	"github.com/stretchr/testify/mock"
)

type mockReporter struct {
	mock.Mock
}

func (m *mockReporter) ReportEstablishContextResult(id RequestID, context pcsc.Handle, code pcsc.ResultCode) {
	m.Called(id, context, code)
}

func (m *mockReporter) ReportReleaseContextResult(id RequestID, code pcsc.ResultCode) {
	m.Called(id, code)
}

func (m *mockReporter) ReportListReadersResult(id RequestID, readers []string, code pcsc.ResultCode) {
	m.Called(id, readers, code)
}

func (m *mockReporter) ReportGetStatusChangeResult(id RequestID, states []pcsc.ReaderStateOut, code pcsc.ResultCode) {
	m.Called(id, states, code)
}

func (m *mockReporter) ReportCancelResult(id RequestID, code pcsc.ResultCode) {
	m.Called(id, code)
}

func (m *mockReporter) ReportConnectResult(id RequestID, handle pcsc.Handle, protocol pcsc.Protocol, code pcsc.ResultCode) {
	m.Called(id, handle, protocol, code)
}

func (m *mockReporter) ReportDisconnectResult(id RequestID, code pcsc.ResultCode) {
	m.Called(id, code)
}

func (m *mockReporter) ReportTransmitResult(id RequestID, data pcsc.Bytes, code pcsc.ResultCode) {
	m.Called(id, data, code)
}

func (m *mockReporter) ReportControlResult(id RequestID, data pcsc.Bytes, code pcsc.ResultCode) {
	m.Called(id, data, code)
}

func (m *mockReporter) ReportGetAttribResult(id RequestID, data pcsc.Bytes, code pcsc.ResultCode) {
	m.Called(id, data, code)
}

func (m *mockReporter) ReportSetAttribResult(id RequestID, code pcsc.ResultCode) {
	m.Called(id, code)
}

func (m *mockReporter) ReportStatusResult(id RequestID, reader string, state pcsc.ConnectionState, protocol pcsc.Protocol, atr pcsc.Bytes, code pcsc.ResultCode) {
	m.Called(id, reader, state, protocol, atr, code)
}

func (m *mockReporter) ReportBeginTransactionResult(id RequestID, code pcsc.ResultCode) {
	m.Called(id, code)
}

func (m *mockReporter) ReportEndTransactionResult(id RequestID, code pcsc.ResultCode) {
	m.Called(id, code)
}
