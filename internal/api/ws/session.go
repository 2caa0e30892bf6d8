package ws

import (
	"sync"
	"time"

	"github.com/GriffinCanCode/SmartCardConnector/backend/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/SmartCardConnector/backend/internal/pcsc"
	"github.com/GriffinCanCode/SmartCardConnector/backend/internal/provider"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// session is one websocket client. It is the provider's Reporter: every
// report becomes one text frame.
type session struct {
	conn         *websocket.Conn
	logger       *zap.Logger
	metrics      *monitoring.Metrics
	writeTimeout time.Duration

	writeMu sync.Mutex
}

func (s *session) send(function string, frame interface{}) error {
	data, err := codec.Marshal(frame)
	if err != nil {
		s.logger.Error("encode frame", zap.String("function", function), zap.Error(err))
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		s.logger.Debug("frame not delivered", zap.String("function", function), zap.Error(err))
		return err
	}
	s.metrics.RecordWSMessage("out", function)
	return nil
}

func (s *session) control(messageType int, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteControl(messageType, data, time.Now().Add(s.writeTimeout))
}

func (s *session) sendError(id provider.RequestID, message string) {
	_ = s.send(FunctionError, errorFrame(id, message))
}

func (s *session) report(function string, id provider.RequestID, code pcsc.ResultCode, fields map[string]interface{}) {
	_ = s.send(function, reportFrame(function, id, code, fields))
}

func (s *session) ReportEstablishContextResult(id provider.RequestID, context pcsc.Handle, code pcsc.ResultCode) {
	s.report("reportEstablishContextResult", id, code, map[string]interface{}{"sCardContext": context})
}

func (s *session) ReportReleaseContextResult(id provider.RequestID, code pcsc.ResultCode) {
	s.report("reportReleaseContextResult", id, code, nil)
}

func (s *session) ReportListReadersResult(id provider.RequestID, readers []string, code pcsc.ResultCode) {
	s.report("reportListReadersResult", id, code, map[string]interface{}{"readers": readers})
}

func (s *session) ReportGetStatusChangeResult(id provider.RequestID, states []pcsc.ReaderStateOut, code pcsc.ResultCode) {
	s.report("reportGetStatusChangeResult", id, code, map[string]interface{}{"readerStates": states})
}

func (s *session) ReportCancelResult(id provider.RequestID, code pcsc.ResultCode) {
	s.report("reportPlainResult", id, code, nil)
}

func (s *session) ReportConnectResult(id provider.RequestID, handle pcsc.Handle, protocol pcsc.Protocol, code pcsc.ResultCode) {
	fields := map[string]interface{}{"sCardHandle": handle}
	if protocol != "" {
		fields["activeProtocol"] = protocol
	}
	s.report("reportConnectResult", id, code, fields)
}

func (s *session) ReportDisconnectResult(id provider.RequestID, code pcsc.ResultCode) {
	s.report("reportPlainResult", id, code, nil)
}

func (s *session) ReportTransmitResult(id provider.RequestID, data pcsc.Bytes, code pcsc.ResultCode) {
	s.report("reportDataResult", id, code, map[string]interface{}{"data": data})
}

func (s *session) ReportControlResult(id provider.RequestID, data pcsc.Bytes, code pcsc.ResultCode) {
	s.report("reportDataResult", id, code, map[string]interface{}{"data": data})
}

func (s *session) ReportGetAttribResult(id provider.RequestID, data pcsc.Bytes, code pcsc.ResultCode) {
	s.report("reportDataResult", id, code, map[string]interface{}{"data": data})
}

func (s *session) ReportSetAttribResult(id provider.RequestID, code pcsc.ResultCode) {
	s.report("reportPlainResult", id, code, nil)
}

func (s *session) ReportStatusResult(id provider.RequestID, reader string, state pcsc.ConnectionState, protocol pcsc.Protocol, atr pcsc.Bytes, code pcsc.ResultCode) {
	fields := map[string]interface{}{"readerName": reader, "atr": atr}
	if state != "" {
		fields["state"] = state
	}
	if protocol != "" {
		fields["protocol"] = protocol
	}
	s.report("reportStatusResult", id, code, fields)
}

func (s *session) ReportBeginTransactionResult(id provider.RequestID, code pcsc.ResultCode) {
	s.report("reportPlainResult", id, code, nil)
}

func (s *session) ReportEndTransactionResult(id provider.RequestID, code pcsc.ResultCode) {
	s.report("reportPlainResult", id, code, nil)
}
