package protocol

import (
	"context"

	"go.opentelemetry.io/otel/trace"

	"github.com/openfroyo/c2fleet/pkg/model"
	"github.com/openfroyo/c2fleet/pkg/telemetry"
)

// Ack results recorded in the acknowledgement metric.
const (
	ackDone     = "done"
	ackNotFound = "not_found"
	ackFailed   = "failed"
	ackInvalid  = "invalid"
)

// ProcessOperationAck marks the acknowledged operation DONE, whatever its
// prior state. Failures are logged and never returned to the caller.
func (s *Service) ProcessOperationAck(ctx context.Context, ack *model.C2OperationAck) {
	var opID string
	if ack != nil {
		opID = ack.OperationID
	}

	ctx, span := s.tracer.Start(ctx, "protocol.ProcessOperationAck",
		trace.WithAttributes(telemetry.AttrOperationID.String(opID)))
	defer span.End()

	op, err := s.fleet.UpdateOperationState(ctx, opID, model.OperationStateDone)
	if err != nil {
		result := ackFailed
		switch {
		case model.IsNotFound(err):
			result = ackNotFound
		case model.IsInvalidArgument(err):
			result = ackInvalid
		}
		s.metrics.RecordAck(result)
		telemetry.RecordError(span, err)
		s.logger.Warn().Err(err).Str("operation_id", opID).Str("result", result).Msg("Failed to acknowledge operation")
		return
	}

	s.metrics.RecordAck(ackDone)
	telemetry.RecordSuccess(span)
	s.publish(telemetry.Event{
		Type:      telemetry.EventTypeOperationAcknowledged,
		AgentID:   op.TargetAgentIdentifier,
		SubjectID: op.Identifier,
		Message:   "operation acknowledged",
	})
	s.logger.Debug().Str("operation_id", opID).Msg("Operation acknowledged")
}
