package consumer

import (
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/pasargadprints/webhook-svc/internal/logger"
)

// EventHandler is the interface that consumers must implement to
// handle queue messages
type EventHandler interface {
	HandleEvent(body []byte) error
}

// ProcessMessage runs a single delivery through the handler and
// settles it: ACK on success, NACK without requeue on failure. Failed
// retry messages are not requeued because the dispatcher will schedule
// the event again from the database when it is next due.
func ProcessMessage(queue string, msg amqp.Delivery, handler EventHandler) {
	logger.Debug("Received message from queue",
		zap.String("queue", queue),
		zap.Uint64("delivery_tag", msg.DeliveryTag),
	)

	if err := handler.HandleEvent(msg.Body); err != nil {
		logger.Error("Failed to process message from queue",
			zap.String("queue", queue),
			zap.Uint64("delivery_tag", msg.DeliveryTag),
			zap.Error(err),
		)
		rejectMessage(msg)
		return
	}

	if err := msg.Ack(false); err != nil {
		logger.Error("Failed to ack message from queue",
			zap.String("queue", queue),
			zap.Uint64("delivery_tag", msg.DeliveryTag),
			zap.Error(err),
		)
		rejectMessage(msg)
		return
	}
}

func rejectMessage(msg amqp.Delivery) {
	if err := msg.Nack(false, false); err != nil {
		logger.Error("Failed to nack a message",
			zap.Uint64("delivery_tag", msg.DeliveryTag),
			zap.Error(err),
		)
	}
}
