package service

import (
	"encoding/json"

	"creditcore/internal/model"
)

// newOutboxEvent 构造一条待投递事件，与业务写入同事务落库
func newOutboxEvent(topic, eventType, transactionID string, payload map[string]interface{}) *model.OutboxMessage {
	payloadBytes, _ := json.Marshal(payload)
	return &model.OutboxMessage{
		MessageKey: transactionID,
		EventType:  eventType,
		Topic:      topic,
		Payload:    string(payloadBytes),
		Status:     model.OutboxStatusPending,
	}
}
