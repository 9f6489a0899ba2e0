// Package audit emits security events to Kafka for downstream consumers.
// Emission is best effort: a broker outage never blocks or fails the request
// that produced the event.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"eventgate/internal/client"
	"eventgate/internal/util"
)

// Event kinds published to the security topic.
const (
	KindOTPRequested     = "otp.requested"
	KindOTPDeliveryFail  = "otp.delivery_failed"
	KindOTPVerified      = "otp.verified"
	KindOTPRejected      = "otp.rejected"
	KindRateLimited      = "rate.limited"
	KindSuspended        = "identity.suspended"
	KindSuspensionLifted = "identity.suspension_lifted"
	KindPINVerified      = "pin.verified"
	KindPINRejected      = "pin.rejected"
	KindSessionRejected  = "session.rejected"
)

// SecurityEvent is the record published for each notable authentication
// outcome. Identities are hashed before they leave the process.
type SecurityEvent struct {
	Kind         string    `json:"kind"`
	IdentityHash string    `json:"identity_hash,omitempty"`
	Origin       string    `json:"origin,omitempty"`
	EventID      string    `json:"event_id,omitempty"`
	Reason       string    `json:"reason,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// HashIdentity produces the stable digest used in place of raw identities.
func HashIdentity(identity string) string {
	if identity == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(identity))
	return hex.EncodeToString(sum[:16])
}

// Emitter publishes security events.
type Emitter interface {
	Emit(event SecurityEvent)
}

// KafkaEmitter publishes events to the configured security topic. Each event
// is written from its own goroutine with a short deadline; failures are
// logged and dropped.
type KafkaEmitter struct {
	producer *client.KafkaProducer
	topic    string
}

func NewKafkaEmitter(producer *client.KafkaProducer, topic string) *KafkaEmitter {
	return &KafkaEmitter{
		producer: producer,
		topic:    topic,
	}
}

func (e *KafkaEmitter) Emit(event SecurityEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		util.Error("failed to marshal security event", zap.Error(err))
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		err := e.producer.ProduceMessage(ctx, e.topic, []byte(event.Kind), payload, nil)
		if err != nil {
			util.Warn("failed to publish security event",
				zap.String("kind", event.Kind),
				zap.Error(err),
			)
		}
	}()
}

// NopEmitter discards events. Used when Kafka is disabled and in tests.
type NopEmitter struct{}

func (NopEmitter) Emit(SecurityEvent) {}
