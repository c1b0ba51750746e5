package ordercache

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	kafkax "github.com/ariefcatur/go-shop-orders/internal/kafka"
	"github.com/ariefcatur/go-shop-orders/internal/orders"
	"github.com/ariefcatur/go-shop-orders/internal/redisx"
)

// Service keeps the order status cache warm from the order event stream, so
// status reads stay cheap even when the API instance that handled the write
// is not the one serving the read.
type Service struct {
	Redis       *redis.Client
	ServiceName string
	Log         *zap.Logger
}

// HandleOrderEvent is the consumer handler for both order topics.
func (s *Service) HandleOrderEvent(ctx context.Context, m kafkago.Message) error {
	var env orders.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		return err
	}

	var snap orders.StatusSnapshot
	switch env.EventType {
	case orders.EventOrderCreated:
		p, err := kafkax.UnwrapPayload[orders.OrderCreatedPayload](env.Payload)
		if err != nil {
			return err
		}
		snap = orders.StatusSnapshot{Status: orders.StatusPending, UserID: p.UserID}
	case orders.EventOrderCancelled:
		p, err := kafkax.UnwrapPayload[orders.OrderCancelledPayload](env.Payload)
		if err != nil {
			return err
		}
		snap = orders.StatusSnapshot{Status: orders.StatusCancelled, UserID: p.UserID}
	default:
		return nil // ignore
	}

	// dedup on event_id; replays just refresh the same key
	dkey := fmt.Sprintf(redisx.KeyDedup, s.ServiceName, env.EventID)
	if exists, _ := redisx.Exists(ctx, s.Redis, dkey); exists {
		return nil
	}
	_ = s.Redis.Set(ctx, dkey, "1", redisx.TTLDedup).Err()

	key := fmt.Sprintf(redisx.KeyOrderStatus, env.CorrelationID)
	if err := s.Redis.Set(ctx, key, kafkax.MustMarshal(snap), redisx.TTLStatusCache).Err(); err != nil {
		return err
	}
	s.Log.Debug("status cache updated",
		zap.String("order_id", env.CorrelationID),
		zap.String("status", string(snap.Status)))
	return nil
}
