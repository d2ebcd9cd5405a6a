package realtime

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/engage-analytics/internal/cache"
	"github.com/ignite/engage-analytics/internal/recorder"
)

// Channel is the Redis pub/sub channel live event notifications go out on.
const Channel = "email_events"

// Invalidator is the long-lived consumer of the recorder's event stream. For
// each event it drops the cache entries the event could affect, then emits a
// best-effort notification for anyone listening (dashboard refresh triggers).
// It is the only writer to cache state outside the engine's own get/put.
type Invalidator struct {
	events <-chan recorder.RecordedEvent
	cache  *cache.Cache
	redis  *redis.Client

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewInvalidator wires the event stream to the cache. redisClient may be nil;
// notifications are then skipped and only invalidation runs.
func NewInvalidator(events <-chan recorder.RecordedEvent, c *cache.Cache, redisClient *redis.Client) *Invalidator {
	return &Invalidator{events: events, cache: c, redis: redisClient}
}

// Start launches the consumer goroutine.
func (inv *Invalidator) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	inv.cancel = cancel
	inv.wg.Add(1)
	go func() {
		defer inv.wg.Done()
		log.Println("[Invalidator] started")
		for {
			select {
			case <-ctx.Done():
				log.Println("[Invalidator] stopped")
				return
			case evt, ok := <-inv.events:
				if !ok {
					log.Println("[Invalidator] event stream closed")
					return
				}
				inv.Handle(ctx, evt)
			}
		}
	}()
}

// Stop shuts the consumer down and waits for it to drain.
func (inv *Invalidator) Stop() {
	if inv.cancel != nil {
		inv.cancel()
	}
	inv.wg.Wait()
}

// Handle processes one recorded event: invalidate, then notify. Any single
// event can shift the global recommendation aggregate, so the intelligence
// key is always dropped alongside the realtime snapshot.
func (inv *Invalidator) Handle(ctx context.Context, evt recorder.RecordedEvent) {
	keys := []string{cache.KeyRealtimeMetrics, cache.KeyIntelligence}
	if evt.CampaignID != "" {
		keys = append(keys, cache.CampaignKey(evt.CampaignID))
	}
	if evt.ContactID != "" {
		keys = append(keys, cache.ContactKey(evt.ContactID))
	}
	inv.cache.Invalidate(keys...)

	inv.notify(ctx, evt)
}

// notify publishes the triggering event to the Redis channel. Fire and
// forget: delivery to zero or many listeners has no effect on correctness.
func (inv *Invalidator) notify(ctx context.Context, evt recorder.RecordedEvent) {
	if inv.redis == nil {
		return
	}
	body, err := json.Marshal(evt)
	if err != nil {
		log.Printf("[Invalidator] marshal notification: %v", err)
		return
	}

	pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := inv.redis.Publish(pubCtx, Channel, body).Err(); err != nil {
		log.Printf("[Invalidator] publish notification: %v", err)
	}
}
