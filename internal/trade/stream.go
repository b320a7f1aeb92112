package trade

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vaulted-markets/orchestrator/pkg/logger"
)

// priceEvent is one message on the liquidity service's price stream.
type priceEvent struct {
	PoolID string  `json:"poolId"`
	Price  float64 `json:"price"`
}

// PriceStream subscribes to the liquidity service's price feed and drops
// cached quotes for any pool whose price moved.
type PriceStream struct {
	url     string
	cache   QuoteCache
	backoff time.Duration
	log     *logger.Logger
}

// NewPriceStream creates a stream against wsURL.
func NewPriceStream(wsURL string, cache QuoteCache, log *logger.Logger) *PriceStream {
	if log == nil {
		log = logger.NewDefault("price-stream")
	}
	return &PriceStream{
		url:     wsURL,
		cache:   cache,
		backoff: 2 * time.Second,
		log:     log,
	}
}

// Run reads the stream until ctx is cancelled, reconnecting on failure.
func (s *PriceStream) Run(ctx context.Context) error {
	for {
		if err := s.consume(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.log.WithError(err).Warn("price stream disconnected, reconnecting")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.backoff):
		}
	}
}

func (s *PriceStream) consume(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	// Unblock ReadMessage when the context ends.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var ev priceEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			s.log.WithError(err).Debug("malformed price event")
			continue
		}
		if ev.PoolID == "" {
			continue
		}

		s.cache.InvalidatePool(ctx, ev.PoolID)
		s.log.WithField("pool_id", ev.PoolID).Debug("cached quotes invalidated on price move")
	}
}
