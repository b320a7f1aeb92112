package app

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/vaulted-markets/orchestrator/internal/app/keystore"
	"github.com/vaulted-markets/orchestrator/internal/app/services/listings"
	poolsvc "github.com/vaulted-markets/orchestrator/internal/app/services/pools"
	registrysvc "github.com/vaulted-markets/orchestrator/internal/app/services/registry"
	requestsvc "github.com/vaulted-markets/orchestrator/internal/app/services/requests"
	"github.com/vaulted-markets/orchestrator/internal/app/system"
	"github.com/vaulted-markets/orchestrator/internal/content"
	"github.com/vaulted-markets/orchestrator/internal/ledger"
	"github.com/vaulted-markets/orchestrator/internal/reconcile"
	"github.com/vaulted-markets/orchestrator/internal/storage"
	"github.com/vaulted-markets/orchestrator/internal/storage/memory"
	"github.com/vaulted-markets/orchestrator/internal/trade"
	"github.com/vaulted-markets/orchestrator/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Sales    storage.SaleRequestStore
	Pools    storage.PoolStore
	Metadata storage.MetadataStore
	Requests storage.RequestStore
}

// Config carries the external endpoints and program identities.
type Config struct {
	RPCURL       string
	Program      string // base58 escrow program address
	NativeMint   string // base58 wrapped-native settlement mint
	Admins       []string
	MasterSecret string

	ContentPinURL     string
	ContentGatewayURL string
	ContentAPIKey     string

	LiquidityURL string
	RedisAddr    string

	SweepSchedule string
}

// Application ties the orchestrator's services together and manages their
// lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Ledger     *ledger.Client
	Builder    *ledger.Builder
	Keys       keystore.Keystore
	Listings   *listings.Service
	Pools      *poolsvc.Service
	Registry   *registrysvc.Service
	Requests   *requestsvc.Service
	Trade      *trade.Client
	Reconciler *reconcile.Reconciler
}

// New builds a fully initialised application with the provided stores.
func New(cfg Config, stores Stores, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}

	mem := memory.New()
	if stores.Sales == nil {
		stores.Sales = mem
	}
	if stores.Pools == nil {
		stores.Pools = mem
	}
	if stores.Metadata == nil {
		stores.Metadata = mem
	}
	if stores.Requests == nil {
		stores.Requests = mem
	}

	program, err := ledger.AddressFromBase58(cfg.Program)
	if err != nil {
		return nil, fmt.Errorf("program address: %w", err)
	}
	nativeMint, err := ledger.AddressFromBase58(cfg.NativeMint)
	if err != nil {
		return nil, fmt.Errorf("native mint address: %w", err)
	}
	bootstrap := make([]ledger.Address, 0, len(cfg.Admins))
	for _, raw := range cfg.Admins {
		addr, err := ledger.AddressFromBase58(raw)
		if err != nil {
			return nil, fmt.Errorf("admin address %q: %w", raw, err)
		}
		bootstrap = append(bootstrap, addr)
	}

	client, err := ledger.NewClient(ledger.Config{RPCURL: cfg.RPCURL})
	if err != nil {
		return nil, fmt.Errorf("ledger client: %w", err)
	}

	keys, err := keystore.NewDerived([]byte(cfg.MasterSecret))
	if err != nil {
		return nil, fmt.Errorf("keystore: %w", err)
	}

	// The registry doubles as the builder's admin gate; wiring order matters.
	registry := registrysvc.New(nil, client, bootstrap, log)
	builder := ledger.NewBuilder(client, ledger.BuilderConfig{
		Program:    program,
		NativeMint: nativeMint,
		Admins:     registry,
	}, log)
	registry.AttachBuilder(builder)

	var contentStore content.Store
	if cfg.ContentPinURL != "" {
		cs, err := content.NewClient(content.Config{
			PinURL:     cfg.ContentPinURL,
			GatewayURL: cfg.ContentGatewayURL,
			APIKey:     cfg.ContentAPIKey,
		})
		if err != nil {
			return nil, fmt.Errorf("content store: %w", err)
		}
		contentStore = cs
	}

	listingSvc := listings.New(stores.Sales, stores.Metadata, contentStore, builder, client, log)
	poolSvc := poolsvc.New(stores.Pools, log)
	requestSvc := requestsvc.New(stores.Requests, builder, client, log)

	reconciler := reconcile.New(reconcile.NewLedgerSource(client, builder), stores.Sales, stores.Metadata, log)

	var quoteCache trade.QuoteCache
	manager := system.NewManager()
	tradeCfg := trade.Config{BaseURL: cfg.LiquidityURL}
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		cache := trade.NewRedisQuoteCache(rdb, tradeCfg.Freshness, log)
		quoteCache = cache

		if cfg.LiquidityURL != "" {
			stream := trade.NewPriceStream(wsURL(cfg.LiquidityURL)+"/prices", cache, log)
			if err := manager.Register(newStreamService(stream)); err != nil {
				return nil, err
			}
		}
	}
	tradeClient := trade.NewClient(tradeCfg, client, stores.Pools, quoteCache, log)

	sweeper := reconcile.NewSweeper(reconciler, cfg.SweepSchedule, 2*time.Minute, log)
	if err := manager.Register(newSweepService(sweeper)); err != nil {
		return nil, err
	}

	return &Application{
		manager:    manager,
		log:        log,
		Ledger:     client,
		Builder:    builder,
		Keys:       keys,
		Listings:   listingSvc,
		Pools:      poolSvc,
		Registry:   registry,
		Requests:   requestSvc,
		Trade:      tradeClient,
		Reconciler: reconciler,
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered background services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all background services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}

func wsURL(httpURL string) string {
	switch {
	case len(httpURL) > 8 && httpURL[:8] == "https://":
		return "wss://" + httpURL[8:]
	case len(httpURL) > 7 && httpURL[:7] == "http://":
		return "ws://" + httpURL[7:]
	default:
		return httpURL
	}
}

// sweepService adapts the reconcile sweeper to the service lifecycle.
type sweepService struct {
	sweeper *reconcile.Sweeper
}

func newSweepService(s *reconcile.Sweeper) system.Service {
	return &sweepService{sweeper: s}
}

func (s *sweepService) Name() string                  { return "reconcile-sweep" }
func (s *sweepService) Start(_ context.Context) error { return s.sweeper.Start() }
func (s *sweepService) Stop(_ context.Context) error {
	s.sweeper.Stop()
	return nil
}

// streamService adapts the price stream to the service lifecycle.
type streamService struct {
	stream *trade.PriceStream
	cancel context.CancelFunc
}

func newStreamService(s *trade.PriceStream) system.Service {
	return &streamService{stream: s}
}

func (s *streamService) Name() string { return "price-stream" }

func (s *streamService) Start(_ context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go func() { _ = s.stream.Run(runCtx) }()
	return nil
}

func (s *streamService) Stop(_ context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}
	return nil
}
