package schedule

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"postbot/internal/content"
	"postbot/internal/eventbus"
	"postbot/internal/storage"
	kit "postbot/internal/transport"
	logx "postbot/pkg/logx"
)

// Config controls the scheduling engine.
type Config struct {
	// WarmUp is the delay before the first post after create/edit/recovery,
	// so a fresh schedule posts almost immediately instead of waiting a full
	// interval.
	WarmUp time.Duration
	// MinDelay floors every computed jittered delay to prevent runaway tight
	// posting loops when jitter exceeds the base interval.
	MinDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.WarmUp <= 0 {
		c.WarmUp = 10 * time.Second
	}
	if c.MinDelay <= 0 {
		c.MinDelay = time.Minute
	}
	return c
}

// Event types published on the bus by fire cycles.
const (
	EventPosted   = "schedule.posted"
	EventTornDown = "schedule.torn_down"
)

// PostedEvent reports a completed fire cycle that kept its cadence.
// Degraded means the cycle did not deliver clean generated content: either
// fallback text was posted, or the send itself failed transiently.
type PostedEvent struct {
	TenantID  int64
	ChannelID string
	Topic     string
	Degraded  bool
	NextDelay time.Duration
}

// TornDownEvent reports a job removed because the channel permanently
// rejected delivery. Reason is the transport's description.
type TornDownEvent struct {
	TenantID  int64
	ChannelID string
	Topic     string
	Reason    string
}

// jobState tracks one key's place in the UNARMED/ARMED/FIRING machine.
// Mutations that land mid-FIRING are queued on the flags and applied when
// the cycle settles.
type jobState struct {
	rec storage.ChannelSchedule

	firing  bool
	dirty   bool // upserted while firing: settle re-arms with warm-up
	removed bool // removed while firing: settle suppresses the re-arm
}

// Service orchestrates timers, fire cycles, and durable state.
type Service struct {
	mu sync.Mutex

	log     logx.Logger
	cfg     Config
	store   storage.Store
	gen     content.Generator
	adapter kit.Adapter
	bus     eventbus.Bus

	reg  *Registry
	jobs map[string]*jobState
	rng  *rand.Rand

	// docMu serializes tenant-document read-modify-write sequences; the
	// store itself only promises last-write-wins per document.
	docMu sync.Mutex

	runCtx    context.Context
	runCancel context.CancelFunc
	fireWG    sync.WaitGroup
}

func New(cfg Config, store storage.Store, gen content.Generator, adapter kit.Adapter, bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		log:     log,
		cfg:     cfg.withDefaults(),
		store:   store,
		gen:     gen,
		adapter: adapter,
		bus:     bus,
		reg:     NewRegistry(),
		jobs:    map[string]*jobState{},
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Registry exposes the timer table for operational visibility.
func (s *Service) Registry() *Registry { return s.reg }
