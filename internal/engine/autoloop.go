package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"server/internal/domain"
	"server/internal/ledger"
)

// Stop reasons reported in LoopState and loop.stopped events.
const (
	StopRequested       = "stopped"
	StopBudgetExhausted = "budget_exhausted"
	StopCycleFailed     = "cycle_failed"
)

// BatchExporter receives the artifacts of a finished cycle. Export is
// fire-and-forget: the loop never waits on it and never sees its
// errors.
type BatchExporter interface {
	ExportBatch(ctx context.Context, cycle int, artifacts []*domain.Artifact)
}

// LoopConfig describes what every cycle of the loop produces.
type LoopConfig struct {
	Instruction string
	References  []string
	AspectRatio string
	BrandStyle  string
	Quantity    int
}

// LoopState is a point-in-time snapshot of the loop.
type LoopState struct {
	Running      bool   `json:"running"`
	CycleCount   int    `json:"cycle_count"`
	CostPerCycle int64  `json:"cost_per_cycle,omitempty"`
	StopReason   string `json:"stop_reason,omitempty"`
	LastError    string `json:"last_error,omitempty"`
}

// AutoLoop repeats composite cycles until the budget runs dry, a cycle
// fails outright, or an operator stops it. At most one loop runs at a
// time.
type AutoLoop struct {
	coord    *Coordinator
	ledger   *ledger.Ledger
	events   *Broadcaster
	exporter BatchExporter
	delay    time.Duration
	logger   zerolog.Logger

	mu           sync.Mutex
	running      bool
	cycles       int
	costPerCycle int64
	stopReason   string
	lastError    string
	stopOnce     *sync.Once
	stop         chan struct{}
	done         chan struct{}
}

func NewAutoLoop(coord *Coordinator, lg *ledger.Ledger, events *Broadcaster, exporter BatchExporter, delay time.Duration, logger zerolog.Logger) *AutoLoop {
	if delay <= 0 {
		delay = 4 * time.Second
	}
	return &AutoLoop{
		coord:    coord,
		ledger:   lg,
		events:   events,
		exporter: exporter,
		delay:    delay,
		logger:   logger,
	}
}

// Start validates the configuration, checks the budget covers at least
// one full cycle, and launches the loop goroutine.
func (l *AutoLoop) Start(cfg LoopConfig) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.running {
		return fmt.Errorf("%w: stop the current loop first", domain.ErrLoopActive)
	}
	if len(cfg.References) == 0 {
		return fmt.Errorf("%w: auto loop requires at least one source image", domain.ErrInvalidInput)
	}
	if cfg.Quantity < 1 {
		cfg.Quantity = 1
	}
	cost := l.coord.CycleCost(cfg.Quantity)
	if balance := l.ledger.Balance(); balance < cost {
		return fmt.Errorf("%w: cycle costs %d, balance is %d", domain.ErrInsufficientCredits, cost, balance)
	}

	l.running = true
	l.cycles = 0
	l.costPerCycle = cost
	l.stopReason = ""
	l.lastError = ""
	l.stopOnce = new(sync.Once)
	l.stop = make(chan struct{})
	l.done = make(chan struct{})

	l.publish(Event{Type: EventLoopStarted, Balance: l.ledger.Balance()})
	go l.run(cfg)
	return nil
}

// Stop asks the loop to wind down after its current cycle. Idempotent;
// a no-op when nothing runs.
func (l *AutoLoop) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.running || l.stopOnce == nil {
		return
	}
	stop := l.stop
	l.stopOnce.Do(func() { close(stop) })
}

// State returns a snapshot of the loop.
func (l *AutoLoop) State() LoopState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return LoopState{
		Running:      l.running,
		CycleCount:   l.cycles,
		CostPerCycle: l.costPerCycle,
		StopReason:   l.stopReason,
		LastError:    l.lastError,
	}
}

func (l *AutoLoop) run(cfg LoopConfig) {
	defer close(l.done)
	ctx := context.Background()

	var pending []*domain.Artifact
	cycle := 0
	for {
		// Hand the previous batch to the exporter before anything
		// else; the loop does not wait for it.
		if l.exporter != nil && len(pending) > 0 {
			batch := pending
			exported := cycle
			pending = nil
			go l.exporter.ExportBatch(context.Background(), exported, batch)
		}

		if balance := l.ledger.Balance(); balance < l.costPerCycle {
			l.logger.Info().Int64("balance", balance).Int64("cycle_cost", l.costPerCycle).Msg("auto loop out of budget")
			l.finish(StopBudgetExhausted, "")
			return
		}

		if cycle == 0 {
			select {
			case <-l.stop:
				l.finish(StopRequested, "")
				return
			default:
			}
		} else {
			select {
			case <-l.stop:
				l.finish(StopRequested, "")
				return
			case <-time.After(l.delay):
			}
		}

		outcomes, err := l.coord.RunComposite(ctx, CompositeRequest{
			Instruction: cfg.Instruction,
			References:  cfg.References,
			AspectRatio: cfg.AspectRatio,
			BrandStyle:  cfg.BrandStyle,
			Quantity:    cfg.Quantity,
		})
		if err != nil {
			if errors.Is(err, domain.ErrInsufficientCredits) {
				l.finish(StopBudgetExhausted, domain.FailureClass(err))
			} else {
				l.logger.Error().Err(err).Int("cycle", cycle+1).Msg("auto loop cycle failed")
				l.finish(StopCycleFailed, domain.FailureClass(err))
			}
			return
		}
		for _, out := range outcomes {
			if !out.Failed() && out.Artifact != nil {
				pending = append(pending, out.Artifact)
			}
		}

		cycle++
		l.mu.Lock()
		l.cycles = cycle
		l.mu.Unlock()
		l.publish(Event{Type: EventLoopCycle, Cycle: cycle, Balance: l.ledger.Balance()})
	}
}

func (l *AutoLoop) finish(reason, lastError string) {
	l.mu.Lock()
	l.running = false
	l.stopReason = reason
	l.lastError = lastError
	l.mu.Unlock()
	l.publish(Event{Type: EventLoopStopped, Detail: reason, Balance: l.ledger.Balance()})
}

func (l *AutoLoop) publish(e Event) {
	if l.events != nil {
		l.events.Publish(e)
	}
}
