package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"PerpAmm/internal/amm"
	"PerpAmm/internal/clearinghouse"
	"PerpAmm/internal/event"
	"PerpAmm/internal/insurance"
	"PerpAmm/internal/ledger"
	"PerpAmm/internal/observability"
)

// Domain bundles the mutable state a command may touch. All of it is owned
// by the engine goroutine.
type Domain struct {
	ClearingHouse *clearinghouse.ClearingHouse
	Book          *ledger.Book
	Fund          *insurance.Fund
	Amms          map[string]*amm.Amm
}

// Command is one unit of serialized work. Execute runs inside the engine
// goroutine; the returned value is handed back to the submitter.
type Command interface {
	Name() string

	// Time is the command's versioned timestamp. The engine never reads
	// the wall clock.
	Time() time.Time

	Execute(d *Domain, tick amm.Tick) (any, error)
}

// Output is what one applied command produces: the event envelopes and the
// ledger journal of that command.
type Output struct {
	Envelopes []event.Envelope
	Journal   []ledger.Transfer
}

// Engine is the single-threaded command processor. Commands mutate domain
// state, their events get sequenced into the hash-chained log, and outputs
// flow to the persistence worker (blocking) and the projection workers
// (non-blocking, drop on full).
type Engine struct {
	sequence int64
	block    int64

	// mirrors of sequence and block readable from other goroutines
	seqView   atomic.Int64
	blockView atomic.Int64

	hasher *StateHasher
	domain *Domain
	buf    *event.List

	persistChan    chan<- Output
	projectionChan chan<- Output

	requests chan request
	advance  chan struct{}
	metrics  *observability.Metrics
	log      zerolog.Logger
}

type request struct {
	cmd   Command
	reply chan result
}

type result struct {
	value any
	err   error
}

// New wires the engine. rec must be the same event.List handed to the amms
// and the clearing house, so their events land in the engine's buffer.
func New(
	startSequence int64,
	domain *Domain,
	rec *event.List,
	persistChan, projectionChan chan<- Output,
	metrics *observability.Metrics,
	log zerolog.Logger,
) *Engine {
	e := &Engine{
		sequence:       startSequence,
		block:          1,
		hasher:         NewStateHasher(),
		domain:         domain,
		buf:            rec,
		persistChan:    persistChan,
		projectionChan: projectionChan,
		requests:       make(chan request, 256),
		advance:        make(chan struct{}),
		metrics:        metrics,
		log:            log,
	}
	e.seqView.Store(startSequence)
	e.blockView.Store(1)
	return e
}

// Submit hands a command to the engine goroutine and waits for its result.
func (e *Engine) Submit(ctx context.Context, cmd Command) (any, error) {
	req := request{cmd: cmd, reply: make(chan result, 1)}
	select {
	case e.requests <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case res := <-req.reply:
		return res.value, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Run processes commands until the context is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	e.log.Info().Int64("sequence", e.sequence).Int64("block", e.block).Msg("engine started")
	for {
		select {
		case req := <-e.requests:
			value, err := e.Apply(req.cmd)
			req.reply <- result{value: value, err: err}
		case <-e.advance:
			e.AdvanceBlock()
		case <-ctx.Done():
			e.log.Info().Int64("sequence", e.sequence).Msg("engine stopped")
			return ctx.Err()
		}
	}
}

// Apply executes one command. Commands are all-or-nothing: on error the
// buffered events are discarded and nothing reaches the log. Exported for
// tests and replay; production traffic goes through Submit.
func (e *Engine) Apply(cmd Command) (any, error) {
	start := time.Now()
	name := cmd.Name()
	tick := amm.Tick{Block: e.block, Now: cmd.Time()}

	value, err := cmd.Execute(e.domain, tick)
	if err != nil {
		e.buf.Events = e.buf.Events[:0]
		// commands fail without touching state, so the journal must be
		// empty here
		if leftover := e.domain.Book.DrainJournal(); len(leftover) > 0 {
			panic(fmt.Sprintf("FATAL: failed command %s left %d journal entries", name, len(leftover)))
		}
		if e.metrics != nil {
			e.metrics.EngineCommandsRejected.WithLabelValues(name).Inc()
		}
		return nil, err
	}

	journal := e.domain.Book.DrainJournal()
	digest := e.computeStateDigest(journal)

	out := Output{Journal: journal}
	for _, ev := range e.buf.Events {
		payload, merr := json.Marshal(ev)
		if merr != nil {
			panic(fmt.Sprintf("FATAL: event marshal failed: %v", merr))
		}
		prevHash := e.hasher.GetPrevHash()
		stateHash := e.hasher.ComputeHash(e.sequence, digest)
		out.Envelopes = append(out.Envelopes, event.Envelope{
			Sequence:    e.sequence,
			EventID:     uuid.New(),
			Type:        ev.EventType(),
			Market:      ev.MarketID(),
			BlockNumber: tick.Block,
			Timestamp:   tick.Now,
			Payload:     payload,
			StateHash:   stateHash,
			PrevHash:    prevHash,
		})
		e.sequence++
	}
	e.buf.Events = e.buf.Events[:0]
	e.seqView.Store(e.sequence)

	// persistence blocks so no event is lost; projections drop on full and
	// rebuild from the log. Read-only commands produce nothing and skip
	// both channels.
	if len(out.Envelopes) > 0 || len(out.Journal) > 0 {
		e.persistChan <- out
		select {
		case e.projectionChan <- out:
		default:
			if e.metrics != nil {
				e.metrics.ProjectionDrops.Inc()
			}
		}
	}

	if e.metrics != nil {
		e.metrics.EngineCommandsApplied.WithLabelValues(name).Inc()
		e.metrics.EngineCommandDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
		e.metrics.EngineSequence.Set(float64(e.sequence))
	}
	return value, nil
}

// computeStateDigest builds the canonical bytes hashed into the chain: the
// accounts touched by the command, sorted, each with its post-command
// balance.
func (e *Engine) computeStateDigest(journal []ledger.Transfer) []byte {
	touched := make(map[string]bool)
	for _, t := range journal {
		touched[t.From] = true
		touched[t.To] = true
	}
	accounts := make([]string, 0, len(touched))
	for account := range touched {
		accounts = append(accounts, account)
	}
	sort.Strings(accounts)

	digest := make([]byte, 0, len(accounts)*48)
	for _, account := range accounts {
		digest = append(digest, byte(len(account)))
		digest = append(digest, []byte(account)...)
		digest = append(digest, []byte(e.domain.Book.Balance(account).String())...)
	}
	return digest
}

// SignalNewBlock asks the running engine to advance the block from another
// goroutine, typically the block ticker.
func (e *Engine) SignalNewBlock(ctx context.Context) error {
	select {
	case e.advance <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AdvanceBlock moves the engine to the next logical block. Block-scoped
// state like the fluctuation limit and restriction mode keys off this.
// Safe only from the engine goroutine or single-threaded tests.
func (e *Engine) AdvanceBlock() {
	e.block++
	e.blockView.Store(e.block)
	if e.metrics != nil {
		e.metrics.EngineBlock.Set(float64(e.block))
	}
}

// Block returns the current logical block.
func (e *Engine) Block() int64 { return e.blockView.Load() }

// Sequence returns the next sequence to assign.
func (e *Engine) Sequence() int64 { return e.seqView.Load() }

// StateHash returns the chain tip.
func (e *Engine) StateHash() [32]byte { return e.hasher.GetPrevHash() }

// RestoreChain sets the sequence, block and chain tip on warm restart,
// before any command is applied.
func (e *Engine) RestoreChain(sequence, block int64, tip [32]byte) {
	e.sequence = sequence
	e.block = block
	e.seqView.Store(sequence)
	e.blockView.Store(block)
	e.hasher.SetPrevHash(tip)
}
