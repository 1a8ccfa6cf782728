// Package kafka consumes dataset metadata messages and keeps the extent
// index current.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mohammed-shakir/raster-extent-index/internal/acquire"
	"github.com/mohammed-shakir/raster-extent-index/internal/core/executor"
	"github.com/mohammed-shakir/raster-extent-index/internal/core/model"
	"github.com/mohammed-shakir/raster-extent-index/internal/dataset"
	"github.com/mohammed-shakir/raster-extent-index/internal/engine"
	"github.com/mohammed-shakir/raster-extent-index/internal/extent"
	"github.com/mohammed-shakir/raster-extent-index/internal/grid"
	"github.com/mohammed-shakir/raster-extent-index/internal/logger"
	"github.com/mohammed-shakir/raster-extent-index/internal/store"
)

type Indexer interface {
	Index(ctx context.Context, d dataset.Description, mode executor.Mode) (model.Record, engine.Report, error)
	SetArchived(ctx context.Context, id string, archived bool) error
	Delete(ctx context.Context, id string) error
}

type Runner struct {
	log      *slog.Logger
	cfg      Config
	ix       Indexer
	filter   *Filter
	ms       *metricSet
	ver      *versionDedupe
	assigned atomic.Bool
	assignMu sync.RWMutex
	assign   map[int32]struct{}
	wg       sync.WaitGroup
	cancel   context.CancelFunc
}

type Options struct {
	Logger    *slog.Logger
	Register  prometheus.Registerer
	DedupeLRU int
}

func New(cfg Config, ix Indexer, opts Options) (*Runner, error) {
	if opts.Logger == nil {
		opts.Logger = logger.Discard()
	}
	f, err := ParseFilter(cfg.Filter)
	if err != nil {
		return nil, err
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 2 * time.Second
	}
	return &Runner{
		log:    opts.Logger,
		cfg:    cfg,
		ix:     ix,
		filter: f,
		ms:     newMetricSet(opts.Register),
		ver:    newVersionDedupe(opts.DedupeLRU),
		assign: map[int32]struct{}{},
	}, nil
}

func (r *Runner) Start(ctx context.Context) error {
	if !r.cfg.Enabled {
		r.log.Info("ingest runner disabled")
		return nil
	}
	if r.ix == nil {
		return errors.New("kafka runner: indexer dependency is required")
	}

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Consumer.Group.Session.Timeout = r.cfg.SessionTimeout
	cfg.Consumer.Group.Heartbeat.Interval = r.cfg.Heartbeat
	cfg.Consumer.Group.Rebalance.Timeout = r.cfg.RebalanceTimeout
	if r.cfg.InitialOldest {
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	} else {
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	cfg.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(r.cfg.Brokers, r.cfg.GroupID, cfg)
	if err != nil {
		cancel()
		return fmt.Errorf("consumer group: %w", err)
	}

	h := &groupHandler{
		setup: func(sess sarama.ConsumerGroupSession) {
			r.assignMu.Lock()
			r.assigned.Store(true)
			r.assign = map[int32]struct{}{}
			for _, parts := range sess.Claims() {
				for _, p := range parts {
					r.assign[p] = struct{}{}
				}
			}
			r.assignMu.Unlock()
		},
		cleanup: func(sarama.ConsumerGroupSession) {
			r.assignMu.Lock()
			r.assigned.Store(false)
			r.assign = map[int32]struct{}{}
			r.assignMu.Unlock()
		},
		process: r.handleMessage,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			if err := group.Close(); err != nil {
				r.log.Error("kafka consumer group close", "err", err)
			}
		}()

		for {
			if err := group.Consume(ctx, []string{r.cfg.Topic}, h); err != nil {
				r.log.Error("kafka consume error", "err", err)
				select {
				case <-time.After(r.cfg.RetryDelay):
				case <-ctx.Done():
					return
				}
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for err := range group.Errors() {
			r.log.Error("kafka group error", "err", err)
		}
	}()

	r.log.Info("kafka ingest runner started",
		"topic", r.cfg.Topic, "group", r.cfg.GroupID, "brokers", r.cfg.Brokers, "filter", r.filter.String())
	return nil
}

func (r *Runner) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
	r.log.Info("kafka ingest runner stopped")
}

func (r *Runner) Readiness() (ready bool, partitions []int32) {
	if !r.assigned.Load() {
		return false, nil
	}
	r.assignMu.RLock()
	defer r.assignMu.RUnlock()
	for p := range r.assign {
		partitions = append(partitions, p)
	}
	return true, partitions
}

// handleMessage applies one message. Messages that can never succeed are
// logged and acknowledged; other failures are returned so the claim is retried.
func (r *Runner) handleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	start := time.Now()
	if !msg.Timestamp.IsZero() {
		r.ms.lagGauge.Set(time.Since(msg.Timestamp).Seconds())
	}

	var m Message
	err := json.Unmarshal(msg.Value, &m)
	if err != nil {
		err = fmt.Errorf("%w: decode: %w", errBadMessage, err)
	} else {
		err = m.Validate()
	}
	if err == nil {
		ctx = logger.WithIngestOp(ctx, string(m.Op))
		err = r.apply(ctx, m)
	}
	r.observe(m.Op, err, time.Since(start))

	if err == nil {
		return nil
	}
	if permanent(err) {
		r.log.ErrorContext(ctx, "ingest message rejected",
			"op", m.Op, "id", m.ID, "partition", msg.Partition, "offset", msg.Offset, "err", err)
		return nil
	}
	return err
}

func (r *Runner) apply(ctx context.Context, m Message) error {
	id := m.ID
	var d dataset.Description
	if m.Op == OpIndex || m.Op == OpUpdate {
		doc, err := m.documentBytes()
		if err != nil {
			return err
		}
		if d, err = dataset.Decode(doc); err != nil {
			return fmt.Errorf("%w: %w", errBadMessage, err)
		}
		if id != "" && id != d.ID {
			return fmt.Errorf("%w: id %q differs from document id %q", errBadMessage, id, d.ID)
		}
		id = d.ID
	}

	if r.ver.stale(id, m.Version) {
		r.ms.apply.WithLabelValues("skip_version").Inc()
		return nil
	}

	var err error
	action := string(m.Op)
	switch m.Op {
	case OpIndex, OpUpdate:
		allowed, ferr := r.filter.Allow(d)
		if ferr != nil {
			return fmt.Errorf("%w: %w", errBadMessage, ferr)
		}
		if !allowed {
			r.ms.apply.WithLabelValues("skip_filter").Inc()
			return nil
		}
		mode := executor.ModeInsert
		if m.Op == OpUpdate {
			mode = executor.ModeUpsert
		}
		_, _, err = r.ix.Index(ctx, d, mode)
		if errors.Is(err, executor.ErrExists) {
			action, err = "skip_exists", nil
		}
	case OpArchive, OpRestore:
		err = r.ix.SetArchived(ctx, id, m.Op == OpArchive)
	case OpDelete:
		err = r.ix.Delete(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			action, err = "skip_missing", nil
		}
	}
	if err != nil {
		return err
	}
	r.ver.commit(id, m.Version)
	r.ms.apply.WithLabelValues(action).Inc()
	r.log.InfoContext(ctx, "ingest message applied", "op", m.Op, "id", id, "version", m.Version, "action", action)
	return nil
}

func (r *Runner) observe(op Op, err error, dur time.Duration) {
	if op == "" {
		op = "unknown"
	}
	switch {
	case err == nil:
		r.ms.msgs.WithLabelValues("ok").Inc()
	case permanent(err):
		r.ms.msgs.WithLabelValues("rejected").Inc()
	default:
		r.ms.msgs.WithLabelValues("error").Inc()
	}
	r.ms.proc.WithLabelValues(string(op)).Observe(dur.Seconds())
}

// permanent reports whether retrying the message cannot change the outcome.
func permanent(err error) bool {
	var (
		invalid    *grid.InvalidGridError
		acqErr     *acquire.GridAcquisitionError
		degenerate *extent.DegenerateFootprintError
	)
	switch {
	case acquire.IsCanceled(err):
		return false
	case errors.Is(err, errBadMessage),
		errors.Is(err, store.ErrNotFound),
		errors.Is(err, store.ErrEmptyID),
		errors.Is(err, engine.ErrPartial),
		errors.As(err, &invalid),
		errors.As(err, &acqErr),
		errors.As(err, &degenerate):
		return true
	}
	return false
}

type groupHandler struct {
	setup   func(sarama.ConsumerGroupSession)
	cleanup func(sarama.ConsumerGroupSession)
	process func(context.Context, *sarama.ConsumerMessage) error
}

func (h *groupHandler) Setup(sess sarama.ConsumerGroupSession) error {
	if h.setup != nil {
		h.setup(sess)
	}
	return nil
}

func (h *groupHandler) Cleanup(sess sarama.ConsumerGroupSession) error {
	if h.cleanup != nil {
		h.cleanup(sess)
	}
	return nil
}

func (h *groupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := sess.Context()
	for msg := range claim.Messages() {
		if err := h.process(ctx, msg); err != nil {
			return err
		}
		sess.MarkMessage(msg, "")
	}
	return nil
}
