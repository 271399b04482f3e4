package estimate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"tenderestimate/services"
)

const tracerName = "tenderestimate/estimate"

// DefaultPendingTTL is how long an unresolved conflict stays resolvable.
const DefaultPendingTTL = 24 * time.Hour

// Projection is the engine's in-memory view of one position, rebuilt from
// the store after every confirmed mutation.
type Projection struct {
	Position Position
	Registry *Registry
	Totals   Totals
	LoadedAt time.Time
}

// Engine coordinates link mutations and keeps position projections current.
// Mutations of one position are serialized; reads run concurrently.
type Engine struct {
	store   Store
	calc    services.Calculator
	log     *zap.Logger
	metrics *Metrics
	tracer  trace.Tracer
	now     func() time.Time

	// pendingTTL bounds the pending map. Expired transfers are swept each
	// time a new conflict is reported.
	pendingTTL time.Duration

	locks positionLocks

	mu          sync.RWMutex
	projections map[string]*Projection
	pending     map[string]*Transfer
}

type Option func(*Engine)

func WithCalculator(calc services.Calculator) Option {
	return func(e *Engine) { e.calc = calc }
}

func WithLogger(log *zap.Logger) Option {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(e *Engine) {
		if m != nil {
			e.metrics = m
		}
	}
}

// WithPendingTTL sets how long a reported conflict can be resolved through
// its transfer id. Older transfers are dropped and resolve as stale.
func WithPendingTTL(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.pendingTTL = d
		}
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) {
		if t != nil {
			e.tracer = t
		}
	}
}

func New(store Store, opts ...Option) *Engine {
	e := &Engine{
		store:       store,
		calc:        services.DefaultCalculator(),
		log:         zap.NewNop(),
		tracer:      otel.Tracer(tracerName),
		now:         time.Now,
		pendingTTL:  DefaultPendingTTL,
		projections: make(map[string]*Projection),
		pending:     make(map[string]*Transfer),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.metrics == nil {
		e.metrics = NewMetrics(nil)
	}
	return e
}

// Calculator returns the pricing rules the engine computes with.
func (e *Engine) Calculator() services.Calculator { return e.calc }

// Load reads the position, its items and links from the store and builds a
// projection without caching it. LoadedAt is the time the read started, so a
// slow read never looks newer than a write that landed while it ran.
func (e *Engine) Load(ctx context.Context, positionID string) (*Projection, error) {
	started := e.now()
	ctx, span := e.tracer.Start(ctx, "estimate.load", trace.WithAttributes(
		attribute.String("position.id", positionID),
	))
	defer span.End()

	ids := OpError{PositionID: positionID}
	pos, items, err := e.store.LoadPosition(ctx, positionID)
	if err != nil {
		span.RecordError(err)
		return nil, storeError("load position", ids, err)
	}
	links, err := e.store.ListLinks(ctx, positionID)
	if err != nil {
		span.RecordError(err)
		return nil, storeError("list links", ids, err)
	}
	nodes, err := e.store.CostNodes(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, storeError("cost nodes", ids, err)
	}

	reg, err := BuildRegistry(e.calc, positionID, ItemSet{pos.ID: items}, links)
	if err != nil {
		return nil, &OpError{Op: "build registry", PositionID: positionID, Err: err}
	}
	if orphans := reg.Orphans(); len(orphans) > 0 {
		e.log.Warn("ignoring links outside the position",
			zap.String("position_id", positionID),
			zap.Int("count", len(orphans)),
		)
	}

	totals, err := Aggregate(e.calc, reg, nodes)
	if err != nil {
		return nil, &OpError{Op: "aggregate", PositionID: positionID, Err: err}
	}

	return &Projection{
		Position: pos,
		Registry: reg,
		Totals:   totals,
		LoadedAt: started,
	}, nil
}

// Projection loads a fresh projection and remembers it.
func (e *Engine) Projection(ctx context.Context, positionID string) (*Projection, error) {
	p, err := e.Load(ctx, positionID)
	if err != nil {
		return nil, err
	}
	e.remember(p)
	return p, nil
}

// GetPositionTotals returns freshly computed totals for a position.
func (e *Engine) GetPositionTotals(ctx context.Context, positionID string) (Totals, error) {
	p, err := e.Projection(ctx, positionID)
	if err != nil {
		return Totals{}, err
	}
	return p.Totals, nil
}

// GetEnrichedLinks returns the position's links grouped by work.
func (e *Engine) GetEnrichedLinks(ctx context.Context, positionID string) (map[string][]LinkView, error) {
	p, err := e.Projection(ctx, positionID)
	if err != nil {
		return nil, err
	}
	return p.Registry.LinksByWork(), nil
}

// CachedTotals returns the totals of the last successfully loaded projection.
func (e *Engine) CachedTotals(positionID string) (Totals, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, ok := e.projections[positionID]
	if !ok {
		return Totals{}, false
	}
	return p.Totals, true
}

func (e *Engine) remember(p *Projection) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if prev, ok := e.projections[p.Position.ID]; ok && prev.LoadedAt.After(p.LoadedAt) {
		return
	}
	e.projections[p.Position.ID] = p
}

// Refresh reloads a position, writes its totals back to the position record
// and caches the projection. A failure leaves the cached projection as it was.
func (e *Engine) Refresh(ctx context.Context, positionID string) (*Projection, error) {
	ctx, span := e.tracer.Start(ctx, "estimate.refresh", trace.WithAttributes(
		attribute.String("position.id", positionID),
	))
	defer span.End()

	start := e.now()
	p, err := e.Load(ctx, positionID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if err := e.store.SavePositionTotals(ctx, positionID, p.Totals); err != nil {
		span.RecordError(err)
		e.metrics.storeError("save_totals")
		return nil, storeError("save totals", OpError{PositionID: positionID}, err)
	}
	e.remember(p)
	e.metrics.observeRefresh(e.now().Sub(start))
	return p, nil
}

// refreshAfterWrite refreshes after a confirmed mutation. The mutation
// stands even if the refresh fails; the caller then gets nil totals and the
// next successful refresh corrects the cache.
func (e *Engine) refreshAfterWrite(ctx context.Context, positionID string) *Totals {
	p, err := e.Refresh(ctx, positionID)
	if err != nil {
		e.log.Error("refresh after write failed",
			zap.String("position_id", positionID),
			zap.Error(err),
		)
		return nil
	}
	totals := p.Totals
	return &totals
}

// RecalculateAll refreshes the cached totals of the given positions, or of
// every position when ids is empty. It returns the ids that failed.
func (e *Engine) RecalculateAll(ctx context.Context, ids ...string) (map[string]error, error) {
	if len(ids) == 0 {
		all, err := e.store.ListPositionIDs(ctx)
		if err != nil {
			return nil, storeError("list positions", OpError{}, err)
		}
		ids = all
	}

	failed := make(map[string]error)
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return failed, err
		}
		unlock := e.locks.lock(id)
		_, err := e.Refresh(ctx, id)
		unlock()
		if err != nil {
			failed[id] = err
		}
	}
	return failed, nil
}

// CreateLink links a material to a work. Use Transfer for materials that
// may already be linked.
func (e *Engine) CreateLink(ctx context.Context, positionID, workID, materialID string) *Transfer {
	return e.Transfer(ctx, TransferRequest{
		PositionID:   positionID,
		MaterialID:   materialID,
		TargetWorkID: workID,
		Mode:         ModeMove,
	})
}

// UpdateLink replaces a link's coefficient snapshot.
func (e *Engine) UpdateLink(ctx context.Context, positionID, linkID string, update LinkUpdate) (*Totals, error) {
	if err := validateLinkUpdate(update); err != nil {
		return nil, &OpError{Op: "update link", PositionID: positionID, Err: err}
	}

	unlock := e.locks.lock(positionID)
	defer unlock()

	if err := e.store.UpdateLink(ctx, positionID, linkID, update); err != nil {
		e.metrics.storeError("update_link")
		return nil, storeError("update link", OpError{PositionID: positionID}, err)
	}
	e.log.Info("link updated", zap.String("position_id", positionID), zap.String("link_id", linkID))
	return e.refreshAfterWrite(ctx, positionID), nil
}

// DeleteLink removes a link; its material becomes unlinked.
func (e *Engine) DeleteLink(ctx context.Context, positionID, linkID string) (*Totals, error) {
	unlock := e.locks.lock(positionID)
	defer unlock()

	if err := e.store.DeleteLink(ctx, positionID, linkID); err != nil {
		e.metrics.storeError("delete_link")
		return nil, storeError("delete link", OpError{PositionID: positionID}, err)
	}
	e.log.Info("link deleted", zap.String("position_id", positionID), zap.String("link_id", linkID))
	return e.refreshAfterWrite(ctx, positionID), nil
}

// UpdateItem saves an item's priced fields after validating them.
func (e *Engine) UpdateItem(ctx context.Context, item Item) (*Totals, error) {
	ids := OpError{PositionID: item.PositionID, MaterialID: item.ID, MaterialName: item.Name}
	if err := ValidateItem(e.calc, item); err != nil {
		ids.Op, ids.Err = "update item", err
		return nil, &ids
	}

	unlock := e.locks.lock(item.PositionID)
	defer unlock()

	if err := e.store.UpdateItem(ctx, item); err != nil {
		e.metrics.storeError("update_item")
		return nil, storeError("update item", ids, err)
	}
	return e.refreshAfterWrite(ctx, item.PositionID), nil
}

// ImportItems adds new works and materials to a position. Nothing is saved
// unless every item is valid. Imported materials start unlinked.
func (e *Engine) ImportItems(ctx context.Context, positionID string, items []Item) ([]Item, *Totals, error) {
	ids := OpError{Op: "import items", PositionID: positionID}
	if len(items) == 0 {
		ids.Err = fmt.Errorf("%w: nothing to import", ErrInvalidTransfer)
		return nil, nil, &ids
	}
	for i := range items {
		items[i].PositionID = positionID
		if err := ValidateItem(e.calc, items[i]); err != nil {
			ids.MaterialName, ids.Err = items[i].Name, err
			return nil, nil, &ids
		}
	}

	unlock := e.locks.lock(positionID)
	defer unlock()

	created, err := e.store.CreateItems(ctx, positionID, items)
	if err != nil {
		e.metrics.storeError("create_items")
		return nil, nil, storeError("import items", OpError{PositionID: positionID}, err)
	}
	e.log.Info("items imported", zap.String("position_id", positionID), zap.Int("count", len(created)))
	return created, e.refreshAfterWrite(ctx, positionID), nil
}

// ValidateItem checks an item before it is sent to the store.
func ValidateItem(calc services.Calculator, item Item) error {
	if !item.Kind.Valid() {
		return fmt.Errorf("%w: unknown item kind %q", ErrInvalidTransfer, item.Kind)
	}
	if err := calc.Validate(item.PriceInput()); err != nil {
		return err
	}
	if item.Kind.IsMaterial() {
		if _, err := item.Coefficients(); err != nil {
			return err
		}
	}
	return nil
}

func validateLinkUpdate(u LinkUpdate) error {
	_, err := services.NormalizeCoefficients(u.ConsumptionCoefficient, u.ConversionCoefficient)
	return err
}

// positionLocks hands out one mutex per position. An entry lives only while
// some caller holds or waits for it.
type positionLocks struct {
	mu sync.Mutex
	m  map[string]*positionLock
}

type positionLock struct {
	mu   sync.Mutex
	refs int
}

func (l *positionLocks) lock(positionID string) (unlock func()) {
	l.mu.Lock()
	if l.m == nil {
		l.m = make(map[string]*positionLock)
	}
	pl, ok := l.m[positionID]
	if !ok {
		pl = &positionLock{}
		l.m[positionID] = pl
	}
	pl.refs++
	l.mu.Unlock()

	pl.mu.Lock()
	return func() {
		pl.mu.Unlock()
		l.mu.Lock()
		pl.refs--
		if pl.refs == 0 {
			delete(l.m, positionID)
		}
		l.mu.Unlock()
	}
}

func (l *positionLocks) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.m)
}
