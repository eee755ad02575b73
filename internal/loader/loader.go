// Package loader implements the per-request batching cache.
//
// Resolvers run as goroutines under Cache.Run. Load registers a key in the
// pending batch of its entity without blocking; Thunk.Get parks the calling
// goroutine. Once every goroutine started by Run is parked or finished, all
// pending batches are dispatched, one grouped Find per entity, and the parked
// goroutines resume with their results. Batches run under the context given
// to Run, never a single resolver's. Keys requested while a load is
// pending or in flight share one Thunk, so every caller sees the same model.
//
// LoadChildren does the same for one-to-many relations: the children of every
// pending parent are fetched with one Find per entity and foreign attribute,
// then paged per parent.
package loader

import (
	"context"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/eaverdeja/blograph/internal/eventbus"
	"github.com/eaverdeja/blograph/internal/events"
	"github.com/eaverdeja/blograph/internal/storage"
)

// Key identifies one record.
type Key struct {
	Entity storage.Entity
	ID     int64
}

// Relation identifies one page of the children of a parent: the records of
// Entity whose Foreign attribute holds Parent.
type Relation struct {
	Entity  storage.Entity
	Foreign string
	Parent  int64
	// Limit zero means no limit.
	Limit  uint64
	Offset uint64
}

type relationGroup struct {
	entity  storage.Entity
	foreign string
}

// Options tunes a Cache.
type Options struct {
	// MaxConcurrentFlushes bounds how many entity batches are fetched at
	// once. Zero means no bound.
	MaxConcurrentFlushes int
}

// Cache batches and memoizes record loads for one request. It must not be
// shared between requests.
type Cache struct {
	store storage.Store
	opts  Options

	mu       sync.Mutex
	running  int
	flushCtx context.Context
	pending  map[storage.Entity]*batch
	order    []storage.Entity
	related  map[relationGroup]*relatedBatch
	relOrder []relationGroup
	memo     map[Key]*Thunk
	children map[Relation]*Children
}

type batch struct {
	entity storage.Entity
	thunks []*Thunk
}

type relatedBatch struct {
	group    relationGroup
	children []*Children
}

// New creates an empty cache reading from store.
func New(store storage.Store, opts Options) *Cache {
	return &Cache{
		store:    store,
		opts:     opts,
		pending:  make(map[storage.Entity]*batch),
		related:  make(map[relationGroup]*relatedBatch),
		memo:     make(map[Key]*Thunk),
		children: make(map[Relation]*Children),
	}
}

// wait tracks the goroutines parked on one result. Guarded by Cache.mu.
type wait struct {
	done    chan struct{}
	queued  bool
	settled bool
	waiters int
}

func newWait(queued bool) wait {
	return wait{done: make(chan struct{}), queued: queued}
}

// Thunk is the eventual result of one load.
type Thunk struct {
	c     *Cache
	key   Key
	attrs []string
	wait

	model storage.Model
	found bool
	err   error
}

// Key returns the key the thunk loads.
func (t *Thunk) Key() Key { return t.key }

// Children is the eventual result of one relation load.
type Children struct {
	c     *Cache
	rel   Relation
	attrs []string
	wait

	models []storage.Model
	err    error
}

// Relation returns the relation the load reads.
func (ch *Children) Relation() Relation { return ch.rel }

// Load registers key for the next flush and returns its thunk. A nil attrs
// loads every attribute. A pending load of the same key is widened to cover
// attrs; a finished or in-flight load is reused when it already covers them.
func (c *Cache) Load(key Key, attrs ...string) *Thunk {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.memo[key]; ok {
		if t.queued {
			t.attrs = union(t.attrs, attrs)
			return t
		}
		if covers(t.attrs, attrs) {
			return t
		}
	}
	t := &Thunk{c: c, key: key, attrs: slices.Clone(attrs), wait: newWait(true)}
	c.memo[key] = t
	b, ok := c.pending[key.Entity]
	if !ok {
		b = &batch{entity: key.Entity}
		c.pending[key.Entity] = b
		c.order = append(c.order, key.Entity)
	}
	b.thunks = append(b.thunks, t)
	return t
}

// LoadMany loads every id of entity.
func (c *Cache) LoadMany(entity storage.Entity, ids []int64, attrs ...string) []*Thunk {
	out := make([]*Thunk, len(ids))
	for i, id := range ids {
		out[i] = c.Load(Key{Entity: entity, ID: id}, attrs...)
	}
	return out
}

// LoadChildren registers rel for the next flush. Attributes are widened and
// reused the way Load does. The foreign attribute is always fetched.
func (c *Cache) LoadChildren(rel Relation, attrs ...string) *Children {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ch, ok := c.children[rel]; ok {
		if ch.queued {
			ch.attrs = union(ch.attrs, attrs)
			return ch
		}
		if covers(ch.attrs, attrs) {
			return ch
		}
	}
	ch := &Children{c: c, rel: rel, attrs: slices.Clone(attrs), wait: newWait(true)}
	c.children[rel] = ch
	g := relationGroup{entity: rel.Entity, foreign: rel.Foreign}
	b, ok := c.related[g]
	if !ok {
		b = &relatedBatch{group: g}
		c.related[g] = b
		c.relOrder = append(c.relOrder, g)
	}
	b.children = append(b.children, ch)
	return ch
}

// Prime stores m as the loaded value of its key unless a load is already
// known. It lets writers hand fresh records to later readers.
func (c *Cache) Prime(m storage.Model) {
	key := Key{Entity: m.Entity(), ID: m.PrimaryKey()}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.memo[key]; ok {
		return
	}
	t := &Thunk{c: c, key: key, wait: newWait(false), model: m, found: true}
	t.settled = true
	close(t.done)
	c.memo[key] = t
}

// Clear forgets key so the next Load fetches it again. Finished relation
// loads are forgotten too, since they may hold the record.
func (c *Cache) Clear(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.memo[key]; ok && !t.queued {
		delete(c.memo, key)
	}
	c.clearChildren()
}

// ClearChildren forgets every finished relation load. Writers call it after
// creating a record that may belong to one.
func (c *Cache) ClearChildren() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearChildren()
}

func (c *Cache) clearChildren() {
	for rel, ch := range c.children {
		if !ch.queued {
			delete(c.children, rel)
		}
	}
}

// Get waits for the thunk's batch and returns the loaded model. found is
// false when no record has the key. A failed fetch returns the same error to
// every key of the batch.
func (t *Thunk) Get(ctx context.Context) (m storage.Model, found bool, err error) {
	if err := t.c.park(ctx, &t.wait); err != nil {
		return nil, false, err
	}
	return t.model, t.found, t.err
}

// Get waits for the relation's batch and returns the page of children in
// primary key order.
func (ch *Children) Get(ctx context.Context) ([]storage.Model, error) {
	if err := ch.c.park(ctx, &ch.wait); err != nil {
		return nil, err
	}
	return ch.models, ch.err
}

// park blocks until w settles. The last running goroutine to park flushes
// every pending batch.
func (c *Cache) park(ctx context.Context, w *wait) error {
	c.mu.Lock()
	if w.settled {
		c.mu.Unlock()
		return nil
	}
	w.waiters++
	c.running--
	var jobs []func(context.Context)
	var fctx context.Context
	if c.running <= 0 {
		jobs, fctx = c.takePending(), c.flushContext(ctx)
	}
	c.mu.Unlock()
	c.dispatch(fctx, jobs)

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		c.mu.Lock()
		defer c.mu.Unlock()
		if w.settled {
			return nil
		}
		w.waiters--
		c.running++
		return ctx.Err()
	}
}

// settle wakes the goroutines parked on w. Callers hold c.mu.
func (c *Cache) settle(w *wait) {
	w.settled = true
	c.running += w.waiters
	w.waiters = 0
	close(w.done)
}

// Run calls every fn concurrently and waits for all of them. Loads issued by
// the functions batch together.
func (c *Cache) Run(ctx context.Context, fns ...func(context.Context)) {
	if len(fns) == 0 {
		return
	}
	c.mu.Lock()
	c.running += len(fns)
	prev := c.flushCtx
	c.flushCtx = storage.WithoutQueryLogger(ctx)
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.flushCtx = prev
		c.mu.Unlock()
	}()

	var wg sync.WaitGroup
	wg.Add(len(fns))
	for _, fn := range fns {
		go func() {
			defer wg.Done()
			defer c.exit()
			fn(ctx)
		}()
	}
	wg.Wait()
}

func (c *Cache) exit() {
	c.mu.Lock()
	c.running--
	var jobs []func(context.Context)
	var fctx context.Context
	if c.running <= 0 {
		jobs, fctx = c.takePending(), c.flushContext(context.Background())
	}
	c.mu.Unlock()
	c.dispatch(fctx, jobs)
}

// flushContext returns the context batches are fetched under: the one given
// to the innermost Run, or ctx stripped of its query logger outside Run.
// Callers hold c.mu.
func (c *Cache) flushContext(ctx context.Context) context.Context {
	if c.flushCtx != nil {
		return c.flushCtx
	}
	return storage.WithoutQueryLogger(ctx)
}

// takePending detaches every pending batch as one flush job each. Callers
// hold c.mu.
func (c *Cache) takePending() []func(context.Context) {
	if len(c.order) == 0 && len(c.relOrder) == 0 {
		return nil
	}
	jobs := make([]func(context.Context), 0, len(c.order)+len(c.relOrder))
	for _, e := range c.order {
		b := c.pending[e]
		for _, t := range b.thunks {
			t.queued = false
		}
		jobs = append(jobs, func(ctx context.Context) { c.flush(ctx, b) })
	}
	for _, g := range c.relOrder {
		b := c.related[g]
		for _, ch := range b.children {
			ch.queued = false
		}
		jobs = append(jobs, func(ctx context.Context) { c.flushChildren(ctx, b) })
	}
	clear(c.pending)
	c.order = c.order[:0]
	clear(c.related)
	c.relOrder = c.relOrder[:0]
	return jobs
}

func (c *Cache) dispatch(ctx context.Context, jobs []func(context.Context)) {
	switch len(jobs) {
	case 0:
		return
	case 1:
		jobs[0](ctx)
		return
	}
	var g errgroup.Group
	if c.opts.MaxConcurrentFlushes > 0 {
		g.SetLimit(c.opts.MaxConcurrentFlushes)
	}
	for _, job := range jobs {
		g.Go(func() error {
			job(ctx)
			return nil
		})
	}
	_ = g.Wait()
}

func (c *Cache) flush(ctx context.Context, b *batch) {
	ids := make([]int64, 0, len(b.thunks))
	var attrs []string
	for i, t := range b.thunks {
		if !slices.Contains(ids, t.key.ID) {
			ids = append(ids, t.key.ID)
		}
		if i == 0 {
			attrs = slices.Clone(t.attrs)
		} else {
			attrs = union(attrs, t.attrs)
		}
	}

	start := time.Now()
	models, err := c.store.Find(ctx, b.entity, storage.Query{
		Where:      storage.Where{storage.PrimaryKey: ids},
		Attributes: attrs,
	})
	byID := make(map[int64]storage.Model, len(models))
	for _, m := range models {
		byID[m.PrimaryKey()] = m
	}

	c.mu.Lock()
	for _, t := range b.thunks {
		if err != nil {
			t.err = err
			if c.memo[t.key] == t {
				delete(c.memo, t.key)
			}
		} else {
			t.model, t.found = byID[t.key.ID]
			t.attrs = attrs
		}
		c.settle(&t.wait)
	}
	c.mu.Unlock()

	eventbus.Publish(ctx, events.BatchFlush{
		Entity:     string(b.entity),
		Keys:       len(ids),
		Attributes: attrs,
		Start:      start,
		Duration:   time.Since(start),
		Err:        err,
	})
}

func (c *Cache) flushChildren(ctx context.Context, b *relatedBatch) {
	parents := make([]int64, 0, len(b.children))
	var attrs []string
	for i, ch := range b.children {
		if !slices.Contains(parents, ch.rel.Parent) {
			parents = append(parents, ch.rel.Parent)
		}
		if i == 0 {
			attrs = slices.Clone(ch.attrs)
		} else {
			attrs = union(attrs, ch.attrs)
		}
	}
	if attrs != nil && !slices.Contains(attrs, b.group.foreign) {
		attrs = append(attrs, b.group.foreign)
	}

	start := time.Now()
	models, err := c.store.Find(ctx, b.group.entity, storage.Query{
		Where:      storage.Where{b.group.foreign: parents},
		Attributes: attrs,
	})
	byParent := make(map[int64][]storage.Model, len(parents))
	for _, m := range models {
		v, _ := storage.Value(m, b.group.foreign)
		if id, ok := v.(int64); ok {
			byParent[id] = append(byParent[id], m)
		}
	}

	c.mu.Lock()
	for _, ch := range b.children {
		if err != nil {
			ch.err = err
			if c.children[ch.rel] == ch {
				delete(c.children, ch.rel)
			}
		} else {
			ch.models = window(byParent[ch.rel.Parent], ch.rel.Limit, ch.rel.Offset)
			ch.attrs = attrs
		}
		c.settle(&ch.wait)
	}
	c.mu.Unlock()

	eventbus.Publish(ctx, events.BatchFlush{
		Entity:     string(b.group.entity),
		Keys:       len(parents),
		Attributes: attrs,
		Start:      start,
		Duration:   time.Since(start),
		Err:        err,
	})
}

// window returns the page of ms starting at offset. A zero limit keeps the
// rest. The result is never nil.
func window(ms []storage.Model, limit, offset uint64) []storage.Model {
	if offset >= uint64(len(ms)) {
		return []storage.Model{}
	}
	ms = ms[offset:]
	if limit > 0 && limit < uint64(len(ms)) {
		ms = ms[:limit]
	}
	return slices.Clone(ms)
}

// covers reports whether a load of have satisfies a request for want.
// A nil list means every attribute.
func covers(have, want []string) bool {
	if have == nil {
		return true
	}
	if want == nil {
		return false
	}
	for _, w := range want {
		if !slices.Contains(have, w) {
			return false
		}
	}
	return true
}

func union(a, b []string) []string {
	if a == nil || b == nil {
		return nil
	}
	out := a
	for _, s := range b {
		if !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	return out
}
