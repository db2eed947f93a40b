package service

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/layer-3/ferryman/core"
	"github.com/layer-3/ferryman/ports"
	"github.com/layer-3/ferryman/registry"
)

const (
	testScheme  = "exact"
	testNetwork = "eip155:8453"
)

// mockAdapter is a function-field scheme adapter for tests. By default it
// verifies successfully with a replay token derived from the payload bytes
// and settles to a fixed transaction.
type mockAdapter struct {
	verifyFunc func(ctx context.Context, req *core.PaymentRequirements, payload *core.PaymentPayload) (*core.AdapterVerification, error)
	settleFunc func(ctx context.Context, req *core.PaymentRequirements, payload *core.PaymentPayload) (*core.AdapterSettlement, error)
	statusFunc func(ctx context.Context, txRef string) (core.TxStatus, error)

	verifyCalls atomic.Int32
	settleCalls atomic.Int32
	statusCalls atomic.Int32
}

func (m *mockAdapter) Verify(ctx context.Context, req *core.PaymentRequirements, payload *core.PaymentPayload) (*core.AdapterVerification, error) {
	m.verifyCalls.Add(1)
	if m.verifyFunc != nil {
		return m.verifyFunc(ctx, req, payload)
	}
	return &core.AdapterVerification{
		Valid:       true,
		Payer:       "0xPayer",
		ReplayToken: tokenFor(payload),
	}, nil
}

func (m *mockAdapter) Settle(ctx context.Context, req *core.PaymentRequirements, payload *core.PaymentPayload) (*core.AdapterSettlement, error) {
	m.settleCalls.Add(1)
	if m.settleFunc != nil {
		return m.settleFunc(ctx, req, payload)
	}
	return &core.AdapterSettlement{TxRef: "0xsettled"}, nil
}

func (m *mockAdapter) Status(ctx context.Context, txRef string) (core.TxStatus, error) {
	m.statusCalls.Add(1)
	if m.statusFunc != nil {
		return m.statusFunc(ctx, txRef)
	}
	return core.TxStatusConfirmed, nil
}

func tokenFor(payload *core.PaymentPayload) core.ReplayToken {
	return core.ReplayToken{
		Scheme:  payload.Scheme,
		Network: payload.Network,
		Value:   core.HashPayload(payload.Payload),
	}
}

// memoryGuard, memoryAttempts and memoryIdempotency mirror the adapters/store
// memory implementations without importing them, keeping the service package
// tested against its ports alone.

type guardEntry struct {
	committed bool
	owner     string
}

type memoryGuard struct {
	mu     sync.Mutex
	tokens map[string]guardEntry
}

func newMemoryGuard() *memoryGuard {
	return &memoryGuard{tokens: make(map[string]guardEntry)}
}

var _ ports.ReplayGuard = (*memoryGuard)(nil)

func (g *memoryGuard) TryClaim(ctx context.Context, token core.ReplayToken, owner string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	entry, ok := g.tokens[token.Scoped()]
	if !ok {
		g.tokens[token.Scoped()] = guardEntry{owner: owner}
		return true, nil
	}
	return !entry.committed && entry.owner == owner, nil
}

func (g *memoryGuard) Commit(ctx context.Context, token core.ReplayToken) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	entry := g.tokens[token.Scoped()]
	entry.committed = true
	g.tokens[token.Scoped()] = entry
	return nil
}

func (g *memoryGuard) Release(ctx context.Context, token core.ReplayToken) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.tokens, token.Scoped())
	return nil
}

func (g *memoryGuard) IsCommitted(ctx context.Context, token core.ReplayToken) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	entry, ok := g.tokens[token.Scoped()]
	return ok && entry.committed, nil
}

type memoryAttempts struct {
	mu       sync.Mutex
	attempts map[string]core.SettlementAttempt
}

func newMemoryAttempts() *memoryAttempts {
	return &memoryAttempts{attempts: make(map[string]core.SettlementAttempt)}
}

var _ ports.AttemptStore = (*memoryAttempts)(nil)

func (s *memoryAttempts) Create(ctx context.Context, attempt *core.SettlementAttempt) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.attempts[attempt.PaymentKey]; exists {
		return false, nil
	}
	s.attempts[attempt.PaymentKey] = *attempt
	return true, nil
}

func (s *memoryAttempts) Get(ctx context.Context, paymentKey string) (*core.SettlementAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	attempt, ok := s.attempts[paymentKey]
	if !ok {
		return nil, core.ErrAttemptNotFound
	}
	copied := attempt
	return &copied, nil
}

func (s *memoryAttempts) Update(ctx context.Context, attempt *core.SettlementAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.attempts[attempt.PaymentKey]; !ok {
		return core.ErrAttemptNotFound
	}
	s.attempts[attempt.PaymentKey] = *attempt
	return nil
}

type memoryIdempotency struct {
	mu      sync.Mutex
	records map[string]core.IdempotencyRecord
}

func newMemoryIdempotency() *memoryIdempotency {
	return &memoryIdempotency{records: make(map[string]core.IdempotencyRecord)}
}

var _ ports.IdempotencyStore = (*memoryIdempotency)(nil)

func (s *memoryIdempotency) Lookup(ctx context.Context, id string) (*core.IdempotencyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[id]
	if !ok {
		return nil, core.ErrAttemptNotFound
	}
	copied := record
	return &copied, nil
}

func (s *memoryIdempotency) Bind(ctx context.Context, id string, record *core.IdempotencyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.records[id]
	if !ok {
		s.records[id] = *record
		return nil
	}
	if existing.PayloadHash != record.PayloadHash {
		return core.ErrIdempotencyConflict
	}
	return nil
}

// memoryKeyLock mirrors the adapters/store memory key lock against the port
// alone, like the other fakes above.
type memoryKeyLock struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

func newMemoryKeyLock() *memoryKeyLock {
	return &memoryKeyLock{locks: make(map[string]chan struct{})}
}

var _ ports.KeyLock = (*memoryKeyLock)(nil)

func (m *memoryKeyLock) Acquire(ctx context.Context, key string) (func(), error) {
	m.mu.Lock()
	ch, ok := m.locks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		m.locks[key] = ch
	}
	m.mu.Unlock()

	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type capturedEvents struct {
	mu     sync.Mutex
	events []core.SettlementEvent
}

var _ ports.EventPublisher = (*capturedEvents)(nil)

func (c *capturedEvents) PublishSettlement(ctx context.Context, event *core.SettlementEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, *event)
	return nil
}

func (c *capturedEvents) all() []core.SettlementEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]core.SettlementEvent(nil), c.events...)
}

type fixture struct {
	adapter     *mockAdapter
	guard       *memoryGuard
	attempts    *memoryAttempts
	idempotency *memoryIdempotency
	locks       *memoryKeyLock
	events      *capturedEvents
	verify      *VerifyService
	settle      *SettleService
}

func newFixture() *fixture {
	f := &fixture{
		adapter:     &mockAdapter{},
		guard:       newMemoryGuard(),
		attempts:    newMemoryAttempts(),
		idempotency: newMemoryIdempotency(),
		locks:       newMemoryKeyLock(),
		events:      &capturedEvents{},
	}

	reg := registry.New()
	if err := reg.Register(testScheme, testNetwork, f.adapter); err != nil {
		panic(err)
	}

	f.verify = NewVerifyService(reg, f.guard)
	f.settle = NewSettleService(reg, f.guard, f.attempts, f.idempotency, f.locks, f.events, nil)
	return f
}

// secondInstance builds another SettleService over the same backing stores
// and lock, the way a second facilitator process shares one Redis.
func (f *fixture) secondInstance() *SettleService {
	reg := registry.New()
	if err := reg.Register(testScheme, testNetwork, f.adapter); err != nil {
		panic(err)
	}
	return NewSettleService(reg, f.guard, f.attempts, f.idempotency, f.locks, f.events, nil)
}

func testRequirements() *core.PaymentRequirements {
	return &core.PaymentRequirements{
		Scheme:  testScheme,
		Network: testNetwork,
		Asset:   "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
		PayTo:   "0xRecipient",
		Amount:  "1000000",
	}
}

func testPayload(sig string) *core.PaymentPayload {
	return &core.PaymentPayload{
		X402Version: core.X402Version,
		Scheme:      testScheme,
		Network:     testNetwork,
		Payload:     json.RawMessage(`{"signature":"` + sig + `"}`),
	}
}

func withIdempotencyID(payload *core.PaymentPayload, id string) *core.PaymentPayload {
	payload.Extensions = map[string]json.RawMessage{
		core.PaymentIdentifierExtension: json.RawMessage(`{"id":"` + id + `"}`),
	}
	return payload
}

func expiredRequirements() *core.PaymentRequirements {
	req := testRequirements()
	past := time.Now().Add(-time.Minute)
	req.ValidUntil = &past
	return req
}
