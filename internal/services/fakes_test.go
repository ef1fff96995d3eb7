package services

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"dealer_payments_echo/internal/config"
	"dealer_payments_echo/internal/models"
)

var testNow = time.Date(2026, 10, 14, 9, 30, 0, 0, time.UTC)

const testSecret = "callback-test-secret"

func testPlans() config.PlanCatalog {
	return config.PlanCatalog{
		models.PlanMonthly: {Amount: decimal.RequireFromString("49.00"), Currency: "USD", Description: "Dealership subscription - 1 month"},
		models.PlanYearly:  {Amount: decimal.RequireFromString("490.00"), Currency: "USD", Description: "Dealership subscription - 12 months"},
	}
}

// fakeGateway records calls and answers with canned values
type fakeGateway struct {
	mu         sync.Mutex
	status     CollectStatus
	statusByID map[int64]CollectStatus
	createResp *CollectResponse
	createErr  error
	onCreate   func()
	requests   []CollectRequest

	probeCalls  atomic.Int32
	createCalls atomic.Int32
	statusCalls atomic.Int32
}

func newFakeGateway(status CollectStatus) *fakeGateway {
	return &fakeGateway{status: status}
}

func (f *fakeGateway) Probe(ctx context.Context) {
	f.probeCalls.Add(1)
}

func (f *fakeGateway) CreateCollect(ctx context.Context, req CollectRequest) (*CollectResponse, error) {
	f.createCalls.Add(1)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)

	if f.onCreate != nil {
		f.onCreate()
	}
	if f.createErr != nil {
		return nil, f.createErr
	}
	if f.createResp != nil {
		return f.createResp, nil
	}
	return &CollectResponse{
		CollectURL: fmt.Sprintf("https://pay.example.com/collect/%d", req.ExternalID),
		CollectID:  fmt.Sprintf("col_%d", req.ExternalID),
		Raw:        []byte(`{"collectUrl":"https://pay.example.com"}`),
	}, nil
}

func (f *fakeGateway) QueryStatus(ctx context.Context, externalID int64) StatusResult {
	f.statusCalls.Add(1)

	f.mu.Lock()
	defer f.mu.Unlock()
	status := f.status
	if st, ok := f.statusByID[externalID]; ok {
		status = st
	}
	return StatusResult{Status: status, Raw: string(status), Attempts: 1}
}

func (f *fakeGateway) setStatusFor(externalID int64, status CollectStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statusByID == nil {
		f.statusByID = map[int64]CollectStatus{}
	}
	f.statusByID[externalID] = status
}

func (f *fakeGateway) setStatus(status CollectStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = status
}

func (f *fakeGateway) lastRequest() CollectRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

// sequenceIDs hands out 1, 2, 3 and so on
type sequenceIDs struct {
	next atomic.Int64
}

func (s *sequenceIDs) NextExternalID() int64 {
	return s.next.Add(1)
}

// memoryIdempotencyStore is an in-process IdempotencyStore
type memoryIdempotencyStore struct {
	mu       sync.Mutex
	results  map[string]*IdempotencyRecord
	inflight map[string]bool
}

func newMemoryIdempotencyStore() *memoryIdempotencyStore {
	return &memoryIdempotencyStore{
		results:  map[string]*IdempotencyRecord{},
		inflight: map[string]bool{},
	}
}

func (m *memoryIdempotencyStore) Lookup(ctx context.Context, key string) (*IdempotencyRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.results[key]
	return r, ok, nil
}

func (m *memoryIdempotencyStore) Reserve(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inflight[key] {
		return false, nil
	}
	m.inflight[key] = true
	return true, nil
}

func (m *memoryIdempotencyStore) Complete(ctx context.Context, key string, record *IdempotencyRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[key] = record
	delete(m.inflight, key)
	return nil
}

func (m *memoryIdempotencyStore) Release(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.inflight, key)
	return nil
}
