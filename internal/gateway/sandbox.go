package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

// ErrSandboxUnavailable simulates a provider outage.
var ErrSandboxUnavailable = errors.New("sandbox: provider unavailable")

type SandboxCall struct {
	Op        Op
	Reference string
	Amount    decimal.Decimal
}

// Sandbox is a deterministic in-memory rail. Outcomes default to success and
// can be scripted per operation; results are replayed for a known reference.
type Sandbox struct {
	mu      sync.Mutex
	results map[string]Result
	script  map[Op][]Status
	outage  map[Op]int
	calls   []SandboxCall
	seq     int
}

func NewSandbox() *Sandbox {
	return &Sandbox{
		results: make(map[string]Result),
		script:  make(map[Op][]Status),
		outage:  make(map[Op]int),
	}
}

func (s *Sandbox) Name() string { return "sandbox" }

// Script queues outcomes for the next calls of op that hit a new reference.
func (s *Sandbox) Script(op Op, outcomes ...Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.script[op] = append(s.script[op], outcomes...)
}

// FailTransport makes the next n calls of op return ErrSandboxUnavailable.
func (s *Sandbox) FailTransport(op Op, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outage[op] += n
}

func (s *Sandbox) Calls() []SandboxCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SandboxCall, len(s.calls))
	copy(out, s.calls)
	return out
}

func (s *Sandbox) Collect(ctx context.Context, req Request) (Result, error) {
	return s.do(ctx, OpCollect, req)
}

func (s *Sandbox) Release(ctx context.Context, req Request) (Result, error) {
	return s.do(ctx, OpRelease, req)
}

func (s *Sandbox) Refund(ctx context.Context, req Request) (Result, error) {
	return s.do(ctx, OpRefund, req)
}

func (s *Sandbox) do(ctx context.Context, op Op, req Request) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, SandboxCall{Op: op, Reference: req.Reference, Amount: req.Amount})

	if s.outage[op] > 0 {
		s.outage[op]--
		return Result{}, ErrSandboxUnavailable
	}

	key := string(op) + ":" + req.Reference
	if prev, ok := s.results[key]; ok && prev.Status != StatusFailed {
		return prev, nil
	}

	status := StatusSuccess
	if queue := s.script[op]; len(queue) > 0 {
		status, s.script[op] = queue[0], queue[1:]
	}

	s.seq++
	res := Result{
		Status:            status,
		ExternalReference: fmt.Sprintf("SBX-%s-%06d", op, s.seq),
	}
	if status == StatusFailed {
		res.FailureReason = "declined by sandbox"
	}
	if op == OpCollect && status == StatusPending {
		res.CheckoutURL = "https://sandbox.local/checkout/" + req.Reference
	}
	s.results[key] = res
	return res, nil
}

// Settle flips a pending sandbox operation to its final status, as a provider
// callback would.
func (s *Sandbox) Settle(op Op, reference string, status Status) (Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := string(op) + ":" + reference
	res, ok := s.results[key]
	if !ok {
		return Result{}, false
	}
	res.Status = status
	s.results[key] = res
	return res, true
}
