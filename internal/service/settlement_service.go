package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"ledger-settlement-engine/internal/core/domain"
	"ledger-settlement-engine/internal/core/ports"
	"ledger-settlement-engine/internal/metrics"
	"ledger-settlement-engine/pkg/apperror"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const defaultBatchParallelism = 8

// SettlementConfig holds the orchestrator settings.
type SettlementConfig struct {
	ClearingAccountID uuid.UUID
	BatchParallelism  int
}

// SettlementDeps are the collaborators of the orchestrator.
type SettlementDeps struct {
	Store    ports.LedgerStore
	Registry ports.IdempotencyRegistry
	Activity ports.ActivityStore
	Alerts   ports.AlertRepository
	Events   ports.EventPublisher
	Risk     *RiskEngine
	Locks    *LockManager
	Metrics  *metrics.Metrics
	Clock    ports.Clock
}

// SettlementServiceImpl implements ports.SettlementService. It is the only
// component that decides terminal states.
type SettlementServiceImpl struct {
	store    ports.LedgerStore
	registry ports.IdempotencyRegistry
	activity ports.ActivityStore
	alerts   ports.AlertRepository
	events   ports.EventPublisher
	risk     *RiskEngine
	locks    *LockManager
	metrics  *metrics.Metrics
	clock    ports.Clock
	cfg      SettlementConfig
	log      zerolog.Logger
}

// NewSettlementService creates a new SettlementServiceImpl.
func NewSettlementService(deps SettlementDeps, cfg SettlementConfig, log zerolog.Logger) *SettlementServiceImpl {
	if cfg.BatchParallelism <= 0 {
		cfg.BatchParallelism = defaultBatchParallelism
	}
	if deps.Clock == nil {
		deps.Clock = ports.SystemClock{}
	}
	if deps.Risk == nil {
		deps.Risk = NewRiskEngine(DefaultRiskPolicy())
	}
	if deps.Locks == nil {
		deps.Locks = NewLockManager(defaultLockTimeout, deps.Metrics)
	}
	return &SettlementServiceImpl{
		store:    deps.Store,
		registry: deps.Registry,
		activity: deps.Activity,
		alerts:   deps.Alerts,
		events:   deps.Events,
		risk:     deps.Risk,
		locks:    deps.Locks,
		metrics:  deps.Metrics,
		clock:    deps.Clock,
		cfg:      cfg,
		log:      log,
	}
}

// Submit drives one request through dedupe, risk, locking and posting.
func (s *SettlementServiceImpl) Submit(ctx context.Context, principal domain.Principal, req domain.TransactionRequest) (*domain.SettlementOutcome, error) {
	if strings.TrimSpace(req.ClientRef) == "" {
		return nil, apperror.Validation("client_ref is required")
	}
	start := s.clock.Now()
	run := domain.NewSettlement(req, principal)
	key := domain.BuildIdempotencyKey(principal.ID, req.ClientRef)

	// Step 1: dedupe
	prior, reserved, err := s.reserve(ctx, key)
	if err != nil {
		if apperror.KindOf(err) == apperror.KindRequestInFlight {
			return nil, err
		}
		// The key was not reserved, so nothing is written to the registry.
		out := s.conclude(run, domain.StateFailed, nil, nil, err)
		s.observe(string(req.Type), out, start)
		return out, nil
	}
	if !reserved {
		return prior, nil
	}
	if err := run.Advance(domain.StateDeduplicated); err != nil {
		return s.settle(ctx, key, run, nil, nil, err, start), nil
	}

	// Step 2: validate and score
	if err := req.Validate(); err != nil {
		return s.settle(ctx, key, run, nil, nil, err, start), nil
	}
	if err := s.checkAccounts(ctx, &req); err != nil {
		return s.settle(ctx, key, run, nil, nil, err, start), nil
	}
	now := s.clock.Now()
	history, err := s.activity.History(ctx, req.SubjectAccount(), s.risk.HistorySince(now))
	if err != nil {
		return s.settle(ctx, key, run, nil, nil, apperror.ErrStorageUnavailable(fmt.Errorf("load activity: %w", err)), start), nil
	}
	assessment := s.risk.Evaluate(&req, history, principal.RiskTier, now)
	s.metrics.ObserveRisk(assessment.Score, string(assessment.Decision))
	if assessment.Decision == domain.DecisionBlock {
		return s.settle(ctx, key, run, nil, assessment, apperror.ErrRiskBlocked(assessment.Score), start), nil
	}
	if err := run.Advance(domain.StateRiskEvaluated); err != nil {
		return s.settle(ctx, key, run, nil, assessment, err, start), nil
	}

	// Step 3: lock. Cancellation is honoured up to here.
	handle, err := s.locks.Acquire(ctx, req.AccountsTouched())
	if err != nil {
		return s.settle(ctx, key, run, nil, assessment, err, start), nil
	}
	ctx = context.WithoutCancel(ctx)
	if err := run.Advance(domain.StateLocksAcquired); err != nil {
		handle.Release()
		return s.settle(ctx, key, run, nil, assessment, err, start), nil
	}

	// Step 4: post
	group, err := s.store.PostGroup(ctx, domain.BuildGroup(&req, s.cfg.ClearingAccountID))
	handle.Release()
	if err != nil {
		return s.settle(ctx, key, run, nil, assessment, err, start), nil
	}
	if err := run.Advance(domain.StatePosted); err != nil {
		return s.settle(ctx, key, run, &group.ID, assessment, err, start), nil
	}

	// Step 5: persist outcome and notify
	return s.settle(ctx, key, run, &group.ID, assessment, nil, start), nil
}

// Reverse posts the mirror image of a completed group. Risk scoring is skipped
// and frozen accounts are allowed; each group can be reversed once.
func (s *SettlementServiceImpl) Reverse(ctx context.Context, principal domain.Principal, rr ports.ReversalRequest) (*domain.SettlementOutcome, error) {
	if strings.TrimSpace(rr.ClientRef) == "" {
		return nil, apperror.Validation("client_ref is required")
	}
	start := s.clock.Now()
	run := domain.NewSettlement(domain.TransactionRequest{ClientRef: rr.ClientRef}, principal)
	key := domain.BuildReversalKey(principal.ID, rr.ClientRef)

	prior, reserved, err := s.reserve(ctx, key)
	if err != nil {
		if apperror.KindOf(err) == apperror.KindRequestInFlight {
			return nil, err
		}
		out := s.conclude(run, domain.StateFailed, nil, nil, err)
		s.observe("reversal", out, start)
		return out, nil
	}
	if !reserved {
		return prior, nil
	}
	if err := run.Advance(domain.StateDeduplicated); err != nil {
		return s.settleReversal(ctx, key, run, nil, nil, err, start), nil
	}

	orig, err := s.store.GetGroup(ctx, rr.GroupID)
	if err != nil {
		return s.settleReversal(ctx, key, run, nil, nil, err, start), nil
	}
	accounts := s.customerAccounts(orig.AccountIDs())
	if orig.ReversalOf != nil {
		return s.settleReversal(ctx, key, run, nil, accounts, apperror.Validation("a reversal cannot be reversed"), start), nil
	}
	if done, err := s.store.GetReversal(ctx, orig.ID); err != nil {
		return s.settleReversal(ctx, key, run, nil, accounts, err, start), nil
	} else if done != nil {
		return s.settleReversal(ctx, key, run, nil, accounts, apperror.ErrAlreadyReversed(orig.ID.String()), start), nil
	}
	if err := run.Advance(domain.StateRiskEvaluated); err != nil {
		return s.settleReversal(ctx, key, run, nil, accounts, err, start), nil
	}

	handle, err := s.locks.Acquire(ctx, accounts)
	if err != nil {
		return s.settleReversal(ctx, key, run, nil, accounts, err, start), nil
	}
	ctx = context.WithoutCancel(ctx)
	if err := run.Advance(domain.StateLocksAcquired); err != nil {
		handle.Release()
		return s.settleReversal(ctx, key, run, nil, accounts, err, start), nil
	}

	group, err := s.store.PostGroup(ctx, orig.Mirror(rr.ClientRef))
	handle.Release()
	if err != nil {
		return s.settleReversal(ctx, key, run, nil, accounts, err, start), nil
	}
	if err := run.Advance(domain.StatePosted); err != nil {
		return s.settleReversal(ctx, key, run, &group.ID, accounts, err, start), nil
	}
	return s.settleReversal(ctx, key, run, &group.ID, accounts, nil, start), nil
}

// checkAccounts rejects requests that name the clearing account or a customer
// account whose balance does not grow with credits. Postings always credit the
// receiving side and debit the paying side, which only reads correctly on
// credit-normal accounts.
func (s *SettlementServiceImpl) checkAccounts(ctx context.Context, req *domain.TransactionRequest) error {
	for _, id := range req.AccountsTouched() {
		if id == s.cfg.ClearingAccountID {
			return apperror.Validation("the clearing account cannot be named in a request")
		}
		acc, err := s.store.GetAccount(ctx, id)
		if err != nil {
			return err
		}
		if acc.Type.NormalSide() != domain.DirectionCredit {
			return apperror.Validation(fmt.Sprintf("account %s is a %s account; settlements move funds between liability, equity or revenue accounts", id, acc.Type))
		}
	}
	return nil
}

// SubmitBatch submits every request with bounded parallelism. Results keep the
// input order; one item failing does not stop the others.
func (s *SettlementServiceImpl) SubmitBatch(ctx context.Context, principal domain.Principal, reqs []domain.TransactionRequest) []ports.BatchResult {
	results := make([]ports.BatchResult, len(reqs))

	var g errgroup.Group
	g.SetLimit(s.cfg.BatchParallelism)
	for i := range reqs {
		g.Go(func() error {
			out, err := s.Submit(ctx, principal, reqs[i])
			results[i] = ports.BatchResult{Outcome: out, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// reserve returns (outcome, false, nil) for a key that already has a terminal
// outcome and (nil, true, nil) when the caller now owns the key.
func (s *SettlementServiceImpl) reserve(ctx context.Context, key string) (*domain.SettlementOutcome, bool, error) {
	res, err := s.registry.CheckAndReserve(ctx, key)
	if err != nil {
		return nil, false, apperror.ErrStorageUnavailable(fmt.Errorf("reserve %s: %w", key, err))
	}
	switch res.Status {
	case domain.ReservationNew:
		return nil, true, nil
	case domain.ReservationCompleted:
		return res.Outcome, false, nil
	case domain.ReservationInFlight:
		return nil, false, apperror.ErrRequestInFlight(key)
	}
	return nil, false, apperror.InternalError(fmt.Errorf("unexpected reservation status %q for %s", res.Status, key))
}

// terminalState maps an error category to the terminal state.
func terminalState(err error) domain.SettlementState {
	if err == nil {
		return domain.StateCompleted
	}
	switch apperror.As(err).Category {
	case apperror.CategoryValidation, apperror.CategoryBusiness:
		return domain.StateRejected
	}
	return domain.StateFailed
}

func (s *SettlementServiceImpl) conclude(run *domain.Settlement, state domain.SettlementState, groupID *ulid.ULID, risk *domain.RiskAssessment, cause error) *domain.SettlementOutcome {
	if err := run.Advance(state); err != nil {
		s.log.Error().Err(err).Str("client_ref", run.Request.ClientRef).Msg("settlement state machine violation")
		run.State = domain.StateFailed
		run.Trail = append(run.Trail, domain.StateFailed)
		groupID, cause = nil, err
	}
	return run.Outcome(groupID, risk, cause, s.clock.Now())
}

func (s *SettlementServiceImpl) settle(ctx context.Context, key string, run *domain.Settlement, groupID *ulid.ULID, risk *domain.RiskAssessment, cause error, start time.Time) *domain.SettlementOutcome {
	ctx = context.WithoutCancel(ctx)
	out := s.conclude(run, terminalState(cause), groupID, risk, cause)
	s.persist(ctx, key, out)

	if out.Status == domain.StateCompleted {
		sample := domain.SampleFromRequest(&run.Request, out.CompletedAt)
		if err := s.activity.Record(ctx, sample); err != nil {
			s.log.Warn().Err(err).Str("client_ref", out.ClientRef).Msg("failed to record activity sample")
		}
	}
	if risk != nil && risk.Decision != domain.DecisionAllow {
		s.raiseAlert(ctx, domain.NewRiskAlert(&run.Request, run.Principal, risk))
	}
	s.publish(ctx, out)
	s.observe(string(run.Request.Type), out, start)
	return out
}

func (s *SettlementServiceImpl) settleReversal(ctx context.Context, key string, run *domain.Settlement, groupID *ulid.ULID, accounts []uuid.UUID, cause error, start time.Time) *domain.SettlementOutcome {
	ctx = context.WithoutCancel(ctx)
	out := s.conclude(run, terminalState(cause), groupID, nil, cause)
	if accounts != nil {
		out.Accounts = accounts
	}
	s.persist(ctx, key, out)
	s.publish(ctx, out)
	s.observe("reversal", out, start)
	return out
}

func (s *SettlementServiceImpl) persist(ctx context.Context, key string, out *domain.SettlementOutcome) {
	var err error
	if out.Status == domain.StateFailed {
		err = s.registry.Fail(ctx, key, out)
	} else {
		err = s.registry.Complete(ctx, key, out)
	}
	if err != nil {
		// The reservation lapses after its in-flight TTL.
		s.log.Error().Err(err).Str("key", key).Str("status", string(out.Status)).Msg("failed to persist settlement outcome")
	}
}

func (s *SettlementServiceImpl) raiseAlert(ctx context.Context, alert *domain.RiskAlert) {
	if s.alerts != nil {
		if err := s.alerts.Create(ctx, alert); err != nil {
			s.log.Warn().Err(err).Str("client_ref", alert.ClientRef).Msg("failed to record risk alert")
		}
	}
	s.emit(ctx, domain.NewRiskAlertEvent(alert))
}

func (s *SettlementServiceImpl) publish(ctx context.Context, out *domain.SettlementOutcome) {
	if ev := domain.NewSettlementEvent(out); ev != nil {
		s.emit(ctx, ev)
	}
}

// emit is best-effort: a publish failure never changes an outcome.
func (s *SettlementServiceImpl) emit(ctx context.Context, ev *domain.Event) {
	if s.events == nil {
		return
	}
	err := s.events.Publish(ctx, ev)
	s.metrics.ObserveEvent(string(ev.Type), err)
	if err != nil {
		s.log.Warn().Err(err).Str("event", string(ev.Type)).Str("client_ref", ev.ClientRef).Msg("failed to publish event")
	}
}

func (s *SettlementServiceImpl) observe(txType string, out *domain.SettlementOutcome, start time.Time) {
	s.metrics.ObserveSettlement(txType, string(out.Status), s.clock.Now().Sub(start))

	evt := s.log.Info()
	if out.Status == domain.StateFailed {
		evt = s.log.Warn()
	}
	evt = evt.Str("client_ref", out.ClientRef).Str("status", string(out.Status))
	if out.GroupID != nil {
		evt = evt.Str("group_id", out.GroupID.String())
	}
	if out.ErrorKind != "" {
		evt = evt.Str("kind", string(out.ErrorKind))
	}
	if out.Risk != nil {
		evt = evt.Int("score", out.Risk.Score)
	}
	evt.Msg("settlement finished")
}

func (s *SettlementServiceImpl) customerAccounts(ids []uuid.UUID) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if id != s.cfg.ClearingAccountID {
			out = append(out, id)
		}
	}
	return out
}
