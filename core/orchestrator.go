package core

import (
	"context"
	"crypto/rand"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// FeeOracle computes a dynamic per-request fee (congestion times
// utilization squared) when no model-specific multiplier applies.
type FeeOracle interface {
	Fee() float64
}

// CongestionFeeOracle implements a dynamic formula:
// congestion_multiplier * utilization^2 * base_fee. Utilization is supplied
// by the caller (e.g. active-worker-fraction) at construction or updated
// externally via SetUtilization.
type CongestionFeeOracle struct {
	mu                   sync.RWMutex
	baseFee              float64
	congestionMultiplier float64
	utilization          float64
}

// NewCongestionFeeOracle constructs an oracle with a starting utilization.
func NewCongestionFeeOracle(baseFee, congestionMultiplier, utilization float64) *CongestionFeeOracle {
	return &CongestionFeeOracle{baseFee: baseFee, congestionMultiplier: congestionMultiplier, utilization: utilization}
}

// SetUtilization updates the observed network utilization in [0,1].
func (o *CongestionFeeOracle) SetUtilization(u float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.utilization = u
}

// Fee returns base_fee * congestion_multiplier * utilization^2.
func (o *CongestionFeeOracle) Fee() float64 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.baseFee * o.congestionMultiplier * o.utilization * o.utilization
}

// VerificationPolicy controls what happens to a worker whose ZK proof
// fails verification.
type VerificationPolicy int

const (
	// WithholdFailedWorker excludes a worker with an invalid proof from the
	// block-reward credit and the provider fee pool, but still settles the
	// rest of the request. This is the default.
	WithholdFailedWorker VerificationPolicy = iota
	// AbortOnInvalidProof fails the entire request when any proof fails
	// verification; the payer is refunded the full fee and nothing settles.
	AbortOnInvalidProof
)

// RefundPolicy controls compensation when one or more chunk dispatches
// fail after the fee has already been debited.
type RefundPolicy int

const (
	// RefundProRata refunds fee * (failed/total) and settles the
	// successfully-dispatched chunks using the remaining fee.
	RefundProRata RefundPolicy = iota
	// RefundFull refunds the entire fee and aborts the request; no
	// settlement happens for any chunk.
	RefundFull
)

// AuditRecord is one dispatched-and-proved chunk, handed to an AuditSink.
type AuditRecord struct {
	Routing  Routing
	Result   NodeInferenceResult
	Verified bool
}

// AuditSink receives every (routing, result, proof, verified) tuple an
// Infer call produces. A request's per-chunk detail is otherwise discarded
// once InferenceResult is returned; configuring a sink opts into retaining
// it elsewhere (a log, a database, a compliance store).
type AuditSink interface {
	RecordChunk(record AuditRecord)
}

// OrchestratorConfig wires the orchestrator to the rest of the system.
type OrchestratorConfig struct {
	Router   *ChunkRouter
	Prover   *ZkProver
	Verifier *ZkVerifier
	Ledger   *TokenLedger
	Reward   *RewardSchedule
	Contrib  *ContributionTracker
	Registry *WorkerRegistry
	Infer    NodeInferenceFn

	ModelMultipliers       map[string]float64
	DefaultModelMultiplier float64
	FeeOracle              FeeOracle

	VerificationPolicy VerificationPolicy
	RefundPolicy       RefundPolicy

	MaxRetries   int // per-chunk retries to the same worker, 0 or 1
	RetryBackoff time.Duration

	AuditSink AuditSink // nil by default; per-chunk detail is discarded otherwise
}

// InferRequest is the argument to Orchestrator.Infer. ModelID threads
// through to the fee multiplier lookup and the ContributionTracker split;
// it is empty for requests with no associated model lineage (fee = 0
// unless a FeeOracle is configured).
type InferRequest struct {
	Prompt   string
	Payer    string
	FeeHint  float64
	ModelID  string
}

// InferenceResult is the structured report of one Orchestrator.Infer call.
type InferenceResult struct {
	Prompt             string
	Response           string
	PerNode            []NodeInferenceResult
	Verifications      map[string]bool
	TotalLatencyMS     uint64
	BlockHeight        uint64
	BlockReward        float64
	Balances           map[string]float64
	PayerBalance       float64
	FeePerNode         float64
}

// Orchestrator ties the expert index, router, prover/verifier, ledger,
// reward schedule, and contribution tracker together behind the single
// `infer` operation.
type Orchestrator struct {
	cfg OrchestratorConfig

	height uint64 // atomic, strictly monotonic

	secretsMu sync.Mutex
	secrets   map[string]FieldElement

	log *logrus.Logger
}

// NewOrchestrator constructs an orchestrator. DefaultModelMultiplier
// defaults to 1.0 if unset.
func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	if cfg.DefaultModelMultiplier == 0 {
		cfg.DefaultModelMultiplier = 1.0
	}
	return &Orchestrator{
		cfg:     cfg,
		secrets: make(map[string]FieldElement),
		log:     logrus.StandardLogger(),
	}
}

// workerSecret returns the lazily-assigned, in-memory-only secret scalar
// for workerID: a worker with no pre-set secret is assigned one lazily at
// registration, and secrets are kept only in orchestrator memory.
func (o *Orchestrator) workerSecret(workerID string) FieldElement {
	o.secretsMu.Lock()
	defer o.secretsMu.Unlock()
	if s, ok := o.secrets[workerID]; ok {
		return s
	}
	s, err := NewWorkerSecret()
	if err != nil {
		var raw [32]byte
		_, _ = rand.Read(raw[:])
		s = fieldElementFromBytes(raw)
	}
	o.secrets[workerID] = s
	return s
}

func (o *Orchestrator) resolveFee(req InferRequest) float64 {
	if req.ModelID != "" {
		mult, ok := o.cfg.ModelMultipliers[req.ModelID]
		if !ok {
			mult = o.cfg.DefaultModelMultiplier
		}
		return req.FeeHint * mult
	}
	if o.cfg.FeeOracle != nil {
		return o.cfg.FeeOracle.Fee()
	}
	return 0
}

type dispatchOutcome struct {
	routing Routing
	result  NodeInferenceResult
	err     error
}

// Infer runs the ordered fee/route/dispatch/prove/verify/settle pipeline
// for one prompt.
func (o *Orchestrator) Infer(ctx context.Context, req InferRequest) (InferenceResult, error) {
	start := time.Now()

	// 1. Fee resolution.
	fee := o.resolveFee(req)

	// 2. Fee debit.
	if fee > 0 {
		if _, err := o.cfg.Ledger.Debit(req.Payer, fee, TxFee, map[string]string{"type": "inference_fee"}); err != nil {
			return InferenceResult{}, wrapErr(ErrInsufficientFunds, "fee debit", err)
		}
	}

	// 3. Routing.
	routings, err := o.cfg.Router.Route(ctx, req.Prompt)
	if err != nil {
		if fee > 0 {
			_, _ = o.cfg.Ledger.Credit(req.Payer, fee, TxRefund, map[string]string{"reason": "routing_failed"})
		}
		return InferenceResult{}, wrapErr(ErrNoRoutings, "route", err)
	}
	if len(routings) == 0 {
		if fee == 0 {
			return InferenceResult{Prompt: req.Prompt}, nil
		}
		_, _ = o.cfg.Ledger.Credit(req.Payer, fee, TxRefund, map[string]string{"reason": "no_routings"})
		return InferenceResult{}, newErr(ErrNoRoutings, "router produced no chunks")
	}

	// 4. Dispatch, in parallel, no serialization of independent I/O.
	outcomes := o.dispatchAll(ctx, routings)

	var succeeded, failed []dispatchOutcome
	for _, oc := range outcomes {
		if oc.err != nil {
			failed = append(failed, oc)
		} else {
			succeeded = append(succeeded, oc)
		}
	}

	if len(succeeded) == 0 {
		if fee > 0 {
			_, _ = o.cfg.Ledger.Credit(req.Payer, fee, TxRefund, map[string]string{"reason": "all_dispatches_failed"})
		}
		return InferenceResult{}, wrapErr(ErrComputeError, "all chunk dispatches failed", failed[0].err)
	}

	effectiveFee := fee
	if len(failed) > 0 {
		switch o.cfg.RefundPolicy {
		case RefundFull:
			if fee > 0 {
				_, _ = o.cfg.Ledger.Credit(req.Payer, fee, TxRefund, map[string]string{"reason": "partial_dispatch_failure"})
			}
			return InferenceResult{}, wrapErr(ErrComputeError, "partial dispatch failure, full refund issued", failed[0].err)
		case RefundProRata:
			refund := fee * float64(len(failed)) / float64(len(routings))
			if refund > 0 {
				_, _ = o.cfg.Ledger.Credit(req.Payer, refund, TxRefund, map[string]string{"reason": "pro_rata_partial_failure"})
			}
			effectiveFee = fee - refund
		}
	}

	// 5. Prove.
	for i := range succeeded {
		r := &succeeded[i]
		secret := o.workerSecret(r.result.WorkerID)
		proof, err := o.cfg.Prover.Prove(ctx, r.result.InputTokens, r.result.OutputTokens, secret)
		if err != nil {
			r.err = wrapErr(ErrProofGeneration, "prove", err).WithWorker(r.result.WorkerID).WithChunk(int(r.result.ChunkIndex))
			continue
		}
		r.result.Proof = proof
	}

	// 6. Verify. Invalid proofs do not abort by default.
	verifications := make(map[string]bool, len(succeeded))
	var invalidWorker string
	for _, r := range succeeded {
		if r.err != nil {
			continue
		}
		ok := o.cfg.Verifier.Verify(r.result.Proof)
		verifications[r.result.WorkerID] = ok
		if !ok && invalidWorker == "" {
			invalidWorker = r.result.WorkerID
		}
		if o.cfg.AuditSink != nil {
			o.cfg.AuditSink.RecordChunk(AuditRecord{Routing: r.routing, Result: r.result, Verified: ok})
		}
	}

	if invalidWorker != "" && o.cfg.VerificationPolicy == AbortOnInvalidProof {
		// effectiveFee is what is still held after any pro-rata refund above,
		// so the payer ends up refunded exactly the full fee.
		if effectiveFee > 0 {
			_, _ = o.cfg.Ledger.Credit(req.Payer, effectiveFee, TxRefund, map[string]string{"reason": "invalid_proof"})
		}
		return InferenceResult{}, newErr(ErrVerification, "proof verification failed for worker "+invalidWorker).WithWorker(invalidWorker)
	}

	// 7. Aggregate, in original chunk order.
	sort.Slice(succeeded, func(i, j int) bool {
		return succeeded[i].result.ChunkIndex < succeeded[j].result.ChunkIndex
	})
	parts := make([]string, 0, len(succeeded))
	perNode := make([]NodeInferenceResult, 0, len(succeeded))
	for _, r := range succeeded {
		if r.err != nil {
			continue
		}
		parts = append(parts, r.result.OutputText)
		perNode = append(perNode, r.result.NodeInferenceResult())
	}
	response := strings.TrimSpace(strings.Join(parts, " "))

	// 8. Settle: mint block reward, credit participants, split fee.
	height := atomic.AddUint64(&o.height, 1) - 1
	reward := o.cfg.Reward.BlockReward(height)

	rewardWorkers := make([]string, 0, len(succeeded))
	providerWorkers := make([]string, 0, len(succeeded))
	for _, r := range succeeded {
		if r.err != nil {
			continue
		}
		if o.cfg.VerificationPolicy == WithholdFailedWorker && !verifications[r.result.WorkerID] {
			continue // withheld from reward and provider fee under the default verification policy
		}
		providerWorkers = append(providerWorkers, r.result.WorkerID)
		rewardWorkers = append(rewardWorkers, r.result.WorkerID)
	}

	if reward > 0 && len(rewardWorkers) > 0 {
		o.cfg.Reward.RecordMinted(reward)
		share := reward / float64(len(rewardWorkers))
		for _, w := range rewardWorkers {
			_, _ = o.cfg.Ledger.Credit(w, share, TxMine, map[string]string{"block_height": strconv.FormatUint(height, 10)})
		}
	}

	var feePerNode float64
	if effectiveFee > 0 && len(providerWorkers) > 0 && req.ModelID != "" {
		payouts, err := o.cfg.Contrib.Split(effectiveFee, providerWorkers, req.ModelID)
		if err == nil {
			for id, amount := range payouts {
				_, _ = o.cfg.Ledger.Credit(id, amount, TxFee, map[string]string{"block_height": strconv.FormatUint(height, 10)})
			}
		}
		feePerNode = effectiveFee * providerPoolFraction / float64(len(providerWorkers))
	} else if effectiveFee > 0 && len(providerWorkers) > 0 {
		// no model lineage: the whole effective fee is the provider pool.
		share := effectiveFee / float64(len(providerWorkers))
		for _, w := range providerWorkers {
			_, _ = o.cfg.Ledger.Credit(w, share, TxFee, map[string]string{"block_height": strconv.FormatUint(height, 10)})
		}
		feePerNode = share
	}

	// 9. Report.
	balances := make(map[string]float64, len(providerWorkers)+1)
	for _, w := range providerWorkers {
		balances[w] = o.cfg.Ledger.GetBalance(w)
	}
	balances[req.Payer] = o.cfg.Ledger.GetBalance(req.Payer)

	return InferenceResult{
		Prompt:         req.Prompt,
		Response:       response,
		PerNode:        perNode,
		Verifications:  verifications,
		TotalLatencyMS: uint64(time.Since(start).Milliseconds()),
		BlockHeight:    height,
		BlockReward:    reward,
		Balances:       balances,
		PayerBalance:   balances[req.Payer],
		FeePerNode:     feePerNode,
	}, nil
}

// dispatchAll runs NodeInferenceFn for every routing concurrently
// (errgroup), retrying once with backoff per chunk when configured.
// Results preserve the routings slice's index alignment.
func (o *Orchestrator) dispatchAll(ctx context.Context, routings []Routing) []dispatchOutcome {
	outcomes := make([]dispatchOutcome, len(routings))
	g, gctx := errgroup.WithContext(ctx)

	for i, routing := range routings {
		i, routing := i, routing
		g.Go(func() error {
			start := time.Now()
			text, inputTokens, outputTokens, err := o.cfg.Infer(gctx, routing.WorkerID, routing.Chunk.Text)
			if err != nil && o.cfg.MaxRetries > 0 {
				time.Sleep(o.cfg.RetryBackoff)
				text, inputTokens, outputTokens, err = o.cfg.Infer(gctx, routing.WorkerID, routing.Chunk.Text)
			}
			if err != nil {
				o.cfg.Registry.Strike(routing.WorkerID, err.Error())
				outcomes[i] = dispatchOutcome{routing: routing, err: err}
				return nil // a per-chunk failure does not cancel the group
			}
			outcomes[i] = dispatchOutcome{routing: routing, result: NodeInferenceResult{
				WorkerID:     routing.WorkerID,
				ChunkIndex:   routing.Chunk.Index,
				ChunkText:    routing.Chunk.Text,
				OutputText:   text,
				InputTokens:  inputTokens,
				OutputTokens: outputTokens,
				LatencyMS:    uint64(time.Since(start).Milliseconds()),
			}}
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

// NodeInferenceResult returns r's embedded result as a value the aggregator
// can hand back to callers.
func (r dispatchOutcome) NodeInferenceResult() NodeInferenceResult { return r.result }
