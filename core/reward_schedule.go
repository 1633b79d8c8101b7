package core

import (
	"math"
	"sync"
	"time"
)

// RewardScheduleConfig configures the block-reward curve.
//
// EpochSource is optional; when nil the schedule falls back to the fixed
// halving-interval policy (height / HalvingIntervalBlocks). Supplying an
// EpochSource switches to a demand-driven epoch manager, computed from
// observed inference throughput rather than block height alone.
type RewardScheduleConfig struct {
	InitialReward          float64 // R0
	HalvingIntervalBlocks  uint64  // L, used when EpochSource is nil
	MinReward              float64 // floor reward once halving bottoms out
	MaxSupply              float64 // S_max, fixed-supply cap
	EpochSource            EpochSource
}

// EpochSource computes the current halving epoch independent of raw block
// height, letting the schedule be driven by observed network demand
// (inferences-per-second times an epoch duration) rather than a fixed
// block count. The fixed-interval policy (height / L) is itself just a
// trivial EpochSource and is used whenever the caller does not supply one.
type EpochSource interface {
	EpochAt(height uint64) uint64
}

// fixedIntervalEpochs implements the baseline fixed-interval epoch rule.
type fixedIntervalEpochs struct {
	interval uint64
}

func (f fixedIntervalEpochs) EpochAt(height uint64) uint64 {
	if f.interval == 0 {
		return 0
	}
	return height / f.interval
}

// DemandEpochSource derives the epoch boundary from observed inference
// throughput: an epoch elapses every time epochDuration worth of inferences
// (ips * epochDuration) have been processed, rather than after a fixed
// number of blocks. Callers record throughput via Observe as blocks are
// produced; EpochAt then looks up the epoch in effect at height.
type DemandEpochSource struct {
	mu            sync.Mutex
	epochDuration time.Duration
	boundaries    []uint64 // height at which epoch i+1 begins, index 0 = epoch 1 start
}

// NewDemandEpochSource constructs a demand-driven epoch source with the
// given epoch duration (wall-clock target per epoch).
func NewDemandEpochSource(epochDuration time.Duration) *DemandEpochSource {
	return &DemandEpochSource{epochDuration: epochDuration}
}

// Observe records that, at the given height, the network was running at
// ips inferences/sec. When the implied blocks-per-epoch (ips * epochDuration
// expressed in blocks, one block per inference for simplicity) elapses
// since the last boundary, a new epoch boundary is appended.
func (d *DemandEpochSource) Observe(height uint64, ips float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ips <= 0 {
		return
	}
	blocksPerEpoch := uint64(math.Max(1, ips*d.epochDuration.Seconds()))
	last := uint64(0)
	if n := len(d.boundaries); n > 0 {
		last = d.boundaries[n-1]
	}
	if height >= last+blocksPerEpoch {
		d.boundaries = append(d.boundaries, last+blocksPerEpoch)
	}
}

// EpochAt returns how many recorded boundaries are at or below height.
func (d *DemandEpochSource) EpochAt(height uint64) uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	epoch := uint64(0)
	for _, b := range d.boundaries {
		if height >= b {
			epoch++
		} else {
			break
		}
	}
	return epoch
}

// RewardSchedule computes the per-block mining reward under monotonic
// halving with a floor and a fixed total-supply cap.
type RewardSchedule struct {
	cfg RewardScheduleConfig

	mu           sync.Mutex
	mintedTotal  float64
}

// NewRewardSchedule constructs a schedule. HalvingIntervalBlocks must be > 0
// when EpochSource is nil.
func NewRewardSchedule(cfg RewardScheduleConfig) *RewardSchedule {
	if cfg.EpochSource == nil {
		cfg.EpochSource = fixedIntervalEpochs{interval: cfg.HalvingIntervalBlocks}
	}
	return &RewardSchedule{cfg: cfg}
}

// BlockReward returns the reward due at height, after clamping to MinReward
// and to whatever remains under MaxSupply. It does not mutate minted-supply
// state; callers that actually mint must call RecordMinted afterward so
// subsequent calls see the reduced remaining cap.
func (r *RewardSchedule) BlockReward(height uint64) float64 {
	epoch := r.cfg.EpochSource.EpochAt(height)
	raw := r.cfg.InitialReward / math.Pow(2, float64(epoch))
	if raw < r.cfg.MinReward {
		raw = r.cfg.MinReward
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	remaining := r.cfg.MaxSupply - r.mintedTotal
	if remaining <= 0 {
		return 0
	}
	if raw > remaining {
		return remaining
	}
	return raw
}

// RecordMinted advances the schedule's view of total supply issued so far.
// Callers invoke this exactly once per block actually minted, after
// crediting the reward to the ledger.
func (r *RewardSchedule) RecordMinted(amount float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mintedTotal += amount
}

// MintedTotal reports cumulative supply issued so far.
func (r *RewardSchedule) MintedTotal() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mintedTotal
}
