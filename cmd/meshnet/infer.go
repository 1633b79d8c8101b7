package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/meshnet-labs/meshnet/core"
	"github.com/meshnet-labs/meshnet/internal/zkcircuit"
	"github.com/meshnet-labs/meshnet/pkg/config"
)

// demoEmbed is a deterministic, dependency-free stand-in for a real
// embedding service, since EmbedFn implementations may perform I/O.
// It derives a fixed-length vector from the FNV-ish byte sum of text so the
// CLI entry point is runnable without a production embedding backend.
func demoEmbed(dimensions int) core.EmbedFn {
	return func(ctx context.Context, text string) (core.Vector, error) {
		v := make(core.Vector, dimensions)
		var seed uint32 = 2166136261
		for _, b := range []byte(text) {
			seed = (seed ^ uint32(b)) * 16777619
		}
		for i := range v {
			seed = seed*1664525 + 1013904223
			v[i] = float32(seed%1000) / 1000.0
		}
		return v, nil
	}
}

// demoInfer is a deterministic, dependency-free stand-in for a real
// NodeInferenceFn: the output text is the upper-cased chunk, and the
// token vectors are deterministic functions of chunk/output text bytes so
// ZK commitments reproduce across runs.
func demoInfer(ctx context.Context, workerID, chunkText string) (string, core.Vector, core.Vector, error) {
	output := strings.ToUpper(chunkText)
	toVec := func(s string) core.Vector {
		v := make(core.Vector, len(s))
		for i, b := range []byte(s) {
			v[i] = float32(b) / 255.0
		}
		return v
	}
	return output, toVec(chunkText), toVec(output), nil
}

func inferCmd() *cobra.Command {
	var (
		prompt  string
		payer   string
		feeHint float64
		model   string
		workers []string
	)
	cmd := &cobra.Command{
		Use:   "infer",
		Short: "run one inference request through the orchestrator",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadFromEnv()
			if err != nil {
				return err
			}
			if len(workers) == 0 {
				workers = []string{"worker-1", "worker-2"}
			}

			index, err := core.NewExpertIndex(core.ExpertIndexConfig{
				Dimensions:     cfg.ExpertIndex.Dimensions,
				M:              cfg.ExpertIndex.M,
				EfConstruction: cfg.ExpertIndex.EfConstruction,
				MaxElements:    cfg.ExpertIndex.MaxElements,
				QueryCacheSize: cfg.ExpertIndex.QueryCacheSize,
			})
			if err != nil {
				return err
			}
			embed := demoEmbed(cfg.ExpertIndex.Dimensions)
			registry := core.NewWorkerRegistry(cfg.Worker.MaxStrikes)
			for _, w := range workers {
				emb, _ := embed(cmd.Context(), w)
				if err := index.AddExpert(w, emb); err != nil {
					return err
				}
				registry.Add(w, core.Address(w))
			}

			router := core.NewChunkRouter(core.ChunkRouterConfig{MaxChunkLength: cfg.Chunking.MaxChunkLength}, index, embed)

			prover, err := core.NewZkProver(core.ProverConfig{
				Backend:        zkcircuit.Backend(cfg.Prover.Backend),
				NativeBinary:   cfg.Prover.NativeBinary,
				ProveTimeout:   time.Duration(cfg.Prover.ProveTimeoutMS) * time.Millisecond,
			})
			if err != nil {
				return err
			}
			verifier, err := core.NewZkVerifier()
			if err != nil {
				return err
			}

			ledger, err := core.NewTokenLedger(core.LedgerConfig{WALPath: cfg.Ledger.WALPath})
			if err != nil {
				return err
			}
			defer ledger.Close()
			if payer != "" && feeHint > 0 {
				_, _ = ledger.Credit(payer, feeHint*10, core.TxMine, map[string]string{"reason": "cli_seed_balance"})
			}

			reward := core.NewRewardSchedule(core.RewardScheduleConfig{
				InitialReward:         cfg.Reward.InitialReward,
				HalvingIntervalBlocks: cfg.Reward.HalvingIntervalBlocks,
				MinReward:             cfg.Reward.MinReward,
				MaxSupply:             cfg.Reward.MaxSupply,
			})

			tree := core.NewContributionTree()
			if model != "" {
				_ = tree.AddRoot(model)
			}
			contrib := core.NewContributionTracker(tree)

			orch := core.NewOrchestrator(core.OrchestratorConfig{
				Router:                 router,
				Prover:                 prover,
				Verifier:               verifier,
				Ledger:                 ledger,
				Reward:                 reward,
				Contrib:                contrib,
				Registry:               registry,
				Infer:                  demoInfer,
				DefaultModelMultiplier: cfg.Fee.DefaultModelMultiplier,
			})

			result, err := orch.Infer(cmd.Context(), core.InferRequest{
				Prompt:  prompt,
				Payer:   payer,
				FeeHint: feeHint,
				ModelID: model,
			})
			if err != nil {
				return err
			}

			out, _ := json.MarshalIndent(result, "", "  ")
			fmt.Println(string(out))
			return nil
		},
	}
	cmd.Flags().StringVar(&prompt, "prompt", "", "prompt text to route and run")
	cmd.Flags().StringVar(&payer, "payer", "cli-payer", "account paying the inference fee")
	cmd.Flags().Float64Var(&feeHint, "fee", 0, "fee hint")
	cmd.Flags().StringVar(&model, "model", "", "model id (enables fee multiplier + contribution split)")
	cmd.Flags().StringSliceVar(&workers, "workers", nil, "worker ids to seed the expert index with")
	return cmd
}
