package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/meshnet-labs/meshnet/core"
	"github.com/meshnet-labs/meshnet/pkg/config"
)

func rewardCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "reward"}
	cmd.AddCommand(rewardScheduleCmd())
	return cmd
}

func rewardScheduleCmd() *cobra.Command {
	var fromHeight, toHeight uint64
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "print block_reward for a range of heights",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadFromEnv()
			if err != nil {
				return err
			}
			sched := core.NewRewardSchedule(core.RewardScheduleConfig{
				InitialReward:         cfg.Reward.InitialReward,
				HalvingIntervalBlocks: cfg.Reward.HalvingIntervalBlocks,
				MinReward:             cfg.Reward.MinReward,
				MaxSupply:             cfg.Reward.MaxSupply,
			})
			if toHeight < fromHeight {
				toHeight = fromHeight
			}
			for h := fromHeight; h <= toHeight; h++ {
				fmt.Printf("height=%d reward=%.8f\n", h, sched.BlockReward(h))
			}
			return nil
		},
	}
	cmd.Flags().Uint64Var(&fromHeight, "from", 0, "first height to print")
	cmd.Flags().Uint64Var(&toHeight, "to", 0, "last height to print")
	return cmd
}
