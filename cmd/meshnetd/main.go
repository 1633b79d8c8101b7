package main

import (
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/meshnet-labs/meshnet/cmd/meshnetd/httpapi"
	"github.com/meshnet-labs/meshnet/core"
	"github.com/meshnet-labs/meshnet/pkg/config"
)

func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		logrus.WithError(err).Fatal("load config")
	}

	ledger, err := core.NewTokenLedger(core.LedgerConfig{WALPath: cfg.Ledger.WALPath})
	if err != nil {
		logrus.WithError(err).Fatal("open ledger")
	}
	defer ledger.Close()

	reward := core.NewRewardSchedule(core.RewardScheduleConfig{
		InitialReward:         cfg.Reward.InitialReward,
		HalvingIntervalBlocks: cfg.Reward.HalvingIntervalBlocks,
		MinReward:             cfg.Reward.MinReward,
		MaxSupply:             cfg.Reward.MaxSupply,
	})
	registry := core.NewWorkerRegistry(cfg.Worker.MaxStrikes)

	ctrl := &httpapi.Controller{Ledger: ledger, Reward: reward, Registry: registry}
	hub := httpapi.NewStatusHub(func() any {
		return map[string]any{
			"workers": registry.OnlineWorkers(),
			"minted":  reward.MintedTotal(),
		}
	})
	stop := make(chan struct{})
	defer close(stop)
	go hub.Run(stop, 2*time.Second)

	router := httpapi.NewRouter(ctrl, hub)

	addr := cfg.Relay.ListenAddr
	if addr == "" {
		addr = "0.0.0.0:8080"
	}
	logrus.WithField("addr", addr).Info("meshnetd status surface listening")
	if err := http.ListenAndServe(addr, router); err != nil {
		logrus.WithError(err).Fatal("http server")
	}
}
