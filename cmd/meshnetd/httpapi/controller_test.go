package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/meshnet-labs/meshnet/core"
)

func newTestController(t *testing.T) *Controller {
	t.Helper()
	ledger, err := core.NewTokenLedger(core.LedgerConfig{})
	if err != nil {
		t.Fatalf("NewTokenLedger: %v", err)
	}
	reward := core.NewRewardSchedule(core.RewardScheduleConfig{
		InitialReward:         10,
		HalvingIntervalBlocks: 100,
		MinReward:             1,
		MaxSupply:             1_000_000,
	})
	registry := core.NewWorkerRegistry(5)
	registry.Add("w1", core.Address("w1-addr"))

	return &Controller{Ledger: ledger, Reward: reward, Registry: registry}
}

func TestHealthEndpoint(t *testing.T) {
	ctrl := newTestController(t)
	srv := httptest.NewServer(NewRouter(ctrl, nil))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("expected status=ok, got %+v", body)
	}
}

func TestLedgerBalanceEndpoint(t *testing.T) {
	ctrl := newTestController(t)
	if _, err := ctrl.Ledger.Credit("alice", 42, core.TxMine, nil); err != nil {
		t.Fatalf("Credit: %v", err)
	}
	srv := httptest.NewServer(NewRouter(ctrl, nil))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/ledger/alice/balance")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["account"] != "alice" {
		t.Fatalf("unexpected account in response: %+v", body)
	}
	if body["balance"].(float64) != 42 {
		t.Fatalf("expected balance 42, got %v", body["balance"])
	}
}

func TestRewardScheduleEndpointRejectsBadHeight(t *testing.T) {
	ctrl := newTestController(t)
	srv := httptest.NewServer(NewRouter(ctrl, nil))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/reward/schedule?height=not-a-number")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestRewardScheduleEndpoint(t *testing.T) {
	ctrl := newTestController(t)
	srv := httptest.NewServer(NewRouter(ctrl, nil))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/reward/schedule?height=0")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["reward"].(float64) != 10 {
		t.Fatalf("expected reward 10 at height 0, got %v", body["reward"])
	}
}

func TestWorkersEndpoint(t *testing.T) {
	ctrl := newTestController(t)
	srv := httptest.NewServer(NewRouter(ctrl, nil))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/workers")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["w1"] != "w1-addr" {
		t.Fatalf("expected w1 online with its endpoint, got %+v", body)
	}
}
