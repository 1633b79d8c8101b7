package config

import (
	"os"
	"testing"

	"github.com/spf13/viper"

	"github.com/meshnet-labs/meshnet/internal/testutil"
)

func TestLoadConfigDefault(t *testing.T) {
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd failed: %v", err)
	}
	defer os.Chdir(wd)
	viper.Reset()

	if err := os.Chdir(".."); err != nil {
		t.Fatalf("chdir failed: %v", err)
	}
	LoadConfig("")
	if AppConfig.Chunking.MaxChunkLength != 200 {
		t.Fatalf("unexpected max_chunk_length: %d", AppConfig.Chunking.MaxChunkLength)
	}
	if AppConfig.Relay.ListenAddr != "0.0.0.0:7700" {
		t.Fatalf("unexpected listen_addr: %s", AppConfig.Relay.ListenAddr)
	}
}

func TestLoadConfigOverride(t *testing.T) {
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd failed: %v", err)
	}
	defer os.Chdir(wd)
	viper.Reset()

	if err := os.Chdir(".."); err != nil {
		t.Fatalf("chdir failed: %v", err)
	}
	LoadConfig("bootstrap")
	if AppConfig.Relay.TimeoutMS != 120000 {
		t.Fatalf("expected relay_timeout_ms 120000, got %d", AppConfig.Relay.TimeoutMS)
	}
	if AppConfig.Worker.MaxStrikes != 10 {
		t.Fatalf("expected max_strikes 10, got %d", AppConfig.Worker.MaxStrikes)
	}
}

func TestLoadConfigSandbox(t *testing.T) {
	sb, err := testutil.NewSandbox()
	if err != nil {
		t.Fatalf("NewSandbox failed: %v", err)
	}
	defer sb.Cleanup()

	if err := os.Mkdir(sb.Path("config"), 0700); err != nil {
		t.Fatalf("Mkdir failed: %v", err)
	}

	data := []byte("chunking:\n  max_chunk_length: 42\n")
	if err := sb.WriteFile("config/default.yaml", data, 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd failed: %v", err)
	}
	defer os.Chdir(wd)
	viper.Reset()

	if err := os.Chdir(sb.Root); err != nil {
		t.Fatalf("chdir failed: %v", err)
	}
	LoadConfig("")

	if AppConfig.Chunking.MaxChunkLength != 42 {
		t.Fatalf("expected max_chunk_length 42, got %d", AppConfig.Chunking.MaxChunkLength)
	}
}
