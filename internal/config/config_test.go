package config_test

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"RingSim/internal/config"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := config.Defaults()
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("RINGSIM_NATS_URL", "nats://example:4222")
	t.Setenv("RINGSIM_FEE_HOLDER", "0x00000000000000000000000000000000000000aa")

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.NATS.URL != "nats://example:4222" {
		t.Errorf("nats url: got %s", cfg.NATS.URL)
	}
	if cfg.FeeHolderAddress() != common.HexToAddress("0xaa") {
		t.Errorf("fee holder: got %s", cfg.FeeHolderAddress().Hex())
	}
}

func TestValidateRejectsBadFeeHolder(t *testing.T) {
	cfg := config.Defaults()
	cfg.Sim.FeeHolder = "not-an-address"
	if err := cfg.Validate(); err == nil {
		t.Error("bad fee holder should be rejected")
	}
}
