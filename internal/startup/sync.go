package startup

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	logs "github.com/danmuck/nodectl/internal/logging"
	"github.com/danmuck/nodectl/internal/rpc"
)

// SyncDecision is the outcome of a sync check.
type SyncDecision struct {
	Onboarding   bool
	Syncing      bool
	CurrentBlock uint64
	HighestBlock uint64
}

// SyncChecker decides between the main session and onboarding once the node
// answers.
type SyncChecker interface {
	CheckSync(ctx context.Context, mux *rpc.Mux) (SyncDecision, error)
}

// SyncCheckerFunc adapts a function to SyncChecker.
type SyncCheckerFunc func(ctx context.Context, mux *rpc.Mux) (SyncDecision, error)

func (f SyncCheckerFunc) CheckSync(ctx context.Context, mux *rpc.Mux) (SyncDecision, error) {
	return f(ctx, mux)
}

// RPCSyncChecker asks the node via eth_syncing. A syncing node whose network
// was never chosen goes to onboarding.
type RPCSyncChecker struct {
	Onboarded bool
	Timeout   time.Duration
}

type syncProgress struct {
	StartingBlock string `json:"startingBlock"`
	CurrentBlock  string `json:"currentBlock"`
	HighestBlock  string `json:"highestBlock"`
}

func (c RPCSyncChecker) CheckSync(ctx context.Context, mux *rpc.Mux) (SyncDecision, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := mux.Register("")
	if err != nil {
		return SyncDecision{}, err
	}
	defer client.Close()

	req, err := rpc.NewRequest(1, "eth_syncing", []any{})
	if err != nil {
		return SyncDecision{}, err
	}
	resp, err := client.Request(ctx, req)
	if err != nil {
		return SyncDecision{}, err
	}
	if resp.Error != nil {
		return SyncDecision{}, resp.Error
	}
	decision, err := parseSyncing(resp.Result)
	if err != nil {
		return SyncDecision{}, err
	}
	decision.Onboarding = decision.Syncing && !c.Onboarded
	logs.Infof("startup.RPCSyncChecker syncing=%t current=%d highest=%d onboarding=%t",
		decision.Syncing, decision.CurrentBlock, decision.HighestBlock, decision.Onboarding)
	return decision, nil
}

func parseSyncing(raw json.RawMessage) (SyncDecision, error) {
	var syncing bool
	if err := json.Unmarshal(raw, &syncing); err == nil {
		return SyncDecision{Syncing: syncing}, nil
	}
	var progress syncProgress
	if err := json.Unmarshal(raw, &progress); err != nil {
		return SyncDecision{}, fmt.Errorf("startup: unexpected eth_syncing result %s: %w", string(raw), err)
	}
	current, err := parseQuantity(progress.CurrentBlock)
	if err != nil {
		return SyncDecision{}, err
	}
	highest, err := parseQuantity(progress.HighestBlock)
	if err != nil {
		return SyncDecision{}, err
	}
	return SyncDecision{Syncing: true, CurrentBlock: current, HighestBlock: highest}, nil
}

func parseQuantity(hex string) (uint64, error) {
	if hex == "" {
		return 0, nil
	}
	trimmed := strings.TrimPrefix(strings.TrimPrefix(hex, "0x"), "0X")
	if trimmed == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(trimmed, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("startup: bad quantity %q: %w", hex, err)
	}
	return v, nil
}
