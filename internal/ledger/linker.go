package ledger

import (
	"context"
	"fmt"
	"sync"

	"tradeledger/internal/domain"
	"tradeledger/internal/ports"
)

// LinkPolicy controls how many distinct trades may act on one signal.
type LinkPolicy int

const (
	// LinkMany permits any number of trades to act on the signal.
	LinkMany LinkPolicy = iota
	// LinkSingle permits exactly one trade; a second distinct trade fails.
	LinkSingle
)

// defaultLinkPolicies: buy and sell signals may be worked across multiple
// fills; close (and hold, which should not trade at all) are exclusive.
var defaultLinkPolicies = map[domain.SignalType]LinkPolicy{
	domain.SignalBuy:   LinkMany,
	domain.SignalSell:  LinkMany,
	domain.SignalHold:  LinkSingle,
	domain.SignalClose: LinkSingle,
}

// Linker records which trades acted on a signal. It is the only component
// allowed to mutate a signal: WasActedUpon becomes true on the first
// consuming trade and never reverts.
type Linker struct {
	signals  ports.SignalRepository
	logger   ports.Logger
	policies map[domain.SignalType]LinkPolicy

	mu sync.Mutex // serializes read-modify-write of signal link state
}

// NewLinker creates a Linker. Policy overrides replace the default policy for
// the given signal types.
func NewLinker(signals ports.SignalRepository, logger ports.Logger, overrides map[domain.SignalType]LinkPolicy) (*Linker, error) {
	if signals == nil || logger == nil {
		return nil, fmt.Errorf("missing required dependencies for Linker")
	}
	policies := make(map[domain.SignalType]LinkPolicy, len(defaultLinkPolicies))
	for t, p := range defaultLinkPolicies {
		policies[t] = p
	}
	for t, p := range overrides {
		policies[t] = p
	}
	return &Linker{signals: signals, logger: logger, policies: policies}, nil
}

// LinkTradeToSignal marks a signal as acted upon by a trade. Idempotent for
// a (signal, trade) pair already linked. Linking a second distinct trade to
// a signal whose type is exclusive fails with ErrSignalAlreadyTerminal.
func (l *Linker) LinkTradeToSignal(ctx context.Context, signalID, tradeID string) (*domain.TradingSignal, error) {
	if signalID == "" || tradeID == "" {
		return nil, fmt.Errorf("signal and trade identifiers are required: %w", ports.ErrInvalidRequest)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	sig, err := l.signals.FindSignalByID(ctx, signalID)
	if err != nil {
		return nil, fmt.Errorf("load signal %s: %w", signalID, err)
	}
	if sig == nil {
		return nil, fmt.Errorf("signal %s: %w", signalID, ports.ErrNotFound)
	}

	if sig.IsLinkedTo(tradeID) {
		return sig, nil
	}
	if l.policies[sig.Type] == LinkSingle && len(sig.LinkedTradeIDs) > 0 {
		return nil, fmt.Errorf("signal %s (type %s) already linked to trade %s: %w",
			signalID, sig.Type, sig.LinkedTradeIDs[0], ports.ErrSignalAlreadyTerminal)
	}

	sig.LinkedTradeIDs = append(sig.LinkedTradeIDs, tradeID)
	sig.WasActedUpon = true
	if err := l.signals.SaveSignal(ctx, sig); err != nil {
		// Leave the persisted state authoritative on failure.
		return nil, fmt.Errorf("save signal %s: %w", signalID, err)
	}

	l.logger.Debug(ctx, "Trade linked to signal", map[string]interface{}{
		"signalID": signalID,
		"tradeID":  tradeID,
		"links":    len(sig.LinkedTradeIDs),
	})
	return sig, nil
}
