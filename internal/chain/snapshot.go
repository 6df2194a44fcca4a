package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"RingSim/internal/types"
)

type balanceKey struct {
	Token   common.Address
	Tranche common.Address
	Owner   common.Address
}

type brokerAllowanceKey struct {
	Token   common.Address
	Tranche common.Address
	Owner   common.Address
	Broker  common.Address
}

type brokerKey struct {
	Owner  common.Address
	Broker common.Address
}

type canSendKey struct {
	Token   common.Address
	Tranche common.Address
}

type brokerEntry struct {
	Interceptor common.Address
	Registered  bool
}

// CanSendRule configures the snapshot's answer for an ERC1400
// (token, source tranche) pair. A missing rule echoes the source tranche
// with a success status.
type CanSendRule struct {
	Status      byte
	DestTranche common.Address
}

// Snapshot is a deterministic in-memory ChainView. All reads are pure map
// lookups with zero defaults, so identical queries always return identical
// results.
type Snapshot struct {
	filled           map[common.Hash]*big.Int
	cancelled        map[common.Hash]bool
	feeBalances      map[balanceKey]*big.Int
	burnRates        map[common.Address]uint32
	brokers          map[brokerKey]brokerEntry
	balances         map[balanceKey]*big.Int
	allowances       map[balanceKey]*big.Int
	brokerAllowances map[brokerAllowanceKey]*big.Int
	canSendRules     map[canSendKey]CanSendRule
}

func NewSnapshot() *Snapshot {
	return &Snapshot{
		filled:           make(map[common.Hash]*big.Int),
		cancelled:        make(map[common.Hash]bool),
		feeBalances:      make(map[balanceKey]*big.Int),
		burnRates:        make(map[common.Address]uint32),
		brokers:          make(map[brokerKey]brokerEntry),
		balances:         make(map[balanceKey]*big.Int),
		allowances:       make(map[balanceKey]*big.Int),
		brokerAllowances: make(map[brokerAllowanceKey]*big.Int),
		canSendRules:     make(map[canSendKey]CanSendRule),
	}
}

// --- setters used by the ingestion parser and tests ---

func (s *Snapshot) SetFilled(orderHash common.Hash, amount *big.Int) {
	s.filled[orderHash] = new(big.Int).Set(amount)
}

func (s *Snapshot) SetCancelled(orderHash common.Hash) {
	s.cancelled[orderHash] = true
}

func (s *Snapshot) SetFeeBalance(token, owner common.Address, amount *big.Int) {
	s.feeBalances[balanceKey{Token: token, Owner: owner}] = new(big.Int).Set(amount)
}

func (s *Snapshot) SetBurnRate(token common.Address, packed uint32) {
	s.burnRates[token] = packed
}

func (s *Snapshot) RegisterBroker(owner, broker, interceptor common.Address) {
	s.brokers[brokerKey{Owner: owner, Broker: broker}] = brokerEntry{
		Interceptor: interceptor,
		Registered:  true,
	}
}

func (s *Snapshot) SetBalance(token, tranche, owner common.Address, amount *big.Int) {
	s.balances[balanceKey{Token: token, Tranche: tranche, Owner: owner}] = new(big.Int).Set(amount)
}

func (s *Snapshot) SetAllowance(token, tranche, owner common.Address, amount *big.Int) {
	s.allowances[balanceKey{Token: token, Tranche: tranche, Owner: owner}] = new(big.Int).Set(amount)
}

func (s *Snapshot) SetBrokerAllowance(token, tranche, owner, broker common.Address, amount *big.Int) {
	key := brokerAllowanceKey{Token: token, Tranche: tranche, Owner: owner, Broker: broker}
	s.brokerAllowances[key] = new(big.Int).Set(amount)
}

func (s *Snapshot) SetCanSendRule(token, tranche common.Address, rule CanSendRule) {
	s.canSendRules[canSendKey{Token: token, Tranche: tranche}] = rule
}

// Fund sets balance and delegate allowance together, the common test setup.
func (s *Snapshot) Fund(token, tranche, owner common.Address, amount *big.Int) {
	s.SetBalance(token, tranche, owner, amount)
	s.SetAllowance(token, tranche, owner, amount)
}

// --- ChainView ---

func (s *Snapshot) BatchGetFilledAndCheckCancelled(_ context.Context, query []common.Hash) ([]*big.Int, error) {
	if len(query)%FilledQueryWords != 0 {
		return nil, fmt.Errorf("batch query length %d is not a multiple of %d", len(query), FilledQueryWords)
	}

	result := make([]*big.Int, 0, len(query)/FilledQueryWords)
	for i := 0; i < len(query); i += FilledQueryWords {
		// Word layout per order: broker, owner, hash, validSince, tokenS^tokenB.
		orderHash := query[i+2]
		if s.cancelled[orderHash] {
			result = append(result, new(big.Int).Set(CancelledSentinel))
			continue
		}
		result = append(result, s.lookupFilled(orderHash))
	}
	return result, nil
}

func (s *Snapshot) Filled(_ context.Context, orderHash common.Hash) (*big.Int, error) {
	if s.cancelled[orderHash] {
		return new(big.Int).Set(CancelledSentinel), nil
	}
	return s.lookupFilled(orderHash), nil
}

func (s *Snapshot) lookupFilled(orderHash common.Hash) *big.Int {
	if amount, ok := s.filled[orderHash]; ok {
		return new(big.Int).Set(amount)
	}
	return new(big.Int)
}

func (s *Snapshot) FeeBalance(_ context.Context, token, owner common.Address) (*big.Int, error) {
	if amount, ok := s.feeBalances[balanceKey{Token: token, Owner: owner}]; ok {
		return new(big.Int).Set(amount), nil
	}
	return new(big.Int), nil
}

func (s *Snapshot) BurnRate(_ context.Context, token common.Address) (uint32, error) {
	return s.burnRates[token], nil
}

func (s *Snapshot) BrokerRegistry(_ context.Context, owner, broker common.Address) (common.Address, bool, error) {
	entry := s.brokers[brokerKey{Owner: owner, Broker: broker}]
	return entry.Interceptor, entry.Registered, nil
}

func (s *Snapshot) Balance(_ context.Context, tokenType types.TokenType, token, tranche, owner common.Address) (*big.Int, error) {
	if tokenType == types.TokenTypeERC20 {
		tranche = types.ZeroAddress
	}
	if amount, ok := s.balances[balanceKey{Token: token, Tranche: tranche, Owner: owner}]; ok {
		return new(big.Int).Set(amount), nil
	}
	return new(big.Int), nil
}

func (s *Snapshot) Allowance(_ context.Context, tokenType types.TokenType, token, tranche, owner common.Address) (*big.Int, error) {
	if tokenType == types.TokenTypeERC20 {
		tranche = types.ZeroAddress
	}
	if amount, ok := s.allowances[balanceKey{Token: token, Tranche: tranche, Owner: owner}]; ok {
		return new(big.Int).Set(amount), nil
	}
	return new(big.Int), nil
}

func (s *Snapshot) BrokerAllowance(_ context.Context, tokenType types.TokenType, token, tranche, owner, broker common.Address) (*big.Int, error) {
	if tokenType == types.TokenTypeERC20 {
		tranche = types.ZeroAddress
	}
	key := brokerAllowanceKey{Token: token, Tranche: tranche, Owner: owner, Broker: broker}
	if amount, ok := s.brokerAllowances[key]; ok {
		return new(big.Int).Set(amount), nil
	}
	return new(big.Int), nil
}

func (s *Snapshot) CanSend(_ context.Context, token, from, to, tranche common.Address, amount *big.Int, data []byte) (CanSendResult, error) {
	if rule, ok := s.canSendRules[canSendKey{Token: token, Tranche: tranche}]; ok {
		return CanSendResult{Status: rule.Status, DestTranche: rule.DestTranche}, nil
	}
	// No restriction configured: allow, crediting the source tranche.
	return CanSendResult{Status: CanSendTransferSuccess, DestTranche: tranche}, nil
}
