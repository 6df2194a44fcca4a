// Package ingestion decodes pre-flight simulation requests from their JSON
// wire format into the typed ring batch and chain snapshot.
package ingestion

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"RingSim/internal/chain"
	"RingSim/internal/types"
)

// Request is a fully decoded pre-flight request: the miner's ring batch
// plus the chain snapshot to simulate against.
type Request struct {
	Input    *types.RingsInput
	Snapshot *chain.Snapshot
}

// --- JSON wire formats ---
// Addresses and hashes are 0x-hex strings; amounts are decimal or 0x-hex
// big-integer strings. Field names use snake_case to match upstream
// producers.

type requestJSON struct {
	RingsInput    ringsInputJSON    `json:"rings_input"`
	ChainSnapshot chainSnapshotJSON `json:"chain_snapshot"`
}

type ringsInputJSON struct {
	Orders            []orderJSON `json:"orders"`
	Rings             [][]int     `json:"rings"`
	FeeRecipient      string      `json:"fee_recipient"`
	Miner             string      `json:"miner"`
	Sig               string      `json:"sig"`
	TransactionOrigin string      `json:"transaction_origin"`
	Timestamp         uint64      `json:"timestamp"`
}

type orderJSON struct {
	Owner          string `json:"owner"`
	TokenRecipient string `json:"token_recipient"`
	Broker         string `json:"broker"`
	WalletAddr     string `json:"wallet_addr"`
	DualAuthAddr   string `json:"dual_auth_addr"`

	TokenS   string `json:"token_s"`
	TokenB   string `json:"token_b"`
	FeeToken string `json:"fee_token"`

	AmountS   string `json:"amount_s"`
	AmountB   string `json:"amount_b"`
	FeeAmount string `json:"fee_amount"`

	TrancheS   string `json:"tranche_s"`
	TrancheB   string `json:"tranche_b"`
	TrancheFee string `json:"tranche_fee"`

	TokenTypeS   string `json:"token_type_s"`
	TokenTypeB   string `json:"token_type_b"`
	TokenTypeFee string `json:"token_type_fee"`

	TransferDataS string `json:"transfer_data_s"`

	ValidSince uint64 `json:"valid_since"`
	ValidUntil uint64 `json:"valid_until"`

	AllOrNone bool `json:"all_or_none"`

	FeePercentage         int `json:"fee_percentage"`
	TokenSFeePercentage   int `json:"token_s_fee_percentage"`
	TokenBFeePercentage   int `json:"token_b_fee_percentage"`
	WalletSplitPercentage int `json:"wallet_split_percentage"`
	WaiveFeePercentage    int `json:"waive_fee_percentage"`

	Sig         string `json:"sig"`
	DualAuthSig string `json:"dual_auth_sig"`
}

type chainSnapshotJSON struct {
	Filled           map[string]string     `json:"filled"`
	Cancelled        []string              `json:"cancelled"`
	FeeBalances      []feeBalanceJSON      `json:"fee_balances"`
	BurnRates        map[string]uint32     `json:"burn_rates"`
	Brokers          []brokerJSON          `json:"brokers"`
	Balances         []balanceJSON         `json:"balances"`
	Allowances       []balanceJSON         `json:"allowances"`
	BrokerAllowances []brokerAllowanceJSON `json:"broker_allowances"`
	CanSendRules     []canSendRuleJSON     `json:"can_send_rules"`
}

type feeBalanceJSON struct {
	Token  string `json:"token"`
	Owner  string `json:"owner"`
	Amount string `json:"amount"`
}

type brokerJSON struct {
	Owner       string `json:"owner"`
	Broker      string `json:"broker"`
	Interceptor string `json:"interceptor"`
}

type balanceJSON struct {
	Token   string `json:"token"`
	Tranche string `json:"tranche"`
	Owner   string `json:"owner"`
	Amount  string `json:"amount"`
}

type brokerAllowanceJSON struct {
	Token   string `json:"token"`
	Tranche string `json:"tranche"`
	Owner   string `json:"owner"`
	Broker  string `json:"broker"`
	Amount  string `json:"amount"`
}

type canSendRuleJSON struct {
	Token       string `json:"token"`
	Tranche     string `json:"tranche"`
	Status      uint8  `json:"status"`
	DestTranche string `json:"dest_tranche"`
}

// ParseRequest decodes a pre-flight request payload.
func ParseRequest(data []byte) (*Request, error) {
	var j requestJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse request: %w", err)
	}

	input, err := parseRingsInput(&j.RingsInput)
	if err != nil {
		return nil, err
	}
	snapshot, err := parseSnapshot(&j.ChainSnapshot)
	if err != nil {
		return nil, err
	}
	return &Request{Input: input, Snapshot: snapshot}, nil
}

func parseRingsInput(j *ringsInputJSON) (*types.RingsInput, error) {
	input := &types.RingsInput{
		Rings:             j.Rings,
		FeeRecipient:      common.HexToAddress(j.FeeRecipient),
		Miner:             common.HexToAddress(j.Miner),
		TransactionOrigin: common.HexToAddress(j.TransactionOrigin),
		Timestamp:         j.Timestamp,
	}

	sig, err := parseBytes(j.Sig)
	if err != nil {
		return nil, fmt.Errorf("parse sig: %w", err)
	}
	input.Sig = sig

	for i := range j.Orders {
		o, err := parseOrder(&j.Orders[i])
		if err != nil {
			return nil, fmt.Errorf("parse order %d: %w", i, err)
		}
		input.Orders = append(input.Orders, o)
	}
	return input, nil
}

func parseOrder(j *orderJSON) (*types.Order, error) {
	o := &types.Order{
		Owner:          common.HexToAddress(j.Owner),
		TokenRecipient: common.HexToAddress(j.TokenRecipient),
		Broker:         common.HexToAddress(j.Broker),
		WalletAddr:     common.HexToAddress(j.WalletAddr),
		DualAuthAddr:   common.HexToAddress(j.DualAuthAddr),
		TokenS:         common.HexToAddress(j.TokenS),
		TokenB:         common.HexToAddress(j.TokenB),
		FeeToken:       common.HexToAddress(j.FeeToken),
		TrancheS:       common.HexToAddress(j.TrancheS),
		TrancheB:       common.HexToAddress(j.TrancheB),
		TrancheFee:     common.HexToAddress(j.TrancheFee),

		ValidSince: j.ValidSince,
		ValidUntil: j.ValidUntil,
		AllOrNone:  j.AllOrNone,

		FeePercentage:         j.FeePercentage,
		TokenSFeePercentage:   j.TokenSFeePercentage,
		TokenBFeePercentage:   j.TokenBFeePercentage,
		WalletSplitPercentage: j.WalletSplitPercentage,
		WaiveFeePercentage:    j.WaiveFeePercentage,
	}

	// The token recipient defaults to the owner.
	if o.TokenRecipient == types.ZeroAddress {
		o.TokenRecipient = o.Owner
	}

	var err error
	if o.AmountS, err = parseBig(j.AmountS); err != nil {
		return nil, fmt.Errorf("amount_s: %w", err)
	}
	if o.AmountB, err = parseBig(j.AmountB); err != nil {
		return nil, fmt.Errorf("amount_b: %w", err)
	}
	if o.FeeAmount, err = parseBig(j.FeeAmount); err != nil {
		return nil, fmt.Errorf("fee_amount: %w", err)
	}

	if o.TokenTypeS, err = parseTokenType(j.TokenTypeS); err != nil {
		return nil, fmt.Errorf("token_type_s: %w", err)
	}
	if o.TokenTypeB, err = parseTokenType(j.TokenTypeB); err != nil {
		return nil, fmt.Errorf("token_type_b: %w", err)
	}
	if o.TokenTypeFee, err = parseTokenType(j.TokenTypeFee); err != nil {
		return nil, fmt.Errorf("token_type_fee: %w", err)
	}

	if o.TransferDataS, err = parseBytes(j.TransferDataS); err != nil {
		return nil, fmt.Errorf("transfer_data_s: %w", err)
	}
	if o.Sig, err = parseBytes(j.Sig); err != nil {
		return nil, fmt.Errorf("sig: %w", err)
	}
	if o.DualAuthSig, err = parseBytes(j.DualAuthSig); err != nil {
		return nil, fmt.Errorf("dual_auth_sig: %w", err)
	}
	return o, nil
}

func parseSnapshot(j *chainSnapshotJSON) (*chain.Snapshot, error) {
	snapshot := chain.NewSnapshot()

	for hash, amount := range j.Filled {
		v, err := parseBig(amount)
		if err != nil {
			return nil, fmt.Errorf("filled %s: %w", hash, err)
		}
		snapshot.SetFilled(common.HexToHash(hash), v)
	}
	for _, hash := range j.Cancelled {
		snapshot.SetCancelled(common.HexToHash(hash))
	}
	for _, fb := range j.FeeBalances {
		v, err := parseBig(fb.Amount)
		if err != nil {
			return nil, fmt.Errorf("fee balance: %w", err)
		}
		snapshot.SetFeeBalance(common.HexToAddress(fb.Token), common.HexToAddress(fb.Owner), v)
	}
	for token, packed := range j.BurnRates {
		snapshot.SetBurnRate(common.HexToAddress(token), packed)
	}
	for _, b := range j.Brokers {
		snapshot.RegisterBroker(
			common.HexToAddress(b.Owner),
			common.HexToAddress(b.Broker),
			common.HexToAddress(b.Interceptor),
		)
	}
	for _, b := range j.Balances {
		v, err := parseBig(b.Amount)
		if err != nil {
			return nil, fmt.Errorf("balance: %w", err)
		}
		snapshot.SetBalance(common.HexToAddress(b.Token), common.HexToAddress(b.Tranche), common.HexToAddress(b.Owner), v)
	}
	for _, a := range j.Allowances {
		v, err := parseBig(a.Amount)
		if err != nil {
			return nil, fmt.Errorf("allowance: %w", err)
		}
		snapshot.SetAllowance(common.HexToAddress(a.Token), common.HexToAddress(a.Tranche), common.HexToAddress(a.Owner), v)
	}
	for _, a := range j.BrokerAllowances {
		v, err := parseBig(a.Amount)
		if err != nil {
			return nil, fmt.Errorf("broker allowance: %w", err)
		}
		snapshot.SetBrokerAllowance(
			common.HexToAddress(a.Token),
			common.HexToAddress(a.Tranche),
			common.HexToAddress(a.Owner),
			common.HexToAddress(a.Broker),
			v,
		)
	}
	for _, rule := range j.CanSendRules {
		snapshot.SetCanSendRule(
			common.HexToAddress(rule.Token),
			common.HexToAddress(rule.Tranche),
			chain.CanSendRule{
				Status:      rule.Status,
				DestTranche: common.HexToAddress(rule.DestTranche),
			},
		)
	}
	return snapshot, nil
}

func parseTokenType(s string) (types.TokenType, error) {
	switch strings.ToUpper(s) {
	case "", "ERC20":
		return types.TokenTypeERC20, nil
	case "ERC1400":
		return types.TokenTypeERC1400, nil
	default:
		return 0, fmt.Errorf("unknown token type %q", s)
	}
}

func parseBig(s string) (*big.Int, error) {
	if s == "" {
		return new(big.Int), nil
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		v, ok := new(big.Int).SetString(s[2:], 16)
		if !ok {
			return nil, fmt.Errorf("bad hex amount %q", s)
		}
		return v, nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("bad amount %q", s)
	}
	return v, nil
}

func parseBytes(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	return hexutil.Decode(s)
}
