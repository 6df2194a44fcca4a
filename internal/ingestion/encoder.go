package ingestion

import (
	"encoding/json"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"RingSim/internal/core"
	"RingSim/internal/ledger"
)

// --- outbound JSON wire formats ---

type reportJSON struct {
	SimulationID string `json:"simulation_id"`
	Reverted     bool   `json:"reverted"`

	RingMinedEvents   []ringMinedJSON    `json:"ring_mined_events"`
	InvalidRingEvents []string           `json:"invalid_ring_events"`
	TransferItems     []transferItemJSON `json:"transfer_items"`

	FeeBalancesBefore []bookEntryJSON `json:"fee_balances_before"`
	FeeBalancesAfter  []bookEntryJSON `json:"fee_balances_after"`

	FilledAmountsBefore map[string]string `json:"filled_amounts_before"`
	FilledAmountsAfter  map[string]string `json:"filled_amounts_after"`

	BalancesBefore []bookEntryJSON `json:"balances_before"`
	BalancesAfter  []bookEntryJSON `json:"balances_after"`

	Digest string `json:"digest"`
}

type ringMinedJSON struct {
	RingIndex    string     `json:"ring_index"`
	RingHash     string     `json:"ring_hash"`
	FeeRecipient string     `json:"fee_recipient"`
	Fills        []fillJSON `json:"fills"`
}

type fillJSON struct {
	OrderHash string `json:"order_hash"`
	Owner     string `json:"owner"`
	TokenS    string `json:"token_s"`
	AmountS   string `json:"amount_s"`
	Split     string `json:"split"`
	FeeAmount string `json:"fee_amount"`
}

type transferItemJSON struct {
	Token       string `json:"token"`
	From        string `json:"from"`
	To          string `json:"to"`
	Amount      string `json:"amount"`
	TokenType   string `json:"token_type"`
	FromTranche string `json:"from_tranche"`
	ToTranche   string `json:"to_tranche"`
	Data        string `json:"data,omitempty"`
}

type bookEntryJSON struct {
	Owner   string `json:"owner"`
	Token   string `json:"token"`
	Tranche string `json:"tranche"`
	Amount  string `json:"amount"`
}

// EncodeReport serializes a simulation report for the CLI and the
// pre-flight reply. Book entries come out in their deterministic sorted
// order.
func EncodeReport(report *core.Report) ([]byte, error) {
	digest := report.Digest()
	j := reportJSON{
		SimulationID:        report.SimulationID.String(),
		Reverted:            report.Reverted,
		RingMinedEvents:     make([]ringMinedJSON, 0, len(report.RingMinedEvents)),
		InvalidRingEvents:   make([]string, 0, len(report.InvalidRingEvents)),
		TransferItems:       make([]transferItemJSON, 0, len(report.TransferItems)),
		FeeBalancesBefore:   encodeBook(report.FeeBalancesBefore),
		FeeBalancesAfter:    encodeBook(report.FeeBalancesAfter),
		FilledAmountsBefore: encodeFilled(report.FilledAmountsBefore),
		FilledAmountsAfter:  encodeFilled(report.FilledAmountsAfter),
		BalancesBefore:      encodeBook(report.BalancesBefore),
		BalancesAfter:       encodeBook(report.BalancesAfter),
		Digest:              hexutil.Encode(digest[:]),
	}

	for _, evt := range report.RingMinedEvents {
		fills := make([]fillJSON, 0, len(evt.Fills))
		for _, fill := range evt.Fills {
			fills = append(fills, fillJSON{
				OrderHash: fill.OrderHash.Hex(),
				Owner:     fill.Owner.Hex(),
				TokenS:    fill.TokenS.Hex(),
				AmountS:   fill.AmountS.String(),
				Split:     fill.Split.String(),
				FeeAmount: fill.FeeAmount.String(),
			})
		}
		j.RingMinedEvents = append(j.RingMinedEvents, ringMinedJSON{
			RingIndex:    evt.RingIndex.String(),
			RingHash:     evt.RingHash,
			FeeRecipient: evt.FeeRecipient.Hex(),
			Fills:        fills,
		})
	}
	for _, evt := range report.InvalidRingEvents {
		j.InvalidRingEvents = append(j.InvalidRingEvents, evt.RingHash.Hex())
	}
	for _, item := range report.TransferItems {
		encoded := transferItemJSON{
			Token:       item.Token.Hex(),
			From:        item.From.Hex(),
			To:          item.To.Hex(),
			Amount:      item.Amount.String(),
			TokenType:   item.TokenType.String(),
			FromTranche: item.FromTranche.Hex(),
			ToTranche:   item.ToTranche.Hex(),
		}
		if len(item.Data) > 0 {
			encoded.Data = hexutil.Encode(item.Data)
		}
		j.TransferItems = append(j.TransferItems, encoded)
	}

	return json.MarshalIndent(j, "", "  ")
}

func encodeBook(book *ledger.BalanceBook) []bookEntryJSON {
	if book == nil {
		return nil
	}
	entries := book.Entries()
	encoded := make([]bookEntryJSON, 0, len(entries))
	for _, e := range entries {
		encoded = append(encoded, bookEntryJSON{
			Owner:   e.Owner.Hex(),
			Token:   e.Token.Hex(),
			Tranche: e.Tranche.Hex(),
			Amount:  e.Amount.String(),
		})
	}
	return encoded
}

func encodeFilled(filled map[common.Hash]*big.Int) map[string]string {
	encoded := make(map[string]string, len(filled))
	for hash, amount := range filled {
		encoded[hash.Hex()] = amount.String()
	}
	return encoded
}
