package ledger

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"bazaar/internal/market"
)

// Genesis describes the initial state of the embedded ledgers: token
// balances and allowances, deployed asset contracts, minted assets and
// their approvals. Loaded once at server start.
type Genesis struct {
	Token struct {
		Balances   map[string]uint64            `json:"balances"`
		Allowances map[string]map[string]uint64 `json:"allowances"` // owner -> spender -> amount
	} `json:"token"`
	Assets []GenesisContract `json:"assets"`
}

type GenesisContract struct {
	Contract        string              `json:"contract"`
	Fingerprintable bool                `json:"fingerprintable"`
	ApproveAll      map[string][]string `json:"approveAll"` // owner -> operators
	Tokens          []GenesisToken      `json:"tokens"`
}

type GenesisToken struct {
	ID          uint64 `json:"id"`
	Owner       string `json:"owner"`
	Approved    string `json:"approved,omitempty"`
	Fingerprint string `json:"fingerprint,omitempty"` // hex encoded
}

// LoadGenesis reads and decodes a genesis file.
func LoadGenesis(path string) (Genesis, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Genesis{}, fmt.Errorf("read genesis: %w", err)
	}
	var g Genesis
	if err := json.Unmarshal(raw, &g); err != nil {
		return Genesis{}, fmt.Errorf("decode genesis: %w", err)
	}
	return g, nil
}

// Apply seeds the ledgers from g.
func Apply(g Genesis, tokens *TokenLedger, assets *AssetLedger) error {
	for addr, amount := range g.Token.Balances {
		tokens.Mint(market.Address(addr), amount)
	}
	for owner, row := range g.Token.Allowances {
		for spender, amount := range row {
			tokens.Approve(market.Address(owner), market.Address(spender), amount)
		}
	}

	for _, gc := range g.Assets {
		contract := market.Address(gc.Contract)
		if err := assets.RegisterContract(contract, gc.Fingerprintable); err != nil {
			return err
		}
		for owner, operators := range gc.ApproveAll {
			for _, op := range operators {
				if err := assets.SetApprovalForAll(contract, market.Address(owner), market.Address(op), true); err != nil {
					return err
				}
			}
		}
		for _, t := range gc.Tokens {
			owner := market.Address(t.Owner)
			if err := assets.Mint(contract, t.ID, owner); err != nil {
				return err
			}
			if t.Approved != "" {
				if err := assets.Approve(contract, owner, market.Address(t.Approved), t.ID); err != nil {
					return err
				}
			}
			if t.Fingerprint != "" {
				fp, err := hex.DecodeString(t.Fingerprint)
				if err != nil {
					return fmt.Errorf("asset %s/%d fingerprint: %w", gc.Contract, t.ID, err)
				}
				if err := assets.SetFingerprint(contract, t.ID, fp); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
