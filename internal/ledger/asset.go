package ledger

import (
	"bytes"
	"errors"
	"fmt"
	"sync"

	"bazaar/internal/market"
)

var errUnknownAsset = errors.New("unknown asset")

// AssetTransferHook observes every applied asset transfer. It runs outside
// the ledger lock; returning an error rejects the transfer.
type AssetTransferHook func(contract market.Address, from, to market.Address, assetID uint64) error

type assetContract struct {
	fingerprintable bool
	owners          map[uint64]market.Address
	approvals       map[uint64]market.Address               // per-asset approved operator
	operators       map[market.Address]map[market.Address]bool // owner -> operator -> approved for all
	fingerprints    map[uint64][]byte
}

// AssetLedger is a registry of non-fungible asset contracts and their
// tokens, with ERC721-shaped ownership, approvals, and optional
// fingerprint verification.
type AssetLedger struct {
	mu        sync.Mutex
	contracts map[market.Address]*assetContract
	hook      AssetTransferHook
}

func NewAssetLedger() *AssetLedger {
	return &AssetLedger{contracts: make(map[market.Address]*assetContract)}
}

// SetTransferHook installs fn as the transfer observer.
func (l *AssetLedger) SetTransferHook(fn AssetTransferHook) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hook = fn
}

// RegisterContract deploys an asset contract at addr. Fingerprintable
// contracts advertise fingerprint verification support.
func (l *AssetLedger) RegisterContract(addr market.Address, fingerprintable bool) error {
	if addr.IsZero() {
		return fmt.Errorf("%w: zero contract address", market.ErrInvalidAssetContract)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.contracts[addr]; ok {
		return fmt.Errorf("contract %s already registered", addr)
	}
	l.contracts[addr] = &assetContract{
		fingerprintable: fingerprintable,
		owners:          make(map[uint64]market.Address),
		approvals:       make(map[uint64]market.Address),
		operators:       make(map[market.Address]map[market.Address]bool),
		fingerprints:    make(map[uint64][]byte),
	}
	return nil
}

// Mint assigns assetID to owner under contract.
func (l *AssetLedger) Mint(contract market.Address, assetID uint64, owner market.Address) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.contracts[contract]
	if !ok {
		return market.ErrInvalidAssetContract
	}
	if _, ok := c.owners[assetID]; ok {
		return fmt.Errorf("asset %d already minted", assetID)
	}
	c.owners[assetID] = owner
	return nil
}

// SetFingerprint records the fingerprint a valid proof must match.
func (l *AssetLedger) SetFingerprint(contract market.Address, assetID uint64, fp []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.contracts[contract]
	if !ok {
		return market.ErrInvalidAssetContract
	}
	if !c.fingerprintable {
		return fmt.Errorf("contract %s does not support fingerprints", contract)
	}
	c.fingerprints[assetID] = append([]byte(nil), fp...)
	return nil
}

// Approve grants operator transfer rights over a single asset. Only the
// current owner may approve.
func (l *AssetLedger) Approve(contract market.Address, owner, operator market.Address, assetID uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.contracts[contract]
	if !ok {
		return market.ErrInvalidAssetContract
	}
	if c.owners[assetID] != owner {
		return market.ErrUnauthorized
	}
	c.approvals[assetID] = operator
	return nil
}

// SetApprovalForAll grants or revokes operator transfer rights over every
// asset owner holds under contract.
func (l *AssetLedger) SetApprovalForAll(contract market.Address, owner, operator market.Address, approved bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.contracts[contract]
	if !ok {
		return market.ErrInvalidAssetContract
	}
	row := c.operators[owner]
	if row == nil {
		row = make(map[market.Address]bool)
		c.operators[owner] = row
	}
	row[operator] = approved
	return nil
}

// Operator binds the ledger to one operator identity, yielding a
// market.AssetGateway whose transfers require that operator to be
// authorized.
func (l *AssetLedger) Operator(operator market.Address) *AssetOperator {
	return &AssetOperator{ledger: l, operator: operator}
}

type AssetOperator struct {
	ledger   *AssetLedger
	operator market.Address
}

func (o *AssetOperator) Validate(contract market.Address) error {
	l := o.ledger
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.contracts[contract]; !ok {
		return market.ErrInvalidAssetContract
	}
	return nil
}

func (o *AssetOperator) OwnerOf(contract market.Address, assetID uint64) (market.Address, error) {
	l := o.ledger
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.contracts[contract]
	if !ok {
		return market.ZeroAddress, market.ErrInvalidAssetContract
	}
	owner, ok := c.owners[assetID]
	if !ok {
		return market.ZeroAddress, fmt.Errorf("ownerOf %s/%d: %w", contract, assetID, errUnknownAsset)
	}
	return owner, nil
}

func (o *AssetOperator) IsTransferAuthorized(contract market.Address, owner market.Address, assetID uint64) (bool, error) {
	l := o.ledger
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.contracts[contract]
	if !ok {
		return false, market.ErrInvalidAssetContract
	}
	return c.approvals[assetID] == o.operator || c.operators[owner][o.operator], nil
}

func (o *AssetOperator) SupportsFingerprint(contract market.Address) bool {
	l := o.ledger
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.contracts[contract]
	return ok && c.fingerprintable
}

func (o *AssetOperator) VerifyFingerprint(contract market.Address, assetID uint64, proof []byte) (bool, error) {
	l := o.ledger
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.contracts[contract]
	if !ok {
		return false, market.ErrInvalidAssetContract
	}
	if !c.fingerprintable {
		return false, fmt.Errorf("contract %s does not support fingerprints", contract)
	}
	return bytes.Equal(c.fingerprints[assetID], proof), nil
}

// Transfer moves assetID from from to to. The bound operator must hold a
// per-asset approval or approval-for-all from the current owner; the
// per-asset approval is consumed by the transfer. The mutation is journaled
// only after the transfer hook accepts it.
func (o *AssetOperator) Transfer(j *market.Journal, contract market.Address, from, to market.Address, assetID uint64) error {
	if to.IsZero() {
		return fmt.Errorf("%w: transfer to zero identity", market.ErrExternalTransferFailed)
	}

	l := o.ledger
	l.mu.Lock()
	c, ok := l.contracts[contract]
	if !ok {
		l.mu.Unlock()
		return market.ErrInvalidAssetContract
	}
	owner, ok := c.owners[assetID]
	if !ok || owner != from {
		l.mu.Unlock()
		return fmt.Errorf("%w: %s does not own asset %d", market.ErrExternalTransferFailed, from, assetID)
	}
	if c.approvals[assetID] != o.operator && !c.operators[owner][o.operator] {
		l.mu.Unlock()
		return fmt.Errorf("%w: operator %s not approved", market.ErrExternalTransferFailed, o.operator)
	}
	prevApproval, hadApproval := c.approvals[assetID]
	c.owners[assetID] = to
	delete(c.approvals, assetID)
	hook := l.hook
	l.mu.Unlock()

	undo := func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		c.owners[assetID] = from
		if hadApproval {
			c.approvals[assetID] = prevApproval
		}
	}

	if hook != nil {
		if err := hook(contract, from, to, assetID); err != nil {
			undo()
			return fmt.Errorf("%w: %v", market.ErrExternalTransferFailed, err)
		}
	}
	j.Record(undo)
	return nil
}
