package escrow

import (
	"errors"
	"math/big"
	"time"

	"instantsend/core/events"
)

var errNilState = errors.New("escrow engine: state not configured")

// engineState is the slice of ledger state the engine needs. The state backend
// must apply each call atomically and surface ErrInsufficientFunds when a
// debit would overdraw; everything else the engine handles itself.
type engineState interface {
	EscrowPut(addr [20]byte, esc *Escrow) error
	EscrowGet(addr [20]byte) (*Escrow, bool)
	Transfer(from, to [20]byte, asset AssetClass, amount *big.Int) error
}

// Engine implements the three escrow transitions against external ledger
// state. It holds no mutable state of its own; serialization of concurrent
// calls is the substrate's job.
type Engine struct {
	state   engineState
	emitter events.Emitter
	nowFn   func() int64
}

// NewEngine creates an escrow engine with a no-op emitter. Callers can
// override the emitter via SetEmitter.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source, primarily for deterministic tests.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) emit(evt events.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(evt)
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// custody returns the account that physically holds the locked value: the
// record address itself for the native coin, the derived vault for a token.
func custody(asset AssetClass, escrowAddr [20]byte) [20]byte {
	if asset.Kind == AssetToken {
		return DeriveVault(escrowAddr, asset.Mint)
	}
	return escrowAddr
}

// Initialize locks amount under the supplied commitment. The record is
// created at the derived address and the funds move into escrow custody in
// the same transition; on any failure no effect remains observable.
func (e *Engine) Initialize(sender [20]byte, asset AssetClass, amount *big.Int, expiresAt int64, commitment [32]byte) (*Escrow, [20]byte, error) {
	if e == nil || e.state == nil {
		return nil, [20]byte{}, errNilState
	}
	if !asset.Valid() {
		return nil, [20]byte{}, ErrInvalidAsset
	}
	amt := cloneBigInt(amount)
	if amt.Sign() <= 0 {
		return nil, [20]byte{}, ErrInvalidAmount
	}
	now := e.now()
	if expiresAt <= now {
		return nil, [20]byte{}, ErrInvalidExpiration
	}
	addr, err := DeriveAddress(asset, commitment)
	if err != nil {
		return nil, [20]byte{}, err
	}
	if _, ok := e.state.EscrowGet(addr); ok {
		// The commitment was used before; each escrow needs a fresh secret.
		return nil, [20]byte{}, ErrAlreadyExists
	}
	hold := custody(asset, addr)
	if err := e.state.Transfer(sender, hold, asset, amt); err != nil {
		return nil, [20]byte{}, err
	}
	esc := &Escrow{
		Sender:     sender,
		Amount:     amt,
		ExpiresAt:  expiresAt,
		Redeemed:   false,
		Asset:      asset,
		Commitment: commitment,
		CreatedAt:  now,
	}
	if err := e.state.EscrowPut(addr, esc); err != nil {
		_ = e.state.Transfer(hold, sender, asset, amt)
		return nil, [20]byte{}, err
	}
	e.emit(events.EscrowInitialized{
		Address:   addr,
		Sender:    sender,
		Asset:     asset.String(),
		Amount:    cloneBigInt(amt),
		ExpiresAt: expiresAt,
		CreatedAt: now,
	})
	return esc.Clone(), addr, nil
}

// Redeem releases the locked funds to the requester in exchange for the
// plaintext secret. Any account may call it; the gate is knowledge of the
// secret, not identity, and expiry never blocks this path.
func (e *Engine) Redeem(recipient [20]byte, asset AssetClass, secret string) (*Escrow, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	commitment, err := Commit(secret)
	if err != nil {
		return nil, err
	}
	addr, err := DeriveAddress(asset, commitment)
	if err != nil {
		return nil, err
	}
	esc, ok := e.state.EscrowGet(addr)
	if !ok {
		return nil, ErrNotFound
	}
	if esc.Redeemed {
		return nil, ErrAlreadyRedeemed
	}
	// Address derivation already tied the secret to this record; re-check the
	// stored commitment so hash equality, not derivation collision
	// resistance, is what finally authorizes the release.
	if commitment != esc.Commitment {
		return nil, ErrInvalidSecret
	}
	return e.release(addr, esc, recipient, events.EscrowRedeemed{
		Address:   addr,
		Recipient: recipient,
		Asset:     asset.String(),
		Amount:    cloneBigInt(esc.Amount),
	})
}

// Reclaim returns expired, unredeemed funds to the original sender. The
// caller supplies the secret to locate the record; there is no on-ledger
// reverse index from sender to escrows.
func (e *Engine) Reclaim(caller [20]byte, asset AssetClass, secret string) (*Escrow, error) {
	commitment, err := Commit(secret)
	if err != nil {
		return nil, err
	}
	addr, err := DeriveAddress(asset, commitment)
	if err != nil {
		return nil, err
	}
	return e.ReclaimAt(caller, asset, addr)
}

// ReclaimAt is Reclaim for callers that kept the derived address instead of
// the secret.
func (e *Engine) ReclaimAt(caller [20]byte, asset AssetClass, addr [20]byte) (*Escrow, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	esc, ok := e.state.EscrowGet(addr)
	if !ok {
		return nil, ErrNotFound
	}
	if esc.Redeemed {
		return nil, ErrAlreadyRedeemed
	}
	if caller != esc.Sender {
		return nil, ErrReclaimForbidden
	}
	if e.now() < esc.ExpiresAt {
		return nil, ErrNotExpired
	}
	return e.release(addr, esc, esc.Sender, events.EscrowReclaimed{
		Address: addr,
		Sender:  esc.Sender,
		Asset:   esc.Asset.String(),
		Amount:  cloneBigInt(esc.Amount),
	})
}

// release flips the redeemed flag and moves the locked value to the recipient
// as one step. A put failure after the transfer compensates the transfer so
// the flag and the funds never diverge.
func (e *Engine) release(addr [20]byte, esc *Escrow, recipient [20]byte, evt events.Event) (*Escrow, error) {
	amt := cloneBigInt(esc.Amount)
	if amt.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	hold := custody(esc.Asset, addr)
	if err := e.state.Transfer(hold, recipient, esc.Asset, amt); err != nil {
		return nil, err
	}
	esc.Redeemed = true
	if err := e.state.EscrowPut(addr, esc); err != nil {
		esc.Redeemed = false
		_ = e.state.Transfer(recipient, hold, esc.Asset, amt)
		return nil, err
	}
	e.emit(evt)
	return esc.Clone(), nil
}
