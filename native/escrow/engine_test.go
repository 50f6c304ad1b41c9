package escrow

import (
	"bytes"
	"errors"
	"math/big"
	"testing"

	"instantsend/core/events"
)

type mockState struct {
	escrows map[[20]byte]*Escrow
	native  map[[20]byte]*big.Int
	tokens  map[[20]byte]map[[20]byte]*big.Int

	putErr error
}

func newMockState() *mockState {
	return &mockState{
		escrows: make(map[[20]byte]*Escrow),
		native:  make(map[[20]byte]*big.Int),
		tokens:  make(map[[20]byte]map[[20]byte]*big.Int),
	}
}

func (m *mockState) EscrowPut(addr [20]byte, esc *Escrow) error {
	if m.putErr != nil {
		return m.putErr
	}
	m.escrows[addr] = esc.Clone()
	return nil
}

func (m *mockState) EscrowGet(addr [20]byte) (*Escrow, bool) {
	esc, ok := m.escrows[addr]
	if !ok {
		return nil, false
	}
	return esc.Clone(), true
}

func (m *mockState) balance(asset AssetClass, addr [20]byte) *big.Int {
	if asset.Kind == AssetToken {
		mintBalances, ok := m.tokens[asset.Mint]
		if !ok {
			return big.NewInt(0)
		}
		if bal, ok := mintBalances[addr]; ok {
			return new(big.Int).Set(bal)
		}
		return big.NewInt(0)
	}
	if bal, ok := m.native[addr]; ok {
		return new(big.Int).Set(bal)
	}
	return big.NewInt(0)
}

func (m *mockState) credit(asset AssetClass, addr [20]byte, amount *big.Int) {
	next := new(big.Int).Add(m.balance(asset, addr), amount)
	if asset.Kind == AssetToken {
		if m.tokens[asset.Mint] == nil {
			m.tokens[asset.Mint] = make(map[[20]byte]*big.Int)
		}
		m.tokens[asset.Mint][addr] = next
		return
	}
	m.native[addr] = next
}

func (m *mockState) Transfer(from, to [20]byte, asset AssetClass, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	fromBal := m.balance(asset, from)
	if fromBal.Cmp(amount) < 0 {
		return ErrInsufficientFunds
	}
	m.credit(asset, from, new(big.Int).Neg(amount))
	m.credit(asset, to, amount)
	return nil
}

type recordingEmitter struct {
	events []events.Event
}

func (r *recordingEmitter) Emit(evt events.Event) {
	r.events = append(r.events, evt)
}

func testAddr(fill byte) [20]byte {
	var addr [20]byte
	copy(addr[:], bytes.Repeat([]byte{fill}, 20))
	return addr
}

func newTestEngine(state *mockState, now int64) (*Engine, *recordingEmitter) {
	engine := NewEngine()
	engine.SetState(state)
	emitter := &recordingEmitter{}
	engine.SetEmitter(emitter)
	engine.SetNowFunc(func() int64 { return now })
	return engine, emitter
}

func mustCommit(t *testing.T, secret string) [32]byte {
	t.Helper()
	commitment, err := Commit(secret)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	return commitment
}

func TestInitializeLocksFunds(t *testing.T) {
	state := newMockState()
	sender := testAddr(0x01)
	state.credit(NativeAsset(), sender, big.NewInt(1_000_000))
	engine, emitter := newTestEngine(state, 100)

	secret := "correct horse battery staple"
	commitment := mustCommit(t, secret)
	esc, addr, err := engine.Initialize(sender, NativeAsset(), big.NewInt(1_000_000), 200, commitment)
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if esc.Redeemed {
		t.Fatal("fresh escrow must not be redeemed")
	}
	if esc.CreatedAt != 100 {
		t.Fatalf("created at: got %d want 100", esc.CreatedAt)
	}
	if got := state.balance(NativeAsset(), sender); got.Sign() != 0 {
		t.Fatalf("sender balance after lock: got %s want 0", got)
	}
	if got := state.balance(NativeAsset(), addr); got.Cmp(big.NewInt(1_000_000)) != 0 {
		t.Fatalf("escrow custody balance: got %s want 1000000", got)
	}
	if len(emitter.events) != 1 {
		t.Fatalf("expected one event, got %d", len(emitter.events))
	}
	init, ok := emitter.events[0].(events.EscrowInitialized)
	if !ok {
		t.Fatalf("unexpected event type %T", emitter.events[0])
	}
	if init.Address != addr {
		t.Fatal("event address mismatch")
	}
}

func TestInitializeValidation(t *testing.T) {
	state := newMockState()
	sender := testAddr(0x01)
	state.credit(NativeAsset(), sender, big.NewInt(50))
	engine, _ := newTestEngine(state, 100)
	commitment := mustCommit(t, "secret")

	if _, _, err := engine.Initialize(sender, NativeAsset(), big.NewInt(0), 200, commitment); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("zero amount: got %v", err)
	}
	if _, _, err := engine.Initialize(sender, NativeAsset(), big.NewInt(-5), 200, commitment); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("negative amount: got %v", err)
	}
	if _, _, err := engine.Initialize(sender, NativeAsset(), big.NewInt(10), 100, commitment); !errors.Is(err, ErrInvalidExpiration) {
		t.Fatalf("expiry at now: got %v", err)
	}
	if _, _, err := engine.Initialize(sender, NativeAsset(), big.NewInt(10), 50, commitment); !errors.Is(err, ErrInvalidExpiration) {
		t.Fatalf("expiry in the past: got %v", err)
	}
	if _, _, err := engine.Initialize(sender, AssetClass{Kind: AssetToken}, big.NewInt(10), 200, commitment); !errors.Is(err, ErrInvalidAsset) {
		t.Fatalf("invalid asset: got %v", err)
	}
	if _, _, err := engine.Initialize(sender, NativeAsset(), big.NewInt(100), 200, commitment); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("overdraw: got %v", err)
	}
	// None of the rejected attempts may leave a record or move funds.
	if len(state.escrows) != 0 {
		t.Fatalf("rejected attempts left %d records", len(state.escrows))
	}
	if got := state.balance(NativeAsset(), sender); got.Cmp(big.NewInt(50)) != 0 {
		t.Fatalf("sender balance changed: got %s want 50", got)
	}
}

func TestInitializeRejectsDuplicateCommitment(t *testing.T) {
	state := newMockState()
	sender := testAddr(0x01)
	state.credit(NativeAsset(), sender, big.NewInt(100))
	engine, _ := newTestEngine(state, 100)
	commitment := mustCommit(t, "reused secret")

	if _, _, err := engine.Initialize(sender, NativeAsset(), big.NewInt(10), 200, commitment); err != nil {
		t.Fatalf("first initialize: %v", err)
	}
	if _, _, err := engine.Initialize(sender, NativeAsset(), big.NewInt(10), 200, commitment); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("duplicate commitment: got %v", err)
	}
	// The same commitment is free under a different asset class.
	state.credit(TokenAsset(testMint(0xAA)), sender, big.NewInt(10))
	if _, _, err := engine.Initialize(sender, TokenAsset(testMint(0xAA)), big.NewInt(10), 200, commitment); err != nil {
		t.Fatalf("same commitment, token asset: %v", err)
	}
}

func TestInitializePutFailureRefundsSender(t *testing.T) {
	state := newMockState()
	sender := testAddr(0x01)
	state.credit(NativeAsset(), sender, big.NewInt(100))
	engine, emitter := newTestEngine(state, 100)
	state.putErr = errors.New("disk full")

	_, _, err := engine.Initialize(sender, NativeAsset(), big.NewInt(100), 200, mustCommit(t, "secret"))
	if err == nil {
		t.Fatal("expected put failure to surface")
	}
	if got := state.balance(NativeAsset(), sender); got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("sender not refunded: got %s want 100", got)
	}
	if len(emitter.events) != 0 {
		t.Fatalf("failed initialize emitted %d events", len(emitter.events))
	}
}

func TestRedeemReleasesExactlyOnce(t *testing.T) {
	state := newMockState()
	sender := testAddr(0x01)
	recipient := testAddr(0x02)
	state.credit(NativeAsset(), sender, big.NewInt(1_000_000))
	engine, emitter := newTestEngine(state, 100)

	secret := "correct horse battery staple"
	if _, _, err := engine.Initialize(sender, NativeAsset(), big.NewInt(1_000_000), 200, mustCommit(t, secret)); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	esc, err := engine.Redeem(recipient, NativeAsset(), secret)
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if !esc.Redeemed {
		t.Fatal("returned record must be marked redeemed")
	}
	if got := state.balance(NativeAsset(), recipient); got.Cmp(big.NewInt(1_000_000)) != 0 {
		t.Fatalf("recipient balance: got %s want 1000000", got)
	}

	// A second attempt with the same secret fails and moves nothing, even
	// from a different account.
	other := testAddr(0x03)
	if _, err := engine.Redeem(other, NativeAsset(), secret); !errors.Is(err, ErrAlreadyRedeemed) {
		t.Fatalf("second redeem: got %v", err)
	}
	if got := state.balance(NativeAsset(), other); got.Sign() != 0 {
		t.Fatalf("second redeem moved funds: %s", got)
	}
	if len(emitter.events) != 2 { // initialized + redeemed
		t.Fatalf("expected 2 events, got %d", len(emitter.events))
	}
}

func TestRedeemUnknownSecret(t *testing.T) {
	state := newMockState()
	sender := testAddr(0x01)
	state.credit(NativeAsset(), sender, big.NewInt(100))
	engine, _ := newTestEngine(state, 100)

	if _, _, err := engine.Initialize(sender, NativeAsset(), big.NewInt(100), 200, mustCommit(t, "right secret")); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	// A wrong secret derives a different address, so the lookup misses.
	if _, err := engine.Redeem(testAddr(0x02), NativeAsset(), "wrong secret"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("wrong secret: got %v", err)
	}
}

func TestRedeemAllowedAfterExpiry(t *testing.T) {
	state := newMockState()
	sender := testAddr(0x01)
	recipient := testAddr(0x02)
	state.credit(NativeAsset(), sender, big.NewInt(100))
	engine, _ := newTestEngine(state, 100)

	secret := "late but valid"
	if _, _, err := engine.Initialize(sender, NativeAsset(), big.NewInt(100), 200, mustCommit(t, secret)); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	// Expiry opens the reclaim path without closing the redeem path.
	engine.SetNowFunc(func() int64 { return 500 })
	if _, err := engine.Redeem(recipient, NativeAsset(), secret); err != nil {
		t.Fatalf("post-expiry redeem: %v", err)
	}
	if got := state.balance(NativeAsset(), recipient); got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("recipient balance: got %s want 100", got)
	}
}

func TestReclaimGates(t *testing.T) {
	state := newMockState()
	sender := testAddr(0x01)
	stranger := testAddr(0x02)
	state.credit(NativeAsset(), sender, big.NewInt(100))
	engine, _ := newTestEngine(state, 100)

	secret := "patience required"
	if _, _, err := engine.Initialize(sender, NativeAsset(), big.NewInt(100), 200, mustCommit(t, secret)); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	// Wrong party is rejected before the expiry check so probing reveals
	// nothing about timing.
	if _, err := engine.Reclaim(stranger, NativeAsset(), secret); !errors.Is(err, ErrReclaimForbidden) {
		t.Fatalf("stranger reclaim: got %v", err)
	}
	if _, err := engine.Reclaim(sender, NativeAsset(), secret); !errors.Is(err, ErrNotExpired) {
		t.Fatalf("premature reclaim: got %v", err)
	}

	engine.SetNowFunc(func() int64 { return 200 })
	esc, err := engine.Reclaim(sender, NativeAsset(), secret)
	if err != nil {
		t.Fatalf("reclaim at expiry: %v", err)
	}
	if !esc.Redeemed {
		t.Fatal("reclaimed record must be marked redeemed")
	}
	if got := state.balance(NativeAsset(), sender); got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("sender balance after reclaim: got %s want 100", got)
	}

	if _, err := engine.Reclaim(sender, NativeAsset(), secret); !errors.Is(err, ErrAlreadyRedeemed) {
		t.Fatalf("second reclaim: got %v", err)
	}
	if _, err := engine.Redeem(stranger, NativeAsset(), secret); !errors.Is(err, ErrAlreadyRedeemed) {
		t.Fatalf("redeem after reclaim: got %v", err)
	}
}

func TestReclaimAtByAddress(t *testing.T) {
	state := newMockState()
	sender := testAddr(0x01)
	state.credit(NativeAsset(), sender, big.NewInt(100))
	engine, _ := newTestEngine(state, 100)

	commitment := mustCommit(t, "kept the address instead")
	_, addr, err := engine.Initialize(sender, NativeAsset(), big.NewInt(100), 200, commitment)
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	engine.SetNowFunc(func() int64 { return 201 })
	if _, err := engine.ReclaimAt(sender, NativeAsset(), addr); err != nil {
		t.Fatalf("reclaim by address: %v", err)
	}
	if _, err := engine.ReclaimAt(sender, NativeAsset(), testAddr(0x77)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("reclaim unknown address: got %v", err)
	}
}

func TestTokenEscrowUsesVaultCustody(t *testing.T) {
	state := newMockState()
	sender := testAddr(0x01)
	recipient := testAddr(0x02)
	mint := testMint(0xAB)
	asset := TokenAsset(mint)
	state.credit(asset, sender, big.NewInt(750))
	engine, _ := newTestEngine(state, 100)

	secret := "token secret"
	_, addr, err := engine.Initialize(sender, asset, big.NewInt(750), 200, mustCommit(t, secret))
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	vault := DeriveVault(addr, mint)
	if got := state.balance(asset, vault); got.Cmp(big.NewInt(750)) != 0 {
		t.Fatalf("vault balance: got %s want 750", got)
	}
	if got := state.balance(asset, addr); got.Sign() != 0 {
		t.Fatalf("record address must not hold tokens, got %s", got)
	}

	if _, err := engine.Redeem(recipient, asset, secret); err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if got := state.balance(asset, recipient); got.Cmp(big.NewInt(750)) != 0 {
		t.Fatalf("recipient token balance: got %s want 750", got)
	}
	if got := state.balance(asset, vault); got.Sign() != 0 {
		t.Fatalf("vault not emptied, got %s", got)
	}
}

func TestReleasePutFailureCompensatesTransfer(t *testing.T) {
	state := newMockState()
	sender := testAddr(0x01)
	recipient := testAddr(0x02)
	state.credit(NativeAsset(), sender, big.NewInt(100))
	engine, _ := newTestEngine(state, 100)

	secret := "flaky store"
	_, addr, err := engine.Initialize(sender, NativeAsset(), big.NewInt(100), 200, mustCommit(t, secret))
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}

	state.putErr = errors.New("disk full")
	if _, err := engine.Redeem(recipient, NativeAsset(), secret); err == nil {
		t.Fatal("expected put failure to surface")
	}
	if got := state.balance(NativeAsset(), recipient); got.Sign() != 0 {
		t.Fatalf("failed redeem paid the recipient: %s", got)
	}
	if got := state.balance(NativeAsset(), addr); got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("custody balance after failed redeem: got %s want 100", got)
	}

	// Once the store recovers the redeem succeeds normally.
	state.putErr = nil
	if _, err := engine.Redeem(recipient, NativeAsset(), secret); err != nil {
		t.Fatalf("redeem after recovery: %v", err)
	}
}
