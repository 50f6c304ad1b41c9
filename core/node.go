package core

import (
	"log/slog"
	"math/big"
	"sync"

	"instantsend/core/events"
	"instantsend/core/state"
	"instantsend/core/types"
	"instantsend/native/escrow"
	"instantsend/storage"
)

// Node owns the ledger state and applies transactions one at a time. The
// mutex is the substrate's serializable isolation: two concurrent redemption
// attempts against the same escrow can never both observe an unredeemed
// record.
type Node struct {
	mu     sync.Mutex
	db     storage.Database
	state  *state.Manager
	engine *escrow.Engine
	logger *slog.Logger

	eventLog []types.Event
}

type nodeEmitter struct {
	node *Node
}

func (e nodeEmitter) Emit(evt events.Event) {
	converter, ok := evt.(interface{ Event() *types.Event })
	if !ok {
		return
	}
	generic := converter.Event()
	if generic == nil {
		return
	}
	e.node.eventLog = append(e.node.eventLog, *generic)
}

// NewNode wires the state manager and the escrow engine over the provided
// store.
func NewNode(db storage.Database, logger *slog.Logger) *Node {
	if logger == nil {
		logger = slog.Default()
	}
	node := &Node{
		db:     db,
		state:  state.NewManager(db),
		engine: escrow.NewEngine(),
		logger: logger,
	}
	node.engine.SetState(node.state)
	node.engine.SetEmitter(nodeEmitter{node: node})
	return node
}

// SetNowFunc overrides the engine's clock, primarily for tests.
func (n *Node) SetNowFunc(now func() int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.engine.SetNowFunc(now)
}

// State exposes the underlying manager for genesis seeding.
func (n *Node) State() *state.Manager { return n.state }

// GetAccount returns the account stored under addr; unknown addresses read
// as zero-value accounts.
func (n *Node) GetAccount(addr []byte) (*types.Account, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state.GetAccount(addr)
}

// TokenBalance returns the balance of mint held by addr.
func (n *Node) TokenBalance(mint [20]byte, addr []byte) (*big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state.TokenBalance(mint, addr)
}

// EscrowGet returns the escrow record at the derived address, if any.
func (n *Node) EscrowGet(addr [20]byte) (*escrow.Escrow, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state.EscrowGet(addr)
}

// Events returns a copy of all events emitted so far.
func (n *Node) Events() []types.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]types.Event, len(n.eventLog))
	copy(out, n.eventLog)
	return out
}
