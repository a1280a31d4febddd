package wallet

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/nebulalend/api/internal/metrics"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Names of the wallet options offered to the user
const (
	MetaMask       = "MetaMask"
	CoinbaseWallet = "Coinbase Wallet"
	WalletConnect  = "WalletConnect"
)

// State is the wallet part of a position. The zero value is disconnected.
type State struct {
	Connected bool            `json:"connected"`
	Provider  string          `json:"provider,omitempty"`
	Address   string          `json:"address,omitempty"`
	Balance   decimal.Decimal `json:"balance"` // ether
}

// Equal compares states by value, including the decimal balance
func (s State) Equal(o State) bool {
	return s.Connected == o.Connected &&
		s.Provider == o.Provider &&
		s.Address == o.Address &&
		s.Balance.Equal(o.Balance)
}

// WeiToEther converts a wei amount to ether
func WeiToEther(wei *big.Int) decimal.Decimal {
	if wei == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(wei, -18)
}

// Connector resolves named providers into wallet states
type Connector struct {
	mu        sync.RWMutex
	providers map[string]Provider
	order     []string
	metrics   *metrics.Metrics
}

// NewConnector creates an empty connector
func NewConnector(m *metrics.Metrics) *Connector {
	return &Connector{providers: make(map[string]Provider), metrics: m}
}

// Register adds or replaces a named provider
func (c *Connector) Register(name string, p Provider) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.providers[name]; !exists {
		c.order = append(c.order, name)
	}
	c.providers[name] = p
}

// Options lists provider names in registration order
func (c *Connector) Options() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// Connect requests accounts from the named provider and reads the first
// account's balance. On any failure it returns a disconnected state with
// ErrWalletUnavailable or ErrWalletRejected.
func (c *Connector) Connect(ctx context.Context, name string) (State, error) {
	state, err := c.connect(ctx, name)

	result := "connected"
	switch {
	case errors.Is(err, ErrWalletRejected):
		result = "rejected"
	case err != nil:
		result = "unavailable"
	}
	if c.metrics != nil {
		label := name
		if !c.registered(name) {
			label = unknownProvider
		}
		c.metrics.WalletConnect(label, result)
	}

	log := logrus.WithFields(logrus.Fields{"provider": name, "result": result})
	if err != nil {
		log.WithError(err).Warn("Wallet connection failed")
		return State{}, err
	}
	log.WithField("address", state.Address).Info("Wallet connected")
	return state, nil
}

// unknownProvider labels attempts against names that were never
// registered, keeping metric cardinality bounded by the registry
const unknownProvider = "unknown"

func (c *Connector) registered(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.providers[name]
	return ok
}

func (c *Connector) connect(ctx context.Context, name string) (State, error) {
	c.mu.RLock()
	p, ok := c.providers[name]
	c.mu.RUnlock()
	if !ok {
		return State{}, fmt.Errorf("%w: no provider named %q", ErrWalletUnavailable, name)
	}

	accounts, err := p.RequestAccounts(ctx)
	if err != nil {
		return State{}, classify(err)
	}
	if len(accounts) == 0 {
		return State{}, fmt.Errorf("%w: no accounts granted", ErrWalletRejected)
	}
	if !common.IsHexAddress(accounts[0]) {
		return State{}, fmt.Errorf("%w: provider returned malformed address %q", ErrWalletUnavailable, accounts[0])
	}
	address := common.HexToAddress(accounts[0]).Hex()

	wei, err := p.GetBalance(ctx, address)
	if err != nil {
		return State{}, classify(err)
	}

	return State{
		Connected: true,
		Provider:  name,
		Address:   address,
		Balance:   WeiToEther(wei),
	}, nil
}

func classify(err error) error {
	if errors.Is(err, ErrWalletRejected) || errors.Is(err, ErrWalletUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrWalletUnavailable, err)
}
