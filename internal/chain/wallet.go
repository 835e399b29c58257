// internal/chain/wallet.go

// Package chain talks to the marketplace contract over JSON-RPC.
package chain

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/javajoker/datamarket-backend/internal/txstate"
)

// WalletState is the connection state reported by a client wallet. It is one
// of Disconnected, WrongNetwork or Connected.
type WalletState interface {
	walletState()
}

type Disconnected struct{}

type WrongNetwork struct {
	ChainID int64
}

type Connected struct {
	Address common.Address
	ChainID int64
}

func (Disconnected) walletState() {}
func (WrongNetwork) walletState() {}
func (Connected) walletState()    {}

// WalletStateOf classifies what a client reports about its wallet against the
// chain this deployment serves.
func WalletStateOf(address string, chainID, expected int64) WalletState {
	if address == "" || !common.IsHexAddress(address) {
		return Disconnected{}
	}
	if chainID != expected {
		return WrongNetwork{ChainID: chainID}
	}
	return Connected{Address: common.HexToAddress(address), ChainID: chainID}
}

// RequireConnected returns the wallet address or the error that blocks it.
func RequireConnected(state WalletState, expected int64) (common.Address, error) {
	switch s := state.(type) {
	case Connected:
		return s.Address, nil
	case WrongNetwork:
		return common.Address{}, &txstate.ChainError{
			Code: txstate.CodeChainMismatch,
			Err:  fmt.Errorf("wallet is on chain %d, expected %d", s.ChainID, expected),
		}
	default:
		return common.Address{}, fmt.Errorf("wallet is not connected")
	}
}
