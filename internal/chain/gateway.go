// internal/chain/gateway.go
package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/datamarket-backend/internal/config"
	"github.com/javajoker/datamarket-backend/internal/txstate"
)

const marketplaceABI = `[{
	"type": "function",
	"name": "purchaseBatch",
	"stateMutability": "nonpayable",
	"inputs": [
		{"name": "datasetIds", "type": "bytes32[]"},
		{"name": "seller", "type": "address"},
		{"name": "amount", "type": "uint256"}
	],
	"outputs": []
}]`

// PaymentCall is one on-chain payment covering every dataset a buyer takes
// from a single seller.
type PaymentCall struct {
	DatasetIDs []uuid.UUID
	Seller     common.Address
	Amount     decimal.Decimal
}

// Client is the subset of ethclient.Client the gateway and watcher use.
type Client interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// EthGateway signs payment calls with the relayer key and broadcasts them to
// the marketplace contract.
type EthGateway struct {
	client   Client
	abi      abi.ABI
	contract common.Address
	key      *ecdsa.PrivateKey
	from     common.Address
	chainID  *big.Int
	decimals int32

	// one broadcast at a time so pending nonces are not reused
	mu sync.Mutex
}

// Dial connects to the configured node and checks it serves the configured
// chain.
func Dial(ctx context.Context, cfg config.ChainConfig) (*EthGateway, *ethclient.Client, error) {
	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to dial chain node: %w", err)
	}

	id, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("failed to read chain id: %w", err)
	}
	if id.Int64() != cfg.ChainID {
		client.Close()
		return nil, nil, &txstate.ChainError{
			Code: txstate.CodeChainMismatch,
			Err:  fmt.Errorf("node serves chain %s, expected %d", id, cfg.ChainID),
		}
	}

	gw, err := NewEthGateway(client, cfg)
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	return gw, client, nil
}

func NewEthGateway(client Client, cfg config.ChainConfig) (*EthGateway, error) {
	parsed, err := abi.JSON(strings.NewReader(marketplaceABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse marketplace ABI: %w", err)
	}

	if !common.IsHexAddress(cfg.ContractAddress) {
		return nil, fmt.Errorf("invalid marketplace contract address %q", cfg.ContractAddress)
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.RelayerPrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid relayer key: %w", err)
	}

	return &EthGateway{
		client:   client,
		abi:      parsed,
		contract: common.HexToAddress(cfg.ContractAddress),
		key:      key,
		from:     crypto.PubkeyToAddress(key.PublicKey),
		chainID:  big.NewInt(cfg.ChainID),
		decimals: cfg.TokenDecimals,
	}, nil
}

func (g *EthGateway) From() common.Address {
	return g.from
}

// DatasetKey is the bytes32 the contract knows a dataset by.
func DatasetKey(id uuid.UUID) [32]byte {
	return common.BytesToHash(id[:])
}

// TokenUnits converts a token amount to its integer base units.
func TokenUnits(amount decimal.Decimal, decimals int32) *big.Int {
	return amount.Shift(decimals).BigInt()
}

func (g *EthGateway) pack(call PaymentCall) ([]byte, error) {
	ids := make([][32]byte, len(call.DatasetIDs))
	for i, id := range call.DatasetIDs {
		ids[i] = DatasetKey(id)
	}
	return g.abi.Pack("purchaseBatch", ids, call.Seller, TokenUnits(call.Amount, g.decimals))
}

// PurchaseBatch broadcasts call and returns its transaction hash. Errors are
// *txstate.ChainError values.
func (g *EthGateway) PurchaseBatch(ctx context.Context, call PaymentCall) (string, error) {
	if len(call.DatasetIDs) == 0 {
		return "", fmt.Errorf("payment call has no datasets")
	}

	data, err := g.pack(call)
	if err != nil {
		return "", fmt.Errorf("failed to pack purchaseBatch: %w", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	nonce, err := g.client.PendingNonceAt(ctx, g.from)
	if err != nil {
		return "", Classify(err)
	}

	gasPrice, err := g.client.SuggestGasPrice(ctx)
	if err != nil {
		return "", Classify(err)
	}

	gas, err := g.client.EstimateGas(ctx, ethereum.CallMsg{
		From:     g.from,
		To:       &g.contract,
		GasPrice: gasPrice,
		Data:     data,
	})
	if err != nil {
		return "", Classify(err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &g.contract,
		Value:    big.NewInt(0),
		Gas:      gas,
		GasPrice: gasPrice,
		Data:     data,
	})

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(g.chainID), g.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign transaction: %w", err)
	}

	hash := signed.Hash()
	log := logrus.WithFields(logrus.Fields{
		"hash":     hash.Hex(),
		"nonce":    nonce,
		"seller":   call.Seller.Hex(),
		"datasets": len(call.DatasetIDs),
		"amount":   call.Amount.String(),
	})

	if err := g.send(ctx, signed); err != nil {
		return "", err
	}

	log.Info("Broadcast purchaseBatch")
	return hash.Hex(), nil
}

// send broadcasts signed. A returned error means the node does not hold the
// transaction, so the caller may build a fresh one. When a send fails
// ambiguously the same signed transaction is looked up and re-sent, never
// replaced; if its fate is still unknown it is treated as broadcast and left
// to the receipt watcher.
func (g *EthGateway) send(ctx context.Context, signed *types.Transaction) error {
	err := g.client.SendTransaction(ctx, signed)
	if err == nil || AlreadyKnown(err) {
		return nil
	}
	if !Ambiguous(err) {
		return Classify(err)
	}

	log := logrus.WithError(err).WithField("hash", signed.Hash().Hex())
	if _, _, lookupErr := g.client.TransactionByHash(ctx, signed.Hash()); lookupErr == nil {
		log.Warn("Send failed but the node has the transaction")
		return nil
	}

	resendErr := g.client.SendTransaction(ctx, signed)
	switch {
	case resendErr == nil, AlreadyKnown(resendErr):
		return nil
	case Ambiguous(resendErr), Classify(resendErr).Code == txstate.CodeNonceTooLow:
		// The nonce may be taken by this very transaction.
		log.Warn("Broadcast outcome unknown, leaving it to the receipt watcher")
		return nil
	}
	return Classify(resendErr)
}
