package wallet

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// transfer(address,uint256)
var transferSelector = gethcrypto.Keccak256([]byte("transfer(address,uint256)"))[:4]

const defaultTransferGasLimit = 90_000

// EVMClient defines the subset of the Ethereum RPC used by the hot wallet.
type EVMClient interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *gethtypes.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*gethtypes.Receipt, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*gethtypes.Header, error)
}

// DialEVMClient initialises an EVM RPC client for the provided endpoint.
func DialEVMClient(endpoint string) (*ethclient.Client, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return nil, fmt.Errorf("evm endpoint required")
	}
	return ethclient.Dial(trimmed)
}

// EVMWallet submits ERC-20 transfers from the treasury key and confirms them
// against the chain head.
type EVMWallet struct {
	client   EVMClient
	token    common.Address
	key      *ecdsa.PrivateKey
	sender   common.Address
	chainID  *big.Int
	gasLimit uint64
}

// NewEVMWallet constructs a hot wallet for the supplied token contract.
func NewEVMWallet(client EVMClient, token common.Address, signerKeyHex string, chainID *big.Int) (*EVMWallet, error) {
	if client == nil {
		return nil, fmt.Errorf("evm client required")
	}
	if (token == common.Address{}) {
		return nil, fmt.Errorf("token contract address required")
	}
	if chainID == nil || chainID.Sign() <= 0 {
		return nil, fmt.Errorf("chain id required")
	}
	key, err := gethcrypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(signerKeyHex), "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse signer key: %w", err)
	}
	return &EVMWallet{
		client:   client,
		token:    token,
		key:      key,
		sender:   gethcrypto.PubkeyToAddress(key.PublicKey),
		chainID:  new(big.Int).Set(chainID),
		gasLimit: defaultTransferGasLimit,
	}, nil
}

// Sender returns the treasury address derived from the signer key.
func (w *EVMWallet) Sender() common.Address { return w.sender }

// Transfer signs and submits a token transfer, returning the transaction
// hash. Submission alone is not confirmation; callers must follow up with
// WaitForConfirmations.
func (w *EVMWallet) Transfer(ctx context.Context, destination string, amount *big.Int) (string, error) {
	if !common.IsHexAddress(strings.TrimSpace(destination)) {
		return "", fmt.Errorf("invalid destination address %q", destination)
	}
	if amount == nil || amount.Sign() <= 0 {
		return "", fmt.Errorf("amount must be positive")
	}
	to := common.HexToAddress(strings.TrimSpace(destination))

	nonce, err := w.client.PendingNonceAt(ctx, w.sender)
	if err != nil {
		return "", fmt.Errorf("fetch nonce: %w", err)
	}
	gasPrice, err := w.client.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("fetch gas price: %w", err)
	}

	tx := gethtypes.NewTransaction(nonce, w.token, big.NewInt(0), w.gasLimit, gasPrice, transferCalldata(to, amount))
	signed, err := gethtypes.SignTx(tx, gethtypes.NewEIP155Signer(w.chainID), w.key)
	if err != nil {
		return "", fmt.Errorf("sign transfer: %w", err)
	}
	if err := w.client.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("submit transfer: %w", err)
	}
	return signed.Hash().Hex(), nil
}

// WaitForConfirmations polls until the transaction is mined with the
// requested depth. An unconfirmed transaction at context expiry is a
// failure; it is never assumed to have succeeded.
func (w *EVMWallet) WaitForConfirmations(ctx context.Context, txHash string, confirmations int, pollInterval time.Duration) error {
	hash := common.HexToHash(txHash)
	if (hash == common.Hash{}) {
		return fmt.Errorf("tx hash required")
	}
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		confirmed, err := w.checkConfirmed(ctx, hash, confirmations)
		if err != nil {
			return err
		}
		if confirmed {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (w *EVMWallet) checkConfirmed(ctx context.Context, hash common.Hash, confirmations int) (bool, error) {
	receipt, err := w.client.TransactionReceipt(ctx, hash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return false, nil
		}
		return false, fmt.Errorf("fetch receipt: %w", err)
	}
	if receipt == nil {
		return false, nil
	}
	if receipt.Status != gethtypes.ReceiptStatusSuccessful {
		return false, fmt.Errorf("transaction %s reverted", hash.Hex())
	}
	if confirmations <= 1 {
		return true, nil
	}
	header, err := w.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("fetch head: %w", err)
	}
	if header == nil || header.Number == nil || receipt.BlockNumber == nil {
		return false, fmt.Errorf("block metadata unavailable")
	}
	depth := new(big.Int).Sub(header.Number, receipt.BlockNumber)
	depth.Add(depth, big.NewInt(1))
	return depth.Cmp(big.NewInt(int64(confirmations))) >= 0, nil
}

func transferCalldata(to common.Address, amount *big.Int) []byte {
	data := make([]byte, 0, 4+32+32)
	data = append(data, transferSelector...)
	data = append(data, common.LeftPadBytes(to.Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(amount.Bytes(), 32)...)
	return data
}
