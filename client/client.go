// Package client talks to a deployed linked-contract registry over RPC. It
// carries the transaction plumbing; address derivation itself lives in the
// registry package and needs no network.
package client

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/lmittmann/w3"
	"github.com/lmittmann/w3/module/eth"
	"go.uber.org/zap"

	"github.com/sullof/ERCs/registry"
)

// CreateGasLimit is enough for one proxy deployment plus the event.
const CreateGasLimit uint64 = 400_000

var (
	funcCreate  = w3.MustNewFunc(registry.CreateMethodSig, "address")
	funcResolve = w3.MustNewFunc(registry.ResolveMethodSig, "address")

	eventCreated = w3.MustNewEvent(
		"LinkedContractCreated(address,address indexed,bytes32,uint256,address indexed,uint256 indexed)",
	)
)

// Client signs and sends registry transactions for one key on one chain.
type Client struct {
	client    *w3.Client
	signer    types.Signer
	key       *ecdsa.PrivateKey
	address   common.Address
	gasFeeCap *big.Int
	gasTipCap *big.Int
	log       *zap.Logger
}

func New(rpcURL string, chainID int64, privateKey *ecdsa.PrivateKey, gasFeeCap, gasTipCap *big.Int, log *zap.Logger) (*Client, error) {
	if log == nil {
		log = zap.NewNop()
	}
	client, err := w3.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	return &Client{
		client:    client,
		signer:    types.NewLondonSigner(big.NewInt(chainID)),
		key:       privateKey,
		address:   crypto.PubkeyToAddress(privateKey.PublicKey),
		gasFeeCap: gasFeeCap,
		gasTipCap: gasTipCap,
		log:       log,
	}, nil
}

func (c *Client) Address() common.Address {
	return c.address
}

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) getNonce(ctx context.Context) (uint64, error) {
	var nonce uint64
	if err := c.client.CallCtx(ctx, eth.Nonce(c.address, nil).Returns(&nonce)); err != nil {
		return 0, fmt.Errorf("get nonce: %w", err)
	}
	return nonce, nil
}

func (c *Client) sendTx(ctx context.Context, tx *types.Transaction) (common.Hash, error) {
	signedTx, err := types.SignTx(tx, c.signer, c.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign tx: %w", err)
	}
	if err := c.client.CallCtx(ctx, eth.SendTx(signedTx).Returns(nil)); err != nil {
		return common.Hash{}, fmt.Errorf("send tx: %w", err)
	}
	return signedTx.Hash(), nil
}

// CodeAt returns the code deployed at addr, empty when the address is bare.
func (c *Client) CodeAt(ctx context.Context, addr common.Address) ([]byte, error) {
	var code []byte
	if err := c.client.CallCtx(ctx, eth.Code(addr, nil).Returns(&code)); err != nil {
		return nil, fmt.Errorf("get code: %w", err)
	}
	return code, nil
}

// LinkedContract asks the on-chain registry for the deterministic address of
// link. Read-only.
func (c *Client) LinkedContract(ctx context.Context, registryAddr common.Address, link registry.Link) (common.Address, error) {
	var addr common.Address
	call := eth.CallFunc(registryAddr, funcResolve,
		link.Implementation, link.Salt, u256(link.ChainID), link.TokenContract, u256(link.TokenID),
	).Returns(&addr)
	if err := c.client.CallCtx(ctx, call); err != nil {
		return common.Address{}, fmt.Errorf("call registry: %w", err)
	}
	return addr, nil
}

// CreateLinkedContract sends the creation transaction. Use WaitForReceipt
// and LinkFromReceipt to observe the outcome; an idempotent hit produces a
// successful receipt with no creation event.
func (c *Client) CreateLinkedContract(ctx context.Context, registryAddr common.Address, link registry.Link, gasLimit uint64) (common.Hash, error) {
	calldata, err := CreateCalldata(link)
	if err != nil {
		return common.Hash{}, err
	}

	nonce, err := c.getNonce(ctx)
	if err != nil {
		return common.Hash{}, err
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		Nonce:     nonce,
		To:        &registryAddr,
		GasFeeCap: c.gasFeeCap,
		GasTipCap: c.gasTipCap,
		Gas:       gasLimit,
		Data:      calldata,
	})

	txHash, err := c.sendTx(ctx, tx)
	if err != nil {
		return common.Hash{}, err
	}
	c.log.Info("create linked contract sent",
		zap.String("tx", txHash.Hex()),
		zap.String("registry", registryAddr.Hex()),
		zap.String("implementation", link.Implementation.Hex()),
		zap.String("tokenContract", link.TokenContract.Hex()),
		zap.String("tokenId", u256(link.TokenID).String()),
	)
	return txHash, nil
}

// CreateCalldata encodes the creation call for link.
func CreateCalldata(link registry.Link) ([]byte, error) {
	calldata, err := funcCreate.EncodeArgs(
		link.Implementation, link.Salt, u256(link.ChainID), link.TokenContract, u256(link.TokenID),
	)
	if err != nil {
		return nil, fmt.Errorf("encode create: %w", err)
	}
	return calldata, nil
}

func (c *Client) WaitForReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		var receipt *types.Receipt
		err := c.client.CallCtx(ctx, eth.TxReceipt(txHash).Returns(&receipt))
		if err == nil {
			return receipt, nil
		}
		c.log.Debug("receipt not available yet", zap.String("tx", txHash.Hex()))

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// LinkFromReceipt decodes the creation event out of a receipt. It returns an
// error when the receipt carries no creation event, which is the normal
// outcome of an idempotent call that found the contract already deployed.
func LinkFromReceipt(receipt *types.Receipt) (common.Address, registry.Link, error) {
	for _, log := range receipt.Logs {
		var (
			contractAddr   common.Address
			implementation common.Address
			salt           [32]byte
			chainID        big.Int
			tokenContract  common.Address
			tokenID        big.Int
		)
		if err := eventCreated.DecodeArgs(log, &contractAddr, &implementation, &salt, &chainID, &tokenContract, &tokenID); err == nil {
			return contractAddr, registry.Link{
				Implementation: implementation,
				Salt:           salt,
				ChainID:        &chainID,
				TokenContract:  tokenContract,
				TokenID:        &tokenID,
			}, nil
		}
	}
	return common.Address{}, registry.Link{}, errors.New("creation event not found in receipt logs")
}

func u256(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
