package main

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/sullof/ERCs/client"
	"github.com/sullof/ERCs/registry"
)

type config struct {
	RPCURL         string
	ChainID        int64
	PrivateKey     string
	GasFeeCap      int64
	GasTipCap      int64
	GasLimit       uint64
	TimeoutSeconds int

	Registry       string
	Implementation string
	Salt           string
	TokenChainID   string
	TokenContract  string
	TokenID        string
	Address        string
}

type report struct {
	Address       string `json:"address,omitempty"`
	TxHash        string `json:"tx_hash,omitempty"`
	Created       *bool  `json:"created,omitempty"`
	ChainID       string `json:"chain_id,omitempty"`
	TokenContract string `json:"token_contract,omitempty"`
	TokenID       string `json:"token_id,omitempty"`
	Salt          string `json:"salt,omitempty"`
	Impl          string `json:"implementation,omitempty"`
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(2)
	}
	command := os.Args[1]

	cfg, err := parseFlags(command, os.Args[2:])
	if err != nil {
		exitErr(err)
	}

	if err := run(command, cfg); err != nil {
		exitErr(err)
	}
}

func printUsage() {
	fmt.Println("Usage:")
	fmt.Println("  linkctl compute --registry <addr> --implementation <addr> --salt <hex32> --token-chain-id <n> --token-contract <addr> --token-id <n>")
	fmt.Println("  linkctl create  (compute flags) --rpc-url <url> --chain-id <n> --private-key <hex>")
	fmt.Println("  linkctl resolve --address <addr> --rpc-url <url> --chain-id <n> --private-key <hex>")
	fmt.Println()
	fmt.Println("Core flags/env: --rpc-url(RPC_URL) --chain-id(CHAIN_ID) --private-key(PRIVATE_KEY) --registry(REGISTRY_ADDRESS)")
}

func parseFlags(command string, args []string) (config, error) {
	cfg := config{
		RPCURL:         envOr("RPC_URL", ""),
		ChainID:        envInt64("CHAIN_ID", 0),
		PrivateKey:     envOr("PRIVATE_KEY", ""),
		GasFeeCap:      envInt64("GAS_FEE_CAP", 2_000_000_000),
		GasTipCap:      envInt64("GAS_TIP_CAP", 1_000_000_000),
		GasLimit:       uint64(envInt64("GAS_LIMIT", int64(client.CreateGasLimit))),
		TimeoutSeconds: 600,
		Registry:       envOr("REGISTRY_ADDRESS", ""),
	}

	fs := flag.NewFlagSet(command, flag.ContinueOnError)
	fs.StringVar(&cfg.RPCURL, "rpc-url", cfg.RPCURL, "RPC URL")
	fs.Int64Var(&cfg.ChainID, "chain-id", cfg.ChainID, "chain id of the execution chain")
	fs.StringVar(&cfg.PrivateKey, "private-key", cfg.PrivateKey, "private key hex")
	fs.Int64Var(&cfg.GasFeeCap, "gas-fee-cap", cfg.GasFeeCap, "EIP-1559 fee cap")
	fs.Int64Var(&cfg.GasTipCap, "gas-tip-cap", cfg.GasTipCap, "EIP-1559 tip cap")
	fs.Uint64Var(&cfg.GasLimit, "gas-limit", cfg.GasLimit, "gas limit for create")
	fs.IntVar(&cfg.TimeoutSeconds, "timeout-seconds", cfg.TimeoutSeconds, "timeout in seconds")
	fs.StringVar(&cfg.Registry, "registry", cfg.Registry, "registry address")
	fs.StringVar(&cfg.Implementation, "implementation", cfg.Implementation, "implementation address to proxy")
	fs.StringVar(&cfg.Salt, "salt", cfg.Salt, "32-byte salt hex")
	fs.StringVar(&cfg.TokenChainID, "token-chain-id", cfg.TokenChainID, "chain id of the linked token (decimal or 0x hex)")
	fs.StringVar(&cfg.TokenContract, "token-contract", cfg.TokenContract, "token contract address")
	fs.StringVar(&cfg.TokenID, "token-id", cfg.TokenID, "token id (decimal or 0x hex)")
	fs.StringVar(&cfg.Address, "address", cfg.Address, "linked contract address (resolve only)")

	if err := fs.Parse(args); err != nil {
		return config{}, err
	}

	switch command {
	case "compute":
		if cfg.Registry == "" {
			return config{}, errors.New("registry is required")
		}
	case "create":
		if cfg.RPCURL == "" || cfg.ChainID == 0 || cfg.PrivateKey == "" || cfg.Registry == "" {
			return config{}, errors.New("rpc-url, chain-id, private-key and registry are required")
		}
	case "resolve":
		if cfg.RPCURL == "" || cfg.ChainID == 0 || cfg.PrivateKey == "" || cfg.Address == "" {
			return config{}, errors.New("rpc-url, chain-id, private-key and address are required")
		}
	default:
		printUsage()
		return config{}, fmt.Errorf("unsupported command: %s", command)
	}

	return cfg, nil
}

func run(command string, cfg config) error {
	if command == "compute" {
		return runCompute(cfg)
	}

	log, err := zap.NewProduction()
	if err != nil {
		return err
	}
	defer log.Sync()

	key, _, err := parsePrivateKey(cfg.PrivateKey)
	if err != nil {
		return err
	}

	c, err := client.New(cfg.RPCURL, cfg.ChainID, key, big.NewInt(cfg.GasFeeCap), big.NewInt(cfg.GasTipCap), log)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.TimeoutSeconds)*time.Second)
	defer cancel()

	switch command {
	case "create":
		return runCreate(ctx, c, cfg)
	case "resolve":
		return runResolve(ctx, c, cfg)
	}
	return fmt.Errorf("unsupported command: %s", command)
}

func runCompute(cfg config) error {
	registryAddr, link, err := parseLink(cfg)
	if err != nil {
		return err
	}
	addr := registry.New(registryAddr).Compute(link)
	return printReport(report{Address: addr.Hex()})
}

func runCreate(ctx context.Context, c *client.Client, cfg config) error {
	registryAddr, link, err := parseLink(cfg)
	if err != nil {
		return err
	}

	predicted := registry.New(registryAddr).Compute(link)
	code, err := c.CodeAt(ctx, predicted)
	if err != nil {
		return err
	}
	if len(code) > 0 {
		created := false
		return printReport(report{Address: predicted.Hex(), Created: &created})
	}

	txHash, err := c.CreateLinkedContract(ctx, registryAddr, link, cfg.GasLimit)
	if err != nil {
		return err
	}
	receipt, err := c.WaitForReceipt(ctx, txHash)
	if err != nil {
		return err
	}
	if receipt.Status != 1 {
		return fmt.Errorf("creation failed: %s", receipt.TxHash.Hex())
	}

	created := true
	addr := predicted
	if deployed, _, err := client.LinkFromReceipt(receipt); err == nil {
		addr = deployed
	} else {
		// No event: another creator got there between the code check and
		// this transaction.
		created = false
	}
	return printReport(report{Address: addr.Hex(), TxHash: txHash.Hex(), Created: &created})
}

func runResolve(ctx context.Context, c *client.Client, cfg config) error {
	addr, err := parseAddress(cfg.Address)
	if err != nil {
		return err
	}
	code, err := c.CodeAt(ctx, addr)
	if err != nil {
		return err
	}
	link, err := registry.DecodeLink(code)
	if err != nil {
		return err
	}
	return printReport(report{
		Address:       addr.Hex(),
		ChainID:       link.ChainID.String(),
		TokenContract: link.TokenContract.Hex(),
		TokenID:       link.TokenID.String(),
		Salt:          fmt.Sprintf("0x%x", link.Salt),
		Impl:          link.Implementation.Hex(),
	})
}

func parseLink(cfg config) (common.Address, registry.Link, error) {
	registryAddr, err := parseAddress(cfg.Registry)
	if err != nil {
		return common.Address{}, registry.Link{}, fmt.Errorf("registry: %w", err)
	}
	implementation, err := parseAddress(cfg.Implementation)
	if err != nil {
		return common.Address{}, registry.Link{}, fmt.Errorf("implementation: %w", err)
	}
	tokenContract, err := parseAddress(cfg.TokenContract)
	if err != nil {
		return common.Address{}, registry.Link{}, fmt.Errorf("token-contract: %w", err)
	}
	salt, err := parseSalt(cfg.Salt)
	if err != nil {
		return common.Address{}, registry.Link{}, err
	}
	tokenChainID, err := parseBig("token-chain-id", cfg.TokenChainID)
	if err != nil {
		return common.Address{}, registry.Link{}, err
	}
	tokenID, err := parseBig("token-id", cfg.TokenID)
	if err != nil {
		return common.Address{}, registry.Link{}, err
	}

	return registryAddr, registry.Link{
		Implementation: implementation,
		Salt:           salt,
		ChainID:        tokenChainID,
		TokenContract:  tokenContract,
		TokenID:        tokenID,
	}, nil
}

func parsePrivateKey(v string) (*ecdsa.PrivateKey, common.Address, error) {
	v = strings.TrimPrefix(strings.TrimSpace(v), "0x")
	key, err := crypto.HexToECDSA(v)
	if err != nil {
		return nil, common.Address{}, fmt.Errorf("parse private key: %w", err)
	}
	return key, crypto.PubkeyToAddress(key.PublicKey), nil
}

func parseAddress(v string) (common.Address, error) {
	if !common.IsHexAddress(v) {
		return common.Address{}, fmt.Errorf("invalid address: %s", v)
	}
	return common.HexToAddress(v), nil
}

func parseSalt(v string) ([32]byte, error) {
	var salt [32]byte
	v = strings.TrimPrefix(strings.TrimSpace(v), "0x")
	if v == "" {
		return salt, nil
	}
	b, err := hex.DecodeString(v)
	if err != nil || len(b) > 32 {
		return salt, fmt.Errorf("invalid salt: %s", v)
	}
	copy(salt[32-len(b):], b)
	return salt, nil
}

func parseBig(name, v string) (*big.Int, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return new(big.Int), nil
	}
	n, ok := new(big.Int).SetString(v, 0)
	if !ok {
		return nil, fmt.Errorf("invalid %s: %s", name, v)
	}
	return n, nil
}

func printReport(out report) error {
	blob, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(blob))
	return nil
}

func envOr(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envInt64(key string, fallback int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func exitErr(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
