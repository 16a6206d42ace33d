package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// EVM deployment limits (EIP-170, EIP-3860).
const (
	MaxCodeSize     = 24576
	MaxInitCodeSize = 2 * MaxCodeSize
)

var (
	errAddressOccupied     = errors.New("address already occupied")
	errInitCodeTooLarge    = errors.New("init code exceeds size limit")
	errCodeTooLarge        = errors.New("runtime code exceeds size limit")
	errUnsupportedInitCode = errors.New("unsupported init code shape")
)

// SimChain is an in-memory Chain carrying the platform rules the factory
// relies on: one contract per address, EVM size limits, atomic deployment.
// It executes only the copy-trailing-bytes constructor the factory emits;
// arbitrary init code is rejected.
type SimChain struct {
	mu   sync.RWMutex
	code map[common.Address][]byte
}

func NewSimChain() *SimChain {
	return &SimChain{code: make(map[common.Address][]byte)}
}

func (c *SimChain) CodeAt(_ context.Context, addr common.Address) ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	code := c.code[addr]
	out := make([]byte, len(code))
	copy(out, code)
	return out, nil
}

func (c *SimChain) Create2(_ context.Context, deployer common.Address, salt [32]byte, creationCode []byte) (common.Address, error) {
	if len(creationCode) > MaxInitCodeSize {
		return common.Address{}, errInitCodeTooLarge
	}
	runtime, err := execConstructor(creationCode)
	if err != nil {
		return common.Address{}, err
	}
	if len(runtime) > MaxCodeSize {
		return common.Address{}, errCodeTooLarge
	}

	addr := crypto.CreateAddress2(deployer, salt, crypto.Keccak256(creationCode))

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.code[addr]) > 0 {
		return common.Address{}, fmt.Errorf("%w: %s", errAddressOccupied, addr)
	}
	stored := make([]byte, len(runtime))
	copy(stored, runtime)
	c.code[addr] = stored
	return addr, nil
}

// SetCode plants code at addr directly, bypassing deployment rules.
func (c *SimChain) SetCode(addr common.Address, code []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	stored := make([]byte, len(code))
	copy(stored, code)
	c.code[addr] = stored
}

// execConstructor interprets the return-a-trailing-slice constructor
//
//	3d 60 <len> 80 60 <offset> 3d 39 81 f3
//
// and returns the runtime slice it would deploy.
func execConstructor(creationCode []byte) ([]byte, error) {
	c := creationCode
	if len(c) < 10 ||
		c[0] != 0x3d || c[1] != 0x60 || c[3] != 0x80 || c[4] != 0x60 ||
		c[6] != 0x3d || c[7] != 0x39 || c[8] != 0x81 || c[9] != 0xf3 {
		return nil, errUnsupportedInitCode
	}
	length, offset := int(c[2]), int(c[5])
	if offset+length > len(c) {
		return nil, errUnsupportedInitCode
	}
	return c[offset : offset+length], nil
}
