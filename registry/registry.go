// Package registry derives deterministic addresses for linked contracts and
// deploys them exactly once. It is a stateless factory: the only persistent
// artifact it produces is the code it deploys.
package registry

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/event"
)

// ABI surface of the registry. Interface tags and event topics are derived
// from these strings so they can never drift from the published signatures.
const (
	CreateMethodSig  = "createLinkedContract(address,bytes32,uint256,address,uint256)"
	ResolveMethodSig = "linkedContract(address,bytes32,uint256,address,uint256)"
	CreatedEventSig  = "LinkedContractCreated(address,address,bytes32,uint256,address,uint256)"
)

// ErrCreationFailed is the single failure the factory reports: the
// deployment primitive did not produce a contract. Nothing is emitted and no
// partial state survives a failed call.
var ErrCreationFailed = errors.New("linked contract creation failed")

// LinkCreated is the creation notification. Implementation, TokenContract
// and TokenID are indexed on the wire so indexers can filter by token or by
// implementation without scanning payloads.
type LinkCreated struct {
	ContractAddress common.Address
	Implementation  common.Address // indexed
	Salt            [32]byte
	ChainID         *big.Int
	TokenContract   common.Address // indexed
	TokenID         *big.Int       // indexed
}

// Chain is the deployment substrate the factory runs against: code lookup
// plus the deterministic-deployment primitive.
type Chain interface {
	CodeAt(ctx context.Context, addr common.Address) ([]byte, error)
	Create2(ctx context.Context, deployer common.Address, salt [32]byte, creationCode []byte) (common.Address, error)
}

// Registry is the linked-contract factory. Its own address is part of every
// derived address, so two registries never collide.
type Registry struct {
	address common.Address
	feed    event.Feed
}

func New(address common.Address) *Registry {
	return &Registry{address: address}
}

func (r *Registry) Address() common.Address {
	return r.address
}

// Compute derives the deployment address for link:
//
//	keccak256(0xff ‖ registry ‖ salt ‖ keccak256(creationCode))[12:]
//
// The outer salt is the caller-supplied salt unchanged; the chain id, token
// contract and token id disambiguate through the creation-code hash, where
// they are baked into the trailer. Pure computation, callable any number of
// times.
func (r *Registry) Compute(link Link) common.Address {
	return crypto.CreateAddress2(r.address, link.Salt, crypto.Keccak256(CreationCode(link)))
}

// Create deploys the linked contract for link at its deterministic address.
// If code already exists there the address is returned as-is, with no second
// deployment and no second notification, so retries and concurrent callers
// are always safe. A failed deployment surfaces as ErrCreationFailed with
// nothing emitted.
func (r *Registry) Create(ctx context.Context, chain Chain, link Link) (common.Address, error) {
	addr := r.Compute(link)

	code, err := chain.CodeAt(ctx, addr)
	if err != nil {
		return common.Address{}, fmt.Errorf("code lookup at %s: %w", addr, err)
	}
	if len(code) > 0 {
		return addr, nil
	}

	deployed, err := chain.Create2(ctx, r.address, link.Salt, CreationCode(link))
	if err != nil || deployed == (common.Address{}) {
		// A concurrent creator may have claimed the address between the
		// code check and the deployment attempt. That caller won; this
		// call still converges on the same contract.
		if raced, rerr := chain.CodeAt(ctx, addr); rerr == nil && len(raced) > 0 {
			return addr, nil
		}
		if err != nil {
			return common.Address{}, fmt.Errorf("%w: %v", ErrCreationFailed, err)
		}
		return common.Address{}, ErrCreationFailed
	}

	r.feed.Send(LinkCreated{
		ContractAddress: deployed,
		Implementation:  link.Implementation,
		Salt:            link.Salt,
		ChainID:         nonNil(link.ChainID),
		TokenContract:   link.TokenContract,
		TokenID:         nonNil(link.TokenID),
	})
	return deployed, nil
}

func nonNil(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

// SubscribeLinkCreated delivers one LinkCreated per successful deployment.
// Idempotent hits and failures send nothing.
func (r *Registry) SubscribeLinkCreated(ch chan<- LinkCreated) event.Subscription {
	return r.feed.Subscribe(ch)
}

// Selector returns the 4-byte tag of an ABI method signature.
func Selector(signature string) [4]byte {
	var sel [4]byte
	copy(sel[:], crypto.Keccak256([]byte(signature)))
	return sel
}

// CreatedTopic is the log topic of the creation event.
func CreatedTopic() common.Hash {
	return crypto.Keccak256Hash([]byte(CreatedEventSig))
}

// InterfaceID identifies this registry variant: the XOR of its two method
// selectors. The account-only predecessor answers false for it.
func InterfaceID() [4]byte {
	create := Selector(CreateMethodSig)
	resolve := Selector(ResolveMethodSig)
	var id [4]byte
	for i := range id {
		id[i] = create[i] ^ resolve[i]
	}
	return id
}

// SupportsInterface answers the standard capability probe. True only for the
// registry's own tag.
func (r *Registry) SupportsInterface(tag [4]byte) bool {
	return tag == InterfaceID()
}
