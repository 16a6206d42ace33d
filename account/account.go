// Package account defines the capability surfaces a linked contract may
// expose, and a read-only view that answers the token query straight from
// deployed code.
package account

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/sullof/ERCs/registry"
)

// TokenLinked is the minimal capability: recovering the token reference a
// contract was deployed with. The answer comes from immutable bytecode, so a
// deployed contract cannot change it after the fact.
type TokenLinked interface {
	Token(ctx context.Context) (chainID *big.Int, tokenContract common.Address, tokenID *big.Int, err error)
}

// SignerAccount is the account-flavoured capability: token linkage plus a
// state counter and signer validation. On-chain implementations also accept
// plain value transfers. The integer encoding of State is provisional
// upstream; callers should stay behind this interface so a change of
// encoding stays local to implementations.
type SignerAccount interface {
	TokenLinked
	State(ctx context.Context) (*big.Int, error)
	IsValidSigner(ctx context.Context, signer common.Address, data []byte) ([4]byte, error)
}

// Capability method signatures, mirrored on chain.
const (
	TokenMethodSig  = "token()"
	StateMethodSig  = "state()"
	SignerMethodSig = "isValidSigner(address,bytes)"
)

// TokenLinkedID is the capability tag for TokenLinked.
func TokenLinkedID() [4]byte {
	return registry.Selector(TokenMethodSig)
}

// SignerAccountID is the capability tag for SignerAccount: the XOR of its
// three method selectors.
func SignerAccountID() [4]byte {
	return xorTags(
		registry.Selector(TokenMethodSig),
		registry.Selector(StateMethodSig),
		registry.Selector(SignerMethodSig),
	)
}

func xorTags(tags ...[4]byte) [4]byte {
	var id [4]byte
	for _, tag := range tags {
		for i := range id {
			id[i] ^= tag[i]
		}
	}
	return id
}

// View implements TokenLinked for a deployed linked contract by reading its
// code. It never touches contract storage, so the answer cannot be spoofed
// by the contract's own logic.
type View struct {
	chain   registry.Chain
	address common.Address
}

func NewView(chain registry.Chain, address common.Address) *View {
	return &View{chain: chain, address: address}
}

func (v *View) Address() common.Address {
	return v.address
}

func (v *View) Token(ctx context.Context) (*big.Int, common.Address, *big.Int, error) {
	link, err := v.link(ctx)
	if err != nil {
		return nil, common.Address{}, nil, err
	}
	return link.ChainID, link.TokenContract, link.TokenID, nil
}

// Salt returns the caller-chosen disambiguator baked in ahead of the token
// fields.
func (v *View) Salt(ctx context.Context) ([32]byte, error) {
	link, err := v.link(ctx)
	if err != nil {
		return [32]byte{}, err
	}
	return link.Salt, nil
}

// Implementation returns the address all calls are delegated to.
func (v *View) Implementation(ctx context.Context) (common.Address, error) {
	link, err := v.link(ctx)
	if err != nil {
		return common.Address{}, err
	}
	return link.Implementation, nil
}

func (v *View) link(ctx context.Context) (registry.Link, error) {
	code, err := v.chain.CodeAt(ctx, v.address)
	if err != nil {
		return registry.Link{}, fmt.Errorf("code lookup at %s: %w", v.address, err)
	}
	return registry.DecodeLink(code)
}

var _ TokenLinked = (*View)(nil)
