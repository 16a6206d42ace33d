package registry

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Every linked contract shares one fixed bytecode shape: a delegation proxy
// to the implementation, immediately followed by 128 bytes of immutable
// trailing data. The trailer is part of deployed code, so the token reference
// can never change after deployment.
//
//	creation: [creation preamble 10][runtime 173]
//	runtime:  [proxy preamble 10][implementation 20][proxy footer 15]
//	          [salt 32][chainId 32][tokenContract 32][tokenId 32]
//
// The creation preamble is the standard copy-trailing-bytes constructor: it
// returns the 173 bytes starting at offset 10.
const (
	creationPreambleHex = "3d60ad80600a3d3981f3"
	proxyPreambleHex    = "363d3d373d3d3d363d73"
	proxyFooterHex      = "5af43d82803e903d91602b57fd5bf3"

	// CreationCodeSize and RuntimeCodeSize are fixed for all links.
	CreationCodeSize = 183
	RuntimeCodeSize  = 173
)

// Runtime code offsets.
const (
	implOffset          = 10
	footerOffset        = 30
	saltOffset          = 45
	chainIDOffset       = 77
	tokenContractOffset = 109
	tokenIDOffset       = 141
)

var (
	creationPreamble = MustHexDecode(creationPreambleHex)
	proxyPreamble    = MustHexDecode(proxyPreambleHex)
	proxyFooter      = MustHexDecode(proxyFooterHex)
)

// ErrNotLinkedContract reports code that does not follow the linked-contract
// bytecode layout.
var ErrNotLinkedContract = errors.New("code is not a linked contract")

// Link is the full tuple a linked contract is derived from. No field is
// validated anywhere: a zero implementation or a chain id belonging to no
// known network still maps to a well-defined address.
type Link struct {
	Implementation common.Address
	Salt           [32]byte
	ChainID        *big.Int
	TokenContract  common.Address
	TokenID        *big.Int
}

// CreationCode returns the deployable bytecode for link, constructor
// preamble included.
func CreationCode(link Link) []byte {
	buf := make([]byte, 0, CreationCodeSize)
	buf = append(buf, creationPreamble...)
	return appendRuntime(buf, link)
}

// RuntimeCode returns the code that ends up on chain for link, i.e.
// CreationCode without the 10-byte constructor.
func RuntimeCode(link Link) []byte {
	return appendRuntime(make([]byte, 0, RuntimeCodeSize), link)
}

func appendRuntime(buf []byte, link Link) []byte {
	buf = append(buf, proxyPreamble...)
	buf = append(buf, link.Implementation.Bytes()...)
	buf = append(buf, proxyFooter...)
	buf = append(buf, link.Salt[:]...)
	buf = append(buf, word(link.ChainID)...)
	buf = append(buf, common.LeftPadBytes(link.TokenContract.Bytes(), 32)...)
	buf = append(buf, word(link.TokenID)...)
	return buf
}

// word right-aligns v into 32 bytes; nil counts as zero.
func word(v *big.Int) []byte {
	if v == nil {
		v = new(big.Int)
	}
	return common.BigToHash(v).Bytes()
}

// DecodeLink recovers the link tuple from deployed runtime code. The proxy
// segments must match byte for byte; the trailer is taken from the fixed
// offsets at the end of the code.
func DecodeLink(code []byte) (Link, error) {
	if len(code) != RuntimeCodeSize {
		return Link{}, fmt.Errorf("%w: %d byte code", ErrNotLinkedContract, len(code))
	}
	if !bytes.Equal(code[:implOffset], proxyPreamble) || !bytes.Equal(code[footerOffset:saltOffset], proxyFooter) {
		return Link{}, ErrNotLinkedContract
	}
	link := Link{
		Implementation: common.BytesToAddress(code[implOffset:footerOffset]),
		ChainID:        new(big.Int).SetBytes(code[chainIDOffset:tokenContractOffset]),
		TokenContract:  common.BytesToAddress(code[tokenContractOffset:tokenIDOffset]),
		TokenID:        new(big.Int).SetBytes(code[tokenIDOffset:]),
	}
	copy(link.Salt[:], code[saltOffset:chainIDOffset])
	return link, nil
}

func MustHexDecode(hexStr string) []byte {
	b, err := hex.DecodeString(hexStr)
	if err != nil {
		panic(fmt.Sprintf("decode hex: %v", err))
	}
	return b
}
