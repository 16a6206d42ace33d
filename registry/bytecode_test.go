package registry

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func linkGen() *rapid.Generator[Link] {
	return rapid.Custom(func(t *rapid.T) Link {
		var salt [32]byte
		copy(salt[:], rapid.SliceOfN(rapid.Byte(), 32, 32).Draw(t, "salt"))
		return Link{
			Implementation: common.BytesToAddress(rapid.SliceOfN(rapid.Byte(), 20, 20).Draw(t, "implementation")),
			Salt:           salt,
			ChainID:        new(big.Int).SetUint64(rapid.Uint64().Draw(t, "chainId")),
			TokenContract:  common.BytesToAddress(rapid.SliceOfN(rapid.Byte(), 20, 20).Draw(t, "tokenContract")),
			TokenID:        new(big.Int).SetBytes(rapid.SliceOfN(rapid.Byte(), 1, 32).Draw(t, "tokenId")),
		}
	})
}

func sampleLink() Link {
	var salt [32]byte
	salt[31] = 0x01
	return Link{
		Implementation: common.HexToAddress("0x1111111111111111111111111111111111111111"),
		Salt:           salt,
		ChainID:        big.NewInt(1),
		TokenContract:  common.HexToAddress("0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"),
		TokenID:        big.NewInt(42),
	}
}

func TestBytecodeLayout(t *testing.T) {
	link := sampleLink()

	creation := CreationCode(link)
	runtime := RuntimeCode(link)

	require.Len(t, creation, CreationCodeSize)
	require.Len(t, runtime, RuntimeCodeSize)
	require.Equal(t, runtime, creation[10:], "runtime code must be the creation code minus the constructor")

	require.Equal(t, MustHexDecode(proxyPreambleHex), runtime[:10])
	require.Equal(t, link.Implementation.Bytes(), runtime[10:30])
	require.Equal(t, MustHexDecode(proxyFooterHex), runtime[30:45])
	require.Equal(t, link.Salt[:], runtime[45:77])
	require.Equal(t, common.BigToHash(link.ChainID).Bytes(), runtime[77:109])
	require.Equal(t, common.LeftPadBytes(link.TokenContract.Bytes(), 32), runtime[109:141])
	require.Equal(t, common.BigToHash(link.TokenID).Bytes(), runtime[141:173])
}

func TestBytecodeNilIntegersAreZero(t *testing.T) {
	link := sampleLink()
	link.ChainID = nil
	link.TokenID = nil

	explicit := link
	explicit.ChainID = new(big.Int)
	explicit.TokenID = new(big.Int)

	require.Equal(t, CreationCode(explicit), CreationCode(link))
}

func TestDecodeLinkRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		link := linkGen().Draw(t, "link")

		decoded, err := DecodeLink(RuntimeCode(link))
		require.NoError(t, err)

		require.Equal(t, link.Implementation, decoded.Implementation)
		require.Equal(t, link.Salt, decoded.Salt)
		require.Zero(t, link.ChainID.Cmp(decoded.ChainID))
		require.Equal(t, link.TokenContract, decoded.TokenContract)
		require.Zero(t, link.TokenID.Cmp(decoded.TokenID))
	})
}

func TestDecodeLinkRejectsForeignCode(t *testing.T) {
	_, err := DecodeLink(nil)
	require.ErrorIs(t, err, ErrNotLinkedContract)

	_, err = DecodeLink(make([]byte, RuntimeCodeSize-1))
	require.ErrorIs(t, err, ErrNotLinkedContract)

	// Right length, wrong proxy segments.
	_, err = DecodeLink(make([]byte, RuntimeCodeSize))
	require.ErrorIs(t, err, ErrNotLinkedContract)

	// A single corrupted footer byte must be enough to reject.
	code := RuntimeCode(sampleLink())
	code[44] ^= 0xff
	_, err = DecodeLink(code)
	require.ErrorIs(t, err, ErrNotLinkedContract)
}

func TestDecodeLinkReadsTrailerNotSalt(t *testing.T) {
	link := sampleLink()
	code := RuntimeCode(link)

	// Flipping the salt must not disturb the token fields.
	code[45] ^= 0xff
	decoded, err := DecodeLink(code)
	require.NoError(t, err)
	require.Zero(t, decoded.ChainID.Cmp(link.ChainID))
	require.Equal(t, link.TokenContract, decoded.TokenContract)
	require.Zero(t, decoded.TokenID.Cmp(link.TokenID))
	require.NotEqual(t, link.Salt, decoded.Salt)
}
