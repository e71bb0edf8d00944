package signer_test

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/crosslane/bridge-relay/signer"
)

// Well-known hardhat development key, never funded anywhere that matters.
const (
	devKey     = "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"
	devAddress = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
)

func TestFromHex(t *testing.T) {
	t.Parallel()

	s, err := signer.FromHex(devKey)
	require.NoError(t, err)
	require.Equal(t, common.HexToAddress(devAddress), s.Address())
}

func TestFromHexWithPrefix(t *testing.T) {
	t.Parallel()

	s, err := signer.FromHex("0x" + devKey)
	require.NoError(t, err)
	require.Equal(t, common.HexToAddress(devAddress), s.Address())
}

func TestFromHexRejectsGarbage(t *testing.T) {
	t.Parallel()

	_, err := signer.FromHex("not a key")
	require.Error(t, err)
}

func TestSignTx(t *testing.T) {
	t.Parallel()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	s, err := signer.New(key)
	require.NoError(t, err)

	chainID := big.NewInt(80001)
	to := common.HexToAddress("0x00000000000000000000000000000000000000CC")
	tx := ethtypes.NewTransaction(7, to, big.NewInt(0), 200_000, big.NewInt(30_000_000_000), []byte{0x01})

	signedTx, err := s.SignTx(tx, chainID)
	require.NoError(t, err)

	sender, err := ethtypes.Sender(ethtypes.LatestSignerForChainID(chainID), signedTx)
	require.NoError(t, err)
	require.Equal(t, s.Address(), sender)
}
