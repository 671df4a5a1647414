package main

import (
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
)

// fetchPayoutScript decodes a payout address (P2PKH, P2SH, or SegWit
// bech32/bech32m) against the currently selected network and returns its
// scriptPubKey. Passing a non-nil rpc is reserved for future validation
// against the node's own address decoder; the pool never needs it today
// since btcutil/txscript fully cover the four output types the spec names.
func fetchPayoutScript(rpc *RPCClient, address string) ([]byte, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, fmt.Errorf("payout address is empty")
	}

	decoded, err := btcutil.DecodeAddress(address, ChainParams())
	if err != nil {
		return nil, fmt.Errorf("decode payout address %q: %w", address, err)
	}
	if !decoded.IsForNet(ChainParams()) {
		return nil, fmt.Errorf("payout address %q is not valid for the configured network", address)
	}

	switch decoded.(type) {
	case *btcutil.AddressPubKeyHash, *btcutil.AddressScriptHash,
		*btcutil.AddressWitnessPubKeyHash, *btcutil.AddressWitnessScriptHash:
	default:
		return nil, fmt.Errorf("payout address %q is not a supported output type (expected P2PKH, P2SH, P2WPKH, or P2WSH)", address)
	}

	script, err := txscript.PayToAddrScript(decoded)
	if err != nil {
		return nil, fmt.Errorf("build scriptPubKey for %q: %w", address, err)
	}
	return script, nil
}
