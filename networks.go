package x402

import (
	"fmt"
	"strconv"
	"strings"
)

// DefaultNetwork is used when a GateConfig names no network.
const DefaultNetwork = "eip155:8453"

// DefaultAssetDecimals is the decimal precision assumed for the payment asset (USDC).
const DefaultAssetDecimals = 6

// NetworkInfo describes a supported EVM network.
type NetworkInfo struct {
	Name    string
	ChainID uint64
	// USDC is the canonical USDC contract, empty when none is known.
	USDC string
}

// CAIP2 returns the CAIP-2 identifier of the network.
func (n NetworkInfo) CAIP2() string {
	return "eip155:" + strconv.FormatUint(n.ChainID, 10)
}

var networks = []NetworkInfo{
	{Name: "base", ChainID: 8453, USDC: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"},
	{Name: "base-sepolia", ChainID: 84532, USDC: "0x036CbD53842c5426634e7929541eC2318f3dCF7e"},
	{Name: "polygon", ChainID: 137, USDC: "0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359"},
	{Name: "polygon-amoy", ChainID: 80002},
	{Name: "avalanche", ChainID: 43114},
	{Name: "avalanche-fuji", ChainID: 43113},
}

// EIP-712 domain names of the known USDC deployments, keyed by lowercase address.
var usdcDomains = map[string]string{
	"0x833589fcd6edb6e08f4c7c32d4f71b54bda02913": "USD Coin",
	"0x3c499c542cef5e3811e1192ce70d8cc03d5c3359": "USD Coin",
	"0x036cbd53842c5426634e7929541ec2318f3dcf7e": "USDC",
}

// LookupChainID returns the network with the given chain id.
func LookupChainID(chainID uint64) (NetworkInfo, bool) {
	for _, n := range networks {
		if n.ChainID == chainID {
			return n, true
		}
	}
	return NetworkInfo{}, false
}

// NormalizeNetwork maps a friendly network name to its CAIP-2 identifier.
// CAIP-2 identifiers and unknown names are returned unchanged.
func NormalizeNetwork(network string) string {
	network = strings.TrimSpace(network)
	if network == "" || strings.Contains(network, ":") {
		return network
	}
	for _, n := range networks {
		if strings.EqualFold(n.Name, network) {
			return n.CAIP2()
		}
	}
	return network
}

// DefaultAsset returns the USDC contract for a CAIP-2 network.
func DefaultAsset(network string) string {
	ref, ok := strings.CutPrefix(network, "eip155:")
	if !ok {
		return ""
	}
	id, err := strconv.ParseUint(ref, 10, 64)
	if err != nil {
		return ""
	}
	n, _ := LookupChainID(id)
	return n.USDC
}

// assetExtra returns the EIP-712 domain clients need to sign for the asset.
func assetExtra(asset string) map[string]interface{} {
	name, ok := usdcDomains[strings.ToLower(asset)]
	if !ok {
		return nil
	}
	return map[string]interface{}{
		"name":    name,
		"version": "2",
	}
}

func validateNetwork(network string) error {
	if !strings.Contains(network, ":") {
		return nil
	}
	ns, ref, _ := strings.Cut(network, ":")
	if ns == "" || ref == "" {
		return fmt.Errorf("invalid CAIP-2 network %q", network)
	}
	return nil
}
