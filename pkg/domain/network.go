package domain

import "fmt"

// Network names an EVM network the gate knows about.
type Network string

// Supported networks.
const (
	NetworkEthereum    Network = "ethereum"
	NetworkBase        Network = "base"
	NetworkBaseSepolia Network = "base-sepolia"
	NetworkPolygon     Network = "polygon"
)

var chainNetworks = map[int64]Network{
	1:     NetworkEthereum,
	8453:  NetworkBase,
	84532: NetworkBaseSepolia,
	137:   NetworkPolygon,
}

var networkDisplayNames = map[Network]string{
	NetworkEthereum:    "Ethereum",
	NetworkBase:        "Base",
	NetworkBaseSepolia: "Base Sepolia",
	NetworkPolygon:     "Polygon",
}

// NetworkForChain resolves a chain id to a known network.
func NetworkForChain(chainID int64) (Network, bool) {
	network, ok := chainNetworks[chainID]
	return network, ok
}

// NetworkDisplayName returns a human readable network label, falling back to
// "Chain <id>" for unknown chains.
func NetworkDisplayName(chainID int64) string {
	if network, ok := chainNetworks[chainID]; ok {
		return networkDisplayNames[network]
	}
	return fmt.Sprintf("Chain %d", chainID)
}
