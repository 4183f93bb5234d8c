package registry

import "github.com/ggonzalez94/relay/internal/id"

// Wormhole token bridge contracts keyed by Wormhole chain id.
var wormholeTokenBridgeByChain = map[id.ChainID]string{
	2:  "0x3ee18B2214AFF97000D974cf647E7C347E8fa585", // Ethereum
	4:  "0xB6F6D86a8f9879A9c87f643768d9efc38c1Da6E7", // BSC
	5:  "0x5a58505a96D1dbf8dF91cB21B54419FC36e93fdE", // Polygon
	6:  "0x0e082F06FF657D94310cB8cE8B0D9a04541d8052", // Avalanche
	14: "0x796Dff6D74F3E27060B71255Fe517BFb23C93eed", // Celo
	23: "0x0b2402144Bb366A632D14B83F244D2e0e21bD39c", // Arbitrum
	24: "0x1D68124e65faFC907325e3EDbF8c4d84499DAa8b", // Optimism
	30: "0x8d2de8d2f73F1F4cAB472AC9A881C9b123C79627", // Base
}

func WormholeTokenBridge(chain id.ChainID) (string, bool) {
	value, ok := wormholeTokenBridgeByChain[chain]
	return value, ok
}
