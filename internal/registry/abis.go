package registry

// ABI fragments used by the bridge planner.
const (
	ERC20MinimalABI = `[
		{"name":"allowance","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
		{"name":"approve","type":"function","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}
	]`

	WormholeTokenBridgeABI = `[
		{"name":"transferTokensWithPayload","type":"function","stateMutability":"payable","inputs":[{"name":"token","type":"address"},{"name":"amount","type":"uint256"},{"name":"recipientChain","type":"uint16"},{"name":"recipient","type":"bytes32"},{"name":"nonce","type":"uint32"},{"name":"payload","type":"bytes"}],"outputs":[{"name":"sequence","type":"uint64"}]},
		{"name":"wrappedAsset","type":"function","stateMutability":"view","inputs":[{"name":"tokenChainId","type":"uint16"},{"name":"tokenAddress","type":"bytes32"}],"outputs":[{"name":"","type":"address"}]}
	]`
)
