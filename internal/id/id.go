package id

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	clierr "github.com/ggonzalez94/relay/internal/errors"
)

var (
	eip155ChainPattern   = regexp.MustCompile(`^eip155:[0-9]+$`)
	wormholeChainPattern = regexp.MustCompile(`^wormhole:[0-9]+$`)
	evmAddressPattern    = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
)

// ChainID is a Wormhole chain identifier. It names a destination network in
// an Outbox's inbox registry and is stable for the lifetime of the system.
type ChainID uint16

func (c ChainID) String() string {
	return strconv.FormatUint(uint64(c), 10)
}

type Chain struct {
	Name       string
	Slug       string
	ID         ChainID
	EVMChainID int64
}

// CAIP2 returns the EVM CAIP-2 identifier, or "" for chains without one.
func (c Chain) CAIP2() string {
	if c.EVMChainID == 0 {
		return ""
	}
	return fmt.Sprintf("eip155:%d", c.EVMChainID)
}

type Token struct {
	Symbol   string
	Address  common.Address
	Decimals int
}

// TokenPair is an ordered (In, Out) pair of token addresses on one chain.
type TokenPair struct {
	In  common.Address
	Out common.Address
}

func NewTokenPair(in, out common.Address) TokenPair {
	return TokenPair{In: in, Out: out}
}

func (p TokenPair) String() string {
	return p.In.Hex() + "->" + p.Out.Hex()
}

var chainBySlug = map[string]Chain{
	"ethereum":  {Name: "Ethereum", Slug: "ethereum", ID: 2, EVMChainID: 1},
	"mainnet":   {Name: "Ethereum", Slug: "ethereum", ID: 2, EVMChainID: 1},
	"bsc":       {Name: "BSC", Slug: "bsc", ID: 4, EVMChainID: 56},
	"polygon":   {Name: "Polygon", Slug: "polygon", ID: 5, EVMChainID: 137},
	"avalanche": {Name: "Avalanche", Slug: "avalanche", ID: 6, EVMChainID: 43114},
	"celo":      {Name: "Celo", Slug: "celo", ID: 14, EVMChainID: 42220},
	"arbitrum":  {Name: "Arbitrum", Slug: "arbitrum", ID: 23, EVMChainID: 42161},
	"optimism":  {Name: "Optimism", Slug: "optimism", ID: 24, EVMChainID: 10},
	"base":      {Name: "Base", Slug: "base", ID: 30, EVMChainID: 8453},
}

var chainByID = func() map[ChainID]Chain {
	out := make(map[ChainID]Chain, len(chainBySlug))
	for _, chain := range chainBySlug {
		out[chain.ID] = chain
	}
	return out
}()

var chainByEVMID = func() map[int64]Chain {
	out := make(map[int64]Chain, len(chainBySlug))
	for _, chain := range chainBySlug {
		out[chain.EVMChainID] = chain
	}
	return out
}()

// Small bootstrap registry so symbols resolve deterministically on the
// chains the relay is deployed to.
var tokenRegistry = map[ChainID][]Token{
	2: {
		{Symbol: "USDC", Address: common.HexToAddress("0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"), Decimals: 6},
		{Symbol: "USDT", Address: common.HexToAddress("0xdac17f958d2ee523a2206206994597c13d831ec7"), Decimals: 6},
	},
	5: {
		{Symbol: "USDC", Address: common.HexToAddress("0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174"), Decimals: 6},
		{Symbol: "USDCET", Address: common.HexToAddress("0x4318cb63a2b8edf2de971e2f17f77097e499459d"), Decimals: 6},
		{Symbol: "USDT", Address: common.HexToAddress("0xc2132D05D31c914a87C6611C10748AEb04B58e8F"), Decimals: 6},
		{Symbol: "DAI", Address: common.HexToAddress("0x8f3Cf7ad23Cd3CaDbD9735AFf958023239c6A063"), Decimals: 18},
		{Symbol: "AMUSDC", Address: common.HexToAddress("0x1a13F4Ca1d028320A707D99520AbFefca3998b7F"), Decimals: 6},
		{Symbol: "AMDAI", Address: common.HexToAddress("0x27F8D03b3a2196956ED754baDc28D73be8830A6e"), Decimals: 18},
	},
	14: {
		{Symbol: "CUSD", Address: common.HexToAddress("0x765DE816845861e75A25fCA122bb6898B8B1282a"), Decimals: 18},
		{Symbol: "USDCET", Address: common.HexToAddress("0x37f750B7cC259A2f741AF45294f6a16572CF5cAd"), Decimals: 6},
	},
}

func ParseChain(input string) (Chain, error) {
	raw := strings.TrimSpace(input)
	if raw == "" {
		return Chain{}, clierr.New(clierr.CodeUsage, "chain is required")
	}
	norm := strings.ToLower(raw)

	if chain, ok := chainBySlug[norm]; ok {
		return chain, nil
	}

	if eip155ChainPattern.MatchString(norm) {
		evmID, _ := strconv.ParseInt(strings.TrimPrefix(norm, "eip155:"), 10, 64)
		if known, ok := chainByEVMID[evmID]; ok {
			return known, nil
		}
		return Chain{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("no wormhole chain id known for %s", norm))
	}

	numeric := strings.TrimPrefix(norm, "wormhole:")
	if wormholeChainPattern.MatchString(norm) || numeric == norm {
		if n, err := strconv.ParseUint(numeric, 10, 16); err == nil {
			if n == 0 {
				return Chain{}, clierr.New(clierr.CodeUsage, "wormhole chain id 0 is reserved")
			}
			if known, ok := chainByID[ChainID(n)]; ok {
				return known, nil
			}
			return Chain{Name: fmt.Sprintf("Wormhole-%d", n), Slug: fmt.Sprintf("wormhole-%d", n), ID: ChainID(n)}, nil
		}
	}

	return Chain{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("unsupported chain input: %s", input))
}

// ParseAddress validates a hex EVM address. field names the input in errors.
func ParseAddress(input, field string) (common.Address, error) {
	raw := strings.TrimSpace(input)
	if raw == "" {
		return common.Address{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("%s is required", field))
	}
	if !evmAddressPattern.MatchString(raw) {
		return common.Address{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("%s must be a valid EVM address", field))
	}
	return common.HexToAddress(raw), nil
}

// ParseToken resolves a symbol or hex address to a token on chain. Unknown
// addresses are accepted with an empty symbol.
func ParseToken(input string, chain Chain) (Token, error) {
	raw := strings.TrimSpace(input)
	if raw == "" {
		return Token{}, clierr.New(clierr.CodeUsage, "token is required")
	}
	if evmAddressPattern.MatchString(raw) {
		addr := common.HexToAddress(raw)
		if token, ok := LookupByAddress(chain.ID, addr); ok {
			return token, nil
		}
		return Token{Address: addr}, nil
	}

	matches := findTokensBySymbol(chain.ID, raw)
	if len(matches) == 0 {
		return Token{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("symbol %s not found in registry for chain %s", input, chain.Slug))
	}
	if len(matches) > 1 {
		addresses := make([]string, 0, len(matches))
		for _, m := range matches {
			addresses = append(addresses, m.Address.Hex())
		}
		sort.Strings(addresses)
		return Token{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("symbol %s is ambiguous on chain %s, use address (%s)", input, chain.Slug, strings.Join(addresses, ", ")))
	}
	return matches[0], nil
}

func findTokensBySymbol(chain ChainID, symbol string) []Token {
	matches := []Token{}
	for _, t := range tokenRegistry[chain] {
		if strings.EqualFold(t.Symbol, symbol) {
			matches = append(matches, t)
		}
	}
	return matches
}

func KnownToken(chain ChainID, symbol string) (Token, bool) {
	matches := findTokensBySymbol(chain, symbol)
	if len(matches) != 1 {
		return Token{}, false
	}
	return matches[0], true
}

func LookupByAddress(chain ChainID, address common.Address) (Token, bool) {
	for _, t := range tokenRegistry[chain] {
		if t.Address == address {
			return t, true
		}
	}
	return Token{}, false
}

// Label renders a token for humans: its symbol when known, else its address.
func Label(chain ChainID, address common.Address) string {
	if token, ok := LookupByAddress(chain, address); ok {
		return token.Symbol
	}
	return address.Hex()
}
