package id

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	clierr "github.com/ggonzalez94/relay/internal/errors"
)

func TestParseChainVariants(t *testing.T) {
	chain, err := ParseChain("celo")
	if err != nil {
		t.Fatalf("ParseChain(celo) failed: %v", err)
	}
	if chain.ID != 14 || chain.CAIP2() != "eip155:42220" {
		t.Fatalf("unexpected celo chain: %+v", chain)
	}

	chain, err = ParseChain("5")
	if err != nil {
		t.Fatalf("ParseChain(5) failed: %v", err)
	}
	if chain.Slug != "polygon" {
		t.Fatalf("unexpected slug: %s", chain.Slug)
	}

	chain, err = ParseChain("eip155:137")
	if err != nil {
		t.Fatalf("ParseChain(eip155:137) failed: %v", err)
	}
	if chain.ID != 5 {
		t.Fatalf("unexpected wormhole id: %d", chain.ID)
	}

	chain, err = ParseChain("wormhole:4000")
	if err != nil {
		t.Fatalf("ParseChain(wormhole:4000) failed: %v", err)
	}
	if chain.ID != 4000 || chain.CAIP2() != "" {
		t.Fatalf("unexpected custom chain: %+v", chain)
	}
}

func TestParseChainRejectsInvalidInput(t *testing.T) {
	for _, input := range []string{"", "0", "70000", "eip155:999999", "not-a-chain"} {
		if _, err := ParseChain(input); !clierr.Is(err, clierr.CodeUsage) {
			t.Fatalf("expected usage error for %q, got %v", input, err)
		}
	}
}

func TestParseTokenSymbolAndAddress(t *testing.T) {
	chain, _ := ParseChain("polygon")

	token, err := ParseToken("usdcet", chain)
	if err != nil {
		t.Fatalf("ParseToken(usdcet) failed: %v", err)
	}
	if token.Address != common.HexToAddress("0x4318cb63a2b8edf2de971e2f17f77097e499459d") || token.Decimals != 6 {
		t.Fatalf("unexpected token: %+v", token)
	}

	byAddr, err := ParseToken("0x2791BCA1F2DE4661ED88A30C99A7A9449AA84174", chain)
	if err != nil {
		t.Fatalf("ParseToken(address) failed: %v", err)
	}
	if byAddr.Symbol != "USDC" {
		t.Fatalf("expected USDC, got %q", byAddr.Symbol)
	}

	unknown, err := ParseToken("0x00000000000000000000000000000000000000AA", chain)
	if err != nil {
		t.Fatalf("ParseToken(unknown address) failed: %v", err)
	}
	if unknown.Symbol != "" {
		t.Fatalf("expected empty symbol for unknown token, got %q", unknown.Symbol)
	}

	if _, err := ParseToken("WBTC", chain); err == nil {
		t.Fatal("expected unknown symbol error")
	}
}

func TestParseAddress(t *testing.T) {
	if _, err := ParseAddress("", "recipient"); err == nil {
		t.Fatal("expected missing address error")
	}
	if _, err := ParseAddress("0x1234", "recipient"); err == nil {
		t.Fatal("expected malformed address error")
	}
	addr, err := ParseAddress(" 0x00000000000000000000000000000000000000bb ", "recipient")
	if err != nil {
		t.Fatalf("ParseAddress failed: %v", err)
	}
	if addr != common.HexToAddress("0xbb") {
		t.Fatalf("unexpected address: %s", addr.Hex())
	}
}

func TestTokenPairIsOrdered(t *testing.T) {
	a := common.HexToAddress("0x01")
	b := common.HexToAddress("0x02")
	if NewTokenPair(a, b) == NewTokenPair(b, a) {
		t.Fatal("expected ordered pairs to differ")
	}
}
