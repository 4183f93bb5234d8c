package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Deployment is the relay's deployment manifest: which contracts exist on
// which chain and the registry entries they start with. Chains may be given
// as slug, numeric Wormhole id or CAIP-2; tokens as symbol or address.
type Deployment struct {
	// Transport selects how outboxes hand transfers to the bridge:
	// "loopback" (default) simulates delivery in process, "wormhole" plans
	// token bridge actions for signing.
	Transport string          `yaml:"transport"`
	Outboxes  []OutboxConfig  `yaml:"outboxes"`
	Inboxes   []InboxConfig   `yaml:"inboxes"`
	Assets    []AssetConfig   `yaml:"assets"`
	Venues    []VenueConfig   `yaml:"venues"`
	Swappers  []SwapperConfig `yaml:"swappers"`
	Balances  []BalanceConfig `yaml:"balances"`
	Name      string          `yaml:"name"`
}

type OutboxConfig struct {
	Chain   string            `yaml:"chain"`
	Address string            `yaml:"address"`
	Owner   string            `yaml:"owner"`
	Inboxes []InboxSeedConfig `yaml:"inboxes"`
}

type InboxSeedConfig struct {
	Chain string `yaml:"chain"`
	Inbox string `yaml:"inbox"`
}

type InboxConfig struct {
	Chain     string              `yaml:"chain"`
	Address   string              `yaml:"address"`
	Owner     string              `yaml:"owner"`
	Bridge    string              `yaml:"bridge"`
	Canonical string              `yaml:"canonical"`
	Swappers  []SwapperSeedConfig `yaml:"swappers"`
}

type SwapperSeedConfig struct {
	TokenIn  string `yaml:"token_in"`
	TokenOut string `yaml:"token_out"`
	Swapper  string `yaml:"swapper"`
}

// AssetConfig maps a source-chain token to the token that represents it on
// the destination chain after bridging.
type AssetConfig struct {
	SourceChain string `yaml:"source_chain"`
	Token       string `yaml:"token"`
	DestChain   string `yaml:"dest_chain"`
	Wrapped     string `yaml:"wrapped"`
}

const (
	VenueRouter      = "router"
	VenueLendingPool = "lending_pool"
	VenueStablePool  = "stable_pool"
)

type VenueConfig struct {
	Name     string          `yaml:"name"`
	Chain    string          `yaml:"chain"`
	Kind     string          `yaml:"kind"`
	Address  string          `yaml:"address"`
	Coins    []string        `yaml:"coins"`
	Rates    []RateConfig    `yaml:"rates"`
	Reserves []ReserveConfig `yaml:"reserves"`
}

// RateConfig prices one unit of In in Out, as a decimal or fraction
// string ("0.998", "999/1000"), base units on both sides.
type RateConfig struct {
	In    string `yaml:"in"`
	Out   string `yaml:"out"`
	Price string `yaml:"price"`
}

type ReserveConfig struct {
	Underlying string `yaml:"underlying"`
	AToken     string `yaml:"atoken"`
}

type SwapperConfig struct {
	Name    string        `yaml:"name"`
	Chain   string        `yaml:"chain"`
	Kind    string        `yaml:"kind"`
	Address string        `yaml:"address"`
	Venue   string        `yaml:"venue"`
	Lending string        `yaml:"lending"`
	Pairs   []PairConfig  `yaml:"pairs"`
	Routes  []RouteConfig `yaml:"routes"`
}

type PairConfig struct {
	In  string `yaml:"in"`
	Out string `yaml:"out"`
}

// RouteConfig binds a composite swapper pair to a sub-swapper by name or
// address.
type RouteConfig struct {
	In      string `yaml:"in"`
	Out     string `yaml:"out"`
	Swapper string `yaml:"swapper"`
}

// BalanceConfig funds a holder on a chain; simulations use it to seed venue
// reserves and sender balances.
type BalanceConfig struct {
	Chain  string `yaml:"chain"`
	Holder string `yaml:"holder"`
	Token  string `yaml:"token"`
	Amount string `yaml:"amount"`
}

const (
	TransportLoopback = "loopback"
	TransportWormhole = "wormhole"
)

func (d Deployment) Empty() bool {
	return len(d.Outboxes) == 0 && len(d.Inboxes) == 0 && len(d.Swappers) == 0 && len(d.Venues) == 0
}

// LoadDeployment reads a standalone manifest. The file may either hold the
// deployment at its root or under a top-level "deployment" key.
func LoadDeployment(path string) (Deployment, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return Deployment{}, fmt.Errorf("read deployment: %w", err)
	}
	var wrapped struct {
		Deployment *Deployment `yaml:"deployment"`
	}
	if err := yaml.Unmarshal(buf, &wrapped); err != nil {
		return Deployment{}, fmt.Errorf("parse deployment yaml: %w", err)
	}
	if wrapped.Deployment != nil {
		return *wrapped.Deployment, nil
	}
	var d Deployment
	if err := yaml.Unmarshal(buf, &d); err != nil {
		return Deployment{}, fmt.Errorf("parse deployment yaml: %w", err)
	}
	if d.Empty() {
		return Deployment{}, fmt.Errorf("deployment %s declares no contracts", path)
	}
	return d, nil
}
