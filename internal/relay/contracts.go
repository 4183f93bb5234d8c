package relay

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ggonzalez94/relay/internal/config"
	clierr "github.com/ggonzalez94/relay/internal/errors"
	"github.com/ggonzalez94/relay/internal/id"
	"github.com/ggonzalez94/relay/internal/swapper"
	"github.com/ggonzalez94/relay/internal/venue"
)

type builtVenue struct {
	name    string
	chain   id.ChainID
	kind    string
	address common.Address
	router  *venue.MemoryRouter
	lending *venue.MemoryLendingPool
	stable  *venue.MemoryStablePool
}

// Halt stops the venue; every call after it fails until Resume.
func (v *builtVenue) Halt(reason string) {
	switch {
	case v.router != nil:
		v.router.Halt(reason)
	case v.lending != nil:
		v.lending.Halt(reason)
	case v.stable != nil:
		v.stable.Halt(reason)
	}
}

func (v *builtVenue) Resume() {
	switch {
	case v.router != nil:
		v.router.Resume()
	case v.lending != nil:
		v.lending.Resume()
	case v.stable != nil:
		v.stable.Resume()
	}
}

func (r *Relay) buildVenue(cfg config.VenueConfig) error {
	name := strings.ToLower(strings.TrimSpace(cfg.Name))
	if name == "" {
		return clierr.New(clierr.CodeUsage, "venue name is required")
	}
	if _, dup := r.venues[name]; dup {
		return clierr.New(clierr.CodeUsage, fmt.Sprintf("duplicate venue name %s", cfg.Name))
	}
	chain, err := id.ParseChain(cfg.Chain)
	if err != nil {
		return err
	}
	addr, err := id.ParseAddress(cfg.Address, "venue address")
	if err != nil {
		return err
	}
	rates := make([]venue.Rate, 0, len(cfg.Rates))
	for _, rc := range cfg.Rates {
		rate, err := parseRate(chain, rc)
		if err != nil {
			return err
		}
		rates = append(rates, rate)
	}

	v := &builtVenue{name: name, chain: chain.ID, kind: cfg.Kind, address: addr}
	switch strings.ToLower(strings.TrimSpace(cfg.Kind)) {
	case config.VenueRouter:
		v.router = venue.NewRouter(addr, rates...)
	case config.VenueStablePool:
		if len(cfg.Coins) < 2 {
			return clierr.New(clierr.CodeUsage, "stable pool needs at least two coins")
		}
		coins := make([]common.Address, 0, len(cfg.Coins))
		for _, c := range cfg.Coins {
			token, err := id.ParseToken(c, chain)
			if err != nil {
				return err
			}
			coins = append(coins, token.Address)
		}
		v.stable = venue.NewStablePool(addr, coins, rates...)
	case config.VenueLendingPool:
		reserves := make([]venue.Reserve, 0, len(cfg.Reserves))
		for _, rc := range cfg.Reserves {
			underlying, err := id.ParseToken(rc.Underlying, chain)
			if err != nil {
				return err
			}
			aToken, err := id.ParseToken(rc.AToken, chain)
			if err != nil {
				return err
			}
			reserves = append(reserves, venue.Reserve{Underlying: underlying.Address, AToken: aToken.Address})
		}
		if len(reserves) == 0 {
			return clierr.New(clierr.CodeUsage, "lending pool needs at least one reserve")
		}
		v.lending = venue.NewLendingPool(addr, reserves...)
	default:
		return clierr.New(clierr.CodeUsage, fmt.Sprintf("unsupported venue kind %q", cfg.Kind))
	}
	r.ledger(chain.ID)
	r.venues[name] = v
	return nil
}

func parseRate(chain id.Chain, cfg config.RateConfig) (venue.Rate, error) {
	in, err := id.ParseToken(cfg.In, chain)
	if err != nil {
		return venue.Rate{}, err
	}
	out, err := id.ParseToken(cfg.Out, chain)
	if err != nil {
		return venue.Rate{}, err
	}
	price, ok := new(big.Rat).SetString(strings.TrimSpace(cfg.Price))
	if !ok || price.Sign() <= 0 {
		return venue.Rate{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("rate price %q must be a positive decimal or fraction", cfg.Price))
	}
	return venue.Rate{In: in.Address, Out: out.Address, Price: price}, nil
}

func (r *Relay) venue(chain id.ChainID, name, want string) (*builtVenue, error) {
	v, ok := r.venues[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, clierr.New(clierr.CodeUsage, fmt.Sprintf("unknown venue %q", name))
	}
	if v.chain != chain {
		return nil, clierr.New(clierr.CodeUsage, fmt.Sprintf("venue %s is on chain %s, not %s", name, v.chain, chain))
	}
	if strings.ToLower(v.kind) != want {
		return nil, clierr.New(clierr.CodeUsage, fmt.Sprintf("venue %s is a %s, want %s", name, v.kind, want))
	}
	return v, nil
}

// Haltable is a venue that can be taken offline.
type Haltable interface {
	Halt(reason string)
	Resume()
}

// Venue exposes a built venue by name so simulations can halt and resume it.
func (r *Relay) Venue(name string) (Haltable, bool) {
	v, ok := r.venues[strings.ToLower(strings.TrimSpace(name))]
	return v, ok
}

// buildSwappers deploys plain strategies first and composites after, so
// composite routes can point at any plain strategy regardless of order.
// Composites may only route to composites declared before them.
func (r *Relay) buildSwappers(cfgs []config.SwapperConfig) error {
	names := map[string]common.Address{}
	for pass := 0; pass < 2; pass++ {
		for i, cfg := range cfgs {
			composite := strings.EqualFold(strings.TrimSpace(cfg.Kind), string(swapper.KindComposite))
			if composite != (pass == 1) {
				continue
			}
			s, chain, err := r.buildSwapper(cfg, names)
			if err != nil {
				return wrapEntry(fmt.Sprintf("swappers[%d]", i), err)
			}
			if err := r.directories[chain].Register(s); err != nil {
				return wrapEntry(fmt.Sprintf("swappers[%d]", i), err)
			}
			if name := strings.ToLower(strings.TrimSpace(cfg.Name)); name != "" {
				if _, dup := names[name]; dup {
					return clierr.New(clierr.CodeUsage, fmt.Sprintf("duplicate swapper name %s", cfg.Name))
				}
				names[name] = s.Address()
			}
		}
	}
	r.swapperNames = names
	return nil
}

func (r *Relay) buildSwapper(cfg config.SwapperConfig, names map[string]common.Address) (swapper.Strategy, id.ChainID, error) {
	chain, err := id.ParseChain(cfg.Chain)
	if err != nil {
		return nil, 0, err
	}
	addr, err := id.ParseAddress(cfg.Address, "swapper address")
	if err != nil {
		return nil, 0, err
	}
	r.ledger(chain.ID)
	pairs := make([]id.TokenPair, 0, len(cfg.Pairs))
	for _, p := range cfg.Pairs {
		pair, err := parsePair(chain, p.In, p.Out)
		if err != nil {
			return nil, 0, err
		}
		pairs = append(pairs, pair)
	}

	var s swapper.Strategy
	switch swapper.Kind(strings.ToLower(strings.TrimSpace(cfg.Kind))) {
	case swapper.KindRouter:
		v, err := r.venue(chain.ID, cfg.Venue, config.VenueRouter)
		if err != nil {
			return nil, 0, err
		}
		s, err = swapper.NewRouter(addr, v.router, pairs...)
		if err != nil {
			return nil, 0, clierr.Wrap(clierr.CodeUsage, "router swapper", err)
		}
	case swapper.KindStablePool:
		v, err := r.venue(chain.ID, cfg.Venue, config.VenueStablePool)
		if err != nil {
			return nil, 0, err
		}
		s, err = swapper.NewStablePool(addr, v.stable, pairs...)
		if err != nil {
			return nil, 0, clierr.Wrap(clierr.CodeUsage, "stable pool swapper", err)
		}
	case swapper.KindCurveAave:
		if len(pairs) != 1 {
			return nil, 0, clierr.New(clierr.CodeUsage, "curve_aave swapper serves exactly one pair")
		}
		lending, err := r.venue(chain.ID, cfg.Lending, config.VenueLendingPool)
		if err != nil {
			return nil, 0, err
		}
		stable, err := r.venue(chain.ID, cfg.Venue, config.VenueStablePool)
		if err != nil {
			return nil, 0, err
		}
		s, err = swapper.NewCurveAave(addr, lending.lending, stable.stable, pairs[0].In, pairs[0].Out)
		if err != nil {
			return nil, 0, clierr.Wrap(clierr.CodeUsage, "curve_aave swapper", err)
		}
	case swapper.KindComposite:
		routes := make([]swapper.Route, 0, len(cfg.Routes))
		for _, rc := range cfg.Routes {
			pair, err := parsePair(chain, rc.In, rc.Out)
			if err != nil {
				return nil, 0, err
			}
			subAddr, err := lookupName(names, rc.Swapper)
			if err != nil {
				return nil, 0, err
			}
			sub, ok := r.directories[chain.ID].Lookup(subAddr)
			if !ok {
				return nil, 0, clierr.New(clierr.CodeUsage, fmt.Sprintf("route %s points at undeployed swapper %s", pair, rc.Swapper))
			}
			routes = append(routes, swapper.Route{Pair: pair, Strategy: sub})
		}
		s, err = swapper.NewComposite(addr, routes...)
		if err != nil {
			return nil, 0, clierr.Wrap(clierr.CodeUsage, "composite swapper", err)
		}
	default:
		return nil, 0, clierr.New(clierr.CodeUsage, fmt.Sprintf("unsupported swapper kind %q", cfg.Kind))
	}
	return s, chain.ID, nil
}

func parsePair(chain id.Chain, in, out string) (id.TokenPair, error) {
	tokenIn, err := id.ParseToken(in, chain)
	if err != nil {
		return id.TokenPair{}, err
	}
	tokenOut, err := id.ParseToken(out, chain)
	if err != nil {
		return id.TokenPair{}, err
	}
	return id.NewTokenPair(tokenIn.Address, tokenOut.Address), nil
}

func lookupName(names map[string]common.Address, ref string) (common.Address, error) {
	if addr, ok := names[strings.ToLower(strings.TrimSpace(ref))]; ok {
		return addr, nil
	}
	return id.ParseAddress(ref, "swapper")
}

// resolveSwapper accepts a swapper name or address. Addresses need not be
// deployed: an inbox may be seeded with a swapper that is deployed later.
func (r *Relay) resolveSwapper(ref string) (common.Address, error) {
	return lookupName(r.swapperNames, ref)
}

// SwapperName returns the manifest name of a deployed swapper.
func (r *Relay) SwapperName(addr common.Address) (string, bool) {
	for name, a := range r.swapperNames {
		if a == addr {
			return name, true
		}
	}
	return "", false
}
