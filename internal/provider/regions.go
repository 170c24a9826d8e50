package provider

import (
	_ "embed"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed regions.yaml
var regionsYAML []byte

type Plan struct {
	ID         string  `yaml:"id" json:"id"`
	VCPU       int     `yaml:"vcpu" json:"vcpu"`
	RAMMB      int     `yaml:"ram_mb" json:"ram_mb"`
	MonthlyUSD float64 `yaml:"monthly_usd" json:"monthly_usd"`
}

type providerTable struct {
	Image   string            `yaml:"image"`
	Regions map[string]string `yaml:"regions"`
	Plans   []Plan            `yaml:"plans"`
}

type regionTable struct {
	DefaultLocation string                    `yaml:"default_location"`
	Exchanges       map[string]map[string]int `yaml:"exchanges"`
	Providers       map[string]providerTable  `yaml:"providers"`
}

// Placement is where and on what to create a host.
type Placement struct {
	Location string `json:"location"`
	Region   string `json:"region"`
	Plan     Plan   `json:"plan"`
	Image    string `json:"image"`
}

var regions = mustLoadRegions()

func mustLoadRegions() regionTable {
	var t regionTable
	if err := yaml.Unmarshal(regionsYAML, &t); err != nil {
		panic(fmt.Sprintf("parse embedded regions.yaml: %v", err))
	}
	return t
}

// Select picks the provider region with the lowest latency to exchange and
// the cheapest plan with at least 1 vCPU and 1 GB of memory. An unknown
// exchange, or one with no reachable location, gets the default location.
func Select(exchange, provider string) (*Placement, error) {
	pt, ok := regions.Providers[provider]
	if !ok {
		return nil, fmt.Errorf("no region table for provider %q", provider)
	}

	location := ""
	best := -1
	for loc, ms := range regions.Exchanges[exchange] {
		if _, ok := pt.Regions[loc]; !ok {
			continue
		}
		if best < 0 || ms < best || (ms == best && loc < location) {
			location, best = loc, ms
		}
	}
	if location == "" {
		location = regions.DefaultLocation
	}
	region, ok := pt.Regions[location]
	if !ok {
		// Provider lacks the default location: fall back to its first one.
		locs := make([]string, 0, len(pt.Regions))
		for l := range pt.Regions {
			locs = append(locs, l)
		}
		sort.Strings(locs)
		if len(locs) == 0 {
			return nil, fmt.Errorf("provider %q has no regions", provider)
		}
		location, region = locs[0], pt.Regions[locs[0]]
	}

	plan, err := cheapestPlan(pt.Plans)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", provider, err)
	}
	return &Placement{Location: location, Region: region, Plan: plan, Image: pt.Image}, nil
}

func cheapestPlan(plans []Plan) (Plan, error) {
	var best *Plan
	for i := range plans {
		p := &plans[i]
		if p.VCPU < 1 || p.RAMMB < 1024 {
			continue
		}
		if best == nil || p.MonthlyUSD < best.MonthlyUSD {
			best = p
		}
	}
	if best == nil {
		return Plan{}, fmt.Errorf("no plan with 1 vCPU and 1 GB")
	}
	return *best, nil
}
