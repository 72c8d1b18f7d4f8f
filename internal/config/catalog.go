package config

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/bigdegenenergy/open-cloud-ops/optimizer/internal/router"
	"github.com/bigdegenenergy/open-cloud-ops/optimizer/pkg/models"
)

// Catalog is the provider table plus per-organization budget limits, as read
// from the YAML providers file.
//
//	providers:
//	  - name: gemini
//	    tier: free
//	    enabled: true
//	    models: [{id: gemini-2.0-flash, recommended: true}]
//	budgets:
//	  default: {daily_limit_usd: 5, monthly_limit_usd: 100}
//	  organizations:
//	    acme: {daily_limit_usd: 2, monthly_limit_usd: 40}
type Catalog struct {
	Providers []models.ProviderConfig `yaml:"providers"`
	Budgets   struct {
		Default       *models.BudgetLimits           `yaml:"default,omitempty"`
		Organizations map[string]models.BudgetLimits `yaml:"organizations,omitempty"`
	} `yaml:"budgets"`
}

// keyless providers run without an API key.
var keyless = map[models.Provider]bool{models.ProviderOllama: true}

// LoadCatalog reads the catalog at path. An empty path yields the built-in
// provider table and no organization budgets.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return &Catalog{Providers: router.DefaultProviders()}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading providers file: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes and validates a YAML catalog.
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("config: parsing providers file: %w", err)
	}
	if len(c.Providers) == 0 {
		c.Providers = router.DefaultProviders()
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Catalog) validate() error {
	seen := map[models.Provider]bool{}
	for i, p := range c.Providers {
		switch {
		case p.Name == "":
			return fmt.Errorf("config: provider %d has no name", i)
		case seen[p.Name]:
			return fmt.Errorf("config: provider %q listed twice", p.Name)
		case !p.Tier.Valid():
			return fmt.Errorf("config: provider %q has invalid tier %q", p.Name, p.Tier)
		case p.CostPerInputToken < 0 || p.CostPerOutputToken < 0:
			return fmt.Errorf("config: provider %q has negative cost", p.Name)
		case len(p.Models) == 0:
			return fmt.Errorf("config: provider %q lists no models", p.Name)
		}
		seen[p.Name] = true
	}
	check := func(who string, l models.BudgetLimits) error {
		if l.DailyLimitUSD < 0 || l.MonthlyLimitUSD < 0 {
			return fmt.Errorf("config: budget for %s must not be negative", who)
		}
		return nil
	}
	if c.Budgets.Default != nil {
		if err := check("default", *c.Budgets.Default); err != nil {
			return err
		}
	}
	for org, l := range c.Budgets.Organizations {
		if err := check(org, l); err != nil {
			return err
		}
	}
	return nil
}

// ApplyKeys sets each provider's API key from keys. Providers that need a key
// and have none are disabled.
func (c *Catalog) ApplyKeys(keys map[models.Provider]string) {
	for i := range c.Providers {
		p := &c.Providers[i]
		p.APIKey = keys[p.Name]
		if p.APIKey == "" && !keyless[p.Name] && p.Enabled {
			log.WithFields(log.Fields{"component": "config", "provider": p.Name}).Warn("No API key configured, provider disabled")
			p.Enabled = false
		}
	}
}

// DefaultLimits returns the catalog's default budget, or fallback when the
// catalog sets none.
func (c *Catalog) DefaultLimits(fallback models.BudgetLimits) models.BudgetLimits {
	if c.Budgets.Default != nil {
		return *c.Budgets.Default
	}
	return fallback
}
