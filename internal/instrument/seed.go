package instrument

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Static instrument/currency loading is an explicit out-of-scope external
// collaborator (spec.md §1: "instrument static-data loading"); this file is
// the thin YAML-to-Registry plumbing cmd/exchange needs to boot with
// *something* in the registry, not a general-purpose market-data pipeline.

type currencyDef struct {
	Symbol       string `mapstructure:"symbol"`
	Name         string `mapstructure:"name"`
	Decimals     int    `mapstructure:"decimals"`
	IsCollateral bool   `mapstructure:"is_collateral"`
}

type instrumentDef struct {
	Kind         string `mapstructure:"kind"` // "perp" | "future"
	Base         string `mapstructure:"base"`
	Quote        string `mapstructure:"quote"`
	ContractSize string `mapstructure:"contract_size"`
	TickSize     string `mapstructure:"tick_size"`
	MaxLeverage  int    `mapstructure:"max_leverage"`
	Expiration   string `mapstructure:"expiration"` // RFC3339, future only
}

type definitionsFile struct {
	Currencies  []currencyDef   `mapstructure:"currencies"`
	Instruments []instrumentDef `mapstructure:"instruments"`
}

// LoadDefinitions reads a YAML file of currencies and instruments and
// returns a populated Registry. Grounded on the running system's
// instrument_list.py bootstrap (a literal list of Currency/Index/
// FutureContract/PerpContract constructions) restated as declarative data
// instead of code, since this implementation's registry is populated at
// startup rather than imported as a Python module.
func LoadDefinitions(path string) (*Registry, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read instrument definitions: %w", err)
	}

	var defs definitionsFile
	if err := v.Unmarshal(&defs); err != nil {
		return nil, fmt.Errorf("unmarshal instrument definitions: %w", err)
	}

	reg := NewRegistry()
	currencies := make(map[string]Currency, len(defs.Currencies))
	for _, cd := range defs.Currencies {
		c := Currency{Symbol: cd.Symbol, Name: cd.Name, Decimals: cd.Decimals, IsCollateral: cd.IsCollateral}
		currencies[cd.Symbol] = c
		reg.AddCurrency(c)
	}

	for _, id := range defs.Instruments {
		base, ok := currencies[id.Base]
		if !ok {
			return nil, fmt.Errorf("instrument references unknown base currency %q", id.Base)
		}
		quote, ok := currencies[id.Quote]
		if !ok {
			return nil, fmt.Errorf("instrument references unknown quote currency %q", id.Quote)
		}

		contractSize, err := decimal.NewFromString(defaultStr(id.ContractSize, "1"))
		if err != nil {
			return nil, fmt.Errorf("instrument %s/%s: contract_size: %w", id.Base, id.Quote, err)
		}
		tickSize, err := decimal.NewFromString(defaultStr(id.TickSize, "0.01"))
		if err != nil {
			return nil, fmt.Errorf("instrument %s/%s: tick_size: %w", id.Base, id.Quote, err)
		}
		maxLeverage := id.MaxLeverage
		if maxLeverage <= 0 {
			maxLeverage = 1
		}

		switch id.Kind {
		case "perp":
			reg.Add(NewPerp(base, quote, contractSize, tickSize, maxLeverage))
		case "future":
			expiry, err := time.Parse(time.RFC3339, id.Expiration)
			if err != nil {
				return nil, fmt.Errorf("instrument %s/%s: expiration: %w", id.Base, id.Quote, err)
			}
			reg.Add(NewFuture(base, quote, contractSize, tickSize, maxLeverage, expiry.Unix()))
		default:
			return nil, fmt.Errorf("instrument %s/%s: unknown kind %q (want perp|future)", id.Base, id.Quote, id.Kind)
		}
	}

	return reg, nil
}

func defaultStr(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
