package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/eddiefleurent/nifty_condor/internal/catalog"
	"github.com/eddiefleurent/nifty_condor/internal/models"
)

type findTokenFlags struct {
	exchange       string
	symbol         string
	instrumentType string
	expiry         string
	strike         float64
	exact          bool
}

func newFindTokenCmd() *cobra.Command {
	var f findTokenFlags
	cmd := &cobra.Command{
		Use:   "find-token",
		Short: "Look up an instrument token in the scrip master",
		Example: `  nifty-condor find-token --exchange NFO --symbol NIFTY30JAN2525100CE --exact
  nifty-condor find-token --exchange NFO --symbol NIFTY --type FUTIDX --expiry 30JAN2025`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			bot, err := NewBot(cfg, botOptions{Spot: spot})
			if err != nil {
				return err
			}
			defer bot.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
			defer cancel()
			records, err := bot.loadRecords(ctx)
			if err != nil {
				return err
			}
			return findToken(cmd.OutOrStdout(), catalog.New(records), f)
		},
	}

	cmd.Flags().StringVar(&f.exchange, "exchange", models.SegmentNFO, "exchange segment (NSE, NFO)")
	cmd.Flags().StringVar(&f.symbol, "symbol", "", "trading symbol or name")
	cmd.Flags().StringVar(&f.instrumentType, "type", "", "instrument type filter (OPTIDX, FUTIDX, AMXIDX)")
	cmd.Flags().StringVar(&f.expiry, "expiry", "", "expiry filter, e.g. 30JAN2025")
	cmd.Flags().Float64Var(&f.strike, "strike", 0, "strike filter in index points")
	cmd.Flags().BoolVar(&f.exact, "exact", false, "require an exact symbol match")
	_ = cmd.MarkFlagRequired("symbol")
	return cmd
}

// findToken prints the matching record as JSON.
func findToken(w io.Writer, cat *catalog.Catalog, f findTokenFlags) error {
	q := catalog.Query{
		Exchange:       strings.ToUpper(f.exchange),
		Symbol:         f.symbol,
		InstrumentType: strings.ToUpper(f.instrumentType),
		Expiry:         strings.ToUpper(f.expiry),
	}
	if f.strike > 0 {
		q = q.WithStrike(f.strike * models.StrikeScale)
	}

	lookup := cat.LookupFuzzy
	if f.exact {
		lookup = cat.LookupExact
	}
	rec, ok := lookup(q)
	if !ok {
		return fmt.Errorf("no instrument matches %s:%s", q.Exchange, q.Symbol)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rec)
}
