// audit_sessions - A utility to audit the session journal.
// It prints every journaled session and flags records whose numbers do not
// add up, e.g. after a crash mid-write or a manual edit.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math"
	"sort"

	"github.com/eddiefleurent/nifty_condor/internal/config"
	"github.com/eddiefleurent/nifty_condor/internal/models"
	"github.com/eddiefleurent/nifty_condor/internal/storage"
)

func main() {
	var (
		configPath  = flag.String("config", "config.yaml", "Path to configuration file")
		journalPath = flag.String("journal", "", "Journal file, overrides storage.path")
		jsonOutput  = flag.Bool("json", false, "Output results as JSON")
	)
	flag.Parse()

	path := *journalPath
	if path == "" {
		cfg, err := config.Load(*configPath, func(c *config.Config) { c.Environment.Simulate = true })
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		path = cfg.Storage.Path
	}
	if path == "" {
		log.Fatal("No journal configured (storage.path is empty)")
	}

	journal, err := storage.NewJSONStorage(path)
	if err != nil {
		log.Fatalf("Failed to open journal: %v", err)
	}

	history := journal.GetHistory()
	stats := journal.GetStatistics()
	issues := analyzeJournal(journal)

	if *jsonOutput {
		output, err := json.MarshalIndent(map[string]interface{}{
			"sessions":   history,
			"statistics": stats,
			"issues":     issues,
		}, "", "  ")
		if err != nil {
			log.Fatalf("Failed to marshal JSON: %v", err)
		}
		fmt.Println(string(output))
		return
	}

	fmt.Printf("=== SESSIONS (%d) ===\n", len(history))
	for _, rec := range history {
		fmt.Printf("%s  %-8s  %-13s  entry=%8.2f  exit=%8.2f  pnl=%8.2f\n",
			rec.Date(), shortID(rec.ID), rec.ExitReason, rec.EntryCredit, rec.ExitCredit, rec.PnL)
	}
	fmt.Printf("\n=== STATISTICS ===\n")
	fmt.Printf("Trades: %d  Wins: %d  Losses: %d  Win rate: %.1f%%\n",
		stats.TotalTrades, stats.WinningTrades, stats.LosingTrades, stats.WinRate*100)
	fmt.Printf("Total P&L: %.2f  Max drawdown: %.2f\n", stats.TotalPnL, stats.MaxDrawdown)

	fmt.Printf("\n=== ANALYSIS ===\n")
	if len(issues) == 0 {
		fmt.Printf("No obvious issues detected.\n")
		return
	}
	fmt.Printf("POTENTIAL ISSUES FOUND:\n")
	for i, issue := range issues {
		fmt.Printf("  %d. %s\n", i+1, issue)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

const tolerance = 0.01

// analyzeJournal cross-checks each record against its own prices and the
// journal's aggregates.
func analyzeJournal(j storage.Interface) []string {
	var issues []string
	daily := make(map[string]float64)
	entered := 0

	for _, rec := range j.GetHistory() {
		id := shortID(rec.ID)
		if !rec.Entered {
			if rec.ExitReason != models.ExitNoEntry && rec.ExitReason != models.ExitInterrupted {
				issues = append(issues, fmt.Sprintf("%s: never entered but exited with %q", id, rec.ExitReason))
			}
			continue
		}
		entered++
		daily[rec.Date()] += rec.PnL

		if len(rec.EntryPrices) != len(models.AllLegRoles) {
			issues = append(issues, fmt.Sprintf("%s: entry snapshot has %d legs", id, len(rec.EntryPrices)))
		}
		if got := rec.EntryPrices.NetCredit(); math.Abs(got-rec.EntryCredit) > tolerance {
			issues = append(issues, fmt.Sprintf("%s: entry credit %.2f but entry prices give %.2f", id, rec.EntryCredit, got))
		}
		if got := rec.ExitCredit - rec.EntryCredit; math.Abs(got-rec.PnL) > tolerance {
			issues = append(issues, fmt.Sprintf("%s: pnl %.2f but credits give %.2f", id, rec.PnL, got))
		}
		if rec.ExitTime.Before(rec.EntryTime) {
			issues = append(issues, fmt.Sprintf("%s: exit before entry", id))
		}
	}

	if stats := j.GetStatistics(); stats.TotalTrades != entered {
		issues = append(issues, fmt.Sprintf("statistics count %d trades, history has %d entered sessions", stats.TotalTrades, entered))
	}

	dates := make([]string, 0, len(daily))
	for d := range daily {
		dates = append(dates, d)
	}
	sort.Strings(dates)
	for _, d := range dates {
		if got := j.GetDailyPnL(d); math.Abs(got-daily[d]) > tolerance {
			issues = append(issues, fmt.Sprintf("%s: daily pnl %.2f but sessions sum to %.2f", d, got, daily[d]))
		}
	}
	return issues
}
