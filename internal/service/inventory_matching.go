package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pesio-ai/be-ap-invoice-pipeline/internal/domain"
	"github.com/pesio-ai/be-ap-invoice-pipeline/internal/errors"
	"github.com/pesio-ai/be-ap-invoice-pipeline/internal/oracle"
)

const itemMatchSystemPrompt = `You match invoice line item names to an inventory catalog for an accounts payable system.

For each invoice item, pick the catalog item it most likely refers to. Tolerate typos, model-number suffixes, plural forms and differences in case or spacing. If nothing in the catalog is a plausible match, return null. Never invent catalog names.

Return a JSON object:
{"matches": [{"invoice_item": string, "catalog_item": string|null, "confidence": integer 0-100}]}`

type itemMatchResponse struct {
	Matches []struct {
		InvoiceItem string     `json:"invoice_item"`
		CatalogItem *string    `json:"catalog_item"`
		Confidence  flexNumber `json:"confidence"`
	} `json:"matches"`
}

// inventoryReport is the per-item stock check in invoice order.
type inventoryReport struct {
	Names  []string
	Checks map[string]domain.ItemCheck
	// OracleMatched counts items resolved through the catalog match.
	OracleMatched int
}

// matchInventory checks stock for every line item. Exact names are looked up
// first; the rest go to the oracle in one batch against the full catalog.
func (s *ValidationStage) matchInventory(ctx context.Context, items []domain.LineItem) (*inventoryReport, error) {
	report := &inventoryReport{Checks: make(map[string]domain.ItemCheck, len(items))}

	requested := make(map[string]int, len(items))
	for _, item := range items {
		if _, seen := requested[item.Name]; !seen {
			report.Names = append(report.Names, item.Name)
		}
		requested[item.Name] += item.Quantity
	}

	var unmatched []string
	for _, name := range report.Names {
		stock, err := s.inventory.StockOf(ctx, name)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeUnavailable, fmt.Sprintf("stock lookup for %q failed", name))
		}
		check := domain.ItemCheck{Requested: requested[name]}
		if stock != nil {
			check.InStock = stock.Stock
			check.MatchedName = stock.Item
			check.MatchConfidence = 100
		} else {
			unmatched = append(unmatched, name)
		}
		report.Checks[name] = finishCheck(check)
	}

	if len(unmatched) > 0 {
		s.matchCatalog(ctx, unmatched, report)
	}
	return report, nil
}

func (s *ValidationStage) matchCatalog(ctx context.Context, names []string, report *inventoryReport) {
	catalog, err := s.inventory.AllItems(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("Could not load inventory catalog; using exact matches only")
		return
	}
	if len(catalog) == 0 {
		return
	}

	byName := make(map[string]domain.InventoryItem, len(catalog))
	var lines []string
	for _, item := range catalog {
		byName[strings.ToLower(item.Item)] = item
		lines = append(lines, "- "+item.Item)
	}

	invoiceItems, _ := json.Marshal(names)
	res := s.oracle.Complete(ctx, oracle.Request{
		Messages: []oracle.Message{
			{Role: oracle.RoleSystem, Content: itemMatchSystemPrompt},
			{Role: oracle.RoleUser, Content: fmt.Sprintf("CATALOG:\n%s\n\nINVOICE ITEMS:\n%s", strings.Join(lines, "\n"), invoiceItems)},
		},
		JSONOnly:  true,
		MaxTokens: 400,
		Purpose:   "item_matching",
	})

	var parsed itemMatchResponse
	if oerr := res.Decode(&parsed); oerr != nil {
		s.log.Warn().Err(oerr).Int("items", len(names)).Msg("Catalog matching unavailable; using exact matches only")
		return
	}

	pending := make(map[string]bool, len(names))
	for _, n := range names {
		pending[n] = true
	}
	for _, m := range parsed.Matches {
		if !pending[m.InvoiceItem] || m.CatalogItem == nil {
			continue
		}
		stock, ok := byName[strings.ToLower(strings.TrimSpace(*m.CatalogItem))]
		if !ok {
			continue
		}
		check := report.Checks[m.InvoiceItem]
		check.InStock = stock.Stock
		check.MatchedName = stock.Item
		check.MatchConfidence = clampPercent(int(m.Confidence.or(0)))
		report.Checks[m.InvoiceItem] = finishCheck(check)
		report.OracleMatched++
		delete(pending, m.InvoiceItem)
	}
}

func finishCheck(c domain.ItemCheck) domain.ItemCheck {
	c.Variance = c.InStock - c.Requested
	c.Available = c.Variance >= 0
	return c
}

func clampPercent(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
