package calculator

import (
	"strings"
	"time"

	"analytics-engine/pkg/aggregate"
	"analytics-engine/pkg/metrics"
	"analytics-engine/pkg/models"
	"analytics-engine/pkg/period"
)

// Mesures produites pour le pipeline d'agrégation.
const (
	mRevenue     = "revenue"
	mRevenueAdj  = "revenue_adj"
	mCost        = "cost"
	mSessions    = "sessions"
	mConversions = "conversions"
	mSpend       = "spend"
	mBudget      = "budget_revenue"
)

// lookups indexe les dimensions par identifiant.
type lookups struct {
	dates     map[int]time.Time
	products  map[int]models.ProductRow
	channels  map[int]models.ChannelRow
	customers map[int]models.CustomerRow
}

func newLookups(ds *models.Dataset) lookups {
	lk := lookups{
		dates:     make(map[int]time.Time, len(ds.Dates)),
		products:  make(map[int]models.ProductRow, len(ds.Products)),
		channels:  make(map[int]models.ChannelRow, len(ds.Channels)),
		customers: make(map[int]models.CustomerRow, len(ds.Customers)),
	}
	for _, d := range ds.Dates {
		lk.dates[d.DateKey] = d.Date
	}
	for _, p := range ds.Products {
		lk.products[p.ProductID] = p
	}
	for _, c := range ds.Channels {
		lk.channels[c.ChannelID] = c
	}
	for _, c := range ds.Customers {
		lk.customers[c.CustomerID] = c
	}
	return lk
}

// enrichSales joint FactSales aux dimensions (jointures gauches : une clé inconnue
// laisse la dimension vide et la date manquante).
func enrichSales(ds *models.Dataset, lk lookups) []models.Transaction {
	out := make([]models.Transaction, 0, len(ds.Sales))
	for _, s := range ds.Sales {
		p := lk.products[s.ProductID]
		ch := lk.channels[s.ChannelID]
		cu := lk.customers[s.CustomerID]
		out = append(out, models.Transaction{
			Date:           lk.dates[s.DateKey],
			Qty:            s.Qty,
			UnitPrice:      s.UnitPrice,
			Discount:       s.Discount,
			UnitCost:       s.Cost,
			IsSubscription: s.IsSubscription,
			ProductID:      s.ProductID,
			CustomerID:     s.CustomerID,
			ChannelID:      s.ChannelID,
			ProductName:    p.ProductName,
			Category:       p.Category,
			Subcategory:    p.Subcategory,
			Channel:        ch.ChannelName,
			ChannelType:    ch.Type,
			Region:         cu.Region,
			Country:        cu.Country,
			Segment:        cu.Segment,
		})
	}
	return out
}

// window est la plage de dates inclusive, au jour près.
type window struct {
	from, to time.Time
}

func newWindow(from, to time.Time) window {
	return window{from: truncateDay(from), to: truncateDay(to)}
}

func truncateDay(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// contains : une date manquante n'est jamais dans la fenêtre.
func (w window) contains(t time.Time) bool {
	if t.IsZero() {
		return false
	}
	return !t.Before(w.from) && t.Before(w.to.AddDate(0, 0, 1))
}

func toSet(values []string) map[string]bool {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[strings.TrimSpace(v)] = true
	}
	return set
}

// allowed : ensemble vide = aucune restriction.
func allowed(set map[string]bool, v string) bool {
	return set == nil || set[v]
}

// filterSales applique la fenêtre de dates et les filtres canal / pays / segment.
func filterSales(txs []models.Transaction, w window, f models.Filters) []models.Transaction {
	channels, countries, segments := toSet(f.Channels), toSet(f.Countries), toSet(f.Segments)
	out := make([]models.Transaction, 0, len(txs))
	for _, tx := range txs {
		if !w.contains(tx.Date) {
			continue
		}
		if !allowed(channels, tx.Channel) || !allowed(countries, tx.Country) || !allowed(segments, tx.Segment) {
			continue
		}
		out = append(out, tx)
	}
	return out
}

// saleRecords transforme les ventes en enregistrements d'agrégation, montants dérivés inclus.
// Une vente dont une dimension demandée est vide est écartée (clé de regroupement manquante).
func saleRecords(txs []models.Transaction, extra float64, dims ...string) []aggregate.Record {
	out := make([]aggregate.Record, 0, len(txs))
	for _, tx := range txs {
		rec, ok := saleRecord(tx, extra, dims)
		if ok {
			out = append(out, rec)
		}
	}
	return out
}

func saleRecord(tx models.Transaction, extra float64, dims []string) (aggregate.Record, bool) {
	values := make(map[string]string, len(dims))
	for _, d := range dims {
		v := tx.Dim(d)
		if v == "" {
			return aggregate.Record{}, false
		}
		values[d] = v
	}
	d := metrics.Derive(tx, extra)
	return aggregate.Record{
		Period: period.MonthKey(tx.Date),
		Dims:   values,
		Measures: map[string]float64{
			mRevenue:    d.Revenue,
			mRevenueAdj: d.RevenueAdj,
			mCost:       d.Cost,
		},
	}, true
}

// webRecords joint FactWeb aux dates et canaux, filtrés par fenêtre et canaux uniquement.
func webRecords(ds *models.Dataset, lk lookups, w window, f models.Filters) []aggregate.Record {
	channels := toSet(f.Channels)
	out := make([]aggregate.Record, 0, len(ds.Web))
	for _, row := range ds.Web {
		date := lk.dates[row.DateKey]
		name := lk.channels[row.ChannelID].ChannelName
		if !w.contains(date) || !allowed(channels, name) {
			continue
		}
		out = append(out, aggregate.Record{
			Period: period.MonthKey(date),
			Dims:   map[string]string{models.DimChannel: name},
			Measures: map[string]float64{
				mSessions:    row.Sessions,
				mConversions: row.Conversions,
				mSpend:       row.Spend,
			},
		})
	}
	return out
}

// budgetRecords aligne FactBudget sur (mois, catégorie, canal).
func budgetRecords(ds *models.Dataset, lk lookups) []aggregate.Record {
	out := make([]aggregate.Record, 0, len(ds.Budget))
	for _, row := range ds.Budget {
		name := lk.channels[row.ChannelID].ChannelName
		key := period.FromInt(row.DateKey)
		if !key.Valid() || row.Category == "" || name == "" {
			continue
		}
		out = append(out, aggregate.Record{
			Period:   key,
			Dims:     map[string]string{models.DimCategory: row.Category, models.DimChannel: name},
			Measures: map[string]float64{mBudget: row.BudgetRevenue},
		})
	}
	return out
}
