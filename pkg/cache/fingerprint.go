// Package cache garde en mémoire le dernier Dataset chargé et met en cache les rapports
// calculés, indexés par l'empreinte du Dataset et par les filtres.
package cache

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"analytics-engine/pkg/models"

	"github.com/cespare/xxhash/v2"
)

// Fingerprint calcule une empreinte xxhash stable de toutes les tables du Dataset.
// Deux instantanés identiques ont la même empreinte, quel que soit leur source.
func Fingerprint(ds *models.Dataset) uint64 {
	if ds == nil {
		return 0
	}
	h := xxhash.New()
	writeTable(h, models.TableDimDate, len(ds.Dates), func(i int) string {
		r := ds.Dates[i]
		return fmt.Sprintf("%d|%s|%d|%d|%d", r.DateKey, stamp(r.Date), r.Year, r.Month, r.MonthIdx)
	})
	writeTable(h, models.TableDimGeo, len(ds.Geos), func(i int) string {
		r := ds.Geos[i]
		return fmt.Sprintf("%d|%s|%s", r.GeoID, r.Region, r.Country)
	})
	writeTable(h, models.TableDimChannel, len(ds.Channels), func(i int) string {
		r := ds.Channels[i]
		return fmt.Sprintf("%d|%s|%s", r.ChannelID, r.ChannelName, r.Type)
	})
	writeTable(h, models.TableDimProduct, len(ds.Products), func(i int) string {
		r := ds.Products[i]
		return fmt.Sprintf("%d|%s|%s|%s", r.ProductID, r.ProductName, r.Category, r.Subcategory)
	})
	writeTable(h, models.TableDimCustomer, len(ds.Customers), func(i int) string {
		r := ds.Customers[i]
		return fmt.Sprintf("%d|%s|%s|%s", r.CustomerID, r.Region, r.Country, r.Segment)
	})
	writeTable(h, models.TableFactSubscriptions, len(ds.Subscriptions), func(i int) string {
		r := ds.Subscriptions[i]
		end := ""
		if r.EndDate != nil {
			end = stamp(*r.EndDate)
		}
		return fmt.Sprintf("%d|%s|%s", r.CustomerID, stamp(r.StartDate), end)
	})
	writeTable(h, models.TableFactSales, len(ds.Sales), func(i int) string {
		r := ds.Sales[i]
		return fmt.Sprintf("%d|%d|%d|%d|%v|%v|%v|%v|%t",
			r.DateKey, r.ProductID, r.ChannelID, r.CustomerID, r.Qty, r.UnitPrice, r.Discount, r.Cost, r.IsSubscription)
	})
	writeTable(h, models.TableFactWeb, len(ds.Web), func(i int) string {
		r := ds.Web[i]
		return fmt.Sprintf("%d|%d|%v|%v|%v", r.DateKey, r.ChannelID, r.Sessions, r.Conversions, r.Spend)
	})
	writeTable(h, models.TableFactBudget, len(ds.Budget), func(i int) string {
		r := ds.Budget[i]
		return fmt.Sprintf("%d|%s|%d|%v|%v", r.DateKey, r.Category, r.ChannelID, r.BudgetRevenue, r.BudgetMRR)
	})
	return h.Sum64()
}

func writeTable(w io.Writer, name string, n int, row func(int) string) {
	_, _ = io.WriteString(w, name+"#"+strconv.Itoa(n)+"\n")
	for i := 0; i < n; i++ {
		_, _ = io.WriteString(w, row(i)+"\n")
	}
}

func stamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// FormatFingerprint renvoie l'empreinte en hexadécimal (champ Report.Fingerprint).
func FormatFingerprint(fp uint64) string {
	return strconv.FormatUint(fp, 16)
}

// ReportKey dérive la clé d'un rapport : empreinte du Dataset + hash des filtres résolus.
// f doit sortir de calculator.ResolveFilters (remise finie).
func ReportKey(fp uint64, f models.Filters, top int) string {
	b, _ := json.Marshal(struct {
		Filters models.Filters `json:"f"`
		Top     int            `json:"top"`
	}{f, top})
	return FormatFingerprint(fp) + ":" + strconv.FormatUint(xxhash.Sum64(b), 16)
}
