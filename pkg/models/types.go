package models

import (
	"encoding/json"
	"math"
	"strconv"
	"time"
)

/*
LOAD → tables brutes (schéma en étoile) telles que lues depuis CSV, S3 ou MySQL.
Une date illisible est la date zéro ; un nombre illisible est NaN.
*/

// DateRow est une ligne de DimDate.
type DateRow struct {
	DateKey  int
	Date     time.Time
	Year     int
	Month    int
	MonthIdx int
}

// GeoRow est une ligne de DimGeo.
type GeoRow struct {
	GeoID   int
	Region  string
	Country string
}

// ChannelRow est une ligne de DimChannel.
type ChannelRow struct {
	ChannelID   int
	ChannelName string
	Type        string
}

// ProductRow est une ligne de DimProduct.
type ProductRow struct {
	ProductID   int
	ProductName string
	Category    string
	Subcategory string
}

// CustomerRow est une ligne de DimCustomer.
type CustomerRow struct {
	CustomerID int
	Region     string
	Country    string
	Segment    string
}

// SaleRow est une ligne de FactSales.
type SaleRow struct {
	DateKey        int
	ProductID      int
	ChannelID      int
	CustomerID     int
	Qty            float64
	UnitPrice      float64
	Discount       float64
	Cost           float64 // coût unitaire
	IsSubscription bool
}

// Subscription est une ligne de FactSubscriptions. EndDate nil = toujours actif.
type Subscription struct {
	CustomerID int
	StartDate  time.Time
	EndDate    *time.Time
}

// WebRow est une ligne de FactWeb.
type WebRow struct {
	DateKey     int
	ChannelID   int
	Sessions    float64
	Conversions float64
	Spend       float64
}

// BudgetRow est une ligne de FactBudget ; DateKey est une clé de mois (yyyymm01).
type BudgetRow struct {
	DateKey       int
	Category      string
	ChannelID     int
	BudgetRevenue float64
	BudgetMRR     float64
}

// TableStats décrit une table chargée (onglet "Data Quality").
type TableStats struct {
	Table   string  `json:"table"`
	Rows    int     `json:"rows"`
	NullPct float64 `json:"null_pct"`
}

// Noms de tables, dans l'ordre de chargement.
const (
	TableDimDate           = "DimDate"
	TableDimGeo            = "DimGeo"
	TableDimChannel        = "DimChannel"
	TableDimProduct        = "DimProduct"
	TableDimCustomer       = "DimCustomer"
	TableFactSubscriptions = "FactSubscriptions"
	TableFactSales         = "FactSales"
	TableFactWeb           = "FactWeb"
	TableFactBudget        = "FactBudget"
)

// Tables liste toutes les tables attendues.
var Tables = []string{
	TableDimDate, TableDimGeo, TableDimChannel, TableDimProduct, TableDimCustomer,
	TableFactSubscriptions, TableFactSales, TableFactWeb, TableFactBudget,
}

// Dataset regroupe un instantané complet et immuable des tables sources.
type Dataset struct {
	Dates         []DateRow
	Geos          []GeoRow
	Channels      []ChannelRow
	Products      []ProductRow
	Customers     []CustomerRow
	Sales         []SaleRow
	Subscriptions []Subscription
	Web           []WebRow
	Budget        []BudgetRow
	Stats         map[string]TableStats
}

// DateRange renvoie la plus petite et la plus grande date non nulle de DimDate.
func (d *Dataset) DateRange() (min, max time.Time) {
	for _, r := range d.Dates {
		if r.Date.IsZero() {
			continue
		}
		if min.IsZero() || r.Date.Before(min) {
			min = r.Date
		}
		if max.IsZero() || r.Date.After(max) {
			max = r.Date
		}
	}
	return min, max
}

/*
ENRICH → ligne de vente jointe aux dimensions (TransactionRecord).
*/

// Transaction est une vente enrichie. Revenue/Cost ne sont jamais stockés ici :
// ils sont recalculés à chaque appel (voir metrics.Derive).
type Transaction struct {
	Date           time.Time
	Qty            float64
	UnitPrice      float64
	Discount       float64
	UnitCost       float64
	IsSubscription bool

	ProductID  int
	CustomerID int
	ChannelID  int

	ProductName string
	Category    string
	Subcategory string
	Channel     string
	ChannelType string
	Region      string
	Country     string
	Segment     string
}

// Noms de dimensions utilisables pour le regroupement.
const (
	DimProduct     = "product"
	DimProductName = "product_name"
	DimCategory    = "category"
	DimSubcategory = "subcategory"
	DimChannel     = "channel"
	DimChannelType = "channel_type"
	DimRegion      = "region"
	DimCountry     = "country"
	DimSegment     = "segment"
)

// Dim renvoie la valeur d'une dimension par son nom ("" si inconnue).
func (t Transaction) Dim(name string) string {
	switch name {
	case DimProduct:
		return strconv.Itoa(t.ProductID)
	case DimProductName:
		return t.ProductName
	case DimCategory:
		return t.Category
	case DimSubcategory:
		return t.Subcategory
	case DimChannel:
		return t.Channel
	case DimChannelType:
		return t.ChannelType
	case DimRegion:
		return t.Region
	case DimCountry:
		return t.Country
	case DimSegment:
		return t.Segment
	}
	return ""
}

/*
CONFIG → paramètres d'un calcul
*/

// Filters reprend les contrôles de la barre latérale du tableau de bord.
type Filters struct {
	From          time.Time `json:"from"` // inclus ; zéro = première date de DimDate
	To            time.Time `json:"to"`   // inclus ; zéro = dernière date de DimDate
	Channels      []string  `json:"channels,omitempty"`
	Countries     []string  `json:"countries,omitempty"`
	Segments      []string  `json:"segments,omitempty"`
	ExtraDiscount float64   `json:"extra_discount"` // fraction dans [0,1]
}

// Config contient les paramètres passés à calculator.Run.
type Config struct {
	Filters     Filters
	TopProducts int  // 0 -> 25
	Verbose     bool // barre de progression + logs par section
}

/*
OUTPUT → valeurs sérialisables ; NaN (indéfini) sort en null.
*/

// Number est un float64 dont les valeurs indéfinies (NaN, ±Inf) s'encodent en JSON null.
type Number float64

func (n Number) Defined() bool {
	f := float64(n)
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func (n Number) MarshalJSON() ([]byte, error) {
	if !n.Defined() {
		return []byte("null"), nil
	}
	return json.Marshal(float64(n))
}

func (n *Number) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*n = Number(math.NaN())
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	*n = Number(f)
	return nil
}

// NewTableStats calcule le pourcentage moyen de valeurs nulles (arrondi à 2 décimales).
func NewTableStats(table string, rows, cols, nulls int) TableStats {
	st := TableStats{Table: table, Rows: rows}
	if rows > 0 && cols > 0 {
		st.NullPct = math.Round(10000*float64(nulls)/float64(rows*cols)) / 100
	}
	return st
}
