package models

import "time"

/*
REPORT → sortie du calculateur, consommée par la couche présentation (JSON).
Toutes les valeurs pouvant être indéfinies sont des Number (null en JSON).
*/

// Report regroupe toutes les sections du tableau de bord pour un jeu de filtres.
type Report struct {
	GeneratedAt time.Time    `json:"generated_at"`
	Fingerprint string       `json:"fingerprint,omitempty"`
	Filters     Filters      `json:"filters"`
	KPIs        KPIs         `json:"kpis"`
	Trend       Trend        `json:"trend"`
	Products    Products     `json:"products"`
	Marketing   Marketing    `json:"marketing"`
	Budget      []BudgetLine `json:"budget"`
	Cohorts     Cohorts      `json:"cohorts"`
	Quality     []TableStats `json:"quality"`
}

// KPIs : ligne d'indicateurs en tête du tableau de bord.
type KPIs struct {
	AsOf           time.Time `json:"as_of"`
	Revenue        Number    `json:"revenue"`
	Cost           Number    `json:"cost"`
	GrossMargin    Number    `json:"gross_margin"`
	GrossMarginPct Number    `json:"gross_margin_pct"`
	MRR            Number    `json:"mrr"`
	ARR            Number    `json:"arr"`
	ActiveSubs     int       `json:"active_subs"`
	NewSubs        int       `json:"new_subs"`
	ChurnedSubs    int       `json:"churned_subs"`
	ChurnRate      Number    `json:"churn_rate"`
}

// SeriesPoint : un mois ("2006-01") et sa valeur.
type SeriesPoint struct {
	Period string `json:"period"`
	Value  Number `json:"value"`
}

// Trend : revenu mensuel, croissance YoY (points indéfinis retirés) et MRR mensuel.
type Trend struct {
	Revenue []SeriesPoint `json:"revenue"`
	YoY     []SeriesPoint `json:"yoy"`
	MRR     []SeriesPoint `json:"mrr"`
}

type CategoryMargin struct {
	Category       string `json:"category"`
	Subcategory    string `json:"subcategory"`
	Revenue        Number `json:"revenue"`
	Cost           Number `json:"cost"`
	GrossMarginPct Number `json:"gross_margin_pct"`
}

type ProductRevenue struct {
	ProductID   int    `json:"product_id"`
	ProductName string `json:"product_name"`
	Category    string `json:"category"`
	Subcategory string `json:"subcategory"`
	Revenue     Number `json:"revenue"`
}

type Products struct {
	ByCategory []CategoryMargin `json:"by_category"`
	Top        []ProductRevenue `json:"top"`
}

// ChannelMonth : revenu d'un canal pour un mois, aligné sur les sessions web.
type ChannelMonth struct {
	Channel           string `json:"channel"`
	Month             string `json:"month"`
	Revenue           Number `json:"revenue"`
	Sessions          Number `json:"sessions"`
	Spend             Number `json:"spend"`
	RevenuePerSession Number `json:"revenue_per_session"`
	ROAS              Number `json:"roas"`
}

type ChannelPerformance struct {
	Channel  string `json:"channel"`
	Revenue  Number `json:"revenue"`
	Sessions Number `json:"sessions"`
	Spend    Number `json:"spend"`
	ROAS     Number `json:"roas"`
}

type Marketing struct {
	Sessions          Number               `json:"sessions"`
	Conversions       Number               `json:"conversions"`
	Spend             Number               `json:"spend"`
	ConversionRate    Number               `json:"conversion_rate"`
	RevenuePerSession Number               `json:"revenue_per_session"`
	ByChannelMonth    []ChannelMonth       `json:"by_channel_month"`
	Channels          []ChannelPerformance `json:"channels"`
}

// BudgetLine : écart au budget pour (mois, catégorie, canal).
type BudgetLine struct {
	Month         string `json:"month"`
	Category      string `json:"category"`
	Channel       string `json:"channel"`
	Revenue       Number `json:"revenue"`
	BudgetRevenue Number `json:"budget_revenue"`
	Variance      Number `json:"variance"`
	VariancePct   Number `json:"variance_pct"`
}

// Cohorts : matrice de rétention. Vide = pas de données.
type Cohorts struct {
	Offsets []string    `json:"offsets"`
	Rows    []CohortRow `json:"rows"`
}

// CohortRow : Values[i] est le ratio de rétention à Offsets[i].
type CohortRow struct {
	Cohort string   `json:"cohort"`
	Size   int      `json:"size"`
	Values []Number `json:"values"`
}
