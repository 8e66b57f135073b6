// Package metrics dérive les montants par ligne (revenu, coût, revenu ajusté)
// et fournit les helpers de valeur indéfinie utilisés par tout le moteur.
package metrics

import (
	"math"

	"analytics-engine/pkg/models"
)

// Undefined est la valeur "indéfinie" du moteur (NaN).
func Undefined() float64 { return math.NaN() }

// IsUndefined vaut true pour NaN et ±Inf.
func IsUndefined(v float64) bool { return math.IsNaN(v) || math.IsInf(v, 0) }

// Div divise sans jamais provoquer de faute : dénominateur nul ou opérande indéfini -> indéfini.
func Div(num, den float64) float64 {
	if IsUndefined(num) || IsUndefined(den) || den == 0 {
		return Undefined()
	}
	return num / den
}

// Revenue = qty * unitPrice * (1 - discount)
func Revenue(qty, unitPrice, discount float64) float64 {
	return qty * unitPrice * (1 - discount)
}

// Cost = qty * unitCost
func Cost(qty, unitCost float64) float64 {
	return qty * unitCost
}

// RevenueAdj applique une remise supplémentaire "what-if".
// Le facteur (1 - (discount + extra)) est borné à 0 : le revenu ne change jamais de signe.
func RevenueAdj(qty, unitPrice, discount, extra float64) float64 {
	factor := 1 - (discount + extra)
	if IsUndefined(factor) {
		return Undefined()
	}
	return qty * unitPrice * math.Max(factor, 0)
}

// Derived regroupe les montants calculés d'une transaction.
type Derived struct {
	Revenue    float64
	RevenueAdj float64
	Cost       float64
}

// Derive calcule les montants d'une transaction sans la modifier.
// Sans remise supplémentaire, RevenueAdj == Revenue.
func Derive(tx models.Transaction, extra float64) Derived {
	d := Derived{
		Revenue: Revenue(tx.Qty, tx.UnitPrice, tx.Discount),
		Cost:    Cost(tx.Qty, tx.UnitCost),
	}
	if extra > 0 {
		d.RevenueAdj = RevenueAdj(tx.Qty, tx.UnitPrice, tx.Discount, extra)
	} else {
		d.RevenueAdj = d.Revenue
	}
	return d
}
