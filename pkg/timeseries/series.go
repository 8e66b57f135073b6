package timeseries

import (
	"encoding/json"
	"sort"
	"time"

	"analytics-engine/pkg/metrics"
	"analytics-engine/pkg/models"
	"analytics-engine/pkg/period"
)

// YoYLag est le décalage d'une année pour une série mensuelle.
const YoYLag = 12

// Point est une valeur observée pour un mois.
type Point struct {
	Period period.Key
	Value  float64
}

func (p Point) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Period string        `json:"period"`
		Value  models.Number `json:"value"`
	}{Period: p.Period.String(), Value: models.Number(p.Value)})
}

// Series est ordonnée par mois croissant, un point par mois observé.
// Les mois absents ne sont pas comblés (voir Reindex).
type Series []Point

// Observation est une valeur datée à agréger par mois.
type Observation struct {
	Date  time.Time
	Value float64
}

// MonthlySum regroupe les observations par mois (clé du 1er du mois) et somme les valeurs.
// Les dates manquantes sont ignorées ; les valeurs indéfinies suivent aggregate.Sum :
// ignorées, sauf si toutes les valeurs du mois sont indéfinies.
func MonthlySum(obs []Observation) Series {
	type acc struct {
		sum     float64
		defined int
	}
	buckets := map[period.Key]*acc{}
	for _, o := range obs {
		k := period.MonthKey(o.Date)
		if !k.Valid() {
			continue
		}
		a, ok := buckets[k]
		if !ok {
			a = &acc{}
			buckets[k] = a
		}
		if metrics.IsUndefined(o.Value) {
			continue
		}
		a.sum += o.Value
		a.defined++
	}

	out := make(Series, 0, len(buckets))
	for k, a := range buckets {
		v := a.sum
		if a.defined == 0 {
			v = metrics.Undefined()
		}
		out = append(out, Point{Period: k, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Period < out[j].Period })
	return out
}

// YoY(series)[t] = (v[t] - v[t-12]) / v[t-12].
//
// Le décalage est positionnel : la série doit être strictement mensuelle et sans trou.
// Une granularité journalière n'est pas réinterprétée. Indéfini pour les 12 premiers points,
// quand v[t-12] vaut 0, ou quand l'une des deux valeurs est indéfinie.
func YoY(s Series) Series {
	out := make(Series, len(s))
	for t, p := range s {
		out[t] = Point{Period: p.Period, Value: metrics.Undefined()}
		if t < YoYLag {
			continue
		}
		prev := s[t-YoYLag].Value
		out[t].Value = metrics.Div(p.Value-prev, prev)
	}
	return out
}

// Reindex comble les mois absents entre le premier et le dernier point avec fill.
func Reindex(s Series, fill float64) Series {
	if len(s) == 0 {
		return Series{}
	}
	byKey := make(map[period.Key]float64, len(s))
	for _, p := range s {
		byKey[p.Period] = p.Value
	}
	keys := period.KeysBetweenInclusive(s[0].Period, s[len(s)-1].Period)
	out := make(Series, 0, len(keys))
	for _, k := range keys {
		v, ok := byKey[k]
		if !ok {
			v = fill
		}
		out = append(out, Point{Period: k, Value: v})
	}
	return out
}

// DropUndefined retire les points indéfinis.
func DropUndefined(s Series) Series {
	out := make(Series, 0, len(s))
	for _, p := range s {
		if !metrics.IsUndefined(p.Value) {
			out = append(out, p)
		}
	}
	return out
}

// Last renvoie le dernier point ; ok=false si la série est vide.
func Last(s Series) (Point, bool) {
	if len(s) == 0 {
		return Point{}, false
	}
	return s[len(s)-1], true
}
