package period

import (
	"fmt"
	"strings"
	"time"
)

// Key encode le 1er jour d'un mois calendaire : year*10000 + month*100 + 1.
// Les clés se trient chronologiquement comme de simples entiers.
type Key int

// Missing est la clé sentinelle d'une date absente ou illisible.
const Missing Key = 0

// dateLayouts acceptés par ParseDate, dans l'ordre d'essai.
var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006/01/02",
	"20060102",
}

// MonthKey(date) -> clé du mois ; date zéro -> Missing.
func MonthKey(t time.Time) Key {
	if t.IsZero() {
		return Missing
	}
	return Key(t.Year()*10000 + int(t.Month())*100 + 1)
}

// FromYearMonth construit la clé d'un couple (année, mois) ; mois hors [1,12] -> Missing.
func FromYearMonth(year int, month time.Month) Key {
	if month < time.January || month > time.December {
		return Missing
	}
	return Key(year*10000 + int(month)*100 + 1)
}

// FromInt valide un entier déjà encodé (ex: colonne DateKey d'un budget).
// Le jour est ramené au 1er du mois.
func FromInt(v int) Key {
	if v <= 0 {
		return Missing
	}
	return FromYearMonth(v/10000, time.Month((v/100)%100))
}

func (k Key) Valid() bool { return k != Missing }

func (k Key) Year() int { return int(k) / 10000 }

func (k Key) Month() time.Month { return time.Month((int(k) / 100) % 100) }

// Time renvoie le 1er jour du mois en UTC (zéro si Missing).
func (k Key) Time() time.Time {
	if !k.Valid() {
		return time.Time{}
	}
	return time.Date(k.Year(), k.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// AddMonths décale la clé de n mois (n peut être négatif).
func (k Key) AddMonths(n int) Key {
	if !k.Valid() {
		return Missing
	}
	return MonthKey(k.Time().AddDate(0, n, 0))
}

func (k Key) Next() Key { return k.AddMonths(1) }

// String -> "2006-01", vide si Missing.
func (k Key) String() string {
	if !k.Valid() {
		return ""
	}
	return fmt.Sprintf("%04d-%02d", k.Year(), int(k.Month()))
}

// MarshalText permet d'utiliser Key comme clé de map JSON.
func (k Key) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// ParseDate ne lève jamais d'erreur : une valeur illisible devient la date zéro (manquante).
func ParseDate(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// ParseMonth("MMYYYY") -> 1er jour du mois UTC
func ParseMonth(mmyyyy string) (time.Time, error) {
	if len(mmyyyy) != 6 {
		return time.Time{}, fmt.Errorf("expected MMYYYY (ex: 012025), got %q", mmyyyy)
	}
	for _, c := range mmyyyy {
		if c < '0' || c > '9' {
			return time.Time{}, fmt.Errorf("expected digits only, got %q", mmyyyy)
		}
	}
	month := int(mmyyyy[0]-'0')*10 + int(mmyyyy[1]-'0')
	year := int(mmyyyy[2]-'0')*1000 + int(mmyyyy[3]-'0')*100 + int(mmyyyy[4]-'0')*10 + int(mmyyyy[5]-'0')
	if month < 1 || month > 12 {
		return time.Time{}, fmt.Errorf("invalid month %d", month)
	}
	return time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC), nil
}

// MonthsBetweenInclusive énumère les mois de start à end, bornes incluses, sans trou.
func MonthsBetweenInclusive(start, end time.Time) []time.Time {
	cur := time.Date(start.Year(), start.Month(), 1, 0, 0, 0, 0, time.UTC)
	last := time.Date(end.Year(), end.Month(), 1, 0, 0, 0, 0, time.UTC)
	var out []time.Time
	for !cur.After(last) {
		out = append(out, cur)
		cur = cur.AddDate(0, 1, 0)
	}
	return out
}

// KeysBetweenInclusive : même énumération, en clés.
func KeysBetweenInclusive(start, end Key) []Key {
	if !start.Valid() || !end.Valid() || end < start {
		return nil
	}
	var out []Key
	for k := start; k <= end; k = k.Next() {
		out = append(out, k)
	}
	return out
}

// Span renvoie les clés min et max des dates non nulles ; ok=false si aucune.
func Span(dates []time.Time) (lo, hi Key, ok bool) {
	for _, d := range dates {
		k := MonthKey(d)
		if !k.Valid() {
			continue
		}
		if !ok || k < lo {
			lo = k
		}
		if !ok || k > hi {
			hi = k
		}
		ok = true
	}
	return lo, hi, ok
}

func FormatMonth(t time.Time) string {
	return fmt.Sprintf("%02d/%04d", int(t.Month()), t.Year())
}
