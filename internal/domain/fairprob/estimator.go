package fairprob

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/alejandrodnm/kalshibot/internal/domain"
)

// BookWeight records a book that contributed to an estimate.
type BookWeight struct {
	Book   string
	Weight float64
}

// Estimate is the aggregated fair probability per outcome name.
type Estimate struct {
	Probabilities map[string]float64
	Books         []BookWeight
	Skipped       []string
}

// Probability returns the fair probability of the named outcome.
func (e Estimate) Probability(outcome string) (float64, bool) {
	p, ok := e.Probabilities[strings.TrimSpace(outcome)]
	return p, ok
}

// Estimator de-vigs each book and blends them with per-book weights.
type Estimator struct {
	method        Method
	defaultWeight float64
	weights       map[string]float64
}

// NewEstimator builds an estimator. weights keys are book labels; they are
// matched with spaces removed and upper-cased.
func NewEstimator(method Method, defaultWeight float64, weights map[string]float64) *Estimator {
	if defaultWeight <= 0 {
		defaultWeight = 1
	}
	w := make(map[string]float64, len(weights))
	for k, v := range weights {
		w[BookKey(k)] = v
	}
	return &Estimator{method: method, defaultWeight: defaultWeight, weights: w}
}

// BookKey normalizes a bookmaker label for weight lookup.
func BookKey(book string) string {
	return strings.ToUpper(strings.Join(strings.Fields(book), ""))
}

// Weight returns the configured weight for a book.
func (e *Estimator) Weight(book string) float64 {
	if w, ok := e.weights[BookKey(book)]; ok {
		return w
	}
	return e.defaultWeight
}

// Estimate de-vigs every book and returns the weighted-average fair
// probabilities, renormalized to sum 1. Books that fail de-vigging are skipped.
func (e *Estimator) Estimate(books []domain.BookOdds) (Estimate, error) {
	sums := make(map[string]float64)
	weights := make(map[string]float64)
	est := Estimate{Probabilities: make(map[string]float64)}

	for _, b := range books {
		w := e.Weight(b.Book)
		if w <= 0 {
			continue
		}
		fair, err := e.bookFair(b)
		if err != nil {
			slog.Debug("fairprob: skipping book", "book", b.Book, "err", err)
			est.Skipped = append(est.Skipped, b.Book)
			continue
		}
		for name, p := range fair {
			sums[name] += w * p
			weights[name] += w
		}
		est.Books = append(est.Books, BookWeight{Book: b.Book, Weight: w})
	}
	if len(est.Books) == 0 {
		return est, ErrNoBooks
	}

	total := 0.0
	for name, s := range sums {
		p := s / weights[name]
		est.Probabilities[name] = p
		total += p
	}
	for name, p := range est.Probabilities {
		est.Probabilities[name] = clamp01(p / total)
	}
	sort.Slice(est.Books, func(i, j int) bool { return est.Books[i].Book < est.Books[j].Book })
	return est, nil
}

func (e *Estimator) bookFair(b domain.BookOdds) (map[string]float64, error) {
	names := make([]string, 0, len(b.Outcomes))
	raw := make([]float64, 0, len(b.Outcomes))
	seen := make(map[string]bool, len(b.Outcomes))
	for _, o := range b.Outcomes {
		name := strings.TrimSpace(o.Name)
		if name == "" || seen[name] {
			return nil, fmt.Errorf("%w: blank or duplicate outcome %q", ErrDegenerate, o.Name)
		}
		seen[name] = true
		p, err := ImpliedProbability(o)
		if err != nil {
			return nil, err
		}
		names = append(names, name)
		raw = append(raw, p)
	}
	fair, err := Devig(raw, e.method)
	if err != nil {
		if errors.Is(err, ErrDegenerate) {
			return nil, err
		}
		return nil, fmt.Errorf("fairprob.Estimate: book %q: %w", b.Book, err)
	}
	out := make(map[string]float64, len(names))
	for i, n := range names {
		out[n] = fair[i]
	}
	return out, nil
}
