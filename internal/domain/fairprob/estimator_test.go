package fairprob

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/kalshibot/internal/domain"
)

func book(name string, home, away float64) domain.BookOdds {
	return domain.BookOdds{
		Book: name,
		Outcomes: []domain.OutcomeOdds{
			{Name: "Lakers", Decimal: home},
			{Name: "Celtics", Decimal: away},
		},
	}
}

func TestEstimator_SingleBook(t *testing.T) {
	e := NewEstimator(Proportional, 1, nil)
	est, err := e.Estimate([]domain.BookOdds{book("Pinnacle", 1.80, 2.10)})
	require.NoError(t, err)

	home, ok := est.Probability("Lakers")
	require.True(t, ok)
	away, _ := est.Probability("Celtics")
	assert.InDelta(t, 1.0, home+away, 1e-9)
	assert.Greater(t, home, away)
	assert.Len(t, est.Books, 1)
}

func TestEstimator_WeightedAverage(t *testing.T) {
	// Both books are symmetric in margin, so proportional fair values are exact.
	a := book("Book A", 2.0*0.95, 2.0*0.95)         // 50/50
	b := book("book b", 1/(0.8*1.05), 1/(0.2*1.05)) // 80/20

	e := NewEstimator(Proportional, 1, map[string]float64{"BOOKB": 3})
	est, err := e.Estimate([]domain.BookOdds{a, b})
	require.NoError(t, err)

	// (1×0.5 + 3×0.8) / 4 = 0.725
	home, _ := est.Probability("Lakers")
	assert.InDelta(t, 0.725, home, 1e-9)
	assert.Equal(t, 3.0, e.Weight("Book B"))
	assert.Equal(t, 1.0, e.Weight("unknown"))
}

func TestEstimator_SkipsDegenerateBooks(t *testing.T) {
	e := NewEstimator(Logit, 1, nil)
	bad := book("Sloppy", 2.2, 2.2) // implied sum < 1
	good := book("Sharp", 1.90, 1.95)

	est, err := e.Estimate([]domain.BookOdds{bad, good})
	require.NoError(t, err)
	assert.Equal(t, []string{"Sloppy"}, est.Skipped)
	require.Len(t, est.Books, 1)
	assert.Equal(t, "Sharp", est.Books[0].Book)
}

func TestEstimator_AllBooksFail(t *testing.T) {
	e := NewEstimator(Logit, 1, nil)
	_, err := e.Estimate([]domain.BookOdds{book("Sloppy", 2.2, 2.2)})
	assert.True(t, errors.Is(err, ErrNoBooks))

	_, err = e.Estimate(nil)
	assert.True(t, errors.Is(err, ErrNoBooks))
}

func TestEstimator_ZeroWeightIgnored(t *testing.T) {
	e := NewEstimator(Logit, 1, map[string]float64{"MUTED": 0})
	_, err := e.Estimate([]domain.BookOdds{book("Muted", 1.9, 1.9)})
	assert.True(t, errors.Is(err, ErrNoBooks))
}

func TestBookKey(t *testing.T) {
	assert.Equal(t, "BETFAIREXEU", BookKey(" Betfair Ex EU "))
}
