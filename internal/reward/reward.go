// Package reward computes experience and coin payouts for a finished game.
// Everything here is pure; callers apply the results inside a settlement.
package reward

import (
	"math"

	"github.com/pencilparty/pencilparty/internal/models"
)

const (
	baseExperience = 10
	baseCoins      = 5
)

// Outcome is the part of a finished game that rewards depend on.
type Outcome struct {
	Score    int64
	Result   models.Result
	Accuracy float64
}

// Rewards is what a single settlement credits to the player.
type Rewards struct {
	Experience int64 `json:"experience_gained"`
	Coins      int64 `json:"coins_gained"`
}

// For computes both payouts for o.
func For(o Outcome) Rewards {
	return Rewards{
		Experience: Experience(o),
		Coins:      Coins(o),
	}
}

// Experience: base 10, plus score/10 above a score of 100, doubled on a win and x1.5 on a draw,
// then x1.5 above 90% accuracy or x1.2 above 70%. Multipliers apply in order to the running
// value and the result is floored once at the end.
func Experience(o Outcome) int64 {
	exp := float64(baseExperience)
	if o.Score > 100 {
		exp += math.Floor(float64(o.Score) / 10)
	}

	switch o.Result {
	case models.ResultWin:
		exp *= 2
	case models.ResultDraw:
		exp *= 1.5
	}

	if o.Accuracy > 0.9 {
		exp *= 1.5
	} else if o.Accuracy > 0.7 {
		exp *= 1.2
	}

	return int64(math.Floor(exp))
}

// Coins: base 5, plus score/20 above a score of 50, doubled on a win and x1.3 on a draw,
// then a flat bonus of floor(accuracy*10) above 80% accuracy.
func Coins(o Outcome) int64 {
	coins := float64(baseCoins)
	if o.Score > 50 {
		coins += math.Floor(float64(o.Score) / 20)
	}

	switch o.Result {
	case models.ResultWin:
		coins *= 2
	case models.ResultDraw:
		coins *= 1.3
	}

	if o.Accuracy > 0.8 {
		coins += math.Floor(o.Accuracy * 10)
	}

	return int64(math.Floor(coins))
}
