package service

import (
	"errors"
	"time"

	"battles/internal/repository"
)

const (
	PeriodDay    = "day"
	PeriodWeek   = "week"
	PeriodSeason = "season"
	PeriodAll    = "all"
)

var (
	ErrInvalidPeriod = errors.New("period must be day, week, season or all")

	SeasonStart = time.Date(2025, 10, 28, 0, 0, 0, 0, time.UTC)
)

// PeriodSince maps a leaderboard period to the earliest ledger timestamp
// counted. All time returns nil.
func PeriodSince(period string, now time.Time) (*time.Time, error) {
	var since time.Time
	switch period {
	case PeriodDay:
		since = now.Add(-24 * time.Hour)
	case PeriodWeek:
		since = now.Add(-7 * 24 * time.Hour)
	case PeriodSeason, "":
		since = SeasonStart
	case PeriodAll:
		return nil, nil
	default:
		return nil, ErrInvalidPeriod
	}
	since = since.UTC()
	return &since, nil
}

type LeaderboardEntry struct {
	Rank                int    `json:"rank"`
	Wallet              string `json:"wallet"`
	WalletDisplay       string `json:"wallet_display"`
	Points              int64  `json:"points"`
	BattlesParticipated int64  `json:"battles_participated"`
}

func RankLeaderboard(rows []repository.LeaderboardRow) []LeaderboardEntry {
	out := make([]LeaderboardEntry, 0, len(rows))
	for i, r := range rows {
		out = append(out, LeaderboardEntry{
			Rank:                i + 1,
			Wallet:              r.Wallet,
			WalletDisplay:       shortWallet(r.Wallet),
			Points:              r.Points,
			BattlesParticipated: r.BattlesParticipated,
		})
	}
	return out
}

func shortWallet(w string) string {
	if len(w) <= 10 {
		return w
	}
	return w[:4] + "..." + w[len(w)-4:]
}
