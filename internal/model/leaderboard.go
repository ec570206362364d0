package model

// FullWeightGames is the number of games after which the score is the plain win rate
const FullWeightGames = 10

// LeaderboardEntry is the ranked view of one player, derived from the player alone
type LeaderboardEntry struct {
	PlayerID   PlayerID `json:"player_id"`
	PlayerName string   `json:"player_name"`
	GamesWon   int      `json:"games_won"`
	GamesLost  int      `json:"games_lost"`
	Score      float64  `json:"score"`
}

// LeaderboardEntryFromPlayer computes the full leaderboard row for a player
func LeaderboardEntryFromPlayer(p *Player) LeaderboardEntry {
	return LeaderboardEntry{
		PlayerID:   p.ID,
		PlayerName: p.Name,
		GamesWon:   p.GamesWon,
		GamesLost:  p.GamesLost,
		Score:      Score(p.GamesWon, p.GamesLost),
	}
}

// Score is the win rate in percent, damped linearly until FullWeightGames have been played
func Score(won, lost int) float64 {
	played := won + lost
	if played == 0 {
		return 0
	}
	winRate := float64(won) / float64(played)
	weight := min(1.0, float64(played)/FullWeightGames)
	return winRate * weight * 100
}

// RanksBefore orders entries by score descending, then player id ascending
func (e LeaderboardEntry) RanksBefore(other LeaderboardEntry) bool {
	if e.Score != other.Score {
		return e.Score > other.Score
	}
	return e.PlayerID < other.PlayerID
}
