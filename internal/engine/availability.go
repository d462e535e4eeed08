package engine

// Forbidden returns the champions team may not take with a turn of the given
// kind in game number, derived from the turns of every earlier game. Nothing
// here is cached; callers recompute from the session history each time.
//
// Champions already used in the game itself are not included, see UsedInGame.
func Forbidden(mode Mode, games []Game, number int, team Team, kind Kind) map[string]struct{} {
	out := map[string]struct{}{}
	switch mode {
	case ModeFearless:
		// Only a team's own earlier picks are locked, and only for picking.
		if kind != KindPick {
			return out
		}
		for _, g := range games {
			if g.Number >= number {
				continue
			}
			for _, t := range g.Turns {
				if t.Kind == KindPick && g.TeamOn(t.Side) == team && selected(t) {
					out[t.ChampionID] = struct{}{}
				}
			}
		}
	case ModeIronman:
		for _, g := range games {
			if g.Number >= number {
				continue
			}
			for _, t := range g.Turns {
				if selected(t) {
					out[t.ChampionID] = struct{}{}
				}
			}
		}
	}
	return out
}

// ForbiddenFor is Forbidden for the session's current game.
func ForbiddenFor(s Session, team Team, kind Kind) map[string]struct{} {
	return Forbidden(s.Mode, s.Games, s.CurrentGame, team, kind)
}

// UsedInGame returns every champion picked or banned so far in g.
func UsedInGame(g Game) map[string]struct{} {
	out := map[string]struct{}{}
	for _, t := range g.Turns {
		if selected(t) {
			out[t.ChampionID] = struct{}{}
		}
	}
	return out
}

func selected(t Turn) bool {
	return t.ChampionID != "" && t.ChampionID != NoSelection
}
