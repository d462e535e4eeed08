package engine

type TurnStep struct {
	Side Side `json:"side"`
	Kind Kind `json:"kind"`
}

// GameOrder is the pick/ban sequence of every game regardless of mode:
// 10 bans and 10 picks, 5 of each per side.
var GameOrder = []TurnStep{
	// Ban Phase 1
	{Side: SideBlue, Kind: KindBan},
	{Side: SideRed, Kind: KindBan},
	{Side: SideBlue, Kind: KindBan},
	{Side: SideRed, Kind: KindBan},
	{Side: SideBlue, Kind: KindBan},
	{Side: SideRed, Kind: KindBan},
	// Pick Phase 1 (B, RR, BB, R)
	{Side: SideBlue, Kind: KindPick},
	{Side: SideRed, Kind: KindPick},
	{Side: SideRed, Kind: KindPick},
	{Side: SideBlue, Kind: KindPick},
	{Side: SideBlue, Kind: KindPick},
	{Side: SideRed, Kind: KindPick},
	// Ban Phase 2
	{Side: SideRed, Kind: KindBan},
	{Side: SideBlue, Kind: KindBan},
	{Side: SideRed, Kind: KindBan},
	{Side: SideBlue, Kind: KindBan},
	// Pick Phase 2 (R, BB, R)
	{Side: SideRed, Kind: KindPick},
	{Side: SideBlue, Kind: KindPick},
	{Side: SideBlue, Kind: KindPick},
	{Side: SideRed, Kind: KindPick},
}

type Phase string

const (
	PhaseBan1  Phase = "ban1"
	PhasePick1 Phase = "pick1"
	PhaseBan2  Phase = "ban2"
	PhasePick2 Phase = "pick2"
	PhaseDone  Phase = "done"
)

func DerivePhase(cursor int) Phase {
	if cursor >= len(GameOrder) {
		return PhaseDone
	} else if cursor >= 0 && cursor <= 5 {
		return PhaseBan1
	} else if cursor > 5 && cursor <= 11 {
		return PhasePick1
	} else if cursor > 11 && cursor <= 15 {
		return PhaseBan2
	} else {
		return PhasePick2
	}
}

// StepAt returns the schedule entry at index, or false past the end.
func StepAt(index int) (TurnStep, bool) {
	if index < 0 || index >= len(GameOrder) {
		return TurnStep{}, false
	}
	return GameOrder[index], true
}
