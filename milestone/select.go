package milestone

import "crowdfund-bend/models"

// Consumed returns the milestones already claimed by an auto-created request.
// A cancelled request frees its milestone.
func Consumed(auto []models.Escrow) map[int]bool {
	out := map[int]bool{}
	for _, e := range auto {
		if !e.AutoCreated || e.MilestonePercentage == nil || e.Status == models.EscrowCancelled {
			continue
		}
		out[*e.MilestonePercentage] = true
	}
	return out
}

// Reached reports whether current is at least pct percent of goal. The
// comparison stays in integers so a campaign sitting exactly on a milestone
// reaches it.
func Reached(current, goal int64, pct int) bool {
	return goal > 0 && current*100 >= int64(pct)*goal
}

// Select picks the milestone a new request should be tagged with: the highest
// milestone reached by current/goal that is above every milestone already
// claimed. milestones must be sorted descending.
func Select(milestones []int, current, goal int64, auto []models.Escrow) (int, bool) {
	consumed := Consumed(auto)
	highestClaimed := -1
	for m := range consumed {
		if m > highestClaimed {
			highestClaimed = m
		}
	}

	for _, m := range milestones {
		if !Reached(current, goal, m) {
			continue
		}
		if m <= highestClaimed || consumed[m] {
			return 0, false
		}
		return m, true
	}
	return 0, false
}

// Superseded returns the open requests a new request at target replaces:
// auto-created, still before admin approval, with a lower milestone
func Superseded(target int, open []models.Escrow) []models.Escrow {
	var out []models.Escrow
	for _, e := range open {
		if e.AutoCreated && e.Status.Supersedable() && e.MilestoneValue() < target && e.MilestonePercentage != nil {
			out = append(out, e)
		}
	}
	return out
}

// Blocking returns the open requests a new request at target cannot replace
func Blocking(target int, open []models.Escrow) []models.Escrow {
	superseded := map[string]bool{}
	for _, e := range Superseded(target, open) {
		superseded[e.ID.Hex()] = true
	}
	var out []models.Escrow
	for _, e := range open {
		if !superseded[e.ID.Hex()] {
			out = append(out, e)
		}
	}
	return out
}
