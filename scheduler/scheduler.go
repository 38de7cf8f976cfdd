package scheduler

import (
	"math/rand/v2"
	"sort"

	"github.com/IKcoding-jp/rota/types"
)

// Source supplies uniform random integers for candidate selection.
//
// *rand.Rand from math/rand/v2 satisfies this interface. The package-level
// rand functions are used when no source is supplied, which keeps Compute
// safe for concurrent use.
type Source interface {
	// IntN returns a uniform random int in [0, n). n must be > 0.
	IntN(n int) int
}

// globalSource delegates to the concurrency-safe top-level rand functions.
type globalSource struct{}

func (globalSource) IntN(n int) int { return rand.IntN(n) }

// Input carries everything one scheduling run needs. All fields are read-only
// to the scheduler.
type Input struct {
	// Teams and TaskLabels define the (team, label) slot grid. Every pair
	// present here receives exactly one assignment in the output.
	Teams      []types.Team
	TaskLabels []types.TaskLabel

	// Members is the full roster; inactive members are ignored.
	Members []types.Member

	// History holds the most recent shuffle results, newest first. Only a
	// small number of entries (typically 2) should be passed; the scheduler
	// uses whatever it is given as the lookback window.
	History [][]types.Assignment

	// Current is the board as it stands before this run. The member holding
	// a slot right now is avoided for that same slot to encourage rotation.
	Current []types.Assignment

	// PairExclusions lists team pairs whose chosen members must not repeat
	// as a pairing seen in the lookback window.
	PairExclusions []types.PairExclusion

	// TargetDate is stamped onto every produced assignment.
	TargetDate string
}

// Stats describes one scheduling run, for observability.
type Stats struct {
	// Slots is the total number of (team, label) slots resolved.
	Slots int

	// RelaxedSlots counts slots that could not be filled from the strict
	// pool and needed the relaxation ladder.
	RelaxedSlots int

	// EmptySlots counts slots left without a member.
	EmptySlots int
}

// Compute produces one assignment per (team, task label) slot.
//
// It cannot fail: scheduling impossibility is resolved by relaxing
// constraints step by step, down to leaving the slot empty. The function
// performs no I/O and is safe for concurrent use.
//
// Parameters:
//   - in: Roster, lookback history, and constraint rules
//
// Returns:
//   - []types.Assignment: Canonically sorted assignments, one per slot
func Compute(in Input) []types.Assignment {
	result, _ := ComputeWithSource(in, globalSource{})

	return result
}

// ComputeWithSource is Compute with an explicit randomness source and run
// statistics. Pass a seeded *rand.Rand for deterministic tests.
func ComputeWithSource(in Input, src Source) ([]types.Assignment, Stats) {
	run := newRun(in, src)

	for _, label := range run.labels {
		run.resolveLabel(label)
	}

	types.SortAssignments(run.result)

	return run.result, run.stats
}

// run holds the working state of a single scheduling pass.
type run struct {
	in  Input
	src Source

	labels []types.TaskLabel
	teams  []types.Team

	membersByTeam map[string][]types.Member

	// labelHistory maps label ID to the set of member IDs that held that
	// label in any retained history entry.
	labelHistory map[string]map[string]bool

	// pairHistory holds canonical pair keys of members that shared a label
	// row in the lookback window.
	pairHistory map[uint64]bool

	// currentHolder maps slot key to the member occupying it right now.
	currentHolder map[string]string

	// pairedTeams maps a team ID to the counterpart teams it must respect
	// pair history against.
	pairedTeams map[string][]string

	usedInRun map[string]map[string]bool // team ID -> member IDs taken this run

	result []types.Assignment
	stats  Stats
}

func newRun(in Input, src Source) *run {
	r := &run{
		in:            in,
		src:           src,
		membersByTeam: make(map[string][]types.Member),
		labelHistory:  make(map[string]map[string]bool),
		pairHistory:   make(map[uint64]bool),
		currentHolder: make(map[string]string),
		pairedTeams:   make(map[string][]string),
		usedInRun:     make(map[string]map[string]bool),
	}

	for _, m := range in.Members {
		if !m.Active {
			continue
		}
		r.membersByTeam[m.TeamID] = append(r.membersByTeam[m.TeamID], m)
	}

	for _, entry := range in.History {
		byLabel := make(map[string][]string)
		for _, a := range entry {
			if !a.HasMember() {
				continue
			}

			if r.labelHistory[a.TaskLabelID] == nil {
				r.labelHistory[a.TaskLabelID] = make(map[string]bool)
			}
			r.labelHistory[a.TaskLabelID][*a.MemberID] = true
			byLabel[a.TaskLabelID] = append(byLabel[a.TaskLabelID], *a.MemberID)
		}

		// Members that shared a label row form a historical pairing.
		for _, ids := range byLabel {
			for i := 0; i < len(ids); i++ {
				for j := i + 1; j < len(ids); j++ {
					r.pairHistory[types.PairKey(ids[i], ids[j])] = true
				}
			}
		}
	}

	for _, a := range in.Current {
		if a.HasMember() {
			r.currentHolder[a.SlotKey()] = *a.MemberID
		}
	}

	for _, rule := range in.PairExclusions {
		r.pairedTeams[rule.TeamID1] = append(r.pairedTeams[rule.TeamID1], rule.TeamID2)
		r.pairedTeams[rule.TeamID2] = append(r.pairedTeams[rule.TeamID2], rule.TeamID1)
	}

	r.labels = make([]types.TaskLabel, len(in.TaskLabels))
	copy(r.labels, in.TaskLabels)
	sort.SliceStable(r.labels, func(i, j int) bool {
		if r.labels[i].Order != r.labels[j].Order {
			return r.labels[i].Order < r.labels[j].Order
		}

		return r.labels[i].ID < r.labels[j].ID
	})

	// Pair-constrained teams resolve first within each label pass: the pair
	// filter needs the counterpart's choice to already exist.
	r.teams = orderTeams(in.Teams, r.pairedTeams)

	return r
}

// orderTeams returns teams sorted by display order, with pair-constrained
// teams ahead of unconstrained ones.
func orderTeams(teams []types.Team, paired map[string][]string) []types.Team {
	ordered := make([]types.Team, len(teams))
	copy(ordered, teams)
	sort.SliceStable(ordered, func(i, j int) bool {
		pi, pj := len(paired[ordered[i].ID]) > 0, len(paired[ordered[j].ID]) > 0
		if pi != pj {
			return pi
		}
		if ordered[i].Order != ordered[j].Order {
			return ordered[i].Order < ordered[j].Order
		}

		return ordered[i].ID < ordered[j].ID
	})

	return ordered
}

// resolveLabel decides the member for every team's slot under one label
// before the next label is considered, so a member consumed by one label is
// unavailable for the rest of the run.
func (r *run) resolveLabel(label types.TaskLabel) {
	decided := make(map[string]string) // team ID -> chosen member ID for this label

	for _, team := range r.teams {
		r.stats.Slots++

		memberID := r.chooseMember(team, label, decided)

		assignment := types.Assignment{
			TeamID:       team.ID,
			TaskLabelID:  label.ID,
			AssignedDate: r.in.TargetDate,
		}
		if memberID != "" {
			assignment.MemberID = types.MemberRef(memberID)
			decided[team.ID] = memberID
			r.markUsed(team.ID, memberID)
		} else {
			r.stats.EmptySlots++
		}

		r.result = append(r.result, assignment)
	}
}

// chooseMember runs the relaxation ladder for one slot and returns the chosen
// member ID, or "" when even the relaxed pools are empty.
func (r *run) chooseMember(team types.Team, label types.TaskLabel, decided map[string]string) string {
	all := r.membersByTeam[team.ID]
	if len(all) == 0 {
		return ""
	}

	base := r.basePool(team.ID, label)
	strict := r.withoutRecentHolders(base, team.ID, label)
	preferred := r.withoutRecentPairs(strict, team.ID, decided)

	// Relaxation ladder: take the first non-empty pool. (d) deliberately
	// ignores every exclusion so the ladder cannot dead-end before (e).
	pool := preferred
	if len(pool) == 0 {
		pool = strict
	}
	if len(pool) == 0 {
		pool = base
	}
	if len(pool) == 0 {
		pool = all
	}
	if len(pool) == 0 {
		return ""
	}

	if len(preferred) == 0 {
		r.stats.RelaxedSlots++
	}

	return pool[r.src.IntN(len(pool))].ID
}

// basePool returns the team members not yet used in this run and not barred
// from the label.
func (r *run) basePool(teamID string, label types.TaskLabel) []types.Member {
	var pool []types.Member
	for _, m := range r.membersByTeam[teamID] {
		if r.usedInRun[teamID][m.ID] {
			continue
		}
		if m.Excludes(label.ID) {
			continue
		}
		pool = append(pool, m)
	}

	return pool
}

// withoutRecentHolders removes members who held this label in the lookback
// window, and the member currently holding this exact slot.
func (r *run) withoutRecentHolders(pool []types.Member, teamID string, label types.TaskLabel) []types.Member {
	holder := r.currentHolder[teamID+"__"+label.ID]
	recent := r.labelHistory[label.ID]

	var out []types.Member
	for _, m := range pool {
		if m.ID == holder {
			continue
		}
		if recent[m.ID] {
			continue
		}
		out = append(out, m)
	}

	return out
}

// withoutRecentPairs removes candidates whose pairing with an
// already-decided counterpart team's member appears in the pair history.
func (r *run) withoutRecentPairs(pool []types.Member, teamID string, decided map[string]string) []types.Member {
	partners := r.pairedTeams[teamID]
	if len(partners) == 0 {
		return pool
	}

	var partnerChoices []string
	for _, partnerTeam := range partners {
		if chosen, ok := decided[partnerTeam]; ok {
			partnerChoices = append(partnerChoices, chosen)
		}
	}
	if len(partnerChoices) == 0 {
		return pool
	}

	var out []types.Member
	for _, m := range pool {
		repeat := false
		for _, partner := range partnerChoices {
			if r.pairHistory[types.PairKey(m.ID, partner)] {
				repeat = true
				break
			}
		}
		if !repeat {
			out = append(out, m)
		}
	}

	return out
}

func (r *run) markUsed(teamID, memberID string) {
	if r.usedInRun[teamID] == nil {
		r.usedInRun[teamID] = make(map[string]bool)
	}
	r.usedInRun[teamID][memberID] = true
}
