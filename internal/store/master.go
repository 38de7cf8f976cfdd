package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/IKcoding-jp/rota/internal/natsutil"
	"github.com/IKcoding-jp/rota/types"
)

// Master data key prefixes within the master bucket.
const (
	teamKeyPrefix   = "teams."
	memberKeyPrefix = "members."
	labelKeyPrefix  = "labels."
	pairKeyPrefix   = "pairs."
)

// MasterData bundles everything the scheduler needs in one read.
type MasterData struct {
	Teams          []types.Team
	Members        []types.Member
	TaskLabels     []types.TaskLabel
	PairExclusions []types.PairExclusion
}

// MasterData loads all four master collections.
func (s *Store) MasterData(ctx context.Context) (MasterData, error) {
	teams, err := s.Teams(ctx)
	if err != nil {
		return MasterData{}, err
	}
	members, err := s.Members(ctx)
	if err != nil {
		return MasterData{}, err
	}
	labels, err := s.TaskLabels(ctx)
	if err != nil {
		return MasterData{}, err
	}
	pairs, err := s.PairExclusions(ctx)
	if err != nil {
		return MasterData{}, err
	}

	return MasterData{
		Teams:          teams,
		Members:        members,
		TaskLabels:     labels,
		PairExclusions: pairs,
	}, nil
}

// Teams returns all teams sorted by display order, then ID.
func (s *Store) Teams(ctx context.Context) ([]types.Team, error) {
	defer s.observe("master_teams", time.Now())

	var teams []types.Team
	err := s.scanMaster(ctx, teamKeyPrefix, func(data []byte) error {
		var team types.Team
		if err := unmarshal(data, &team); err != nil {
			return err
		}
		teams = append(teams, team)

		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(teams, func(i, j int) bool {
		if teams[i].Order != teams[j].Order {
			return teams[i].Order < teams[j].Order
		}

		return teams[i].ID < teams[j].ID
	})

	return teams, nil
}

// Members returns all members sorted by display order, then ID.
func (s *Store) Members(ctx context.Context) ([]types.Member, error) {
	defer s.observe("master_members", time.Now())

	var members []types.Member
	err := s.scanMaster(ctx, memberKeyPrefix, func(data []byte) error {
		var member types.Member
		if err := unmarshal(data, &member); err != nil {
			return err
		}
		members = append(members, member)

		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(members, func(i, j int) bool {
		if members[i].Order != members[j].Order {
			return members[i].Order < members[j].Order
		}

		return members[i].ID < members[j].ID
	})

	return members, nil
}

// TaskLabels returns all task labels sorted by display order, then ID.
func (s *Store) TaskLabels(ctx context.Context) ([]types.TaskLabel, error) {
	defer s.observe("master_labels", time.Now())

	var labels []types.TaskLabel
	err := s.scanMaster(ctx, labelKeyPrefix, func(data []byte) error {
		var label types.TaskLabel
		if err := unmarshal(data, &label); err != nil {
			return err
		}
		labels = append(labels, label)

		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(labels, func(i, j int) bool {
		if labels[i].Order != labels[j].Order {
			return labels[i].Order < labels[j].Order
		}

		return labels[i].ID < labels[j].ID
	})

	return labels, nil
}

// PairExclusions returns all pair exclusion rules with team IDs normalized.
func (s *Store) PairExclusions(ctx context.Context) ([]types.PairExclusion, error) {
	defer s.observe("master_pairs", time.Now())

	var pairs []types.PairExclusion
	err := s.scanMaster(ctx, pairKeyPrefix, func(data []byte) error {
		var pair types.PairExclusion
		if err := unmarshal(data, &pair); err != nil {
			return err
		}
		pair.TeamID1, pair.TeamID2 = types.NormalizePair(pair.TeamID1, pair.TeamID2)
		pairs = append(pairs, pair)

		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(pairs, func(i, j int) bool { return pairs[i].ID < pairs[j].ID })

	return pairs, nil
}

// PutTeam stores or replaces a team record.
func (s *Store) PutTeam(ctx context.Context, team types.Team) error {
	return s.putMaster(ctx, teamKeyPrefix, team.ID, team)
}

// PutMember stores or replaces a member record.
func (s *Store) PutMember(ctx context.Context, member types.Member) error {
	return s.putMaster(ctx, memberKeyPrefix, member.ID, member)
}

// PutTaskLabel stores or replaces a task label record.
func (s *Store) PutTaskLabel(ctx context.Context, label types.TaskLabel) error {
	return s.putMaster(ctx, labelKeyPrefix, label.ID, label)
}

// PutPairExclusion stores or replaces a pair exclusion rule. The team pair
// is normalized before writing so (A,B) and (B,A) persist identically.
func (s *Store) PutPairExclusion(ctx context.Context, pair types.PairExclusion) error {
	pair.TeamID1, pair.TeamID2 = types.NormalizePair(pair.TeamID1, pair.TeamID2)

	return s.putMaster(ctx, pairKeyPrefix, pair.ID, pair)
}

// UpdateMemberTeam moves a member to a new team.
//
// Used after a shuffle when the committed board places a member on a slot
// belonging to a different team than the one the member is recorded under.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - memberID: Member to move
//   - teamID: Destination team
//
// Returns:
//   - error: jetstream.ErrKeyNotFound (wrapped) for an unknown member
func (s *Store) UpdateMemberTeam(ctx context.Context, memberID, teamID string) error {
	return s.updateMember(ctx, memberID, func(member *types.Member) {
		member.TeamID = teamID
	})
}

// UpdateMemberExclusions replaces a member's excluded task label set.
func (s *Store) UpdateMemberExclusions(ctx context.Context, memberID string, taskLabelIDs []string) error {
	return s.updateMember(ctx, memberID, func(member *types.Member) {
		member.ExcludedTaskLabelIDs = append([]string(nil), taskLabelIDs...)
	})
}

// DeleteMember removes a member record. The caller is responsible for also
// clearing the member's slots via RemoveMemberAssignments.
func (s *Store) DeleteMember(ctx context.Context, memberID string) error {
	defer s.observe("master_delete", time.Now())

	if err := s.master.Delete(ctx, memberKeyPrefix+memberID); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("failed to delete member %s: %w", memberID, err)
	}

	return nil
}

// updateMember applies a modification to a member under CAS.
func (s *Store) updateMember(ctx context.Context, memberID string, modify func(*types.Member)) error {
	defer s.observe("master_update", time.Now())

	key := memberKeyPrefix + memberID

	for attempt := 0; attempt < s.maxMutateRetries; attempt++ {
		entry, err := s.master.Get(ctx, key)
		if err != nil {
			return fmt.Errorf("failed to get member %s: %w", memberID, err)
		}

		var member types.Member
		if err := unmarshal(entry.Value(), &member); err != nil {
			return err
		}

		modify(&member)

		data, err := marshal(member)
		if err != nil {
			return err
		}

		_, err = s.master.Update(ctx, key, data, entry.Revision())
		if err == nil {
			return nil
		}
		if natsutil.IsWriteConflict(err) {
			continue
		}

		return fmt.Errorf("failed to update member %s: %w", memberID, err)
	}

	return fmt.Errorf("%w: member %s", types.ErrMutateConflictExhausted, memberID)
}

// putMaster writes one master record under its prefixed key.
func (s *Store) putMaster(ctx context.Context, prefix, id string, v any) error {
	defer s.observe("master_put", time.Now())

	if id == "" {
		return fmt.Errorf("%w: master record requires an ID", types.ErrInvalidConfig)
	}

	data, err := marshal(v)
	if err != nil {
		return err
	}

	if _, err := s.master.Put(ctx, prefix+id, data); err != nil {
		return fmt.Errorf("failed to put master record %s%s: %w", prefix, id, err)
	}

	return nil
}

// scanMaster iterates every master key under a prefix.
func (s *Store) scanMaster(ctx context.Context, prefix string, visit func(data []byte) error) error {
	lister, err := s.master.ListKeys(ctx)
	if err != nil {
		if types.IsNoKeysFoundError(err) {
			return nil
		}

		return fmt.Errorf("failed to list master keys: %w", err)
	}

	for key := range lister.Keys() {
		if !strings.HasPrefix(key, prefix) {
			continue
		}

		entry, err := s.master.Get(ctx, key)
		if err != nil {
			if errors.Is(err, jetstream.ErrKeyNotFound) {
				continue
			}

			return fmt.Errorf("failed to get master key %s: %w", key, err)
		}

		if err := visit(entry.Value()); err != nil {
			return err
		}
	}

	return nil
}
