package group

import (
	"sort"

	"github.com/nblp/dcnet/crypto"
)

// SubgroupPolicy governs which subset of a Group's roster participates in
// an inner round.
type SubgroupPolicy uint8

const (
	// CompleteGroup means the subgroup is the whole roster.
	CompleteGroup SubgroupPolicy = 0
	// FixedSubgroup means the subgroup is an externally-supplied subset of
	// the roster. The rule that picks the subset is not itself part of the
	// wire format — pass one via NewFixedSubgroup, or accept the
	// roster-wide pass-through default.
	FixedSubgroup SubgroupPolicy = 1
	// DisabledGroup means there is no subgroup.
	DisabledGroup SubgroupPolicy = 255
)

var policyNames = map[SubgroupPolicy]string{
	CompleteGroup: "CompleteGroup",
	FixedSubgroup: "FixedSubgroup",
	DisabledGroup: "DisabledGroup",
}

// String returns the policy's name, or "Unknown" for an unrecognized tag.
func (p SubgroupPolicy) String() string {
	if name, ok := policyNames[p]; ok {
		return name
	}
	return "Unknown"
}

// ParsePolicy converts a policy name back into its tag via an explicit
// static table, and fails loudly on an unrecognized name.
func ParsePolicy(s string) (SubgroupPolicy, error) {
	for tag, name := range policyNames {
		if name == s {
			return tag, nil
		}
	}
	return 0, ErrUnknownPolicy
}

// Group is an ordered, immutable roster of Members, a designated leader (or
// ZeroID for "no leader"), a SubgroupPolicy, and the subgroup it derives.
// The zero value is the empty group (size 0, leader Zero, CompleteGroup).
//
// A *Group is shared-immutable: AddMember/RemoveMember never mutate the
// receiver, they return a new *Group. Callers must not mutate the slice
// returned by Roster().
type Group struct {
	roster   []Member
	index    map[ID]int
	leader   ID
	policy   SubgroupPolicy
	subgroup *Group
}

// New builds a Group from an unsorted roster. Under FixedSubgroup it is
// NewFixedSubgroup with a nil rule; use NewFixedSubgroup to supply a rule.
func New(roster []Member, leader ID, policy SubgroupPolicy) (*Group, error) {
	if policy == FixedSubgroup {
		return NewFixedSubgroup(roster, leader, nil)
	}
	return newGroup(roster, leader, policy, nil)
}

// NewFixedSubgroup builds a Group under FixedSubgroup policy. rule decides
// subgroup membership; a nil rule treats the subgroup as equal to the
// roster unless explicitly configured.
func NewFixedSubgroup(roster []Member, leader ID, rule func(Member) bool) (*Group, error) {
	return newGroup(roster, leader, FixedSubgroup, rule)
}

func newGroup(roster []Member, leader ID, policy SubgroupPolicy, rule func(Member) bool) (*Group, error) {
	sorted := make([]Member, len(roster))
	copy(sorted, roster)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Less(sorted[j]) })

	index := make(map[ID]int, len(sorted))
	for i, m := range sorted {
		if _, dup := index[m.ID]; dup {
			return nil, ErrDuplicateMember
		}
		index[m.ID] = i
	}

	g := &Group{roster: sorted, index: index, leader: leader, policy: policy}

	switch policy {
	case CompleteGroup:
		g.subgroup = g
	case DisabledGroup:
		empty, _ := newGroup(nil, ZeroID, CompleteGroup, nil)
		g.subgroup = empty
	case FixedSubgroup:
		if rule == nil {
			g.subgroup = g
			break
		}
		var filtered []Member
		for _, m := range sorted {
			if rule(m) {
				filtered = append(filtered, m)
			}
		}
		sub, err := newGroup(filtered, leader, CompleteGroup, nil)
		if err != nil {
			return nil, err
		}
		g.subgroup = sub
	default:
		return nil, ErrUnknownPolicy
	}

	return g, nil
}

// Size returns the roster length.
func (g *Group) Size() int { return len(g.roster) }

// Leader returns the designated leader id, or ZeroID for "no leader".
func (g *Group) Leader() ID { return g.leader }

// Policy returns the subgroup policy.
func (g *Group) Policy() SubgroupPolicy { return g.policy }

// Subgroup returns the cached inner subgroup derived at construction time;
// it is not recomputed on every call.
func (g *Group) Subgroup() *Group { return g.subgroup }

// Roster returns the sorted member slice backing this group. The slice is
// shared storage: callers must treat it as read-only.
func (g *Group) Roster() []Member { return g.roster }

// IDAt returns the id at the given slot index.
func (g *Group) IDAt(index int) (ID, error) {
	if index < 0 || index >= len(g.roster) {
		return ZeroID, ErrNotMember
	}
	return g.roster[index].ID, nil
}

// IndexOf returns id's slot index.
func (g *Group) IndexOf(id ID) (int, error) {
	idx, ok := g.index[id]
	if !ok {
		return -1, ErrNotMember
	}
	return idx, nil
}

// Contains reports whether id is a roster member.
func (g *Group) Contains(id ID) bool {
	_, ok := g.index[id]
	return ok
}

// Next returns the ring successor of id under roster order, wrapping from
// the last member back to the first.
func (g *Group) Next(id ID) (ID, error) {
	idx, err := g.IndexOf(id)
	if err != nil {
		return ZeroID, err
	}
	return g.roster[(idx+1)%len(g.roster)].ID, nil
}

// Previous returns the ring predecessor of id under roster order, wrapping
// from the first member back to the last.
func (g *Group) Previous(id ID) (ID, error) {
	idx, err := g.IndexOf(id)
	if err != nil {
		return ZeroID, err
	}
	return g.roster[(idx-1+len(g.roster))%len(g.roster)].ID, nil
}

// KeyOf returns id's public key, or EmptyKey if id is not a member. It never
// fails; callers needing strict behavior must Contains() first.
func (g *Group) KeyOf(id ID) crypto.PublicKey {
	if idx, ok := g.index[id]; ok {
		return g.roster[idx].Key
	}
	return EmptyKey
}

// KeyAt returns the public key at a slot index, or EmptyKey if out of range.
func (g *Group) KeyAt(index int) crypto.PublicKey {
	if index < 0 || index >= len(g.roster) {
		return EmptyKey
	}
	return g.roster[index].Key
}

// DHOf returns id's DH public component, or EmptyDH if id is not a member.
func (g *Group) DHOf(id ID) crypto.DHPublicKey {
	if idx, ok := g.index[id]; ok {
		return g.roster[idx].DH
	}
	return EmptyDH
}

// DHAt returns the DH public component at a slot index, or EmptyDH if out
// of range.
func (g *Group) DHAt(index int) crypto.DHPublicKey {
	if index < 0 || index >= len(g.roster) {
		return EmptyDH
	}
	return g.roster[index].DH
}

// Equal reports whether two groups have the same policy, leader, and
// roster in the same order, componentwise.
func (g *Group) Equal(other *Group) bool {
	if g.policy != other.policy || g.leader != other.leader {
		return false
	}
	if len(g.roster) != len(other.roster) {
		return false
	}
	for i := range g.roster {
		if !g.roster[i].Equal(other.roster[i]) {
			return false
		}
	}
	return true
}

// AddMember returns a new Group with m inserted, re-sorted and re-indexed.
// The receiver is left untouched.
func (g *Group) AddMember(m Member) (*Group, error) {
	next := make([]Member, len(g.roster)+1)
	copy(next, g.roster)
	next[len(g.roster)] = m
	return newGroup(next, g.leader, g.policy, nil)
}

// RemoveMember returns a new Group with id removed. If id is not present,
// the returned group is equal to the receiver.
func (g *Group) RemoveMember(id ID) (*Group, error) {
	next := make([]Member, 0, len(g.roster))
	for _, m := range g.roster {
		if m.ID != id {
			next = append(next, m)
		}
	}
	return newGroup(next, g.leader, g.policy, nil)
}

// Subset reports whether every member of b is a member of a, using the
// total order (equivalent to std::includes over two sorted sequences).
func Subset(a, b *Group) bool {
	i := 0
	for _, m := range b.roster {
		for i < len(a.roster) && a.roster[i].Less(m) {
			i++
		}
		if i >= len(a.roster) || !a.roster[i].Equal(m) {
			return false
		}
	}
	return true
}

// Difference returns the members present in oldGroup but not newGroup
// (lost) and present in newGroup but not oldGroup (joined), plus whether
// any change occurred.
func Difference(oldGroup, newGroup *Group) (lost, joined []Member, changed bool) {
	for _, m := range oldGroup.roster {
		if !newGroup.Contains(m.ID) {
			lost = append(lost, m)
		}
	}
	for _, m := range newGroup.roster {
		if !oldGroup.Contains(m.ID) {
			joined = append(joined, m)
		}
	}
	return lost, joined, len(lost) > 0 || len(joined) > 0
}
