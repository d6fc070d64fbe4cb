package access

import (
	"encoding/binary"
	"encoding/json"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	iradix "github.com/hashicorp/go-immutable-radix"
	"github.com/pkg/errors"

	"github.com/ndlib/cdxd/cdx"
	"github.com/ndlib/cdxd/kv"
)

// ErrUnknownPolicy is returned when a rule references a policy id
// that does not exist.
var ErrUnknownPolicy = errors.New("no such policy")

// The radix tree cannot hold an empty key, so every stored and looked
// up SURT is prefixed with this sentinel. It makes a rule with an
// empty SURT a legal "match everything" default.
const surtSentinel = '('

// Store keeps one collection's rules and policies. Rows are persisted
// in the rule and policy families before any in-memory structure is
// touched; lookups run against an immutable snapshot that mutations
// replace with a single atomic swap, so readers never lock and never
// observe a half-applied update.
type Store struct {
	rules    kv.Family
	policies kv.Family

	mu   sync.Mutex   // serializes mutations
	snap atomic.Value // *snapshot

	nextRuleID   uint64
	nextPolicyID uint64
}

// snapshot is an immutable view of the rule set. The tree maps
// sentinel-prefixed SURTs to the []*Rule whose Surts contain that
// prefix, in insertion order.
type snapshot struct {
	rules    map[uint64]*Rule
	policies map[uint64]*Policy
	tree     *iradix.Tree
}

// Open loads the stored rules and policies. On the very first open of
// a collection, a default set of policies is seeded.
func Open(rules, policies kv.Family) (*Store, error) {
	s := &Store{rules: rules, policies: policies}
	snap := &snapshot{
		rules:    make(map[uint64]*Rule),
		policies: make(map[uint64]*Policy),
		tree:     iradix.New(),
	}

	it := rules.Scan()
	for it.Next() {
		rule := new(Rule)
		if err := json.Unmarshal(it.Value(), rule); err != nil {
			it.Release()
			return nil, errors.Wrapf(err, "access: rule %d", decodeID(it.Key()))
		}
		snap.rules[rule.ID] = rule
	}
	it.Release()
	if err := it.Err(); err != nil {
		return nil, errors.Wrap(err, "access: load rules")
	}

	it = policies.Scan()
	for it.Next() {
		policy := new(Policy)
		if err := json.Unmarshal(it.Value(), policy); err != nil {
			it.Release()
			return nil, errors.Wrapf(err, "access: policy %d", decodeID(it.Key()))
		}
		snap.policies[policy.ID] = policy
	}
	it.Release()
	if err := it.Err(); err != nil {
		return nil, errors.Wrap(err, "access: load policies")
	}

	// rebuild the prefix index in id order, which is also the order
	// the rules were first inserted in
	tx := snap.tree.Txn()
	for _, id := range sortedRuleIDs(snap.rules) {
		treeInsert(tx, snap.rules[id])
	}
	snap.tree = tx.Commit()
	s.snap.Store(snap)

	// recover the id counters from the largest stored keys
	if k, ok, err := rules.LastKey(); err != nil {
		return nil, err
	} else if ok {
		s.nextRuleID = decodeID(k)
	}
	if k, ok, err := policies.LastKey(); err != nil {
		return nil, err
	} else if ok {
		s.nextPolicyID = decodeID(k)
	}

	if len(snap.policies) == 0 {
		for _, p := range []*Policy{
			{Name: "Public", AccessPoints: []string{"public", "staff"}},
			{Name: "Staff Only", AccessPoints: []string{"staff"}},
			{Name: "No Access", AccessPoints: []string{}},
		} {
			if _, err := s.PutPolicy(p); err != nil {
				return nil, err
			}
		}
	}
	return s, nil
}

// PutRule stores a rule, assigning an id if it has none, and returns
// the id. The referenced policy must already exist.
func (s *Store) PutRule(rule *Rule) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.load()
	if _, ok := snap.policies[rule.PolicyID]; !ok {
		return 0, errors.Wrapf(ErrUnknownPolicy, "policy %d", rule.PolicyID)
	}
	if rule.ID == 0 {
		rule.ID = atomic.AddUint64(&s.nextRuleID, 1)
	} else if rule.ID > s.nextRuleID {
		atomic.StoreUint64(&s.nextRuleID, rule.ID)
	}

	data, err := json.Marshal(rule)
	if err != nil {
		return 0, errors.Wrap(err, "access: encode rule")
	}
	if err := s.rules.Put(encodeID(rule.ID), data); err != nil {
		return 0, err
	}

	next := snap.clone()
	tx := next.tree.Txn()
	if previous, ok := next.rules[rule.ID]; ok {
		treeRemove(tx, previous)
	}
	treeInsert(tx, rule)
	next.tree = tx.Commit()
	next.rules[rule.ID] = rule
	s.snap.Store(next)
	return rule.ID, nil
}

// DeleteRule removes a rule, reporting whether it existed.
func (s *Store) DeleteRule(id uint64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.load()
	rule, ok := snap.rules[id]
	if !ok {
		return false, nil
	}
	if err := s.rules.Delete(encodeID(id)); err != nil {
		return false, err
	}

	next := snap.clone()
	tx := next.tree.Txn()
	treeRemove(tx, rule)
	next.tree = tx.Commit()
	delete(next.rules, id)
	s.snap.Store(next)
	return true, nil
}

// PutPolicy stores a policy, assigning an id if it has none, and
// returns the id.
func (s *Store) PutPolicy(policy *Policy) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if policy.ID == 0 {
		policy.ID = atomic.AddUint64(&s.nextPolicyID, 1)
	} else if policy.ID > s.nextPolicyID {
		atomic.StoreUint64(&s.nextPolicyID, policy.ID)
	}
	data, err := json.Marshal(policy)
	if err != nil {
		return 0, errors.Wrap(err, "access: encode policy")
	}
	if err := s.policies.Put(encodeID(policy.ID), data); err != nil {
		return 0, err
	}

	next := s.load().clone()
	next.policies[policy.ID] = policy
	s.snap.Store(next)
	return policy.ID, nil
}

// Rule returns the rule with the given id, or nil.
func (s *Store) Rule(id uint64) *Rule { return s.load().rules[id] }

// Policy returns the policy with the given id, or nil.
func (s *Store) Policy(id uint64) *Policy { return s.load().policies[id] }

// Rules lists all rules in ascending id order.
func (s *Store) Rules() []*Rule {
	snap := s.load()
	out := make([]*Rule, 0, len(snap.rules))
	for _, id := range sortedRuleIDs(snap.rules) {
		out = append(out, snap.rules[id])
	}
	return out
}

// Policies lists all policies in ascending id order.
func (s *Store) Policies() []*Policy {
	snap := s.load()
	ids := make([]uint64, 0, len(snap.policies))
	for id := range snap.policies {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]*Policy, 0, len(ids))
	for _, id := range ids {
		out = append(out, snap.policies[id])
	}
	return out
}

// RulesForSurt returns every rule one of whose SURT prefixes is a
// prefix of surt, from the least to the most specific prefix.
func (s *Store) RulesForSurt(surt string) []*Rule {
	return s.load().rulesForSurt(surt)
}

func (snap *snapshot) rulesForSurt(surt string) []*Rule {
	var out []*Rule
	snap.tree.Root().WalkPath(sentinelKey(surt), func(k []byte, v interface{}) bool {
		out = append(out, v.([]*Rule)...)
		return false
	})
	return out
}

// ruleForCapture selects the most specific applicable rule for the
// capture: the longest matching prefix wins, and among equals the
// most recently inserted.
func (snap *snapshot) ruleForCapture(c *cdx.Capture, accessTime time.Time) *Rule {
	var matching *Rule
	captured := c.Time()
	for _, rule := range snap.rulesForSurt(c.URLKey) {
		if rule.matchesDates(captured, accessTime) {
			matching = rule
		}
	}
	return matching
}

// Filter returns a predicate deciding which captures are visible at
// the given access point and time. A capture with no matching rule is
// visible; otherwise the matching rule's policy must list the access
// point. The predicate reads one consistent rule snapshot for its
// whole lifetime.
func (s *Store) Filter(accessPoint string, accessTime time.Time) cdx.Predicate {
	snap := s.load()
	return func(c *cdx.Capture) (bool, error) {
		rule := snap.ruleForCapture(c, accessTime)
		if rule == nil {
			return true, nil
		}
		policy := snap.policies[rule.PolicyID]
		if policy != nil && !policy.allows(accessPoint) {
			return false, nil
		}
		return true, nil
	}
}

func (s *Store) load() *snapshot { return s.snap.Load().(*snapshot) }

func (snap *snapshot) clone() *snapshot {
	next := &snapshot{
		rules:    make(map[uint64]*Rule, len(snap.rules)),
		policies: make(map[uint64]*Policy, len(snap.policies)),
		tree:     snap.tree,
	}
	for id, r := range snap.rules {
		next.rules[id] = r
	}
	for id, p := range snap.policies {
		next.policies[id] = p
	}
	return next
}

// treeInsert adds the rule under each of its SURT prefixes. The rule
// lists are copied on write so published snapshots stay immutable.
func treeInsert(tx *iradix.Txn, rule *Rule) {
	for _, surt := range rule.Surts {
		key := sentinelKey(surt)
		var list []*Rule
		if v, ok := tx.Get(key); ok {
			list = v.([]*Rule)
		}
		next := make([]*Rule, 0, len(list)+1)
		next = append(next, list...)
		next = append(next, rule)
		tx.Insert(key, next)
	}
}

func treeRemove(tx *iradix.Txn, rule *Rule) {
	for _, surt := range rule.Surts {
		key := sentinelKey(surt)
		v, ok := tx.Get(key)
		if !ok {
			continue
		}
		list := v.([]*Rule)
		next := make([]*Rule, 0, len(list))
		for _, r := range list {
			if r.ID != rule.ID {
				next = append(next, r)
			}
		}
		if len(next) == 0 {
			tx.Delete(key)
		} else {
			tx.Insert(key, next)
		}
	}
}

func sentinelKey(surt string) []byte {
	key := make([]byte, 0, len(surt)+1)
	key = append(key, surtSentinel)
	return append(key, surt...)
}

func encodeID(id uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], id)
	return b[:]
}

func decodeID(b []byte) uint64 {
	if len(b) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

func sortedRuleIDs(rules map[uint64]*Rule) []uint64 {
	ids := make([]uint64, 0, len(rules))
	for id := range rules {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
