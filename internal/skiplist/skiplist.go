// Package skiplist implements the Ranking Index: a probabilistic skip list
// ordered by (score desc, user_id asc), augmented with per-forward-pointer
// spans so rank queries run in expected O(log n) instead of a level-0 scan,
// plus a side map for O(1) score lookups by user.
//
// The node/forward-pointer shape follows the usual skip list construction
// (header sentinel, per-level forward arrays, geometric level selection);
// the span bookkeeping on insert/delete follows the standard
// span-augmented variant so that summing spans along the search path
// yields a node's 1-based rank directly.
package skiplist

import (
	"math/rand"
	"sync"
	"time"

	"github.com/rankly/leaderboard-engine/internal/cache"
)

const (
	// DefaultMaxLevel sits in the 16..20 band the design calls for.
	DefaultMaxLevel = 18
	// P is the level-promotion probability.
	P = 0.5
)

// node is a single skip list entry. Forward and span are flat buffers sized
// to the node's chosen level at allocation time; they are never resized.
type node struct {
	userID string
	score  int64
	next   []*node
	span   []int
}

// SkipList is the Ranking Index described in the design: ordered by score
// descending, ties broken by ascending user_id. A single RWMutex protects
// the whole structure, as recommended for the baseline implementation —
// writes (Upsert) take the exclusive lock, reads (TopK/RankOf) take the
// shared lock. ScoreOf is O(1) via the side index, which has its own lock;
// it takes neither lock of the list and never touches the list.
type SkipList struct {
	mu       sync.RWMutex
	maxLevel int
	level    int
	length   int
	header   *node
	index    *cache.Store[*node]
	rng      *rand.Rand
}

// New creates an empty Ranking Index with the given max level (clamped into
// the 16..20 band). Pass 0 to use DefaultMaxLevel.
func New(maxLevel int) *SkipList {
	if maxLevel <= 0 {
		maxLevel = DefaultMaxLevel
	}
	if maxLevel < 16 {
		maxLevel = 16
	}
	if maxLevel > 20 {
		maxLevel = 20
	}
	header := &node{
		next: make([]*node, maxLevel),
		span: make([]int, maxLevel),
	}
	return &SkipList{
		maxLevel: maxLevel,
		level:    1,
		header:   header,
		index:    cache.New[*node](),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// keyLess is the comparator: a sorts before b iff a's score is strictly
// higher, or scores tie and a's user_id is lexicographically smaller. This
// is the total order the spec calls for ranking; the header sentinel is
// never compared directly — it's always logically less than every real key.
func keyLess(aScore int64, aID string, bScore int64, bID string) bool {
	if aScore != bScore {
		return aScore > bScore
	}
	return aID < bID
}

// keyLessEq is keyLess with the tie-on-identical-key case folded in; used by
// RankOf's search, which must walk up to and including the target node.
func keyLessEq(aScore int64, aID string, bScore int64, bID string) bool {
	if aScore != bScore {
		return aScore > bScore
	}
	return aID <= bID
}

func (sl *SkipList) randomLevel() int {
	level := 1
	for level < sl.maxLevel && sl.rng.Float64() < P {
		level++
	}
	return level
}

// Len returns the number of distinct users currently indexed.
func (sl *SkipList) Len() int {
	sl.mu.RLock()
	defer sl.mu.RUnlock()
	return sl.length
}

// Upsert inserts a new user or repositions an existing one to its new
// score. Returns true if this was a new user, false if it updated (or
// no-op'd) an existing one. Per the design, a no-op is permitted when the
// new score equals the existing score — no node is moved, but since the
// comparator only depends on (score, user_id) the position would be
// unchanged anyway.
func (sl *SkipList) Upsert(userID string, score int64) (inserted bool) {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	if existing, ok := sl.index.Get(userID); ok {
		if existing.score == score {
			return false
		}
		sl.deleteLocked(userID, existing.score)
	} else {
		inserted = true
	}

	update := make([]*node, sl.maxLevel)
	rank := make([]int, sl.maxLevel)

	x := sl.header
	for i := sl.level - 1; i >= 0; i-- {
		if i == sl.level-1 {
			rank[i] = 0
		} else {
			rank[i] = rank[i+1]
		}
		for x.next[i] != nil && keyLess(x.next[i].score, x.next[i].userID, score, userID) {
			rank[i] += x.span[i]
			x = x.next[i]
		}
		update[i] = x
	}

	newLevel := sl.randomLevel()
	if newLevel > sl.level {
		for i := sl.level; i < newLevel; i++ {
			rank[i] = 0
			update[i] = sl.header
			sl.header.span[i] = sl.length
		}
		sl.level = newLevel
	}

	n := &node{
		userID: userID,
		score:  score,
		next:   make([]*node, newLevel),
		span:   make([]int, newLevel),
	}
	for i := 0; i < newLevel; i++ {
		n.next[i] = update[i].next[i]
		update[i].next[i] = n
		n.span[i] = update[i].span[i] - (rank[0] - rank[i])
		update[i].span[i] = (rank[0] - rank[i]) + 1
	}
	for i := newLevel; i < sl.level; i++ {
		update[i].span[i]++
	}

	sl.index.Set(userID, n)
	sl.length++
	return inserted
}

// deleteLocked removes the node for userID/score. Caller must hold sl.mu.
func (sl *SkipList) deleteLocked(userID string, score int64) {
	update := make([]*node, sl.maxLevel)
	x := sl.header
	for i := sl.level - 1; i >= 0; i-- {
		for x.next[i] != nil && keyLess(x.next[i].score, x.next[i].userID, score, userID) {
			x = x.next[i]
		}
		update[i] = x
	}
	x = x.next[0]
	if x == nil || x.userID != userID || x.score != score {
		return
	}
	for i := 0; i < sl.level; i++ {
		if update[i].next[i] == x {
			update[i].span[i] += x.span[i] - 1
			update[i].next[i] = x.next[i]
		} else {
			update[i].span[i]--
		}
	}
	for sl.level > 1 && sl.header.next[sl.level-1] == nil {
		sl.level--
	}
	sl.index.Delete(userID)
	sl.length--
}

// Entry is a single (user_id, score, rank) result.
type Entry struct {
	UserID string
	Score  int64
	Rank   int
}

// TopK walks level 0 from the header, yielding up to k entries in ascending
// rank starting at 1. k == 0 returns an empty, never nil, slice; k < 0
// panics — callers validate k before calling (see shard.Shard.TopK).
func (sl *SkipList) TopK(k int) []Entry {
	if k < 0 {
		panic("skiplist: negative k")
	}
	sl.mu.RLock()
	defer sl.mu.RUnlock()

	out := make([]Entry, 0, k)
	x := sl.header.next[0]
	rank := 1
	for x != nil && len(out) < k {
		out = append(out, Entry{UserID: x.userID, Score: x.score, Rank: rank})
		x = x.next[0]
		rank++
	}
	return out
}

// RankOf returns the 1-based rank of userID, summing spans along the search
// path — expected O(log n), never an O(n) level-0 scan.
func (sl *SkipList) RankOf(userID string) (rank int, ok bool) {
	sl.mu.RLock()
	defer sl.mu.RUnlock()

	target, found := sl.index.Get(userID)
	if !found {
		return 0, false
	}

	x := sl.header
	total := 0
	for i := sl.level - 1; i >= 0; i-- {
		for x.next[i] != nil && keyLessEq(x.next[i].score, x.next[i].userID, target.score, target.userID) {
			total += x.span[i]
			x = x.next[i]
		}
	}
	if x == target {
		return total, true
	}
	return 0, false
}

// Snapshot returns a compacted user_id -> score map of every entry
// currently indexed, for checkpointing. It locks only the side index, not
// the list itself.
func (sl *SkipList) Snapshot() map[string]int64 {
	nodes := sl.index.Snapshot()
	out := make(map[string]int64, len(nodes))
	for id, n := range nodes {
		out[id] = n.score
	}
	return out
}

// ScoreOf is an O(1) lookup via the side map; it never touches the list.
func (sl *SkipList) ScoreOf(userID string) (score int64, ok bool) {
	n, found := sl.index.Get(userID)
	if !found {
		return 0, false
	}
	return n.score, true
}
