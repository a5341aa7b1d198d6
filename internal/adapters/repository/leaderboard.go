package repository

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
)

// Treap-based lifetime coin leaderboard across stored sessions.
//
// Ordering: coins DESC, then participant id ASC. In-order traversal yields
// the board from best to worst and subtree sizes give ranks in O(log n).

// Standing is one leaderboard row. Participants with equal coins share a rank.
type Standing struct {
	Rank          int    `json:"rank"`
	ParticipantID string `json:"participantId"`
	Coins         int    `json:"coins"`
	Sessions      int    `json:"sessions"`
}

type node struct {
	id    string
	coins int
	prio  uint64
	left  *node
	right *node
	size  int
}

func nsize(n *node) int {
	if n == nil {
		return 0
	}
	return n.size
}

func fix(n *node) {
	if n != nil {
		n.size = 1 + nsize(n.left) + nsize(n.right)
	}
}

// before reports whether (aCoins, aID) ranks ahead of (bCoins, bID).
func before(aCoins int, aID string, bCoins int, bID string) bool {
	if aCoins != bCoins {
		return aCoins > bCoins
	}
	return aID < bID
}

// priority is derived from the id so the tree shape is reproducible.
func priority(id string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(id))
	return h.Sum64()
}

func rotateRight(y *node) *node {
	x := y.left
	y.left = x.right
	x.right = y
	fix(y)
	fix(x)
	return x
}

func rotateLeft(x *node) *node {
	y := x.right
	x.right = y.left
	y.left = x
	fix(x)
	fix(y)
	return y
}

func insert(n *node, id string, coins int) *node {
	if n == nil {
		return &node{id: id, coins: coins, prio: priority(id), size: 1}
	}
	if before(coins, id, n.coins, n.id) {
		n.left = insert(n.left, id, coins)
		if n.left.prio > n.prio {
			n = rotateRight(n)
		}
	} else {
		n.right = insert(n.right, id, coins)
		if n.right.prio > n.prio {
			n = rotateLeft(n)
		}
	}
	fix(n)
	return n
}

func remove(n *node, id string, coins int) *node {
	if n == nil {
		return nil
	}
	switch {
	case n.id == id && n.coins == coins:
		if n.left == nil {
			return n.right
		}
		if n.right == nil {
			return n.left
		}
		if n.left.prio > n.right.prio {
			n = rotateRight(n)
			n.right = remove(n.right, id, coins)
		} else {
			n = rotateLeft(n)
			n.left = remove(n.left, id, coins)
		}
	case before(coins, id, n.coins, n.id):
		n.left = remove(n.left, id, coins)
	default:
		n.right = remove(n.right, id, coins)
	}
	fix(n)
	return n
}

// countAbove returns how many nodes hold strictly more than coins.
func countAbove(n *node, coins int) int {
	if n == nil {
		return 0
	}
	if n.coins > coins {
		return nsize(n.left) + 1 + countAbove(n.right, coins)
	}
	return countAbove(n.left, coins)
}

func collect(n *node, limit int, out *[]Standing) {
	if n == nil || len(*out) >= limit {
		return
	}
	collect(n.left, limit, out)
	if len(*out) < limit {
		*out = append(*out, Standing{ParticipantID: n.id, Coins: n.coins})
	}
	if len(*out) < limit {
		collect(n.right, limit, out)
	}
}

// Leaderboard ranks participants by coins summed over every stored session.
type Leaderboard struct {
	mu        sync.RWMutex
	root      *node
	totals    map[string]int
	sessions  map[string]int
	bySession map[string]map[string]int
}

// NewLeaderboard returns an empty board.
func NewLeaderboard() *Leaderboard {
	return &Leaderboard{
		totals:    make(map[string]int),
		sessions:  make(map[string]int),
		bySession: make(map[string]map[string]int),
	}
}

// Apply records coins earned in sessionID, replacing whatever that session
// contributed before. Autosaves of a running session therefore never double count.
func (l *Leaderboard) Apply(sessionID string, coins map[string]int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for id, c := range l.bySession[sessionID] {
		l.set(id, l.totals[id]-c)
		l.sessions[id]--
	}
	fresh := make(map[string]int, len(coins))
	for id, c := range coins {
		fresh[id] = c
		l.set(id, l.totals[id]+c)
		l.sessions[id]++
	}
	l.bySession[sessionID] = fresh

	for id, n := range l.sessions {
		if n <= 0 {
			l.root = remove(l.root, id, l.totals[id])
			delete(l.totals, id)
			delete(l.sessions, id)
		}
	}
}

// Rebuild replays every session in store into a fresh board.
func (l *Leaderboard) Rebuild(ctx context.Context, store Store, limit int) error {
	records, err := store.List(ctx, limit)
	if err != nil {
		return fmt.Errorf("rebuild leaderboard: %w", err)
	}
	l.mu.Lock()
	l.root = nil
	l.totals = make(map[string]int)
	l.sessions = make(map[string]int)
	l.bySession = make(map[string]map[string]int)
	l.mu.Unlock()
	for _, r := range records {
		l.Apply(r.SessionID, r.Coins)
	}
	return nil
}

// TopN returns the n best participants.
func (l *Leaderboard) TopN(n int) ([]Standing, error) {
	if n < 1 {
		return nil, ErrInvalidLimit
	}
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Standing, 0, n)
	collect(l.root, n, &out)
	for i := range out {
		out[i].Rank = countAbove(l.root, out[i].Coins) + 1
		out[i].Sessions = l.sessions[out[i].ParticipantID]
	}
	return out, nil
}

// Rank returns the standing of participantID.
func (l *Leaderboard) Rank(participantID string) (Standing, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	coins, ok := l.totals[participantID]
	if !ok {
		return Standing{}, fmt.Errorf("%w: %s", ErrUnranked, participantID)
	}
	return Standing{
		Rank:          countAbove(l.root, coins) + 1,
		ParticipantID: participantID,
		Coins:         coins,
		Sessions:      l.sessions[participantID],
	}, nil
}

// Count returns the number of ranked participants.
func (l *Leaderboard) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.totals)
}

// set moves id to coins. Must be called with l.mu held.
func (l *Leaderboard) set(id string, coins int) {
	if old, ok := l.totals[id]; ok {
		l.root = remove(l.root, id, old)
	}
	l.totals[id] = coins
	l.root = insert(l.root, id, coins)
}
