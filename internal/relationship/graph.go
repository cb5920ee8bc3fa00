package relationship

import (
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrInvalidTarget indicates a self-reference or an unknown user.
	ErrInvalidTarget = errors.New("relationship: invalid target user")
	// ErrAlreadyBlocked indicates the block edge already exists.
	ErrAlreadyBlocked = errors.New("relationship: already blocked")
	// ErrNotFound indicates the referenced edge does not exist.
	ErrNotFound = errors.New("relationship: not found")

	errMissingDirectory = errors.New("relationship: user directory is required")
)

// Directory answers whether a user id is known. The account directory
// satisfies this.
type Directory interface {
	Exists(id string) bool
}

// MatchResult reports the outcome of recording a like.
type MatchResult struct {
	// IsMatch is true when both directed like edges exist.
	IsMatch bool
	// NewMatch is true only on the call that created the match record,
	// so the caller notifies the peer exactly once.
	NewMatch bool
}

// GraphConfig describes the dependencies of the relationship graph.
type GraphConfig struct {
	Directory Directory
	Store     Store
	Clock     func() time.Time
	Logger    *zap.Logger
}

// Graph owns like, match and block edges. All state lives in memory behind
// a single mutex; mutations are written through to the store best-effort.
type Graph struct {
	mu      sync.RWMutex
	likes   map[string]map[string]bool
	skips   map[string]map[string]bool
	matches map[string]map[string]bool
	blocks  map[string]map[string]bool

	directory Directory
	store     Store
	clock     func() time.Time
	logger    *zap.Logger
}

// NewGraph constructs an empty relationship graph.
func NewGraph(cfg GraphConfig) (*Graph, error) {
	if cfg.Directory == nil {
		return nil, errMissingDirectory
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Graph{
		likes:     make(map[string]map[string]bool),
		skips:     make(map[string]map[string]bool),
		matches:   make(map[string]map[string]bool),
		blocks:    make(map[string]map[string]bool),
		directory: cfg.Directory,
		store:     cfg.Store,
		clock:     clock,
		logger:    logger,
	}, nil
}

// Load populates the graph from the store.
func (g *Graph) Load() error {
	if g.store == nil {
		return nil
	}
	likes, err := g.store.LoadLikes()
	if err != nil {
		return err
	}
	matches, err := g.store.LoadMatches()
	if err != nil {
		return err
	}
	blocks, err := g.store.LoadBlocks()
	if err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	for _, edge := range likes {
		if edge.IsLike {
			insertEdge(g.likes, edge.FromUserID, edge.ToUserID)
		} else {
			insertEdge(g.skips, edge.FromUserID, edge.ToUserID)
		}
	}
	for _, record := range matches {
		insertEdge(g.matches, record.UserAID, record.UserBID)
		insertEdge(g.matches, record.UserBID, record.UserAID)
	}
	for _, edge := range blocks {
		insertEdge(g.blocks, edge.BlockerID, edge.BlockedID)
	}
	return nil
}

// RecordLike inserts the directed like edge and detects a mutual match.
// Re-liking is a no-op that reports the previously computed match state.
// The match record is created under the canonical pair while the lock is
// held, so two concurrent likes cannot both miss it.
func (g *Graph) RecordLike(fromUserID, toUserID string) (MatchResult, error) {
	if fromUserID == toUserID || !g.directory.Exists(toUserID) {
		return MatchResult{}, ErrInvalidTarget
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.likes[fromUserID][toUserID] {
		return MatchResult{IsMatch: g.matches[fromUserID][toUserID]}, nil
	}

	insertEdge(g.likes, fromUserID, toUserID)
	g.persistLike(LikeEdge{FromUserID: fromUserID, ToUserID: toUserID, IsLike: true, CreatedAt: g.clock().UTC()})

	if !g.likes[toUserID][fromUserID] {
		return MatchResult{}, nil
	}
	if g.matches[fromUserID][toUserID] {
		return MatchResult{IsMatch: true}, nil
	}

	insertEdge(g.matches, fromUserID, toUserID)
	insertEdge(g.matches, toUserID, fromUserID)
	userA, userB := CanonicalPair(fromUserID, toUserID)
	g.persistMatch(MatchRecord{UserAID: userA, UserBID: userB, CreatedAt: g.clock().UTC()})
	return MatchResult{IsMatch: true, NewMatch: true}, nil
}

// RecordSkip records a pass on a candidate so browsing stops resurfacing
// them. A skip never undoes an existing like or match.
func (g *Graph) RecordSkip(fromUserID, toUserID string) error {
	if fromUserID == toUserID || !g.directory.Exists(toUserID) {
		return ErrInvalidTarget
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.skips[fromUserID][toUserID] {
		return nil
	}
	insertEdge(g.skips, fromUserID, toUserID)
	g.persistLike(LikeEdge{FromUserID: fromUserID, ToUserID: toUserID, IsLike: false, CreatedAt: g.clock().UTC()})
	return nil
}

// RecordBlock inserts a directed block edge. Existing like and match edges
// are left untouched; visibility is enforced by callers querying
// BlockedEitherDirection.
func (g *Graph) RecordBlock(blockerID, blockedID string) error {
	if blockerID == blockedID || !g.directory.Exists(blockedID) {
		return ErrInvalidTarget
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.blocks[blockerID][blockedID] {
		return ErrAlreadyBlocked
	}
	insertEdge(g.blocks, blockerID, blockedID)
	g.persistBlock(BlockEdge{BlockerID: blockerID, BlockedID: blockedID, CreatedAt: g.clock().UTC()})
	return nil
}

// RemoveBlock deletes a directed block edge.
func (g *Graph) RemoveBlock(blockerID, blockedID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.blocks[blockerID][blockedID] {
		return ErrNotFound
	}
	delete(g.blocks[blockerID], blockedID)
	if g.store != nil {
		if err := g.store.DeleteBlock(blockerID, blockedID); err != nil {
			g.logger.Error("block delete persist failed", zap.Error(err))
		}
	}
	return nil
}

// Matches returns the sorted peer ids the user is matched with.
func (g *Graph) Matches(userID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return sortedKeys(g.matches[userID])
}

// Blocked returns the sorted ids the user has blocked.
func (g *Graph) Blocked(userID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return sortedKeys(g.blocks[userID])
}

// Liked returns the sorted ids the user has liked.
func (g *Graph) Liked(userID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return sortedKeys(g.likes[userID])
}

// Seen returns the sorted ids the user has already decided on, liked or
// skipped. Browsing excludes these.
func (g *Graph) Seen(userID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	seen := make(map[string]bool, len(g.likes[userID])+len(g.skips[userID]))
	for id := range g.likes[userID] {
		seen[id] = true
	}
	for id := range g.skips[userID] {
		seen[id] = true
	}
	return sortedKeys(seen)
}

// IsMatched reports whether a match exists between the two users.
func (g *Graph) IsMatched(a, b string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.matches[a][b]
}

// BlockedEitherDirection reports whether a block exists in either
// direction between the two users.
func (g *Graph) BlockedEitherDirection(a, b string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.blocks[a][b] || g.blocks[b][a]
}

// DeliverableMatches returns the user's matches with blocked peers removed.
// This is the audience for presence and match-related realtime events.
func (g *Graph) DeliverableMatches(userID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	peers := make([]string, 0, len(g.matches[userID]))
	for peer := range g.matches[userID] {
		if g.blocks[userID][peer] || g.blocks[peer][userID] {
			continue
		}
		peers = append(peers, peer)
	}
	sort.Strings(peers)
	return peers
}

func (g *Graph) persistLike(edge LikeEdge) {
	if g.store == nil {
		return
	}
	if err := g.store.SaveLike(edge); err != nil {
		g.logger.Error("like persist failed", zap.Error(err))
	}
}

func (g *Graph) persistMatch(record MatchRecord) {
	if g.store == nil {
		return
	}
	if err := g.store.SaveMatch(record); err != nil {
		g.logger.Error("match persist failed", zap.Error(err))
	}
}

func (g *Graph) persistBlock(edge BlockEdge) {
	if g.store == nil {
		return
	}
	if err := g.store.SaveBlock(edge); err != nil {
		g.logger.Error("block persist failed", zap.Error(err))
	}
}

func insertEdge(edges map[string]map[string]bool, from, to string) {
	if edges[from] == nil {
		edges[from] = make(map[string]bool)
	}
	edges[from][to] = true
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
