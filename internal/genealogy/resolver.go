package genealogy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tariel-x/mlmadmin/internal/models"
)

const (
	// DefaultMaxDepth bounds every walk, including the "unbounded" counter.
	DefaultMaxDepth = 64
	// DefaultTeamLevels is the depth of the level-wise team report.
	DefaultTeamLevels = 6
	// DefaultTreeLevels is the depth of the binary tree view.
	DefaultTreeLevels = 3

	joiningDateLayout = "2006-01-02"
)

// TeamMember is a downline member annotated for the level-wise report.
type TeamMember struct {
	models.Member
	Level       int    `json:"level"`
	Status      string `json:"status"`
	JoiningDate string `json:"joining_date"`
}

// TreeNode is one node of the binary genealogy tree. Children holds the
// Left child first, then the Right child, whichever are present.
type TreeNode struct {
	MemberID      string          `json:"member_id"`
	Name          string          `json:"name"`
	SponsorCode   string          `json:"sponsor_code"`
	Position      models.Position `json:"position,omitempty"`
	ActiveStatus  bool            `json:"active_status"`
	Status        string          `json:"status"`
	DateOfJoining time.Time       `json:"date_of_joining"`
	Level         int             `json:"level"`
	Children      []*TreeNode     `json:"children"`
}

type Resolver struct {
	store    Store
	maxDepth int
	metrics  *Metrics
	logger   *slog.Logger
}

type Option func(*Resolver)

func WithMaxDepth(depth int) Option {
	return func(r *Resolver) {
		if depth > 0 {
			r.maxDepth = depth
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(r *Resolver) {
		r.metrics = m
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func NewResolver(store Store, opts ...Option) *Resolver {
	r := &Resolver{
		store:    store,
		maxDepth: DefaultMaxDepth,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Resolver) MaxDepth() int {
	return r.maxDepth
}

// CountDownline returns the number of members below rootID at every depth.
// The root is not checked for existence; an unknown root has no downline.
func (r *Resolver) CountDownline(ctx context.Context, rootID string) (int, error) {
	defer r.metrics.timer("count")()

	w := r.newWalk(ctx, rootID)
	return w.count(rootID, 0)
}

// LevelWiseTeam lists the downline of sponsorID down to maxLevel in
// pre-order: every member precedes its own descendants and siblings keep
// the store's fetch order.
func (r *Resolver) LevelWiseTeam(ctx context.Context, sponsorID string, maxLevel int) ([]TeamMember, error) {
	defer r.metrics.timer("level_wise")()

	if maxLevel > r.maxDepth {
		maxLevel = r.maxDepth
	}

	team := make([]TeamMember, 0)
	w := r.newWalk(ctx, sponsorID)
	if err := w.team(sponsorID, 1, maxLevel, &team); err != nil {
		return nil, err
	}
	return team, nil
}

// Downline is the whole level-wise team of sponsorID. A team reaching below
// the resolver's depth limit fails with ErrDepthExceeded instead of being cut.
func (r *Resolver) Downline(ctx context.Context, sponsorID string) ([]TeamMember, error) {
	defer r.metrics.timer("downline")()

	team := make([]TeamMember, 0)
	w := r.newWalk(ctx, sponsorID)
	w.strict = true
	if err := w.team(sponsorID, 1, r.maxDepth, &team); err != nil {
		return nil, err
	}
	return team, nil
}

// BinaryTree builds the Left/Right tree rooted at rootID, levels deep below
// the root. When several children claim the same slot the first one in
// fetch order wins.
func (r *Resolver) BinaryTree(ctx context.Context, rootID string, levels int) (*TreeNode, error) {
	defer r.metrics.timer("binary_tree")()

	root, err := r.store.Member(ctx, rootID)
	if err != nil {
		return nil, err
	}

	if levels < 0 {
		levels = 0
	}
	if levels > r.maxDepth {
		levels = r.maxDepth
	}

	node := newTreeNode(root, 0)
	w := r.newWalk(ctx, root.MemberID)
	if err := w.branch(node, levels); err != nil {
		return nil, err
	}
	return node, nil
}

// DirectReferrals returns the members sponsored directly by memberID.
func (r *Resolver) DirectReferrals(ctx context.Context, memberID string) ([]models.Member, error) {
	w := r.newWalk(ctx, memberID)
	children, err := w.children(memberID)
	if err != nil {
		return nil, err
	}
	if children == nil {
		children = []models.Member{}
	}
	return children, nil
}

// LegCounts returns the team size under the Left and the Right slot of
// memberID. An empty slot counts as zero.
func (r *Resolver) LegCounts(ctx context.Context, memberID string) (left, right int, err error) {
	defer r.metrics.timer("legs")()

	w := r.newWalk(ctx, memberID)
	children, err := w.children(memberID)
	if err != nil {
		return 0, 0, err
	}

	leftChild, rightChild, _ := partition(children)
	if leftChild != nil {
		if left, err = w.leg(leftChild); err != nil {
			return 0, 0, err
		}
	}
	if rightChild != nil {
		if right, err = w.leg(rightChild); err != nil {
			return 0, 0, err
		}
	}
	return left, right, nil
}

// InDownline reports whether memberID sits anywhere below ancestorID. It
// follows the sponsor chain upwards, so the cost is the depth of memberID.
func (r *Resolver) InDownline(ctx context.Context, ancestorID, memberID string) (bool, error) {
	seen := map[string]struct{}{memberID: {}}
	current := memberID
	for depth := 0; ; depth++ {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		if depth > r.maxDepth {
			return false, fmt.Errorf("%w: sponsor chain of %s is longer than %d", ErrDepthExceeded, memberID, r.maxDepth)
		}

		m, err := r.store.Member(ctx, current)
		if err != nil {
			if current != memberID && errors.Is(err, ErrMemberNotFound) {
				// dangling sponsor code
				return false, nil
			}
			return false, err
		}

		sponsor := m.SponsorCode
		switch {
		case sponsor == "":
			return false, nil
		case sponsor == ancestorID:
			return true, nil
		}
		if _, ok := seen[sponsor]; ok {
			return false, fmt.Errorf("%w: %s reached twice", ErrCycleDetected, sponsor)
		}
		seen[sponsor] = struct{}{}
		current = sponsor
	}
}

type walk struct {
	ctx     context.Context
	r       *Resolver
	visited map[string]struct{}
	// strict fails team walks that stop above existing members.
	strict bool
}

func (r *Resolver) newWalk(ctx context.Context, rootID string) *walk {
	return &walk{
		ctx:     ctx,
		r:       r,
		visited: map[string]struct{}{rootID: {}},
	}
}

func (w *walk) children(sponsorID string) ([]models.Member, error) {
	if sponsorID == "" {
		return nil, nil
	}
	if err := w.ctx.Err(); err != nil {
		return nil, err
	}

	children, err := w.r.store.Children(w.ctx, sponsorID)
	w.r.metrics.observeFetch(err)
	if err != nil {
		return nil, fmt.Errorf("fetch children of %s: %w", sponsorID, err)
	}
	return children, nil
}

func (w *walk) visit(memberID string) error {
	if _, seen := w.visited[memberID]; seen {
		return fmt.Errorf("%w: %s reached twice", ErrCycleDetected, memberID)
	}
	w.visited[memberID] = struct{}{}
	return nil
}

func (w *walk) count(memberID string, depth int) (int, error) {
	children, err := w.children(memberID)
	if err != nil {
		return 0, err
	}
	if len(children) == 0 {
		return 0, nil
	}
	if depth+1 > w.r.maxDepth {
		return 0, fmt.Errorf("%w: %s has members below level %d", ErrDepthExceeded, memberID, w.r.maxDepth)
	}

	total := 0
	for i := range children {
		childID := children[i].MemberID
		if err := w.visit(childID); err != nil {
			return 0, err
		}
		below, err := w.count(childID, depth+1)
		if err != nil {
			return 0, err
		}
		total += 1 + below
	}
	return total, nil
}

func (w *walk) leg(child *models.Member) (int, error) {
	if err := w.visit(child.MemberID); err != nil {
		return 0, err
	}
	below, err := w.count(child.MemberID, 1)
	if err != nil {
		return 0, err
	}
	return 1 + below, nil
}

func (w *walk) team(sponsorID string, level, maxLevel int, out *[]TeamMember) error {
	if level > maxLevel {
		if !w.strict {
			return nil
		}
		below, err := w.children(sponsorID)
		if err != nil {
			return err
		}
		if len(below) > 0 {
			return fmt.Errorf("%w: %s has members below level %d", ErrDepthExceeded, sponsorID, maxLevel)
		}
		return nil
	}

	children, err := w.children(sponsorID)
	if err != nil {
		return err
	}

	for i := range children {
		child := &children[i]
		if err := w.visit(child.MemberID); err != nil {
			return err
		}
		*out = append(*out, TeamMember{
			Member:      *child,
			Level:       level,
			Status:      child.StatusLabel(),
			JoiningDate: child.DateOfJoining.Format(joiningDateLayout),
		})
		if err := w.team(child.MemberID, level+1, maxLevel, out); err != nil {
			return err
		}
	}
	return nil
}

func (w *walk) branch(node *TreeNode, remaining int) error {
	if remaining == 0 {
		return nil
	}

	children, err := w.children(node.MemberID)
	if err != nil {
		return err
	}

	left, right, dropped := partition(children)
	if dropped > 0 {
		w.r.metrics.observeDropped(dropped)
		w.r.logger.Warn("binary tree: children without a free slot dropped",
			"sponsor", node.MemberID, "dropped", dropped)
	}

	for _, child := range []*models.Member{left, right} {
		if child == nil {
			continue
		}
		if err := w.visit(child.MemberID); err != nil {
			return err
		}
		childNode := newTreeNode(child, node.Level+1)
		node.Children = append(node.Children, childNode)
		if err := w.branch(childNode, remaining-1); err != nil {
			return err
		}
	}
	return nil
}

// partition picks the first Left and first Right child in fetch order and
// reports how many other children were left out.
func partition(children []models.Member) (left, right *models.Member, dropped int) {
	for i := range children {
		child := &children[i]
		switch {
		case child.Position == models.PositionLeft && left == nil:
			left = child
		case child.Position == models.PositionRight && right == nil:
			right = child
		default:
			dropped++
		}
	}
	return left, right, dropped
}

func newTreeNode(m *models.Member, level int) *TreeNode {
	return &TreeNode{
		MemberID:      m.MemberID,
		Name:          m.Name,
		SponsorCode:   m.SponsorCode,
		Position:      m.Position,
		ActiveStatus:  m.ActiveStatus,
		Status:        m.StatusLabel(),
		DateOfJoining: m.DateOfJoining,
		Level:         level,
		Children:      []*TreeNode{},
	}
}

// IsCorruptTree reports whether err comes from a sponsor graph that is not a
// finite forest.
func IsCorruptTree(err error) bool {
	return errors.Is(err, ErrCycleDetected) || errors.Is(err, ErrDepthExceeded)
}
