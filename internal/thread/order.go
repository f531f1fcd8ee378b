// Package thread orders posts within a conversation and assigns their
// positions.
package thread

import (
	"sort"
	"strconv"

	"github.com/scripe/tweetsync/internal/models"
)

// Less orders posts by creation time. Equal or unknown (zero) timestamps
// fall back to the post ids compared as unsigned 64-bit integers, which
// follow creation order for snowflake ids.
func Less(a, b *models.Post) bool {
	if !a.CreatedAt.IsZero() && !b.CreatedAt.IsZero() && !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return lessID(a.ID, b.ID)
}

func lessID(a, b string) bool {
	na, errA := strconv.ParseUint(a, 10, 64)
	nb, errB := strconv.ParseUint(b, 10, 64)
	if errA == nil && errB == nil {
		return na < nb
	}
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	return a < b
}

// Sort orders posts chronologically in place.
func Sort(posts []*models.Post) {
	sort.SliceStable(posts, func(i, j int) bool {
		return Less(posts[i], posts[j])
	})
}

// Order sorts one thread chronologically and assigns every post its index,
// root flag and category.
func Order(group []*models.Post) {
	Sort(group)
	for i, p := range group {
		p.SetThreadPosition(i)
		p.Category = category(p, len(group))
	}
}

// Arrange groups posts by thread id in order of first appearance, orders
// each group, and returns the groups followed by the posts that belong to no
// thread, in their original order.
func Arrange(posts []*models.Post) []*models.Post {
	groups := make(map[string][]*models.Post)
	var order []string
	var loose []*models.Post

	for _, p := range posts {
		if p.ThreadID == "" {
			p.Category = category(p, 1)
			loose = append(loose, p)
			continue
		}
		if _, ok := groups[p.ThreadID]; !ok {
			order = append(order, p.ThreadID)
		}
		groups[p.ThreadID] = append(groups[p.ThreadID], p)
	}

	out := make([]*models.Post, 0, len(posts))
	for _, id := range order {
		group := groups[id]
		Order(group)
		out = append(out, group...)
	}
	return append(out, loose...)
}

func category(p *models.Post, groupSize int) models.Category {
	switch {
	case groupSize > 1:
		return models.CategoryThread
	case p.IsLong:
		return models.CategoryLong
	}
	return models.CategoryNormal
}
