package feed

import (
	"context"
	"sync"

	"keepto/internal/docstore"
	"keepto/internal/models"
	"keepto/internal/subscription"
)

// authors keeps one live profile subscription per distinct author on screen.
type authors struct {
	set *subscription.Set

	mu       sync.Mutex
	profiles map[string]models.Profile
}

func newAuthors(ctx context.Context, subs *subscription.Manager, onChange func()) *authors {
	a := &authors{profiles: make(map[string]models.Profile)}
	a.set = subscription.NewSet(func(uid string) *subscription.Handle {
		return subs.Document(ctx, models.ProfilePath(uid),
			func(snap docstore.Snapshot) {
				a.mu.Lock()
				if snap.Exists {
					a.profiles[uid] = models.ProfileFromSnapshot(snap)
				} else {
					delete(a.profiles, uid)
				}
				a.mu.Unlock()
				onChange()
			},
			nil,
		)
	})
	return a
}

// reconcile follows exactly the given uids.
func (a *authors) reconcile(uids []string) {
	_, closed := a.set.Reconcile(uids)
	if len(closed) == 0 {
		return
	}
	a.mu.Lock()
	for _, uid := range closed {
		delete(a.profiles, uid)
	}
	a.mu.Unlock()
}

// resolve prefers the live profile over the copy stored on the content.
func (a *authors) resolve(uid, name, photo string) (string, string) {
	a.mu.Lock()
	p, ok := a.profiles[uid]
	a.mu.Unlock()
	if !ok {
		return name, photo
	}
	if p.DisplayName != "" {
		name = p.DisplayName
	}
	return name, p.Photo()
}

func (a *authors) close() {
	a.reconcile(nil)
}

func distinct(uids []string) []string {
	seen := make(map[string]struct{}, len(uids))
	out := make([]string, 0, len(uids))
	for _, uid := range uids {
		if _, ok := seen[uid]; ok || uid == "" {
			continue
		}
		seen[uid] = struct{}{}
		out = append(out, uid)
	}
	return out
}
