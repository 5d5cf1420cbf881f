// Package feed turns live post and comment queries into render-ready items.
//
// A ViewModel follows the post stream, fans out one profile subscription per
// distinct author and checks the viewer's own likes once per post. Each of
// those streams writes its own part of the state, so deliveries may
// interleave in any order.
package feed

import (
	"context"
	"log/slog"
	"sync"

	"keepto/internal/docstore"
	"keepto/internal/models"
	"keepto/internal/observability"
	"keepto/internal/subscription"
)

// Item is a post as the viewer should see it.
type Item struct {
	models.Post
	Liked bool `json:"liked"`
}

// Deps are the collaborators of a ViewModel.
type Deps struct {
	Subs   *subscription.Manager
	Store  docstore.Store
	Logger *slog.Logger
	// Viewer is the uid whose like-state is shown. Empty means signed out.
	Viewer string
	// Limit caps the number of posts; zero means no cap.
	Limit int
}

// ViewModel is the live feed of one viewer.
type ViewModel struct {
	ctx      context.Context
	subs     *subscription.Manager
	store    docstore.Store
	logger   *slog.Logger
	viewer   string
	limit    int
	onChange func([]Item)

	posts   subscription.Keyed
	authors *authors

	mu      sync.Mutex
	gen     uint64
	list    []models.Post
	likes   map[string]bool
	checked map[string]bool
	touched map[string]bool

	notifyMu sync.Mutex
}

// New creates a feed. Nothing is subscribed until Show is called. onChange
// receives the full item list after every change and must not block.
func New(ctx context.Context, d Deps, onChange func([]Item)) *ViewModel {
	if onChange == nil {
		onChange = func([]Item) {}
	}
	vm := &ViewModel{
		ctx:      ctx,
		subs:     d.Subs,
		store:    d.Store,
		logger:   observability.Component(d.Logger, "feed"),
		viewer:   d.Viewer,
		limit:    d.Limit,
		onChange: onChange,
		likes:    make(map[string]bool),
		checked:  make(map[string]bool),
		touched:  make(map[string]bool),
	}
	vm.authors = newAuthors(ctx, d.Subs, vm.notify)
	return vm
}

// Show points the feed at one author's posts, or at every post when
// authorUID is empty. Showing the current subject again is a no-op.
func (vm *ViewModel) Show(authorUID string) {
	q := docstore.Query{
		Collection: models.PostsCollection,
		OrderBy:    "createdAt",
		Desc:       true,
		Limit:      vm.limit,
	}
	key := "all"
	if authorUID != "" {
		q.Filters = []docstore.Filter{{Field: "userId", Op: docstore.OpEqual, Value: authorUID}}
		key = "author:" + authorUID
	}

	vm.posts.Switch(key, func() *subscription.Handle {
		vm.mu.Lock()
		vm.gen++
		gen := vm.gen
		vm.list = nil
		vm.mu.Unlock()

		return vm.subs.Query(vm.ctx, q,
			func(docs []docstore.Snapshot) { vm.onPosts(gen, docs) },
			func(err error) { vm.onPostsError(gen, err) },
		)
	})
}

func (vm *ViewModel) onPosts(gen uint64, docs []docstore.Snapshot) {
	list := make([]models.Post, len(docs))
	uids := make([]string, len(docs))
	for i, d := range docs {
		list[i] = models.PostFromSnapshot(d)
		uids[i] = list[i].UserID
	}

	vm.mu.Lock()
	if gen != vm.gen {
		vm.mu.Unlock()
		return
	}
	vm.list = list
	var unchecked []string
	if vm.viewer != "" {
		for _, p := range list {
			if !vm.checked[p.ID] {
				vm.checked[p.ID] = true
				unchecked = append(unchecked, p.ID)
			}
		}
	}
	vm.mu.Unlock()

	vm.authors.reconcile(distinct(uids))
	vm.notify()

	if len(unchecked) > 0 {
		vm.checkLikes(unchecked, false)
	}
}

func (vm *ViewModel) onPostsError(gen uint64, err error) {
	vm.mu.Lock()
	if gen != vm.gen {
		vm.mu.Unlock()
		return
	}
	vm.list = nil
	vm.mu.Unlock()

	vm.logger.WarnContext(vm.ctx, "feed query failed, showing empty feed", slog.String("error", err.Error()))
	vm.authors.reconcile(nil)
	vm.notify()
}

// checkLikes reads the viewer's like records for postIDs in one batch. When
// force is false, posts the viewer has interacted with since are left alone.
func (vm *ViewModel) checkLikes(postIDs []string, force bool) {
	paths := make([]string, len(postIDs))
	for i, id := range postIDs {
		paths[i] = models.LikePath(id, vm.viewer)
	}
	snaps, err := vm.store.GetAll(vm.ctx, paths)
	if err != nil {
		vm.logger.WarnContext(vm.ctx, "like check failed",
			slog.Int("posts", len(postIDs)),
			slog.String("error", err.Error()),
		)
		vm.mu.Lock()
		for _, id := range postIDs {
			delete(vm.checked, id)
		}
		vm.mu.Unlock()
		return
	}

	vm.mu.Lock()
	for i, id := range postIDs {
		if !force && vm.touched[id] {
			continue
		}
		vm.likes[id] = snaps[i].Exists
		if force {
			delete(vm.touched, id)
		}
	}
	vm.mu.Unlock()
	vm.notify()
}

// RefreshLikes re-reads the viewer's like state for postIDs, or for every
// loaded post when none are given.
func (vm *ViewModel) RefreshLikes(postIDs ...string) {
	if vm.viewer == "" {
		return
	}
	if len(postIDs) == 0 {
		vm.mu.Lock()
		for _, p := range vm.list {
			postIDs = append(postIDs, p.ID)
		}
		vm.mu.Unlock()
	}
	if len(postIDs) > 0 {
		vm.checkLikes(postIDs, true)
	}
}

// Liked reports the viewer's like-state for postID.
func (vm *ViewModel) Liked(postID string) bool {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.likes[postID]
}

// SetLiked records a local like-state change made by the viewer.
func (vm *ViewModel) SetLiked(postID string, liked bool) {
	vm.mu.Lock()
	vm.likes[postID] = liked
	vm.touched[postID] = true
	vm.mu.Unlock()
	vm.notify()
}

// Items returns the current render-ready list, newest first.
func (vm *ViewModel) Items() []Item {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	items := make([]Item, len(vm.list))
	for i, p := range vm.list {
		p.AuthorName, p.AuthorPhoto = vm.authors.resolve(p.UserID, p.AuthorName, p.AuthorPhoto)
		items[i] = Item{Post: p, Liked: vm.likes[p.ID]}
	}
	return items
}

// Authors returns the uids with a live profile subscription.
func (vm *ViewModel) Authors() []string {
	return vm.authors.set.Keys()
}

func (vm *ViewModel) notify() {
	vm.notifyMu.Lock()
	defer vm.notifyMu.Unlock()
	vm.onChange(vm.Items())
}

// Close releases every subscription the feed holds.
func (vm *ViewModel) Close() {
	vm.mu.Lock()
	vm.gen++
	vm.mu.Unlock()
	vm.posts.Close()
	vm.authors.close()
}
