// Package auth provides the ACL evaluator (spec.md §4.7) and the SASL
// mechanism registry for enhanced authentication (SPEC_FULL.md §4.3a).
// This replaces Pyr33x-goqtt/internal/auth/auth.go's single
// Authenticate(username, password) method: that file is a thin
// bcrypt-compare wrapper over one query, already absorbed into
// internal/store/user's ValidatePassword. What this package adds is
// the per-(user,topic,operation) rule evaluator the teacher never had.
package auth

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vogler75/monstermq/internal/model"
	"github.com/vogler75/monstermq/internal/store/user"
	"github.com/vogler75/monstermq/internal/topicindex"
)

// DefaultRefreshInterval is how often the evaluator's cache reloads a
// user's rule set from the store absent an explicit invalidation.
const DefaultRefreshInterval = 60 * time.Second

type cacheEntry struct {
	user     model.User
	found    bool
	rules    []model.AclRule
	loadedAt time.Time
}

// Evaluator is the in-memory-cached ACL decision engine described in
// spec.md §4.7. It is safe for concurrent use.
type Evaluator struct {
	store           user.Store
	refreshInterval time.Duration

	mu      sync.RWMutex
	cache   map[string]*cacheEntry
	changed chan string
}

func NewEvaluator(store user.Store, refreshInterval time.Duration) *Evaluator {
	if refreshInterval <= 0 {
		refreshInterval = DefaultRefreshInterval
	}
	return &Evaluator{
		store:           store,
		refreshInterval: refreshInterval,
		cache:           make(map[string]*cacheEntry),
		changed:         make(chan string, 64),
	}
}

// Changed returns a channel that receives a username every time
// Invalidate is called for it, for callers that want to react to ACL
// edits (e.g. re-checking already-installed subscriptions).
func (e *Evaluator) Changed() <-chan string {
	return e.changed
}

// Invalidate drops username's cached entry, forcing the next Allow
// call to reload from the store.
func (e *Evaluator) Invalidate(username string) {
	e.mu.Lock()
	delete(e.cache, username)
	e.mu.Unlock()
	select {
	case e.changed <- username:
	default:
	}
}

func (e *Evaluator) entry(ctx context.Context, username string) (*cacheEntry, error) {
	e.mu.RLock()
	ent, ok := e.cache[username]
	e.mu.RUnlock()
	if ok && time.Since(ent.loadedAt) < e.refreshInterval {
		return ent, nil
	}

	u, found, err := e.store.FindUser(ctx, username)
	if err != nil {
		return nil, err
	}
	var rules []model.AclRule
	if found {
		rules, err = e.store.ListAclRules(ctx, username)
		if err != nil {
			return nil, err
		}
		sort.SliceStable(rules, func(i, j int) bool { return rules[i].Priority > rules[j].Priority })
	}

	ent = &cacheEntry{rules: rules, found: found, loadedAt: time.Now()}
	if found {
		ent.user = *u
	}
	e.mu.Lock()
	e.cache[username] = ent
	e.mu.Unlock()
	return ent, nil
}

// Allow evaluates the five-step decision procedure from spec.md §4.7
// for (username, topic, operation). An unknown username is denied
// (step 2's "disabled" branch, by construction: an absent user has no
// global flag to fall back on).
func (e *Evaluator) Allow(ctx context.Context, username, topic string, op model.Operation) (bool, error) {
	ent, err := e.entry(ctx, username)
	if err != nil {
		return false, err
	}
	if !ent.found {
		return false, nil
	}
	if ent.user.IsAdmin {
		return true, nil
	}
	if !ent.user.Enabled {
		return false, nil
	}
	for _, rule := range ent.rules {
		if topicindex.TopicMatches(rule.FilterPattern, topic) {
			return rule.Allows(op), nil
		}
	}
	if op == model.OpSubscribe {
		return ent.user.GlobalSubscribe, nil
	}
	return ent.user.GlobalPublish, nil
}
