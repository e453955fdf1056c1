package templates

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Options tunes either store.
type Options struct {
	// Defaults seed new storage; nil selects DefaultTemplates, an empty map seeds nothing.
	Defaults map[string]string
	Now      func() time.Time
	Logger   *zerolog.Logger
}

func (o Options) withDefaults() Options {
	if o.Defaults == nil {
		o.Defaults = DefaultTemplates
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Logger == nil {
		l := zerolog.Nop()
		o.Logger = &l
	}
	return o
}

// view is the in-memory copy every read is served from.
type view struct {
	mu    sync.RWMutex
	items map[string]Template
}

func (v *view) get(name string) (Template, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	t, ok := v.items[name]
	return t, ok
}

func (v *view) list() []Template {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return sortedList(v.items)
}

func (v *view) put(t Template) {
	v.mu.Lock()
	if v.items == nil {
		v.items = make(map[string]Template)
	}
	v.items[t.Name] = t
	v.mu.Unlock()
}

func (v *view) remove(names []string) {
	v.mu.Lock()
	for _, n := range names {
		delete(v.items, n)
	}
	v.mu.Unlock()
}

func (v *view) replace(items map[string]Template) int {
	v.mu.Lock()
	v.items = items
	v.mu.Unlock()
	return len(items)
}

func (v *view) clear() int {
	v.mu.Lock()
	n := len(v.items)
	v.items = make(map[string]Template)
	v.mu.Unlock()
	return n
}
