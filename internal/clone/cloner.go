// Package clone produces independent copies of collection elements when a
// record collection is copied. Cloning is best effort: an element whose type
// has no copy capability, or whose copy fails, is shared with the copy
// instead.
package clone

import (
	"fmt"
	"reflect"
	"sync"

	"recordpatch/internal/patcherr"
)

// CopyFunc returns an independent copy of v, whose dynamic type is the type
// the function was registered or discovered for.
type CopyFunc func(v any) any

// Cloner copies elements using per-type copy functions. Lookups are cached
// for the lifetime of the Cloner, including negative results.
type Cloner struct {
	mu       sync.RWMutex
	cache    map[reflect.Type]CopyFunc // nil value: type has no copy capability
	registry map[reflect.Type]CopyFunc

	probe func(reflect.Type) CopyFunc
	// OnFailure, when set, observes copies that panicked. It never changes
	// the outcome.
	OnFailure func(error)
}

// New returns an empty Cloner.
func New() *Cloner {
	c := &Cloner{
		cache:    map[reflect.Type]CopyFunc{},
		registry: map[reflect.Type]CopyFunc{},
	}
	c.probe = c.discover
	return c
}

var shared = New()

// Shared returns the process-wide Cloner.
func Shared() *Cloner { return shared }

// Register installs an explicit copy function for T. It takes precedence
// over a discovered Clone method and must be called before the first copy of
// a T.
func Register[T any](c *Cloner, fn func(T) T) {
	if c == nil || fn == nil {
		return
	}
	t := reflect.TypeFor[T]()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.registry[t] = func(v any) any { return fn(v.(T)) }
}

// TryClone returns a copy of v when its type can be copied, and v otherwise.
// Nil values are returned unchanged.
func (c *Cloner) TryClone(v any) any {
	if c == nil || isNil(v) {
		return v
	}
	fn := c.lookup(reflect.TypeOf(v))
	if fn == nil {
		return v
	}
	out, ok := c.invoke(fn, v)
	if !ok || isNil(out) {
		return v
	}
	return out
}

// TryCloneOf is the typed form of TryClone.
func TryCloneOf[T any](c *Cloner, v T) T {
	out, ok := c.TryClone(v).(T)
	if !ok {
		return v
	}
	return out
}

// lookup returns the cached copy function for t, discovering it on first
// use. Concurrent first lookups may both probe, but only one result is kept.
func (c *Cloner) lookup(t reflect.Type) CopyFunc {
	c.mu.RLock()
	fn, ok := c.cache[t]
	c.mu.RUnlock()
	if ok {
		return fn
	}

	found := c.probe(t)

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.cache[t]; ok {
		return existing
	}
	c.cache[t] = found
	return found
}

func (c *Cloner) invoke(fn CopyFunc, v any) (out any, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			if c.OnFailure != nil {
				c.OnFailure(patcherr.New(patcherr.KindCloneProbe, "clone", "copying %T: %v", v, r))
			}
			out, ok = nil, false
		}
	}()
	return fn(v), true
}

// discover finds a copy capability for t: a registered function, or else a
// method Clone() t in t's method set.
func (c *Cloner) discover(t reflect.Type) CopyFunc {
	c.mu.RLock()
	fn, ok := c.registry[t]
	c.mu.RUnlock()
	if ok {
		return fn
	}
	if m, ok := t.MethodByName("Clone"); ok && isSelfCopy(m.Type, t) {
		return func(v any) any {
			return m.Func.Call([]reflect.Value{reflect.ValueOf(v)})[0].Interface()
		}
	}
	return nil
}

// isSelfCopy reports whether mt is func(recv) recv.
func isSelfCopy(mt reflect.Type, recv reflect.Type) bool {
	return mt.NumIn() == 1 && mt.NumOut() == 1 && mt.Out(0) == recv && !mt.IsVariadic()
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}

// String is a debugging aid listing the cache size.
func (c *Cloner) String() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return fmt.Sprintf("clone.Cloner{cached: %d, registered: %d}", len(c.cache), len(c.registry))
}
