package simgpu

import (
	"sync"
)

// ResourceLog records the order in which objects are destroyed.
type ResourceLog struct {
	mu        sync.Mutex
	destroyed []string
}

func (l *ResourceLog) Destroyed() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.destroyed))
	copy(out, l.destroyed)
	return out
}

func (l *ResourceLog) record(name string) {
	l.mu.Lock()
	l.destroyed = append(l.destroyed, name)
	l.mu.Unlock()
}

// Object is a fake GPU object that can be put in a delete list. It counts how
// often it was destroyed and, when it has a log, where in the order.
type Object struct {
	Name string

	log     *ResourceLog
	size    uint64
	mu      sync.Mutex
	destroy int
}

func NewObject(log *ResourceLog, name string, size uint64) *Object {
	return &Object{Name: name, log: log, size: size}
}

func (o *Object) Size() uint64 {
	return o.size
}

func (o *Object) Destroy() {
	o.mu.Lock()
	o.destroy++
	o.mu.Unlock()
	if o.log != nil {
		o.log.record(o.Name)
	}
}

// Destroys is the number of times Destroy was called.
func (o *Object) Destroys() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.destroy
}

func (o *Object) Destroyed() bool {
	return o.Destroys() > 0
}
