package reactor

// Hooks is the capability set spec §9 asks for in place of a class
// hierarchy: every concrete notifier (Bytestream, Listener, Timer, and
// workerpool.Pool, whose worker pipes are Bytestreams) implements it and is
// installed as the embedding Notifier's self reference, giving the base
// type a way to reach its concrete behavior without Go-style virtual
// dispatch. Exported so notifiers defined outside this package (e.g.
// workerpool.Pool) can embed Notifier too.
type Hooks interface {
	// Configure validates that required callbacks/descriptors are set,
	// returning a *ConfigError if not. Called once, by Attach, before any
	// state changes.
	Configure() error
	// AttachIO registers the concrete type's fd interest with r.
	AttachIO(r *Reactor)
	// DetachIO unregisters any fd interest previously registered with r.
	DetachIO(r *Reactor)
}

// Notifier is the composable handler embedded by every attachable object in
// a reactor tree (spec §3/§4.4). Parent links are weak: the children slice
// is what keeps a subtree alive, the parent pointer is never traversed for
// ownership and is only used to reject a second AddChild.
type Notifier struct {
	self     Hooks
	reactor  *Reactor
	parent   *Notifier
	children []*Notifier
	attached bool
}

// InitNotifier wires the base Notifier to its concrete owner. Concrete
// constructors must call this before returning self (or anything
// embedding it) to callers.
func InitNotifier(n *Notifier, self Hooks) {
	n.self = self
}

// Reactor returns the reactor this notifier is attached to, or nil.
func (n *Notifier) Reactor() *Reactor { return n.reactor }

// Attached reports whether the notifier is currently attached.
func (n *Notifier) Attached() bool { return n.attached }

// Parent returns the parent notifier, or nil if this is a root or
// unparented notifier.
func (n *Notifier) Parent() *Notifier { return n.parent }

// Children returns a snapshot slice of the current children. Callers must
// not mutate it.
func (n *Notifier) Children() []*Notifier { return n.children }

// Attach attaches n (and recursively, its children) to r. Per spec §4.4, an
// already-attached notifier refuses with ErrAlreadyAttached, and a notifier
// whose required callbacks are undefined refuses with the *ConfigError its
// Configure returned, wrapped in a *CallbackError (errors.As still finds
// the *ConfigError) — neither mutates any state.
func (n *Notifier) Attach(r *Reactor) error {
	if n.attached {
		return ErrAlreadyAttached
	}
	// Configure is arbitrary Hooks-implementer code (not just this package's
	// own notifier types — workerpool.Pool and any other external embedder
	// runs here too), so a panic is recovered the same way a callback panic
	// is anywhere else in the tree, rather than crashing the caller of
	// Attach outright.
	if err := safeExecuteErr(n.self.Configure); err != nil {
		return err
	}
	attached := make([]*Notifier, 0, len(n.children))
	for _, c := range n.children {
		if err := c.Attach(r); err != nil {
			for _, a := range attached {
				a.Detach()
			}
			return err
		}
		attached = append(attached, c)
	}
	n.reactor = r
	n.attached = true
	n.self.AttachIO(r)
	return nil
}

// Detach recursively detaches children, unregisters fd interest, then marks
// n itself detached.
func (n *Notifier) Detach() {
	if !n.attached {
		return
	}
	for _, c := range n.children {
		c.Detach()
	}
	n.self.DetachIO(n.reactor)
	n.attached = false
	n.reactor = nil
}

// AddChild links child under n, requiring child be both detached and
// parentless. If n is attached, child (and its own subtree) is attached to
// the same reactor; a configuration/state error from that attach leaves the
// link un-made.
func (n *Notifier) AddChild(child *Notifier) error {
	if child.parent != nil {
		return ErrHasParent
	}
	if child.attached {
		return ErrAlreadyAttached
	}
	if n.attached {
		if err := child.Attach(n.reactor); err != nil {
			return err
		}
	}
	child.parent = n
	n.children = append(n.children, child)
	return nil
}

// RemoveChild detaches child (if attached) and unlinks it from n. Returns
// ErrNotChild if child does not belong to n.
func (n *Notifier) RemoveChild(child *Notifier) error {
	idx := -1
	for i, c := range n.children {
		if c == child {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ErrNotChild
	}
	child.Detach()
	n.children = append(n.children[:idx:idx], n.children[idx+1:]...)
	child.parent = nil
	return nil
}
