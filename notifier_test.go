package reactor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeHooks is a minimal Hooks implementation for exercising Notifier's tree
// bookkeeping without a real backend-backed Reactor.
type fakeHooks struct {
	n            Notifier
	configureErr error
	attached     int
	detached     int
}

func newFakeHooks() *fakeHooks {
	f := &fakeHooks{}
	InitNotifier(&f.n, f)
	return f
}

func (f *fakeHooks) Configure() error { return f.configureErr }
func (f *fakeHooks) AttachIO(r *Reactor) { f.attached++ }
func (f *fakeHooks) DetachIO(r *Reactor) { f.detached++ }

func TestNotifierAttachDetachLifecycle(t *testing.T) {
	f := newFakeHooks()
	assert.False(t, f.n.Attached())

	r := &Reactor{}
	require.NoError(t, f.n.Attach(r))
	assert.True(t, f.n.Attached())
	assert.Equal(t, 1, f.attached)
	assert.Same(t, r, f.n.Reactor())

	assert.ErrorIs(t, f.n.Attach(r), ErrAlreadyAttached)

	f.n.Detach()
	assert.False(t, f.n.Attached())
	assert.Equal(t, 1, f.detached)
	assert.Nil(t, f.n.Reactor())

	// Detach is idempotent.
	f.n.Detach()
	assert.Equal(t, 1, f.detached)
}

func TestNotifierAttachPropagatesConfigError(t *testing.T) {
	f := newFakeHooks()
	f.configureErr = NewConfigError("test", assert.AnError)

	err := f.n.Attach(&Reactor{})
	var cfgErr *ConfigError
	assert.ErrorAs(t, err, &cfgErr)
	assert.False(t, f.n.Attached())
	assert.Equal(t, 0, f.attached)
}

func TestNotifierAddChildAttachesWhenParentAttached(t *testing.T) {
	parent := newFakeHooks()
	child := newFakeHooks()

	r := &Reactor{}
	require.NoError(t, parent.n.Attach(r))
	require.NoError(t, parent.n.AddChild(&child.n))

	assert.True(t, child.n.Attached())
	assert.Equal(t, 1, child.attached)
	assert.Same(t, &parent.n, child.n.Parent())
	assert.Equal(t, []*Notifier{&child.n}, parent.n.Children())
}

func TestNotifierAddChildRejectsExistingParent(t *testing.T) {
	parentA := newFakeHooks()
	parentB := newFakeHooks()
	child := newFakeHooks()

	require.NoError(t, parentA.n.AddChild(&child.n))
	assert.ErrorIs(t, parentB.n.AddChild(&child.n), ErrHasParent)
}

func TestNotifierAddChildRollsBackOnSiblingFailure(t *testing.T) {
	parent := newFakeHooks()
	good := newFakeHooks()
	bad := newFakeHooks()
	bad.configureErr = NewConfigError("bad", assert.AnError)

	require.NoError(t, parent.n.AddChild(&good.n))
	require.NoError(t, parent.n.AddChild(&bad.n))

	r := &Reactor{}
	err := parent.n.Attach(r)
	assert.Error(t, err)
	assert.False(t, parent.n.Attached())
	assert.False(t, good.n.Attached(), "sibling attached before the failing child must roll back")
	assert.Equal(t, 1, good.detached)
}

func TestNotifierRemoveChildDetachesAndUnlinks(t *testing.T) {
	parent := newFakeHooks()
	child := newFakeHooks()
	require.NoError(t, parent.n.AddChild(&child.n))
	require.NoError(t, parent.n.Attach(&Reactor{}))
	require.True(t, child.n.Attached())

	require.NoError(t, parent.n.RemoveChild(&child.n))
	assert.False(t, child.n.Attached())
	assert.Nil(t, child.n.Parent())
	assert.Empty(t, parent.n.Children())
}

func TestNotifierRemoveChildRejectsNonChild(t *testing.T) {
	parent := newFakeHooks()
	stranger := newFakeHooks()
	assert.ErrorIs(t, parent.n.RemoveChild(&stranger.n), ErrNotChild)
}

func TestNotifierDetachRecursesToChildren(t *testing.T) {
	parent := newFakeHooks()
	child := newFakeHooks()
	grandchild := newFakeHooks()
	require.NoError(t, child.n.AddChild(&grandchild.n))
	require.NoError(t, parent.n.AddChild(&child.n))
	require.NoError(t, parent.n.Attach(&Reactor{}))

	parent.n.Detach()
	assert.False(t, child.n.Attached())
	assert.False(t, grandchild.n.Attached())
	assert.Equal(t, 1, grandchild.detached)
}
