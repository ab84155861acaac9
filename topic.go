package treebus

// Direction controls where a published message propagates beyond the bus it
// was published on.
type Direction int

const (
	// DirectionChildren broadcasts the message through the whole subtree of
	// child buses before the publishing bus delivers it locally.
	DirectionChildren Direction = iota

	// DirectionParent forwards the message one hop to the parent bus, if the
	// parent is still alive. It does not travel further up the tree.
	DirectionParent
)

// String returns a human-readable name for the direction.
func (d Direction) String() string {
	switch d {
	case DirectionChildren:
		return "children"
	case DirectionParent:
		return "parent"
	default:
		return "unknown"
	}
}

// AnyTopic is the type-erased view of a topic as it appears in listeners,
// errors, and stats. Only values created by NewTopic implement it.
type AnyTopic interface {
	// Name returns the display name given at creation.
	Name() string

	// Direction returns where messages on this topic propagate.
	Direction() Direction

	sealedTopic()
}

// Topic identifies a message kind and binds its payload type T at compile
// time. Identity is pointer identity: two topics created with the same name
// are distinct, and the name serves logging only. Topics are immutable and
// safe for concurrent use from any goroutine.
//
// Declare topics as package-level variables shared by publishers and
// subscribers:
//
//	var UserCreated = treebus.NewTopic[User]("user.created", treebus.DirectionChildren)
type Topic[T any] struct {
	name      string
	direction Direction
}

// NewTopic creates a topic carrying payloads of type T. The name appears in
// logs and error messages; it does not affect routing.
func NewTopic[T any](name string, direction Direction) *Topic[T] {
	return &Topic[T]{name: name, direction: direction}
}

// Name returns the display name given at creation.
func (t *Topic[T]) Name() string { return t.name }

// Direction returns where messages on this topic propagate.
func (t *Topic[T]) Direction() Direction { return t.direction }

func (t *Topic[T]) sealedTopic() {}
