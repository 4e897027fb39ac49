package types

// NamespaceKind classifies what a namespace carries.
type NamespaceKind string

const (
	// KindFunctional marks operational data (live process values).
	KindFunctional NamespaceKind = "functional"
	// KindInformative marks reference data.
	KindInformative NamespaceKind = "informative"
	// KindDefinitional marks master data.
	KindDefinitional NamespaceKind = "definitional"
	// KindAdHoc marks experimental, unreviewed namespaces.
	KindAdHoc NamespaceKind = "adhoc"
)

// AnchorEntry is one levelName→instanceName pair of a namespace anchor.
// The anchor is ordered, so it is a slice rather than a map.
type AnchorEntry struct {
	LevelName    string `json:"level_name"`
	InstanceName string `json:"instance_name"`
}

// Namespace is a classifier attached at some point in the instance tree.
// (Name, Anchor) is unique across all namespaces.
type Namespace struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Kind        NamespaceKind `json:"kind"`
	Description string        `json:"description,omitempty"`
	Anchor      []AnchorEntry `json:"anchor,omitempty"`
	ParentID    string        `json:"parent_id,omitempty"` // parent namespace, if nested
	Active      bool          `json:"active"`
}

// AnchorKey returns a canonical string for the (name, anchor) uniqueness
// check: name plus the ordered anchor pairs.
func (n *Namespace) AnchorKey() string {
	key := n.Name
	for _, e := range n.Anchor {
		key += "|" + e.LevelName + "=" + e.InstanceName
	}
	return key
}

// NodeKind discriminates the two node flavors of the composed UNS tree.
type NodeKind string

const (
	NodeHierarchyInstance NodeKind = "hierarchy_instance"
	NodeNamespace         NodeKind = "namespace"
)

// NSTreeNode is a union node in the composed UNS tree: either a hierarchy
// instance or a namespace. Derived state; recomputed from the authoritative
// configuration, never persisted.
type NSTreeNode struct {
	Kind     NodeKind      `json:"kind"`
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	FullPath string        `json:"full_path"` // slash-joined ancestor names from root
	Children []*NSTreeNode `json:"children,omitempty"`

	// Exactly one of these is set, matching Kind.
	Instance  *HierarchyInstance `json:"instance,omitempty"`
	Namespace *Namespace         `json:"namespace,omitempty"`
}

// IsBindingTarget reports whether data may be attached to this node.
// Only namespace-terminated paths are valid binding targets.
func (n *NSTreeNode) IsBindingTarget() bool {
	return n.Kind == NodeNamespace
}
