// Package network holds a whole distribution network: every identified object
// in one registry, the conducting equipment, and the connectivity nodes the
// equipment terminals are plugged into. The network is the only strong owner
// of its connectivity nodes.
package network

import (
	"iter"
	"maps"
	"slices"
	"sync"

	"github.com/ohowland/cgc_cim/internal/pkg/cim"
	"github.com/ohowland/cgc_cim/internal/pkg/cimerr"
	"github.com/ohowland/cgc_cim/internal/pkg/identity"
	"github.com/ohowland/cgc_cim/internal/pkg/metrics"
)

// Network is an equipment container.
type Network struct {
	mux       *sync.RWMutex
	registry  *identity.Registry
	equipment map[string]cim.Equipment
	nodes     map[string]*cim.ConnectivityNode
	store     *metrics.Store
}

// Summary counts the contents of a network.
type Summary struct {
	Objects           int `json:"Objects"`
	Equipment         int `json:"Equipment"`
	ConnectivityNodes int `json:"ConnectivityNodes"`
	Terminals         int `json:"Terminals"`
}

// New returns an empty network. A nil store is replaced with a store using the
// default bucket duration.
func New(store *metrics.Store) *Network {
	if store == nil {
		store = metrics.NewDefaultStore()
	}
	return &Network{
		mux:       &sync.RWMutex{},
		registry:  identity.NewRegistry(),
		equipment: make(map[string]cim.Equipment),
		nodes:     make(map[string]*cim.ConnectivityNode),
		store:     store,
	}
}

// Registry returns the identity registry of the network.
func (n *Network) Registry() *identity.Registry {
	return n.registry
}

// Metrics returns the metrics store attached to the network.
func (n *Network) Metrics() *metrics.Store {
	return n.store
}

// Add registers obj. Equipment is also recorded as network equipment, and its
// terminals and transformer ends are registered with it. Either everything is
// registered or, on a duplicate identifier, nothing is.
func (n *Network) Add(obj identity.IdentifiedObject) error {
	n.mux.Lock()
	defer n.mux.Unlock()

	if node, ok := obj.(*cim.ConnectivityNode); ok {
		return n.addNodeLocked(node)
	}

	objs := []identity.IdentifiedObject{obj}
	eq, isEquipment := obj.(cim.Equipment)
	if isEquipment {
		for _, t := range eq.Conducting().Terminals() {
			objs = append(objs, t)
		}
		if pt, ok := eq.(*cim.PowerTransformer); ok {
			for _, end := range pt.Ends() {
				objs = append(objs, end)
			}
		}
	}

	if err := n.registerAll(objs); err != nil {
		return err
	}
	if isEquipment {
		n.equipment[eq.MRID()] = eq
	}
	return nil
}

func (n *Network) registerAll(objs []identity.IdentifiedObject) error {
	seen := make(map[string]struct{}, len(objs))
	for _, o := range objs {
		if _, dup := seen[o.MRID()]; dup || n.registry.Contains(o.MRID()) {
			return cimerr.DuplicateIdentifierError{MRID: o.MRID()}
		}
		seen[o.MRID()] = struct{}{}
	}
	for i, o := range objs {
		if err := n.registry.Register(o); err != nil {
			for _, done := range objs[:i] {
				_ = n.registry.Remove(done.MRID())
			}
			return err
		}
	}
	return nil
}

// Lookup returns the object registered under mrid.
func (n *Network) Lookup(mrid string) (identity.IdentifiedObject, error) {
	return n.registry.Lookup(mrid)
}

// Equipment returns the equipment identified by mrid.
func (n *Network) Equipment(mrid string) (cim.Equipment, error) {
	n.mux.RLock()
	defer n.mux.RUnlock()
	eq, ok := n.equipment[mrid]
	if !ok {
		return nil, cimerr.NotFoundError{Kind: "Equipment", Key: mrid}
	}
	return eq, nil
}

// AllEquipment yields the network equipment ordered by mRID.
func (n *Network) AllEquipment() iter.Seq[cim.Equipment] {
	n.mux.RLock()
	ids := slices.Sorted(maps.Keys(n.equipment))
	n.mux.RUnlock()

	return func(yield func(cim.Equipment) bool) {
		for _, id := range ids {
			n.mux.RLock()
			eq, ok := n.equipment[id]
			n.mux.RUnlock()
			if ok && !yield(eq) {
				return
			}
		}
	}
}

// AddConnectivityNode registers node and takes ownership of it.
func (n *Network) AddConnectivityNode(node *cim.ConnectivityNode) error {
	n.mux.Lock()
	defer n.mux.Unlock()
	return n.addNodeLocked(node)
}

func (n *Network) addNodeLocked(node *cim.ConnectivityNode) error {
	if err := n.registry.Register(node); err != nil {
		return err
	}
	n.nodes[node.MRID()] = node
	return nil
}

// ConnectivityNode returns the node identified by mrid.
func (n *Network) ConnectivityNode(mrid string) (*cim.ConnectivityNode, error) {
	n.mux.RLock()
	defer n.mux.RUnlock()
	node, ok := n.nodes[mrid]
	if !ok {
		return nil, cimerr.NotFoundError{Kind: "ConnectivityNode", Key: mrid}
	}
	return node, nil
}

// EnsureConnectivityNode returns the node identified by mrid, creating and
// registering it when absent.
func (n *Network) EnsureConnectivityNode(mrid string) (*cim.ConnectivityNode, error) {
	n.mux.Lock()
	defer n.mux.Unlock()
	if node, ok := n.nodes[mrid]; ok {
		return node, nil
	}
	node := cim.NewConnectivityNode(mrid, "")
	if err := n.addNodeLocked(node); err != nil {
		return nil, err
	}
	return node, nil
}

// Connect plugs t into the node identified by nodeMRID, creating the node if
// needed.
func (n *Network) Connect(t *cim.Terminal, nodeMRID string) error {
	node, err := n.EnsureConnectivityNode(nodeMRID)
	if err != nil {
		return err
	}
	t.Connect(node)
	return nil
}

// RemoveConnectivityNode releases the node identified by mrid. Terminals of
// network equipment plugged into it are disconnected; any other terminal still
// linked to it observes no node once the node has been collected.
func (n *Network) RemoveConnectivityNode(mrid string) error {
	n.mux.Lock()
	defer n.mux.Unlock()

	node, ok := n.nodes[mrid]
	if !ok {
		return cimerr.NotFoundError{Kind: "ConnectivityNode", Key: mrid}
	}
	for _, eq := range n.equipment {
		for _, t := range eq.Conducting().Terminals() {
			if t.ConnectivityNode() == node {
				t.Disconnect()
			}
		}
	}
	delete(n.nodes, mrid)
	return n.registry.Remove(mrid)
}

// TerminalsAt returns the terminals of network equipment plugged into the node
// identified by nodeMRID, ordered by terminal mRID.
func (n *Network) TerminalsAt(nodeMRID string) []*cim.Terminal {
	n.mux.RLock()
	defer n.mux.RUnlock()
	var out []*cim.Terminal
	for _, eq := range n.equipment {
		for _, t := range eq.Conducting().Terminals() {
			if t.ConnectivityNodeID() == nodeMRID {
				out = append(out, t)
			}
		}
	}
	slices.SortFunc(out, func(a, b *cim.Terminal) int {
		switch {
		case a.MRID() < b.MRID():
			return -1
		case a.MRID() > b.MRID():
			return 1
		}
		return 0
	})
	return out
}

// Connected reports whether the two pieces of equipment share a connectivity
// node through any of their terminals.
func (n *Network) Connected(a, b string) (bool, error) {
	eqA, err := n.Equipment(a)
	if err != nil {
		return false, err
	}
	eqB, err := n.Equipment(b)
	if err != nil {
		return false, err
	}
	for _, ta := range eqA.Conducting().Terminals() {
		na := ta.ConnectivityNode()
		if na == nil {
			continue
		}
		for _, tb := range eqB.Conducting().Terminals() {
			if tb.ConnectivityNode() == na {
				return true, nil
			}
		}
	}
	return false, nil
}

// Summary counts the network contents.
func (n *Network) Summary() Summary {
	n.mux.RLock()
	defer n.mux.RUnlock()
	s := Summary{
		Objects:           n.registry.Len(),
		Equipment:         len(n.equipment),
		ConnectivityNodes: len(n.nodes),
	}
	for _, eq := range n.equipment {
		s.Terminals += eq.Conducting().NumTerminals()
	}
	return s
}

// Get returns the object registered under mrid when it has type T.
func Get[T identity.IdentifiedObject](n *Network, mrid string) (T, error) {
	return identity.LookupAs[T](n.registry, mrid)
}
