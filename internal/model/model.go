// Package model implements the simulation engine: it owns the node
// table and link graph, computes the execution order, and drives the
// per-step two-phase loop (ordering upstream, then flow downstream).
package model

import (
	"fmt"

	"kalix/internal/data"
	"kalix/internal/nodes"
	"kalix/pkg/apperror"
)

// LinkDef is a directed edge declared by node names. Destinations are
// resolved to indices during Configure.
type LinkDef struct {
	FromName   string
	ToName     string
	FromOutlet int
	ToInlet    int
}

// link is a resolved edge used on the hot path.
type link struct {
	from, to         int
	fromOutlet, toInlet int
}

// RunConfig describes the simulated period.
type RunConfig struct {
	StartTimestamp uint64 // wrapped, start of the FIRST simulated step
	EndTimestamp   uint64 // wrapped, start of the LAST simulated step
	StepSize       uint64 // seconds
}

// NSteps returns the number of simulated steps, first and last included.
func (c RunConfig) NSteps() int {
	if c.StepSize == 0 || c.EndTimestamp < c.StartTimestamp {
		return 1
	}
	return 1 + int((c.EndTimestamp-c.StartTimestamp)/c.StepSize)
}

// Model owns the node graph, the data cache and the simulation clock.
type Model struct {
	Cache  *data.Cache
	Config RunConfig

	nodes    []nodes.Node
	nodeIdx  map[string]int
	linkDefs []LinkDef

	links     []link
	execOrder []int
	// outlets[i] are the links leaving node i; inlets[i] the links
	// entering it, used when orders bubble upstream.
	outlets [][]link
	inlets  [][]link
	// unroutedOutlets[i] lists the outlet slots of node i with no link
	// attached; water leaving through them exits the network.
	unroutedOutlets [][]int

	configured      bool
	initialised     bool
	initialStorage  float64
	unroutedOutflow float64

	ctx simContext
}

// New creates an empty model with a fresh data cache.
func New() *Model {
	return &Model{
		Cache:   data.NewCache(),
		Config:  RunConfig{StepSize: 86400},
		nodeIdx: make(map[string]int),
		ctx:     newSimContext(),
	}
}

// AddNode adds a node to the model. Names must be unique.
func (m *Model) AddNode(n nodes.Node) error {
	if _, exists := m.nodeIdx[n.Name()]; exists {
		return apperror.Newf(apperror.CodeDuplicateNode, "duplicate node name '%s'", n.Name())
	}
	m.nodeIdx[n.Name()] = len(m.nodes)
	m.nodes = append(m.nodes, n)
	m.configured = false
	return nil
}

// AddLink declares a directed edge between two named nodes.
func (m *Model) AddLink(fromName, toName string, fromOutlet, toInlet int) {
	m.linkDefs = append(m.linkDefs, LinkDef{
		FromName:   fromName,
		ToName:     toName,
		FromOutlet: fromOutlet,
		ToInlet:    toInlet,
	})
	m.configured = false
}

// Node returns a node by name.
func (m *Model) Node(name string) (nodes.Node, bool) {
	idx, ok := m.nodeIdx[name]
	if !ok {
		return nil, false
	}
	return m.nodes[idx], true
}

// Nodes returns the node table.
func (m *Model) Nodes() []nodes.Node {
	return m.nodes
}

// RequestOutput registers interest in an output channel so the owning
// node's recorder binds to it at initialisation. Channel names follow
// node.<name>.<param>.
func (m *Model) RequestOutput(seriesName string) int {
	return m.Cache.GetOrAddSeries(seriesName, false)
}

// Configure resolves link destinations and computes the topological
// execution order. A cycle is a fatal configuration error.
func (m *Model) Configure() error {
	m.links = make([]link, 0, len(m.linkDefs))
	for _, def := range m.linkDefs {
		from, ok := m.nodeIdx[def.FromName]
		if !ok {
			return apperror.Newf(apperror.CodeUnresolvedLink,
				"link source '%s' is not a node", def.FromName)
		}
		to, ok := m.nodeIdx[def.ToName]
		if !ok {
			return apperror.Newf(apperror.CodeUnresolvedLink,
				"link destination '%s' is not a node", def.ToName)
		}
		m.links = append(m.links, link{
			from: from, to: to,
			fromOutlet: def.FromOutlet, toInlet: def.ToInlet,
		})
	}

	m.outlets = make([][]link, len(m.nodes))
	m.inlets = make([][]link, len(m.nodes))
	for _, l := range m.links {
		m.outlets[l.from] = append(m.outlets[l.from], l)
		m.inlets[l.to] = append(m.inlets[l.to], l)
	}

	m.unroutedOutlets = make([][]int, len(m.nodes))
	for i, n := range m.nodes {
		connected := make(map[int]bool, len(m.outlets[i]))
		for _, l := range m.outlets[i] {
			connected[l.fromOutlet] = true
		}
		for outlet := range n.DSOrders() {
			if !connected[outlet] {
				m.unroutedOutlets[i] = append(m.unroutedOutlets[i], outlet)
			}
		}
	}

	order, err := m.topologicalOrder()
	if err != nil {
		return err
	}
	m.execOrder = order
	m.configured = true
	return nil
}

// topologicalOrder runs Kahn's algorithm on the upstream-to-downstream
// DAG, upstream nodes first.
func (m *Model) topologicalOrder() ([]int, error) {
	indegree := make([]int, len(m.nodes))
	for _, l := range m.links {
		indegree[l.to]++
	}

	queue := make([]int, 0, len(m.nodes))
	for i := range m.nodes {
		if indegree[i] == 0 {
			queue = append(queue, i)
		}
	}

	order := make([]int, 0, len(m.nodes))
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		order = append(order, n)
		for _, l := range m.outlets[n] {
			indegree[l.to]--
			if indegree[l.to] == 0 {
				queue = append(queue, l.to)
			}
		}
	}

	if len(order) != len(m.nodes) {
		return nil, apperror.New(apperror.CodeCycleInGraph,
			"the node graph contains a cycle")
	}
	return order, nil
}

// Initialise prepares a run: it checks the constants store, initialises
// every node (binding recorders), and captures the initial storage.
func (m *Model) Initialise() error {
	if !m.configured {
		if err := m.Configure(); err != nil {
			return err
		}
	}

	if err := m.Cache.AssertAllConstantsHaveAssignedValues(); err != nil {
		return apperror.Wrap(apperror.CodeUnassignedConstant, "constants check failed", err)
	}

	m.Cache.SetSimulationPeriod(m.Config.StartTimestamp, m.Config.StepSize)
	// Result channels append one value per step; clear them so repeated
	// runs on the same model (optimiser evaluations) start fresh.
	// Input series are registered critical and survive.
	m.Cache.TruncateResults(0)

	for _, n := range m.nodes {
		if err := n.Initialise(m.Cache); err != nil {
			return apperror.Wrap(apperror.CodeInvalidModel,
				fmt.Sprintf("failed to initialise node '%s'", n.Name()), err)
		}
	}

	m.initialStorage = m.totalStorage()
	m.unroutedOutflow = 0
	m.initialised = true
	return nil
}

// Run executes the configured number of steps. A panic inside a node
// kernel is intercepted and reported with its timestamp, phase and node.
func (m *Model) Run() (err error) {
	if !m.initialised {
		if initErr := m.Initialise(); initErr != nil {
			return initErr
		}
	}

	defer func() {
		if r := recover(); r != nil {
			msg := m.ctx.formatSimulationError(r, m.Cache.Timestamp(), m.nodeName)
			err = apperror.New(apperror.CodeSimulationPanic, msg).WithSeverity(apperror.SeverityCritical)
		}
		m.ctx.clear()
	}()

	nsteps := m.Config.NSteps()
	for step := 0; step < nsteps; step++ {
		m.Step()
	}

	m.initialised = false
	return nil
}

// Step advances the model one timestep: the ordering phases bubble
// delivery requests upstream, then the flow phase moves water
// downstream and the clock advances.
func (m *Model) Step() {
	// Orders are per-step state.
	for _, n := range m.nodes {
		resetOrders(n)
	}

	m.ctx.setPhase(PhaseOrdering)
	for _, idx := range m.execOrder {
		m.ctx.setNode(idx)
		m.nodes[idx].RunPreOrderPhase(m.Cache)
	}

	// Orders propagate against the flow direction, so downstream nodes
	// run first and their upstream requests are applied to the source
	// node's outlet slots before that node computes its own.
	for i := len(m.execOrder) - 1; i >= 0; i-- {
		idx := m.execOrder[i]
		m.ctx.setNode(idx)
		m.nodes[idx].RunOrderPhase(m.Cache)
		usorders := m.nodes[idx].USOrders()
		for _, l := range m.inlets[idx] {
			if l.toInlet < len(usorders) {
				from := m.nodes[l.from]
				dsorders := from.DSOrders()
				if l.fromOutlet < len(dsorders) {
					dsorders[l.fromOutlet] += usorders[l.toInlet]
				}
			}
		}
	}

	for i := len(m.execOrder) - 1; i >= 0; i-- {
		idx := m.execOrder[i]
		m.ctx.setNode(idx)
		m.nodes[idx].RunPostOrderPhase(m.Cache)
	}

	m.ctx.setPhase(PhaseFlow)
	for _, idx := range m.execOrder {
		m.ctx.setNode(idx)
		node := m.nodes[idx]
		node.RunFlowPhase(m.Cache)

		for _, l := range m.outlets[idx] {
			flow := node.RemoveDSFlow(l.fromOutlet)
			m.nodes[l.to].AddUSFlow(flow, l.toInlet)
		}
		// Water leaving an unconnected outlet exits the network; track
		// it so the global balance still closes.
		for _, outlet := range m.unroutedOutlets[idx] {
			m.unroutedOutflow += node.RemoveDSFlow(outlet)
		}
	}

	m.ctx.clear()
	m.Cache.AdvanceStep()
}

func resetOrders(n nodes.Node) {
	ds := n.DSOrders()
	for i := range ds {
		ds[i] = 0
	}
	us := n.USOrders()
	for i := range us {
		us[i] = 0
	}
}

func (m *Model) nodeName(idx int) (string, bool) {
	if idx < 0 || idx >= len(m.nodes) {
		return "", false
	}
	return m.nodes[idx].Name(), true
}

func (m *Model) totalStorage() float64 {
	total := 0.0
	for _, n := range m.nodes {
		if holder, ok := n.(nodes.StorageHolder); ok {
			total += holder.StorageVolume()
		}
	}
	return total
}

// Clone returns a deep, independent copy of the model for parallel
// evaluation: nodes, cache and link graph share nothing with the
// original.
func (m *Model) Clone() *Model {
	clone := &Model{
		Cache:           m.Cache.Clone(),
		Config:          m.Config,
		nodes:           make([]nodes.Node, len(m.nodes)),
		nodeIdx:         make(map[string]int, len(m.nodeIdx)),
		linkDefs:        append([]LinkDef(nil), m.linkDefs...),
		links:           append([]link(nil), m.links...),
		execOrder:       append([]int(nil), m.execOrder...),
		configured:      m.configured,
		initialStorage:  m.initialStorage,
		unroutedOutflow: m.unroutedOutflow,
		ctx:             newSimContext(),
	}
	for i, n := range m.nodes {
		clone.nodes[i] = n.Clone()
	}
	for k, v := range m.nodeIdx {
		clone.nodeIdx[k] = v
	}
	clone.outlets = make([][]link, len(m.outlets))
	for i, ls := range m.outlets {
		clone.outlets[i] = append([]link(nil), ls...)
	}
	clone.inlets = make([][]link, len(m.inlets))
	for i, ls := range m.inlets {
		clone.inlets[i] = append([]link(nil), ls...)
	}
	clone.unroutedOutlets = make([][]int, len(m.unroutedOutlets))
	for i, outlets := range m.unroutedOutlets {
		clone.unroutedOutlets[i] = append([]int(nil), outlets...)
	}
	return clone
}
