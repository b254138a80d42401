package broker

import (
	"sort"
	"time"

	"github.com/FelipeJared/mechOS/pkg/mechos"
)

// NodeInfo is a snapshot of one registered node
type NodeInfo struct {
	Name         string              `json:"name"`
	PID          int                 `json:"pid"`
	Control      mechos.Endpoint     `json:"control"`
	Publishers   []mechos.EntityInfo `json:"publishers"`
	Subscribers  []mechos.EntityInfo `json:"subscribers"`
	RegisteredAt time.Time           `json:"registered_at"`
}

// TopicInfo summarizes one (topic, protocol) pair across all nodes
type TopicInfo struct {
	Topic       string          `json:"topic"`
	Protocol    mechos.Protocol `json:"protocol"`
	Publishers  int             `json:"publishers"`
	Subscribers int             `json:"subscribers"`
}

// match is an entity found by a matching pass, with the node that owns it
type match struct {
	node   string
	entity mechos.EntityInfo
}

type nodeEntry struct {
	name         string
	pid          int
	control      mechos.Endpoint
	publishers   map[string]mechos.EntityInfo
	subscribers  map[string]mechos.EntityInfo
	registeredAt time.Time
}

func (e *nodeEntry) info() NodeInfo {
	return NodeInfo{
		Name:         e.name,
		PID:          e.pid,
		Control:      e.control,
		Publishers:   sortedEntities(e.publishers),
		Subscribers:  sortedEntities(e.subscribers),
		RegisteredAt: e.registeredAt,
	}
}

// registry stores addressing metadata per node. It is not safe for
// concurrent use; the Broker serializes access.
type registry struct {
	nodes map[string]*nodeEntry
	now   func() time.Time
}

func newRegistry() *registry {
	return &registry{
		nodes: make(map[string]*nodeEntry),
		now:   time.Now,
	}
}

// addNode creates an entry; false when the name is taken
func (r *registry) addNode(name string, pid int, control mechos.Endpoint) bool {
	if _, exists := r.nodes[name]; exists {
		return false
	}
	r.nodes[name] = &nodeEntry{
		name:         name,
		pid:          pid,
		control:      control,
		publishers:   make(map[string]mechos.EntityInfo),
		subscribers:  make(map[string]mechos.EntityInfo),
		registeredAt: r.now(),
	}
	return true
}

func (r *registry) removeNode(name string) {
	delete(r.nodes, name)
}

func (r *registry) node(name string) (*nodeEntry, bool) {
	e, ok := r.nodes[name]
	return e, ok
}

// upsertPublisher inserts or replaces the publisher by id in the node's map
func (r *registry) upsertPublisher(node string, info mechos.EntityInfo) bool {
	e, ok := r.nodes[node]
	if !ok {
		return false
	}
	e.publishers[info.ID] = info
	return true
}

// upsertSubscriber inserts or replaces the subscriber by id in the node's map
func (r *registry) upsertSubscriber(node string, info mechos.EntityInfo) bool {
	e, ok := r.nodes[node]
	if !ok {
		return false
	}
	e.subscribers[info.ID] = info
	return true
}

// subscribersMatching returns every subscriber on any node sharing topic and
// protocol with pub, ordered by node name then id
func (r *registry) subscribersMatching(pub mechos.EntityInfo) []match {
	var out []match
	for _, name := range r.names() {
		for _, sub := range sortedEntities(r.nodes[name].subscribers) {
			if sub.Matches(pub) {
				out = append(out, match{node: name, entity: sub})
			}
		}
	}
	return out
}

// publishersMatching is the mirror of subscribersMatching
func (r *registry) publishersMatching(sub mechos.EntityInfo) []match {
	var out []match
	for _, name := range r.names() {
		for _, pub := range sortedEntities(r.nodes[name].publishers) {
			if pub.Matches(sub) {
				out = append(out, match{node: name, entity: pub})
			}
		}
	}
	return out
}

func (r *registry) names() []string {
	names := make([]string, 0, len(r.nodes))
	for name := range r.nodes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *registry) snapshot() []NodeInfo {
	out := make([]NodeInfo, 0, len(r.nodes))
	for _, name := range r.names() {
		out = append(out, r.nodes[name].info())
	}
	return out
}

func (r *registry) topics() []TopicInfo {
	type key struct {
		topic    string
		protocol mechos.Protocol
	}
	counts := make(map[key]*TopicInfo)
	get := func(e mechos.EntityInfo) *TopicInfo {
		k := key{e.Topic, e.Protocol}
		t, ok := counts[k]
		if !ok {
			t = &TopicInfo{Topic: e.Topic, Protocol: e.Protocol}
			counts[k] = t
		}
		return t
	}
	for _, n := range r.nodes {
		for _, p := range n.publishers {
			get(p).Publishers++
		}
		for _, s := range n.subscribers {
			get(s).Subscribers++
		}
	}

	out := make([]TopicInfo, 0, len(counts))
	for _, t := range counts {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Topic != out[j].Topic {
			return out[i].Topic < out[j].Topic
		}
		return out[i].Protocol < out[j].Protocol
	})
	return out
}

func (r *registry) counts() (nodes, publishers, subscribers int) {
	for _, n := range r.nodes {
		publishers += len(n.publishers)
		subscribers += len(n.subscribers)
	}
	return len(r.nodes), publishers, subscribers
}

func sortedEntities(m map[string]mechos.EntityInfo) []mechos.EntityInfo {
	out := make([]mechos.EntityInfo, 0, len(m))
	for _, e := range m {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
