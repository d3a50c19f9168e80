package sharding

import (
	"errors"
	"fmt"
	"log"
	"math"
	"math/bits"
	"sync"
	"sync/atomic"

	"github.com/gallir/smart-ssdb/lib"
	"github.com/gallir/smart-ssdb/ssdb/cluster"
)

var (
	ErrNoClusterAvailable = errors.New("ssdb: no cluster available")
	ErrNoClusters         = errors.New("ssdb: ring without clusters")
	ErrLastCluster        = errors.New("ssdb: can't remove the last cluster")
	ErrRangeTooSmall      = errors.New("ssdb: range too small to be split")
	ErrWeightTooLarge     = errors.New("ssdb: the sum of weights doesn't fit in int32")
)

// NoClusterAvailableError is returned when no cluster can serve a key
type NoClusterAvailableError struct {
	Reason string
}

func (e *NoClusterAvailableError) Error() string {
	return "ssdb: no cluster available: " + e.Reason
}

func (e *NoClusterAvailableError) Unwrap() error {
	return ErrNoClusterAvailable
}

// Range is the snapshot of one cluster position in the ring
type Range struct {
	ID          string `json:"id"`
	Min         int32  `json:"min"`
	Max         int32  `json:"max"`
	Valid       bool   `json:"valid"`
	TakenOverBy string `json:"takenOverBy,omitempty"`
}

func (r Range) String() string {
	state := "valid"
	if !r.Valid {
		state = "invalid"
	}
	return fmt.Sprintf("%s(%s)[%d,%d]", r.ID, state, r.Min, r.Max)
}

type entry struct {
	cluster     *cluster.Cluster
	min         int32
	max         int32
	takenOverBy int // Index of the cluster serving this range while invalid, -1 if none
}

// table is never modified once published
type table struct {
	entries []entry
}

func (t *table) index(id string) int {
	for i := range t.entries {
		if t.entries[i].cluster.ID() == id {
			return i
		}
	}
	return -1
}

func (t *table) find(h int32) int {
	for i := range t.entries {
		if h >= t.entries[i].min && h <= t.entries[i].max {
			return i
		}
	}
	// Unreachable while the ranges cover the whole domain
	return len(t.entries) - 1
}

func (t *table) anyValid(except int) bool {
	for i := range t.entries {
		if i != except && !t.entries[i].cluster.Invalid() {
			return true
		}
	}
	return false
}

// takeover returns the closest valid cluster before i, or after it when
// there is none. The caller checks anyValid first.
func (t *table) takeover(i int) int {
	for j := i - 1; j >= 0; j-- {
		if !t.entries[j].cluster.Invalid() {
			return j
		}
	}
	for j := i + 1; j < len(t.entries); j++ {
		if !t.entries[j].cluster.Invalid() {
			return j
		}
	}
	return -1
}

func (t *table) weight() int64 {
	var w int64
	for _, e := range t.entries {
		w += int64(e.cluster.Weight())
	}
	return w
}

func (t *table) clone() *table {
	return &table{
		entries: append([]entry(nil), t.entries...),
	}
}

// Ring partitions the signed 32 bits space among clusters by weight.
// Lookups don't lock, mutations are serialized and publish a new table.
type Ring struct {
	sync.Mutex
	policy Policy
	hash   HashFunc
	table  atomic.Pointer[table]
}

type Option func(*Ring)

// WithHash replaces the default md5 hash
func WithHash(h HashFunc) Option {
	return func(r *Ring) {
		if h != nil {
			r.hash = h
		}
	}
}

// New lays out the clusters in the given order, each one gets a range
// proportional to its weight
func New(policy Policy, clusters []*cluster.Cluster, opts ...Option) (*Ring, error) {
	if len(clusters) == 0 {
		return nil, ErrNoClusters
	}

	ids := make(map[string]bool, len(clusters))
	total := int64(0)
	for _, c := range clusters {
		if c == nil {
			return nil, errors.New("ssdb: nil cluster")
		}
		if ids[c.ID()] {
			return nil, fmt.Errorf("ssdb: duplicated cluster id %s", c.ID())
		}
		ids[c.ID()] = true
		total += int64(c.Weight())
		if total > math.MaxInt32 {
			return nil, ErrWeightTooLarge
		}
	}

	r := &Ring{
		policy: policy,
		hash:   HashMD5,
	}
	for _, o := range opts {
		o(r)
	}
	r.table.Store(&table{entries: layout(clusters, total)})

	for _, rg := range r.Ranges() {
		lib.Debugf("Ring range %s", rg)
	}
	return r, nil
}

func layout(clusters []*cluster.Cluster, total int64) []entry {
	const span = uint64(math.MaxUint32) // MaxInt32 - MinInt32

	entries := make([]entry, len(clusters))
	last := len(clusters) - 1
	from := int64(math.MinInt32)
	acc := int64(0)
	for i, c := range clusters {
		e := entry{
			cluster:     c,
			min:         int32(from),
			max:         math.MaxInt32,
			takenOverBy: -1,
		}
		if i < last {
			acc += int64(c.Weight())
			e.max = int32(scale(span, acc, total) + math.MinInt32)
		}
		entries[i] = e
		from = int64(e.max) + 1
	}
	return entries
}

// scale returns n*num/den without overflowing, num <= den
func scale(n uint64, num, den int64) int64 {
	hi, lo := bits.Mul64(n, uint64(num))
	q, _ := bits.Div64(hi, lo, uint64(den))
	return int64(q)
}

func (r *Ring) Policy() Policy {
	return r.policy
}

// Hash returns the ring point of the key
func (r *Ring) Hash(key []byte) int32 {
	return r.hash(key)
}

// ClusterFor returns the cluster that must serve the key
func (r *Ring) ClusterFor(key []byte) (*cluster.Cluster, error) {
	return r.ClusterForHash(r.hash(key))
}

// ClusterForHash resolves again when the table changed during a failed
// lookup, a removed cluster is already detached
func (r *Ring) ClusterForHash(h int32) (*cluster.Cluster, error) {
	for {
		t := r.table.Load()
		c, err := t.lookup(h, r.policy)
		if err == nil || r.table.Load() == t {
			return c, err
		}
	}
}

func (t *table) lookup(h int32, policy Policy) (*cluster.Cluster, error) {
	if !t.anyValid(-1) {
		return nil, &NoClusterAvailableError{Reason: "all clusters are invalid"}
	}

	i := t.find(h)
	for steps := 0; steps < len(t.entries); steps++ {
		e := &t.entries[i]
		if !e.cluster.Invalid() {
			return e.cluster, nil
		}
		if policy == PreserveKeySpace {
			return nil, &cluster.NoServerAvailableError{Cluster: e.cluster.ID()}
		}
		if e.takenOverBy < 0 {
			break
		}
		i = e.takenOverBy
	}
	return nil, &NoClusterAvailableError{Reason: fmt.Sprintf("no live cluster for %d", h)}
}

// ClusterFailed is called when a cluster has no live server. It returns
// true if the request may be retried, the ring then resolves the key to
// another cluster.
func (r *Ring) ClusterFailed(c *cluster.Cluster) (keepSearching bool, err error) {
	if c == nil {
		return true, nil
	}

	r.Lock()
	defer r.Unlock()

	t := r.table.Load()
	i := t.index(c.ID())
	if i < 0 {
		return true, nil
	}
	c = t.entries[i].cluster

	lib.ClusterFailures.WithLabelValues(c.ID()).Inc()

	if r.policy == PreserveKeySpace {
		if !c.Invalid() {
			log.Printf("Cluster %s failed, its keys are unavailable", c.ID())
		}
		c.SetInvalid(true)
		return false, nil
	}

	if !t.anyValid(i) {
		c.SetInvalid(true)
		log.Printf("Cluster %s failed, no cluster left", c.ID())
		return false, &NoClusterAvailableError{Reason: "all clusters are invalid"}
	}

	next := t.takeover(i)
	nt := t.clone()
	nt.entries[i].takenOverBy = next
	r.table.Store(nt)
	c.SetInvalid(true)

	log.Printf("Cluster %s failed, taken over by %s", c.ID(), nt.entries[next].cluster.ID())
	return true, nil
}

// AddCluster splits the range of after between after and nc, by weight.
// Adding a cluster already present does nothing.
func (r *Ring) AddCluster(nc, after *cluster.Cluster) error {
	if nc == nil || after == nil {
		return errors.New("ssdb: nil cluster")
	}

	r.Lock()
	defer r.Unlock()

	t := r.table.Load()
	if t.index(nc.ID()) >= 0 {
		return nil
	}
	i := t.index(after.ID())
	if i < 0 {
		return &NoClusterAvailableError{Reason: "unknown cluster " + after.ID()}
	}

	if t.weight()+int64(nc.Weight()) > math.MaxInt32 {
		return ErrWeightTooLarge
	}

	prev := t.entries[i]
	w1, w2 := int64(prev.cluster.Weight()), int64(nc.Weight())
	split := int64(prev.min) + scale(uint64(int64(prev.max)-int64(prev.min)), w1, w1+w2)
	if split >= int64(prev.max) {
		return ErrRangeTooSmall
	}

	entries := make([]entry, 0, len(t.entries)+1)
	entries = append(entries, t.entries[:i+1]...)
	entries[i].max = int32(split)
	entries = append(entries, entry{
		cluster:     nc,
		min:         int32(split + 1),
		max:         prev.max,
		takenOverBy: -1,
	})
	entries = append(entries, t.entries[i+1:]...)
	for j := range entries {
		if entries[j].takenOverBy > i {
			entries[j].takenOverBy++
		}
	}
	r.table.Store(&table{entries: entries})

	log.Printf("Cluster %s added after %s", nc.ID(), prev.cluster.ID())
	return nil
}

// RemoveCluster drops the cluster, the previous one takes its range, or the
// next one if it was the first
func (r *Ring) RemoveCluster(id string) error {
	r.Lock()
	defer r.Unlock()

	t := r.table.Load()
	i := t.index(id)
	if i < 0 {
		return &NoClusterAvailableError{Reason: "unknown cluster " + id}
	}
	if len(t.entries) == 1 {
		return ErrLastCluster
	}

	removed := t.entries[i]
	entries := make([]entry, 0, len(t.entries)-1)
	entries = append(entries, t.entries[:i]...)
	entries = append(entries, t.entries[i+1:]...)

	absorber := i - 1
	if i == 0 {
		absorber = 0
		entries[0].min = removed.min
	} else {
		entries[absorber].max = removed.max
	}

	for j := range entries {
		switch to := entries[j].takenOverBy; {
		case to == i:
			entries[j].takenOverBy = absorber
		case to > i:
			entries[j].takenOverBy = to - 1
		}
		if entries[j].takenOverBy == j {
			entries[j].takenOverBy = -1
		}
	}
	r.table.Store(&table{entries: entries})

	// The recovery daemon forgets servers no cluster contains
	removed.cluster.Detach()

	log.Printf("Cluster %s removed, range taken by %s", id, entries[absorber].cluster.ID())
	return nil
}

// Ranges returns the ranges in ring order
func (r *Ring) Ranges() []Range {
	t := r.table.Load()
	ranges := make([]Range, len(t.entries))
	for i, e := range t.entries {
		ranges[i] = Range{
			ID:    e.cluster.ID(),
			Min:   e.min,
			Max:   e.max,
			Valid: !e.cluster.Invalid(),
		}
		if !ranges[i].Valid && e.takenOverBy >= 0 {
			ranges[i].TakenOverBy = t.entries[e.takenOverBy].cluster.ID()
		}
	}
	return ranges
}

// RangeMap returns the ranges keyed by "id(valid)" or "id(invalid)"
func (r *Ring) RangeMap() map[string]Range {
	m := make(map[string]Range)
	for _, rg := range r.Ranges() {
		state := "valid"
		if !rg.Valid {
			state = "invalid"
		}
		m[fmt.Sprintf("%s(%s)", rg.ID, state)] = rg
	}
	return m
}

func (r *Ring) Clusters() []*cluster.Cluster {
	t := r.table.Load()
	list := make([]*cluster.Cluster, len(t.entries))
	for i, e := range t.entries {
		list[i] = e.cluster
	}
	return list
}

func (r *Ring) ClusterByID(id string) *cluster.Cluster {
	t := r.table.Load()
	if i := t.index(id); i >= 0 {
		return t.entries[i].cluster
	}
	return nil
}

func (r *Ring) Len() int {
	return len(r.table.Load().entries)
}
