package pool

import (
	"sort"
	"time"
)

// Stats is a point-in-time summary of pool state and lifetime counters.
type Stats struct {
	Size       int `json:"size"`
	InUse      int `json:"in_use"`
	Free       int `json:"free"`
	Waiting    int `json:"waiting"`
	Connecting int `json:"connecting"`

	Acquires        uint64 `json:"acquires"`
	Releases        uint64 `json:"releases"`
	Timeouts        uint64 `json:"timeouts"`
	Created         uint64 `json:"created"`
	Closed          uint64 `json:"closed"`
	ConnectErrors   uint64 `json:"connect_errors"`
	Rejected        uint64 `json:"rejected"`
	MaintenanceRuns uint64 `json:"maintenance_runs"`
}

// ConnStats describes one pooled connection for introspection surfaces.
type ConnStats struct {
	ID           string        `json:"id"`
	BoundSession string        `json:"bound_session,omitempty"`
	DCID         int           `json:"dc_id,omitempty"`
	InUse        bool          `json:"in_use"`
	Age          time.Duration `json:"age"`
	Idle         time.Duration `json:"idle"`
}

// DetailedStats extends [Stats] with per-connection detail and utilization
// (in-use over configured maximum).
type DetailedStats struct {
	Stats
	Utilization float64     `json:"utilization"`
	Conns       []ConnStats `json:"conns"`
}

// Stats returns a snapshot of the pool. Counters are lifetime totals.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	s := Stats{
		Size:       len(p.slots),
		Waiting:    p.waiters.Len(),
		Connecting: p.connecting,
	}
	for _, sl := range p.slots {
		if sl.inUse {
			s.InUse++
		}
	}
	p.mu.Unlock()

	s.Free = s.Size - s.InUse
	s.Acquires = p.acquires.Load()
	s.Releases = p.releases.Load()
	s.Timeouts = p.timeouts.Load()
	s.Created = p.created.Load()
	s.Closed = p.closedConns.Load()
	s.ConnectErrors = p.connectErrors.Load()
	s.Rejected = p.rejected.Load()
	s.MaintenanceRuns = p.maintenanceRuns.Load()
	return s
}

// DetailedStats returns the full snapshot including one entry per pooled
// connection, ordered by id for stable output.
func (p *Pool) DetailedStats() DetailedStats {
	now := time.Now()

	p.mu.Lock()
	conns := make([]ConnStats, 0, len(p.slots))
	for _, sl := range p.slots {
		conns = append(conns, ConnStats{
			ID:           sl.id,
			BoundSession: sl.boundSession,
			DCID:         sl.client.DCInfo().ID,
			InUse:        sl.inUse,
			Age:          now.Sub(sl.createdAt),
			Idle:         now.Sub(sl.lastUsedAt),
		})
	}
	p.mu.Unlock()

	sort.Slice(conns, func(i, j int) bool { return conns[i].ID < conns[j].ID })

	ds := DetailedStats{Stats: p.Stats(), Conns: conns}
	if p.cfg.MaxSize > 0 {
		ds.Utilization = float64(ds.InUse) / float64(p.cfg.MaxSize)
	}
	return ds
}
