package manager

import (
	"time"

	"zimage/pkg/types"
)

// Status reports manager state without touching the worker.
func (m *Manager) Status() types.StatusResponse {
	m.mu.RLock()
	st := types.StatusResponse{
		State:     string(m.state),
		LastError: m.lastErr,
	}
	m.mu.RUnlock()
	now := time.Now()
	st.QueueLen = m.worker.Len()
	st.BuildsTotal = m.cache.Builds()
	st.UptimeSeconds = int64(now.Sub(m.started).Seconds())
	st.ServerTimeUnix = now.Unix()
	if e := m.cache.Snapshot(); e != nil {
		st.Pipeline = &types.PipelineStatus{
			Precision:   string(e.Key),
			ModelID:     e.ModelID,
			Device:      string(e.Device),
			DType:       string(e.DType),
			Compiled:    e.Compiled,
			BuiltAtUnix: e.BuiltAt.Unix(),
		}
	}
	if b, ok := m.cfg.Builder.(interface{ PID() int }); ok {
		st.RunnerPID = b.PID()
	}
	if b, ok := m.cfg.Builder.(interface{ URL() string }); ok {
		st.RunnerURL = b.URL()
	}
	return st
}
