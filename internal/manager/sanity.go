package manager

import (
	"os"
	"os/exec"
)

// SanityReport describes runtime checks for the inference runner.
type SanityReport struct {
	RunnerConfigured bool   `json:"runner_configured"`
	RunnerFound      bool   `json:"runner_found"`
	RunnerPath       string `json:"runner_path,omitempty"`
	RunnerURL        string `json:"runner_url,omitempty"`
	Error            string `json:"error,omitempty"`
}

// SanityCheck validates that the configured runner can be reached or started.
// It does not mutate state and is safe to call at any time.
func (m *Manager) SanityCheck() SanityReport {
	var r SanityReport
	if m.cfg.Builder == nil {
		r.Error = "no pipeline runtime configured"
		return r
	}
	if c, ok := m.cfg.Builder.(interface{ Configured() bool }); ok {
		r.RunnerConfigured = c.Configured()
	} else {
		// In-process builders need nothing external.
		r.RunnerConfigured, r.RunnerFound = true, true
		return r
	}
	if u, ok := m.cfg.Builder.(interface{ URL() string }); ok && u.URL() != "" {
		r.RunnerURL = u.URL()
		r.RunnerFound = true
		return r
	}
	b, ok := m.cfg.Builder.(interface{ Bin() string })
	if !ok || b.Bin() == "" {
		r.Error = "runner not configured; set runner_bin or runner_url"
		return r
	}
	bin := b.Bin()
	if p, err := exec.LookPath(bin); err == nil {
		bin = p
	}
	r.RunnerPath = bin
	if fi, err := os.Stat(bin); err != nil {
		r.Error = err.Error()
	} else if fi.IsDir() {
		r.Error = "runner path is a directory"
	} else {
		r.RunnerFound = true
	}
	return r
}
