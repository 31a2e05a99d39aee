// Package manager owns the diffusion pipeline and coordinates every request
// that touches the compute device. It is structured into small files by concern:
//
//   - manager.go: core Manager type, constructor, Ready/Close.
//   - config.go: Config and package defaults.
//   - types.go: request/result types and the cache Entry.
//   - errors.go: error types and helpers (IsConfiguration, IsTooBusy, ...).
//   - classify.go: Classify and the recoverable compile-failure phrase list.
//   - cache.go: PipelineCache, the single cached pipeline and its build steps.
//   - compile.go: CompileGate, whether the optimizing compile may be attempted.
//   - adapters.go: AdapterApplier, per-request adapter registration.
//   - generate.go: Generate, validation and the worker unit with its fallback.
//   - models.go: hardware-based precision recommendations.
//   - status_report.go, sanity.go: read-only reporting.
//
// Everything that mutates the pipeline runs on the worker goroutine. Other
// goroutines only read atomic snapshots.
package manager
