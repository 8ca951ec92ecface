// Package sim provides the population PK/PD simulation engine.
//
// # Reading Guide
//
// Start with these files to understand the engine:
//   - model.go: Descriptor, the compiled Model, and the main/ode/table block contract
//   - timeline.go: merging the observation design and dosing records into one schedule
//   - executor.go: the per-individual loop (integrate, infusion ends, main, doses, table)
//   - population.go: Run, the worker pool, and result assembly
//
// # Architecture
//
// The sim package owns model compilation and the run loop; supporting pieces
// live in sub-packages:
//   - sim/ode/: adaptive DOPRI5 and Rosenbrock integrators with stiffness switching
//   - sim/models/: bundled models and their default runs
//   - sim/scenario/: YAML run specifications
//   - sim/metrics/: Prometheus instrumentation
//   - sim/trace/: per-individual solver records
//
// # Reproducibility
//
// Every random draw comes from a PartitionedRNG stream keyed by the run seed
// and the individual id, and rows are merged in id order. A run's table is
// bit-identical for any worker count.
//
// # Errors
//
// Errors match ErrConfig, ErrNumerical or ErrResource under errors.Is.
// Numerical failures stay with the individual that raised them and are
// reported in Result.Diagnostics.
package sim
