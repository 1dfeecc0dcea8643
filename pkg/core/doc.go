// Package core defines the shared language of the leapcloak system.
//
// This package contains:
//   - Domain entities (FrameworkDescriptor, Rule, Project, Plan, RunResult)
//   - Service interfaces (Protection, Store)
//   - Parameter schemas for protection settings
//   - The error taxonomy (ConfigurationError, ModuleFailure, OutputFailure)
//
// The Golden Rule: pkg/core imports ONLY pkg/il, semver and stdlib.
// All other packages depend on core, not the reverse.
package core
