// Package sqlio is the bundled SQLite adapter: it maps the input tables
// (subjects, exposures, events) to the shapes the engine consumes and
// persists result datasets. The core packages never import it; callers
// wire it in at the edges.
//
// Input parsing stops at shapes. Cohort validation, option validation,
// and every engine invariant live in the core packages; a malformed row
// here surfaces as a plain wrapped error, not a ValidationError.
package sqlio
