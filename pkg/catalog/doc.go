// Package catalog loads entity definitions from YAML files. Definitions are
// desired state only: the loader re-reads them fresh for every invocation
// batch and never writes them back, so catalog files stay the single source
// of truth for what should exist.
package catalog
