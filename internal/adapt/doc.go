// Package adapt converts foreign crawler outputs into the canonical
// tree: OnionSearch result CSVs, recursive tree JSON from the TOC
// crawler, and TorBot OSINT JSON in either recursive or flat shape.
package adapt
