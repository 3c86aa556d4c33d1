// Package assets maintains a live catalog of reference images used to seed
// generation. Images dropped into the watched directory appear in the catalog
// without a restart; a same-named .txt sidecar supplies the description sent
// to the generator.
package assets
