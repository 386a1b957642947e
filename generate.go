// Package mbr provides a markdown repository server with live preview and static export.
//
// Build web assets (CSS and JavaScript bundles) using:
//
//	go generate
package mbr

//go:generate sh -c "mkdir -p static/css static/js && cd web && bun run build"
