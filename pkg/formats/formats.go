// Package formats provides readers and writers for the files the softbody
// tool consumes and produces.
package formats

// Note: OBJ meshes are parsed in obj.go
// Note: SBPF blueprints are read and written in blueprint.go
