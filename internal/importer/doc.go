// Package importer is the boundary to the external library import pipeline.
package importer
