// Package l2frames owns Layer 2 (Frames) of the surround-view data model.
//
// Responsibilities: the immutable SensorFrame handed from the ingestion
// goroutine to the render loop, the one-time sensor Metadata, and the image,
// segmentation, and float-grid containers used by higher layers.
//
// Dependency rule: L2 may depend on L1, but never on L3+.
package l2frames
