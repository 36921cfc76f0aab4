// Package l4depth owns Layer 4 (Depth) of the surround-view data model.
//
// It turns LIDAR world points into a sparse per-camera depth sample and
// densifies that sample inside a segmentation region of interest by solving a
// discrete Poisson system. Depth fields are informational: they feed
// downstream effects and debug views, never the base composite.
//
// Dependency rule: L4 may depend on L1-L3, but never on L5.
package l4depth
