// Package l3calib owns Layer 3 (Calibration) of the surround-view data model.
//
// It derives, once per calibration event, the perspective projection shared
// by all cameras and the per-camera view-projection matrices that map the
// ground plane into each captured image.
//
// Matrix convention: points are row vectors multiplied on the left
// (clip = p·M), so a view-projection is view·projection. Clip-space depth runs
// from 0 at the near plane to 1 at the far plane. View space is right-handed
// and points in front of a camera have negative z.
//
// Dependency rule: L3 may depend on L1/L2, but never on L4+.
package l3calib
