// Package l5composite owns Layer 5 (Compositing) of the surround-view data
// model.
//
// The Compositor holds everything the renderer draws from: the calibrated
// rig, the camera-image and segmentation texture arrays, and the LIDAR point
// buffer. It is owned by the render loop and is not safe for concurrent use;
// the texture arrays are swapped whole so a reader never sees a mix of two
// frames.
//
// Dependency rule: L5 may depend on L1-L4.
package l5composite
