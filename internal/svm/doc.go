// Package svm is the root of the surround-view monitor data model.
//
// Layers, lowest first:
//
//   - L1 Packets (l1packets): datagram framing, chunk reassembly, message codecs.
//   - L2 Frames (l2frames): SensorFrame, Metadata, image/segment/grid types.
//   - L3 Calibration (l3calib): projection and per-camera view-projection.
//   - L4 Depth (l4depth): sparse LIDAR depth and Poisson densification.
//   - L5 Compositing (l5composite): texture arrays, point buffer, render inputs.
//
// Dependency rule: Ln may depend on Lm for m < n, never upward. The
// framequeue, network, and pipeline packages orchestrate the layers; they own
// no domain math.
package svm
