// Package pipeline drives the surround-view render loop.
//
// It is the composition root for L3-L5: it owns the Compositor instance,
// drains the frame queue once per tick and hands render inputs to a
// Renderer. None of the layer packages import pipeline.
package pipeline
