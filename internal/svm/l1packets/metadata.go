package l1packets

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/surroundview/internal/svm/l2frames"
)

// cameraKeys are the per-camera key prefixes in the metadata message.
var cameraKeys = [l2frames.NumCameras]string{"CameraF", "CameraR", "CameraB", "CameraL"}

// MetadataFields renders meta as the flat key/value set carried on the wire.
func MetadataFields(meta *l2frames.Metadata) map[string]any {
	m := map[string]any{
		"numLidars":   meta.NumLidars,
		"lidarRes":    meta.LidarResolution,
		"lidarChs":    meta.LidarChannels,
		"imageWidth":  meta.ImageWidth,
		"imageHeight": meta.ImageHeight,
		"Fov":         meta.HorizontalFOVDeg,
	}
	for i, key := range cameraKeys {
		mount := meta.Mounts[i]
		m[key+"_location_x"] = mount.Offset.X
		m[key+"_location_y"] = mount.Offset.Y
		m[key+"_location_z"] = mount.Offset.Z
		m[key+"_y"] = mount.PitchDeg
		m[key+"_yaw"] = mount.YawDeg
	}
	return m
}

// EncodeMetadata serialises meta as a protobuf Struct.
func EncodeMetadata(meta *l2frames.Metadata) ([]byte, error) {
	if meta == nil {
		return nil, fmt.Errorf("%w: nil metadata", l2frames.ErrInvalidFrame)
	}
	s, err := structpb.NewStruct(MetadataFields(meta))
	if err != nil {
		return nil, fmt.Errorf("build metadata struct: %w", err)
	}
	return proto.Marshal(s)
}

// DecodeMetadata parses a protobuf Struct metadata body. Camera yaw keys are
// optional and default to zero; every other key is required.
func DecodeMetadata(b []byte) (*l2frames.Metadata, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("%w: metadata: %v", ErrBadPacket, err)
	}
	return MetadataFromStruct(&s)
}

// MetadataFromStruct converts a decoded Struct into Metadata.
func MetadataFromStruct(s *structpb.Struct) (*l2frames.Metadata, error) {
	r := fieldReader{fields: s.GetFields()}
	meta := &l2frames.Metadata{
		NumLidars:        r.int("numLidars"),
		LidarResolution:  r.int("lidarRes"),
		LidarChannels:    r.int("lidarChs"),
		ImageWidth:       r.int("imageWidth"),
		ImageHeight:      r.int("imageHeight"),
		HorizontalFOVDeg: r.number("Fov"),
	}
	for i, key := range cameraKeys {
		meta.Mounts[i] = l2frames.CameraMount{
			Index: l2frames.CameraIndex(i),
			Offset: r3.Vector{
				X: r.number(key + "_location_x"),
				Y: r.number(key + "_location_y"),
				Z: r.number(key + "_location_z"),
			},
			PitchDeg: r.number(key + "_y"),
			YawDeg:   r.optional(key + "_yaw"),
		}
	}
	if r.err != nil {
		return nil, r.err
	}
	if meta.ImageWidth <= 0 || meta.ImageHeight <= 0 || meta.ImageWidth > 0xFFFF || meta.ImageHeight > 0xFFFF {
		return nil, fmt.Errorf("%w: metadata image size %dx%d", ErrBadPacket, meta.ImageWidth, meta.ImageHeight)
	}
	return meta, nil
}

type fieldReader struct {
	fields map[string]*structpb.Value
	err    error
}

func (r *fieldReader) number(key string) float64 {
	if r.err != nil {
		return 0
	}
	v, ok := r.fields[key]
	if !ok {
		r.err = fmt.Errorf("%w: metadata missing %q", ErrBadPacket, key)
		return 0
	}
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok || math.IsNaN(n.NumberValue) || math.IsInf(n.NumberValue, 0) {
		r.err = fmt.Errorf("%w: metadata %q is not a finite number", ErrBadPacket, key)
		return 0
	}
	return n.NumberValue
}

func (r *fieldReader) int(key string) int {
	f := r.number(key)
	if r.err == nil && f != math.Trunc(f) {
		r.err = fmt.Errorf("%w: metadata %q is not an integer", ErrBadPacket, key)
	}
	return int(f)
}

func (r *fieldReader) optional(key string) float64 {
	if _, ok := r.fields[key]; !ok {
		return 0
	}
	return r.number(key)
}
