package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/surroundview/internal/svm/l2frames"
	"github.com/banshee-data/surroundview/internal/svm/l3calib"
	"github.com/banshee-data/surroundview/internal/svm/l5composite"
)

// CalibrationRecord is one stored calibration event.
type CalibrationRecord struct {
	ID              string                           `json:"calibration_id"`
	CreatedAt       time.Time                        `json:"created_at"`
	ImageWidth      int                              `json:"image_width"`
	ImageHeight     int                              `json:"image_height"`
	FOVDeg          float64                          `json:"fov_deg"`
	Near            float64                          `json:"near_clip"`
	Far             float64                          `json:"far_clip"`
	PointCapacity   int                              `json:"point_capacity"`
	Metadata        l2frames.Metadata                `json:"metadata"`
	ViewProjections [l2frames.NumCameras][16]float32 `json:"view_projections"`
}

// FrameRecord is one stored frame report.
type FrameRecord struct {
	ID            int64                       `json:"report_id"`
	CalibrationID string                      `json:"calibration_id,omitempty"`
	Seq           uint64                      `json:"seq"`
	ReceivedAt    time.Time                   `json:"received_at"`
	AppliedAt     time.Time                   `json:"applied_at"`
	Points        int                         `json:"points"`
	Truncated     int                         `json:"truncated"`
	Generation    uint64                      `json:"generation"`
	Densify       time.Duration               `json:"densify_ns"`
	DepthOutcomes [l2frames.NumCameras]string `json:"depth_outcomes"`
	DepthCoverage [l2frames.NumCameras]int    `json:"depth_coverage"`
}

// RecordCalibration stores a calibration event and returns its identifier.
func (db *DB) RecordCalibration(meta *l2frames.Metadata, rig *l3calib.Rig) (string, error) {
	if meta == nil || rig == nil {
		return "", errors.New("record calibration: nil metadata or rig")
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}
	var vps [l2frames.NumCameras][16]float32
	for i := range vps {
		vps[i] = l3calib.Float32RowMajor(rig.ViewProjections[i])
	}
	vpJSON, err := json.Marshal(vps)
	if err != nil {
		return "", fmt.Errorf("marshal view projections: %w", err)
	}

	id := "cal_" + uuid.NewString()
	in := rig.Intrinsics
	_, err = db.Exec(`INSERT INTO calibrations (
		calibration_id, image_width, image_height, fov_deg, near_clip, far_clip,
		point_capacity, metadata_json, view_projections_json
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, in.Width, in.Height, in.HorizontalFOVDeg, in.Near, in.Far,
		meta.PointCapacity(), string(metaJSON), string(vpJSON))
	if err != nil {
		return "", fmt.Errorf("insert calibration: %w", err)
	}
	return id, nil
}

// LatestCalibration returns the most recent calibration, or nil when none
// has been recorded.
func (db *DB) LatestCalibration() (*CalibrationRecord, error) {
	row := db.QueryRow(`SELECT calibration_id, created_at, image_width, image_height,
		fov_deg, near_clip, far_clip, point_capacity, metadata_json, view_projections_json
		FROM calibrations ORDER BY created_at DESC, rowid DESC LIMIT 1`)

	var (
		rec              CalibrationRecord
		metaJSON, vpJSON string
	)
	err := row.Scan(&rec.ID, &rec.CreatedAt, &rec.ImageWidth, &rec.ImageHeight,
		&rec.FOVDeg, &rec.Near, &rec.Far, &rec.PointCapacity, &metaJSON, &vpJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(metaJSON), &rec.Metadata); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	if err := json.Unmarshal([]byte(vpJSON), &rec.ViewProjections); err != nil {
		return nil, fmt.Errorf("decode view projections: %w", err)
	}
	return &rec, nil
}

// RecordFrame stores a frame report.
func (db *DB) RecordFrame(ctx context.Context, r l5composite.FrameReport) error {
	var outcomes [l2frames.NumCameras]string
	for i, o := range r.DepthOutcomes {
		outcomes[i] = o.String()
	}
	outJSON, err := json.Marshal(outcomes)
	if err != nil {
		return err
	}
	covJSON, err := json.Marshal(r.DepthCoverage)
	if err != nil {
		return err
	}

	var calID sql.NullString
	if r.CalibrationID != "" {
		calID = sql.NullString{String: r.CalibrationID, Valid: true}
	}
	var receivedAt sql.NullInt64
	if !r.ReceivedAt.IsZero() {
		receivedAt = sql.NullInt64{Int64: r.ReceivedAt.UnixNano(), Valid: true}
	}

	_, err = db.ExecContext(ctx, `INSERT INTO frame_reports (
		calibration_id, seq, received_at_ns, applied_at_ns, points, truncated,
		generation, densify_ns, depth_outcomes, depth_coverage
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		calID, int64(r.Seq), receivedAt, r.AppliedAt.UnixNano(), r.Points, r.Truncated,
		int64(r.Generation), int64(r.DensifyDuration), string(outJSON), string(covJSON))
	if err != nil {
		return fmt.Errorf("insert frame report: %w", err)
	}
	return nil
}

// RecentFrames returns up to limit frame reports, newest first.
func (db *DB) RecentFrames(limit int) ([]FrameRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(`SELECT report_id, calibration_id, seq, received_at_ns, applied_at_ns,
		points, truncated, generation, densify_ns, depth_outcomes, depth_coverage
		FROM frame_reports ORDER BY report_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FrameRecord
	for rows.Next() {
		var (
			rec                 FrameRecord
			calID, outJ, covJ   sql.NullString
			seq, gen            int64
			receivedNs          sql.NullInt64
			appliedNs, densifyN int64
		)
		if err := rows.Scan(&rec.ID, &calID, &seq, &receivedNs, &appliedNs,
			&rec.Points, &rec.Truncated, &gen, &densifyN, &outJ, &covJ); err != nil {
			return nil, err
		}
		rec.CalibrationID = calID.String
		rec.Seq = uint64(seq)
		rec.Generation = uint64(gen)
		if receivedNs.Valid {
			rec.ReceivedAt = time.Unix(0, receivedNs.Int64)
		}
		rec.AppliedAt = time.Unix(0, appliedNs)
		rec.Densify = time.Duration(densifyN)
		if outJ.Valid {
			if err := json.Unmarshal([]byte(outJ.String), &rec.DepthOutcomes); err != nil {
				return nil, fmt.Errorf("decode depth outcomes: %w", err)
			}
		}
		if covJ.Valid {
			if err := json.Unmarshal([]byte(covJ.String), &rec.DepthCoverage); err != nil {
				return nil, fmt.Errorf("decode depth coverage: %w", err)
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// PruneFrames deletes frame reports applied before cutoff and returns how
// many rows were removed.
func (db *DB) PruneFrames(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := db.ExecContext(ctx, `DELETE FROM frame_reports WHERE applied_at_ns < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

var _ l5composite.CalibrationRecorder = (*DB)(nil)
