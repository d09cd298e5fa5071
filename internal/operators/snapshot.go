package operators

import (
	"context"
	"fmt"
	"strings"
	"time"

	"saasloader/internal/cloud"
)

// ── Redshift cluster snapshots ─────────────────────────────

type snapshotParams struct {
	AWSConnID     string            `yaml:"aws_conn_id"`
	Action        string            `yaml:"action"`
	ClusterID     string            `yaml:"cluster_identifier"`
	SnapshotID    string            `yaml:"snapshot_identifier"`
	Tags          map[string]string `yaml:"tags"`
	SnapshotType  string            `yaml:"snapshot_type"`
	StartTime     string            `yaml:"start_time"`
	EndTime       string            `yaml:"end_time"`
	RetentionDays int               `yaml:"retention_days"`
}

type redshiftSnapshot struct {
	p          snapshotParams
	start, end time.Time
}

func init() {
	define("redshift_snapshot",
		"Take a manual Redshift cluster snapshot and wait for it, or delete the snapshots in a time range",
		snapshotParams{
			AWSConnID:    "aws_default",
			Action:       "create",
			SnapshotType: "manual",
		},
		func(p *snapshotParams) (Operator, error) {
			if err := required("cluster_identifier", p.ClusterID); err != nil {
				return nil, err
			}
			o := &redshiftSnapshot{p: *p}
			switch strings.ToLower(p.Action) {
			case "create":
			case "delete":
				var err error
				if o.start, err = parseTimeParam("start_time", p.StartTime); err != nil {
					return nil, err
				}
				if o.end, err = parseTimeParam("end_time", p.EndTime); err != nil {
					return nil, err
				}
				if p.RetentionDays < 0 {
					return nil, fmt.Errorf("retention_days must not be negative")
				}
				if o.end.IsZero() && p.RetentionDays == 0 {
					return nil, fmt.Errorf("delete needs end_time or retention_days")
				}
			default:
				return nil, fmt.Errorf("action %q is not one of create, delete", p.Action)
			}
			return o, nil
		})
}

// parseTimeParam accepts RFC 3339 timestamps and plain dates.
func parseTimeParam(name, v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, v); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%s: cannot parse %q as a time", name, v)
}

func (o *redshiftSnapshot) Run(ctx context.Context, env *Env) (*Result, error) {
	log := env.logger()
	snaps, err := env.Resources.Snapshots(ctx, o.p.AWSConnID)
	if err != nil {
		return nil, fmt.Errorf("open redshift %s: %w", o.p.AWSConnID, err)
	}

	if strings.EqualFold(o.p.Action, "create") {
		id := o.p.SnapshotID
		if id == "" {
			id = o.p.ClusterID + "-" + env.now().UTC().Format("20060102-150405")
		}
		snap, err := snaps.Create(ctx, id, o.p.ClusterID, o.p.Tags)
		if err != nil {
			return nil, err
		}
		log.Info("snapshot created", "snapshot", snap.ID, "cluster", o.p.ClusterID)
		res := &Result{}
		res.wrote(snap.ID, 1)
		return res, nil
	}

	filter := cloud.SnapshotFilter{
		Cluster: o.p.ClusterID,
		Type:    o.p.SnapshotType,
		Start:   o.start,
		End:     o.end,
	}
	if o.p.RetentionDays > 0 {
		cutoff := env.now().UTC().AddDate(0, 0, -o.p.RetentionDays)
		if filter.End.IsZero() || cutoff.Before(filter.End) {
			filter.End = cutoff
		}
	}
	deleted, err := snaps.Delete(ctx, filter)
	if err != nil {
		return nil, err
	}
	log.Info("snapshots deleted", "cluster", o.p.ClusterID, "count", len(deleted))
	return &Result{RowsRead: len(deleted)}, nil
}
