package cloud

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/redshift"
	"github.com/aws/aws-sdk-go-v2/service/redshift/types"

	"saasloader/internal/domain"
	"saasloader/internal/objectstore"
)

// ── Redshift snapshots ─────────────────────────────────────

// Snapshot is one cluster snapshot.
type Snapshot struct {
	ID        string    `json:"id"`
	Cluster   string    `json:"cluster"`
	Type      string    `json:"type"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

// SnapshotFilter narrows a snapshot listing. Zero fields match everything.
type SnapshotFilter struct {
	Cluster string
	Type    string // manual or automated
	Start   time.Time
	End     time.Time
}

// Snapshots manages Redshift cluster snapshots. PollInterval paces the wait
// for a new snapshot to become available; it defaults to 10s.
type Snapshots struct {
	client       *redshift.Client
	logger       *slog.Logger
	PollInterval time.Duration
}

// NewSnapshots builds a Snapshots from a connection. Host is a custom endpoint.
func NewSnapshots(ctx context.Context, conn *domain.Connection, logger *slog.Logger) (*Snapshots, error) {
	cfg, err := objectstore.LoadConfig(ctx, conn, "")
	if err != nil {
		return nil, err
	}
	var opts []func(*redshift.Options)
	if conn.Host != "" {
		endpoint := conn.Host
		opts = append(opts, func(o *redshift.Options) { o.BaseEndpoint = &endpoint })
	}
	return NewSnapshotsFromClient(redshift.NewFromConfig(cfg, opts...), logger), nil
}

// NewSnapshotsFromClient wraps an existing client.
func NewSnapshotsFromClient(client *redshift.Client, logger *slog.Logger) *Snapshots {
	if logger == nil {
		logger = slog.Default()
	}
	return &Snapshots{client: client, logger: logger, PollInterval: 10 * time.Second}
}

// Create takes a manual snapshot of cluster and waits until it is available.
func (s *Snapshots) Create(ctx context.Context, id, cluster string, tags map[string]string) (*Snapshot, error) {
	in := &redshift.CreateClusterSnapshotInput{
		SnapshotIdentifier: aws.String(id),
		ClusterIdentifier:  aws.String(cluster),
	}
	for _, k := range slices.Sorted(maps.Keys(tags)) {
		in.Tags = append(in.Tags, types.Tag{Key: aws.String(k), Value: aws.String(tags[k])})
	}
	if _, err := s.client.CreateClusterSnapshot(ctx, in); err != nil {
		return nil, fmt.Errorf("create snapshot %s of %s: %w", id, cluster, err)
	}
	s.logger.Info("snapshot requested", "snapshot", id, "cluster", cluster)

	interval := s.PollInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	for {
		snap, err := s.describe(ctx, id)
		if err != nil {
			return nil, err
		}
		switch strings.ToLower(snap.Status) {
		case "available":
			s.logger.Info("snapshot available", "snapshot", id)
			return snap, nil
		case "":
			return nil, fmt.Errorf("snapshot %s has no status", id)
		case "failed", "deleted":
			return nil, fmt.Errorf("snapshot %s is %s", id, snap.Status)
		}
		s.logger.Debug("waiting for snapshot", "snapshot", id, "status", snap.Status)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
	}
}

func (s *Snapshots) describe(ctx context.Context, id string) (*Snapshot, error) {
	out, err := s.client.DescribeClusterSnapshots(ctx, &redshift.DescribeClusterSnapshotsInput{
		SnapshotIdentifier: aws.String(id),
		SnapshotType:       aws.String("manual"),
	})
	if err != nil {
		return nil, fmt.Errorf("describe snapshot %s: %w", id, err)
	}
	if len(out.Snapshots) == 0 {
		return nil, fmt.Errorf("snapshot %s not found", id)
	}
	snap := toSnapshot(out.Snapshots[0])
	return &snap, nil
}

// List returns the snapshots matching f, across every page.
func (s *Snapshots) List(ctx context.Context, f SnapshotFilter) ([]Snapshot, error) {
	in := &redshift.DescribeClusterSnapshotsInput{}
	if f.Cluster != "" {
		in.ClusterIdentifier = aws.String(f.Cluster)
	}
	if f.Type != "" {
		in.SnapshotType = aws.String(f.Type)
	}
	if !f.Start.IsZero() {
		in.StartTime = aws.Time(f.Start)
	}
	if !f.End.IsZero() {
		in.EndTime = aws.Time(f.End)
	}

	var out []Snapshot
	p := redshift.NewDescribeClusterSnapshotsPaginator(s.client, in)
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return out, fmt.Errorf("describe snapshots: %w", err)
		}
		for _, sn := range page.Snapshots {
			out = append(out, toSnapshot(sn))
		}
	}
	return out, nil
}

// Delete removes every snapshot matching f and returns their ids.
func (s *Snapshots) Delete(ctx context.Context, f SnapshotFilter) ([]string, error) {
	snaps, err := s.List(ctx, f)
	if err != nil {
		return nil, err
	}
	var deleted []string
	for _, sn := range snaps {
		_, err := s.client.DeleteClusterSnapshot(ctx, &redshift.DeleteClusterSnapshotInput{
			SnapshotIdentifier:        aws.String(sn.ID),
			SnapshotClusterIdentifier: aws.String(sn.Cluster),
		})
		if err != nil {
			return deleted, fmt.Errorf("delete snapshot %s: %w", sn.ID, err)
		}
		s.logger.Info("snapshot deleted", "snapshot", sn.ID, "cluster", sn.Cluster)
		deleted = append(deleted, sn.ID)
	}
	return deleted, nil
}

func toSnapshot(sn types.Snapshot) Snapshot {
	return Snapshot{
		ID:        aws.ToString(sn.SnapshotIdentifier),
		Cluster:   aws.ToString(sn.ClusterIdentifier),
		Type:      aws.ToString(sn.SnapshotType),
		Status:    aws.ToString(sn.Status),
		CreatedAt: aws.ToTime(sn.SnapshotCreateTime),
	}
}
