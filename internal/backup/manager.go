// Package backup owns the snapshot repository lifecycle, the daily snapshot
// task and one-shot restores.
package backup

import (
	"context"
	"strings"

	"github.com/juju/clock"

	"escar/internal/elastic"
	logx "escar/pkg/logx"
)

// repositoryDateFormat names backup repositories by UTC day.
const repositoryDateFormat = "20060102"

// Admin is the subset of the Elasticsearch admin API the package needs.
type Admin interface {
	RepositoryExists(ctx context.Context, name string) (bool, error)
	CreateRepository(ctx context.Context, name string, repo elastic.Repository) (bool, error)
	CreateSnapshot(ctx context.Context, repo, snapshot string, req elastic.SnapshotRequest, wait bool) (*elastic.SnapshotResult, error)
	RestoreSnapshot(ctx context.Context, repo, snapshot string, req elastic.RestoreRequest, wait bool) error
}

type Config struct {
	Type            string
	Bucket          string
	Region          string
	BasePath        string
	RestoreBasePath string
	Options

	Indices            string
	IgnoreUnavailable  bool
	IncludeGlobalState bool
	WaitForCompletion  bool
	IncludeIndexName   bool
	VerifyBucket       bool
}

func (c Config) repoType() string {
	t := strings.ToLower(strings.TrimSpace(c.Type))
	if t == "" {
		return TypeS3
	}
	return t
}

type Manager struct {
	cfg   Config
	es    Admin
	clock clock.Clock
	log   logx.Logger
}

type Option func(*Manager)

func WithClock(c clock.Clock) Option { return func(m *Manager) { m.clock = c } }

func NewManager(cfg Config, es Admin, log logx.Logger, opts ...Option) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	m := &Manager{
		cfg:   cfg,
		es:    es,
		clock: clock.WallClock,
		log:   log.With(logx.String("comp", "backup")),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// RepositoryName is today's backup repository name.
func (m *Manager) RepositoryName() string {
	return m.clock.Now().UTC().Format(repositoryDateFormat)
}

func (m *Manager) backupParams() BackupParams {
	return BackupParams{
		Bucket:   m.cfg.Bucket,
		Region:   m.cfg.Region,
		BasePath: m.cfg.BasePath,
		Options:  m.cfg.Options,
	}
}

func (m *Manager) restoreParams(suffix string) RestoreParams {
	return RestoreParams{
		Bucket:   m.cfg.Bucket,
		Region:   m.cfg.Region,
		BasePath: restoreBasePath(m.cfg.RestoreBasePath, m.cfg.BasePath, suffix),
		Options:  m.cfg.Options,
	}
}

// CreateOrGetBackupRepository ensures today's backup repository exists and
// returns its name. Repeated calls on the same UTC day create nothing.
func (m *Manager) CreateOrGetBackupRepository(ctx context.Context) (string, error) {
	name := m.RepositoryName()
	p := m.backupParams()
	m.log.Info("snapshot repository", logx.String("name", name))

	if err := m.ensure(ctx, name, p, p.BasePath); err != nil {
		return "", err
	}
	return name, nil
}

// CreateRestoreRepository registers name against the backup stored under
// basePathSuffix. An already registered name is left alone.
func (m *Manager) CreateRestoreRepository(ctx context.Context, name, basePathSuffix string) error {
	p := m.restoreParams(basePathSuffix)
	if strings.TrimSpace(name) == "" {
		return &CreateRepositoryError{Name: name, Stage: StageParams, Settings: p.Summary(), Err: errEmptyName}
	}
	return m.ensure(ctx, name, p, p.BasePath)
}

func (m *Manager) ensure(ctx context.Context, name string, p Params, basePath string) error {
	typ := m.cfg.repoType()
	fail := func(stage Stage, err error) error {
		return &CreateRepositoryError{Name: name, Stage: stage, Settings: p.Summary(), Err: err}
	}
	if err := validateParams(typ, m.cfg.Bucket, basePath); err != nil {
		return fail(StageParams, err)
	}

	exists, err := m.es.RepositoryExists(ctx, name)
	if err != nil {
		return fail(StageExists, err)
	}
	if exists {
		m.log.Debug("repository already exists", logx.String("name", name))
		return nil
	}

	ack, err := m.es.CreateRepository(ctx, name, elastic.Repository{Type: typ, Settings: p.Settings(typ)})
	if err != nil {
		return fail(StageCreate, err)
	}
	if !ack {
		return fail(StageAck, errNotAcknowledged)
	}
	m.log.Info("created repository",
		logx.String("name", name),
		logx.String("type", typ),
		logx.String("settings", p.Summary()),
	)
	return nil
}
