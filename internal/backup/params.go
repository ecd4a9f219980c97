package backup

import (
	"fmt"
	"path"
	"strings"
)

// Repository types understood by Elasticsearch's snapshot module.
const (
	TypeS3    = "s3"
	TypeFS    = "fs"
	TypeGCS   = "gcs"
	TypeAzure = "azure"
)

// Options are the optional repository settings. Each one lands in the
// settings map only when enabled or set.
type Options struct {
	Compress             bool
	ServerSideEncryption bool
	ChunkSize            string
	MaxRetries           int
}

func (o Options) apply(typ string, m map[string]any) {
	if o.Compress {
		m["compress"] = true
	}
	if o.ServerSideEncryption && typ == TypeS3 {
		m["server_side_encryption"] = true
	}
	if s := strings.TrimSpace(o.ChunkSize); s != "" {
		m["chunk_size"] = s
	}
	if o.MaxRetries > 0 {
		m["max_retries"] = o.MaxRetries
	}
}

// Params is the parameter set a repository is created with. It is either
// BackupParams or RestoreParams.
type Params interface {
	Settings(typ string) map[string]any
	Summary() string
	sealed()
}

// BackupParams describes the daily backup repository.
type BackupParams struct {
	Bucket   string
	Region   string
	BasePath string
	Options
}

// RestoreParams describes a repository pointing at an existing backup.
// BasePath already includes the suffix.
type RestoreParams struct {
	Bucket   string
	Region   string
	BasePath string
	Options
}

func (BackupParams) sealed()  {}
func (RestoreParams) sealed() {}

func (p BackupParams) Settings(typ string) map[string]any {
	return settingsFor(typ, p.Bucket, p.Region, p.BasePath, p.Options)
}

func (p RestoreParams) Settings(typ string) map[string]any {
	return settingsFor(typ, p.Bucket, p.Region, p.BasePath, p.Options)
}

func (p BackupParams) Summary() string  { return summary(p.Bucket, p.BasePath, p.Region) }
func (p RestoreParams) Summary() string { return summary(p.Bucket, p.BasePath, p.Region) }

func summary(bucket, basePath, region string) string {
	return fmt.Sprintf("bucket: <%s> base_path: <%s> region: <%s>", bucket, basePath, region)
}

func settingsFor(typ, bucket, region, basePath string, o Options) map[string]any {
	m := map[string]any{}
	switch typ {
	case TypeFS:
		m["location"] = basePath
	case TypeAzure:
		m["container"] = bucket
		m["base_path"] = basePath
	case TypeGCS:
		m["bucket"] = bucket
		m["base_path"] = basePath
	default:
		m["bucket"] = bucket
		m["base_path"] = basePath
		if region != "" {
			m["region"] = region
		}
	}
	o.apply(typ, m)
	return m
}

// restoreBasePath joins the configured restore base (or the backup base
// when unset) with suffix.
func restoreBasePath(restoreBase, base, suffix string) string {
	root := strings.TrimSpace(restoreBase)
	if root == "" {
		root = strings.TrimSpace(base)
	}
	suffix = strings.Trim(strings.TrimSpace(suffix), "/")
	if suffix == "" {
		return root
	}
	if root == "" {
		return suffix
	}
	return path.Join(root, suffix)
}

func validateParams(typ string, bucket, basePath string) error {
	switch typ {
	case TypeS3, TypeGCS, TypeAzure:
		if strings.TrimSpace(bucket) == "" {
			return fmt.Errorf("%s repository requires a bucket", typ)
		}
	case TypeFS:
		if strings.TrimSpace(basePath) == "" {
			return fmt.Errorf("fs repository requires a base path")
		}
	default:
		return fmt.Errorf("unknown repository type %q", typ)
	}
	return nil
}
