// Package backup implements the optional Backup Adapter: pushing and
// pulling branch state (the mounted snapshot tree, and optionally the
// WAL archive tree) against a content-addressed repository keyed by
// branch name, dataset, snapshot, and payload type. The remote
// object-store endpoint named in a BackupConfig is an external
// collaborator outside this module's scope; the concrete Repo shipped
// here is a local-filesystem content-addressed store, the same shape
// the adapter would present to an S3-backed implementation.
package backup

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/cuemby/pgd/pkg/engineerr"
	"github.com/cuemby/pgd/pkg/log"
	"github.com/cuemby/pgd/pkg/types"
)

// PayloadType distinguishes a branch's data tree from its WAL archive
// tree within the repository.
type PayloadType string

const (
	DataPayload PayloadType = "data"
	WALPayload  PayloadType = "wal"
)

// Tag identifies one repository entry.
type Tag struct {
	Branch   string
	Dataset  string
	Snapshot string
	Type     PayloadType
}

// key returns a filesystem-safe, deterministic name for the tag.
func (t Tag) key() string {
	return strings.ReplaceAll(fmt.Sprintf("%s__%s__%s__%s", t.Branch, t.Dataset, t.Snapshot, t.Type), "/", "%2F")
}

func (t Tag) String() string {
	return fmt.Sprintf("%s/%s@%s:%s", t.Branch, t.Dataset, t.Snapshot, t.Type)
}

// Entry is one pushed, tagged payload.
type Entry struct {
	Tag       Tag       `json:"tag"`
	Digest    string    `json:"digest"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

// manifest is Entry as persisted on disk; Tag is flattened so the
// file is self-describing without relying on its own filename.
type manifest struct {
	Branch    string      `json:"branch"`
	Dataset   string      `json:"dataset"`
	Snapshot  string      `json:"snapshot"`
	Type      PayloadType `json:"type"`
	Digest    string      `json:"digest"`
	Size      int64       `json:"size"`
	CreatedAt time.Time   `json:"created_at"`
}

// Repo is the content-addressed repository contract the orchestrator's
// push/pull/cleanup operations use.
type Repo interface {
	Push(ctx context.Context, tag Tag, sourceDir string) (Entry, error)
	Pull(ctx context.Context, tag Tag, destDir string) error
	List(ctx context.Context) ([]Entry, error)
	Cleanup(ctx context.Context, cutoff time.Time) (int, error)
}

// LocalRepo implements Repo as a local-filesystem, sha256-addressed
// blob store rooted at basePath, with blobs/ and tags/ subdirectories.
type LocalRepo struct {
	basePath string
	logger   zerolog.Logger
}

// NewLocalRepo returns a repository rooted at basePath, creating its
// blobs and tags subdirectories if absent.
func NewLocalRepo(basePath string) (*LocalRepo, error) {
	for _, sub := range []string{"blobs", "tags"} {
		if err := os.MkdirAll(filepath.Join(basePath, sub), 0o755); err != nil {
			return nil, engineerr.System("create backup repository directory", err)
		}
	}
	return &LocalRepo{basePath: basePath, logger: log.WithComponent("backup")}, nil
}

func (r *LocalRepo) blobPath(digest string) string {
	return filepath.Join(r.basePath, "blobs", digest[:2], digest+".tar.gz")
}

func (r *LocalRepo) tagPath(tag Tag) string {
	return filepath.Join(r.basePath, "tags", tag.key()+".json")
}

// Push archives sourceDir into a gzip-compressed tar, stores it under
// its content digest (deduplicating identical trees), and writes a
// tag manifest pointing at it.
func (r *LocalRepo) Push(ctx context.Context, tag Tag, sourceDir string) (Entry, error) {
	tmp, err := os.CreateTemp(filepath.Join(r.basePath, "blobs"), "push-*.tmp")
	if err != nil {
		return Entry{}, engineerr.System("create temporary blob", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	hasher := sha256.New()
	gz := gzip.NewWriter(io.MultiWriter(tmp, hasher))
	tw := tar.NewWriter(gz)

	walkErr := filepath.Walk(sourceDir, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		rel, err := filepath.Rel(sourceDir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		hdr, err := tar.FileInfoHeader(fi, "")
		if err != nil {
			return err
		}
		hdr.Name = rel
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if fi.IsDir() {
			return nil
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})

	closeErr := tw.Close()
	gzErr := gz.Close()
	syncErr := tmp.Sync()
	tmp.Close()
	for _, e := range []error{walkErr, closeErr, gzErr, syncErr} {
		if e != nil {
			return Entry{}, engineerr.System(fmt.Sprintf("archive %s for push", sourceDir), e)
		}
	}

	info, err := os.Stat(tmpPath)
	if err != nil {
		return Entry{}, engineerr.System("stat pushed archive", err)
	}
	digest := hex.EncodeToString(hasher.Sum(nil))

	blobPath := r.blobPath(digest)
	if _, err := os.Stat(blobPath); os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(blobPath), 0o755); err != nil {
			return Entry{}, engineerr.System("create blob shard directory", err)
		}
		if err := os.Rename(tmpPath, blobPath); err != nil {
			return Entry{}, engineerr.System("store pushed blob", err)
		}
	}

	entry := Entry{Tag: tag, Digest: digest, Size: info.Size(), CreatedAt: time.Now().UTC()}
	if err := r.writeManifest(entry); err != nil {
		return Entry{}, err
	}
	r.logger.Info().Str("tag", tag.String()).Str("digest", digest).Int64("bytes", entry.Size).Msg("pushed backup entry")
	return entry, nil
}

func (r *LocalRepo) writeManifest(entry Entry) error {
	m := manifest{
		Branch: entry.Tag.Branch, Dataset: entry.Tag.Dataset, Snapshot: entry.Tag.Snapshot,
		Type: entry.Tag.Type, Digest: entry.Digest, Size: entry.Size, CreatedAt: entry.CreatedAt,
	}
	buf, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return engineerr.System("marshal backup manifest", err)
	}
	if err := os.WriteFile(r.tagPath(entry.Tag), buf, 0o644); err != nil {
		return engineerr.System("write backup manifest", err)
	}
	return nil
}

// Pull materializes the tagged payload into destDir, which must
// already exist.
func (r *LocalRepo) Pull(ctx context.Context, tag Tag, destDir string) error {
	buf, err := os.ReadFile(r.tagPath(tag))
	if err != nil {
		if os.IsNotExist(err) {
			return engineerr.UserHint(fmt.Sprintf("no backup entry tagged %s", tag), "push this branch before pulling it", err)
		}
		return engineerr.System("read backup manifest", err)
	}
	var m manifest
	if err := json.Unmarshal(buf, &m); err != nil {
		return engineerr.System("parse backup manifest", err)
	}

	f, err := os.Open(r.blobPath(m.Digest))
	if err != nil {
		return engineerr.System("open backup blob", err)
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		return engineerr.System("open backup blob gzip stream", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return engineerr.System("read backup tar stream", err)
		}
		target := filepath.Join(destDir, hdr.Name)
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, os.FileMode(hdr.Mode)); err != nil {
				return engineerr.System("recreate directory from backup", err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return engineerr.System("recreate parent directory from backup", err)
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode))
			if err != nil {
				return engineerr.System("recreate file from backup", err)
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return engineerr.System("write restored file contents", err)
			}
			out.Close()
		}
	}
	r.logger.Info().Str("tag", tag.String()).Str("dest", destDir).Msg("pulled backup entry")
	return nil
}

// List returns every tagged entry in the repository.
func (r *LocalRepo) List(ctx context.Context) ([]Entry, error) {
	tagsDir := filepath.Join(r.basePath, "tags")
	dirEntries, err := os.ReadDir(tagsDir)
	if err != nil {
		return nil, engineerr.System("list backup tags", err)
	}
	var out []Entry
	for _, de := range dirEntries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), ".json") {
			continue
		}
		buf, err := os.ReadFile(filepath.Join(tagsDir, de.Name()))
		if err != nil {
			continue
		}
		var m manifest
		if err := json.Unmarshal(buf, &m); err != nil {
			continue
		}
		out = append(out, Entry{
			Tag:       Tag{Branch: m.Branch, Dataset: m.Dataset, Snapshot: m.Snapshot, Type: m.Type},
			Digest:    m.Digest,
			Size:      m.Size,
			CreatedAt: m.CreatedAt,
		})
	}
	return out, nil
}

// Cleanup removes tagged entries older than cutoff, then garbage
// collects any blob no remaining tag references.
func (r *LocalRepo) Cleanup(ctx context.Context, cutoff time.Time) (int, error) {
	entries, err := r.List(ctx)
	if err != nil {
		return 0, err
	}

	removed := 0
	kept := make(map[string]bool)
	for _, e := range entries {
		if e.CreatedAt.Before(cutoff) {
			if err := os.Remove(r.tagPath(e.Tag)); err != nil && !os.IsNotExist(err) {
				return removed, engineerr.System("remove expired backup tag", err)
			}
			removed++
			continue
		}
		kept[e.Digest] = true
	}

	blobsDir := filepath.Join(r.basePath, "blobs")
	shards, err := os.ReadDir(blobsDir)
	if err != nil {
		return removed, engineerr.System("list backup blob shards", err)
	}
	for _, shard := range shards {
		if !shard.IsDir() {
			continue
		}
		files, err := os.ReadDir(filepath.Join(blobsDir, shard.Name()))
		if err != nil {
			continue
		}
		for _, f := range files {
			digest := strings.TrimSuffix(f.Name(), ".tar.gz")
			if !kept[digest] {
				_ = os.Remove(filepath.Join(blobsDir, shard.Name(), f.Name()))
			}
		}
	}

	r.logger.Info().Int("removed", removed).Time("cutoff", cutoff).Msg("cleaned up expired backup entries")
	return removed, nil
}

// LoadConfig reads a BackupConfig repository document from path.
func LoadConfig(path string) (*types.BackupConfig, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, engineerr.System("read backup repository config", err)
	}
	var cfg types.BackupConfig
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return nil, engineerr.System("parse backup repository config", err)
	}
	cfg.LocalConfigPath = path
	return &cfg, nil
}

// SaveConfig writes cfg as a repository document at cfg.LocalConfigPath.
func SaveConfig(cfg *types.BackupConfig) error {
	if cfg.LocalConfigPath == "" {
		return engineerr.User("backup config has no local_config_path set", nil)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.LocalConfigPath), 0o755); err != nil {
		return engineerr.System("create backup config directory", err)
	}
	buf, err := yaml.Marshal(cfg)
	if err != nil {
		return engineerr.System("marshal backup repository config", err)
	}
	if err := os.WriteFile(cfg.LocalConfigPath, buf, 0o600); err != nil {
		return engineerr.System("write backup repository config", err)
	}
	return nil
}
