package types

import "time"

// Project is a logical grouping of branches sharing one set of database
// credentials, one container image reference and one certificate
// directory. Exactly one of its branches is primary.
type Project struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Image       string      `json:"image"`
	CertDir     string      `json:"cert_dir"`
	Credentials Credentials `json:"credentials"`
	CreatedAt   time.Time   `json:"created_at"`
}

// Credentials holds a project's shared database credentials. Password
// is stored encrypted at rest (see pkg/secrets); it is plaintext only
// transiently in memory while an operation is in flight.
type Credentials struct {
	User          string `json:"user"`
	Database      string `json:"database"`
	EncryptedPass []byte `json:"encrypted_pass"`
}

// BranchState is a branch's lifecycle state.
type BranchState string

const (
	BranchStateCreated BranchState = "created"
	BranchStateRunning BranchState = "running"
	BranchStateStopped BranchState = "stopped"
)

// Branch is a single writable database instance.
type Branch struct {
	ID             string      `json:"id"`
	ProjectName    string      `json:"project_name"`
	Name           string      `json:"name"` // namespaced "project/branch"
	ParentBranchID string      `json:"parent_branch_id,omitempty"`
	SnapshotName   string      `json:"snapshot_name,omitempty"` // dataset@label, empty only for primary
	DatasetName    string      `json:"dataset_name"`
	ContainerName  string      `json:"container_name"`
	Port           int         `json:"port,omitempty"`
	State          BranchState `json:"state"`
	CreatedAt      time.Time   `json:"created_at"`
}

// IsPrimary reports whether this branch is the project's primary
// branch (no parent, no origin snapshot).
func (b *Branch) IsPrimary() bool {
	return b.ParentBranchID == "" && b.SnapshotName == ""
}

// Snapshot is a named point-in-time image of a branch's dataset.
type Snapshot struct {
	ID         string    `json:"id"`
	BranchName string    `json:"branch_name"`
	Reference  string    `json:"reference"` // fully qualified dataset@label
	Label      string    `json:"label,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// BackupConfig describes the optional remote-object-store backup
// repository. The remote endpoint itself is an external collaborator
// (spec scope); this struct is the local record of how to reach it.
type BackupConfig struct {
	Endpoint         string `json:"endpoint"`
	Bucket           string `json:"bucket"`
	AccessKey        string `json:"access_key"`
	SecretKey        string `json:"secret_key"`
	RepositoryPrefix string `json:"repository_prefix"`
	LocalConfigPath  string `json:"local_config_path"`
}

// Catalog is the complete, persisted state document.
type Catalog struct {
	Version       int                  `json:"version"`
	InitializedAt time.Time            `json:"initialized_at"`
	Pool          string               `json:"pool,omitempty"`      // copy-on-write storage pool, auto-detected on first createProject
	BasePath      string               `json:"base_path,omitempty"` // dataset namespace root under Pool
	Projects      map[string]*Project  `json:"projects"`            // keyed by project name
	Branches      map[string]*Branch   `json:"branches"`            // keyed by namespaced name
	Snapshots     map[string]*Snapshot `json:"snapshots"`           // keyed by id
	BackupConfig  *BackupConfig        `json:"backup_config,omitempty"`
}

// NewCatalog returns an empty, well-formed catalog. Pool and BasePath
// are filled in by createProject on first use (spec: "auto-initializes
// catalog on first call").
func NewCatalog() *Catalog {
	return &Catalog{
		Version:       1,
		InitializedAt: time.Now().UTC(),
		Projects:      make(map[string]*Project),
		Branches:      make(map[string]*Branch),
		Snapshots:     make(map[string]*Snapshot),
	}
}
