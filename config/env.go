package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
)

// Environment contains the imported environment variables.
type Environment struct {
	// Debug vs Deploy
	Mode string `default:"dev"`
	// Port to listen on
	Addr string `default:":4040"`
	// Report request queue size
	QueueSize int `default:"100" split_words:"true"`
	// Use persisted queue or default (memory only) queue.
	PersistedQueue bool `default:"true" split_words:"true"`
	// Directory to store the queue data in when persisted queue is used.
	QueueDir string `default:"./" split_words:"true"`
	// Name of queue when persisted queue is used.
	QueueName string `default:"report_queue" split_words:"true"`
	// Queue polling interval
	PollIntervalSec int `default:"2" split_words:"true"`
	// Maximum number of report runs in parallel
	Parallelism int `default:"1"`
	// Duplicate request handling: all, queue or none
	Idempotency string `default:"queue"`
	// Daily window (RFC3339, only the time of day is used) during which the queue is not
	// serviced. Empty disables the window.
	PauseTime  string `default:"" split_words:"true"`
	ResumeTime string `default:"" split_words:"true"`

	// Layout file describing storage templates and centers. Empty uses the built in layout.
	LayoutFile string `default:"" split_words:"true"`
	// Root of the per-run scratch workspaces
	ScratchDir string `default:"./scratch" split_words:"true"`

	// Source data store: "fs" or "s3"
	SourceBackend string `default:"fs" split_words:"true"`
	SourceBucket  string `default:"fsoi" split_words:"true"`
	SourceRegion  string `default:"us-east-1" split_words:"true"`
	SourceRoot    string `default:"./data" split_words:"true"`
	// Public source buckets are read without credentials
	SourceAnonymous bool `default:"true" split_words:"true"`

	// Artifact cache store: "fs" or "s3"
	CacheBackend string `default:"fs" split_words:"true"`
	CacheBucket  string `default:"fsoi-image-cache" split_words:"true"`
	CacheRegion  string `default:"us-east-1" split_words:"true"`
	CacheRoot    string `default:"./cache" split_words:"true"`
	// Base URL artifacts are served from; the object key is appended.
	CacheURLBase string `default:"http://localhost:4040/cache" split_words:"true"`

	// Job state backend: "memory", "sqlite3" or "postgres"
	JobStoreDriver string `default:"memory" split_words:"true"`
	JobStoreDSN    string `default:"jobs.db" split_words:"true"`

	// Push notification signing scope and credentials
	PushRegion    string `default:"us-east-1" split_words:"true"`
	PushService   string `default:"execute-api" split_words:"true"`
	PushAccessKey string `default:"" split_words:"true"`
	PushSecretKey string `default:"" split_words:"true"`

	// Pool sizes per stage
	DownloadWorkers int `default:"20" split_words:"true"`
	UploadWorkers   int `default:"10" split_words:"true"`
	NotifyWorkers   int `default:"5" split_words:"true"`
	// Deadline applied to every pooled unit of work
	UnitTimeoutSec int `default:"60" split_words:"true"`

	// GraphQL endpoint terminal runs are published to. Empty disables publication.
	CatalogAddr string `default:"" split_words:"true"`
}

const (
	// IdempotencyAll joins in-flight runs and serves successful runs from cache
	IdempotencyAll = "all"
	// IdempotencyNone re-runs every request
	IdempotencyNone = "none"
	// IdempotencyQueue joins a waiting or in-flight run with the same hash
	IdempotencyQueue = "queue"
)

func (e Environment) String() string {
	redacted := e
	if redacted.PushSecretKey != "" {
		redacted.PushSecretKey = "****"
	}
	settings, err := json.MarshalIndent(redacted, "", "    ")
	if err != nil {
		return fmt.Errorf("Failed to marshal env: %v", err).Error()
	}
	return fmt.Sprintf("Environment Settings:\n%s\n", string(settings))
}

// UnitTimeout returns the per unit deadline as a duration.
func (e *Environment) UnitTimeout() time.Duration {
	return time.Duration(e.UnitTimeoutSec) * time.Second
}

// Load imports the environment variables and returns them in an Environment.
func Load(envFile string) (*Environment, error) {
	testEnv := os.Getenv("WM_MODE")
	// if no env var in existing environment, load environment file from the .env file,
	// otherwise (in production) just check existing host environment
	if "" == testEnv {
		err := godotenv.Load(envFile)
		if err != nil {
			return nil, errors.Wrapf(err, "Error loading %s file", envFile)
		}
	}

	var env Environment
	err := envconfig.Process("wm", &env)
	if err != nil {
		return nil, errors.Wrap(err, "Error processing environment config")
	}
	if err := env.validate(); err != nil {
		return nil, err
	}
	return &env, nil
}

func (e *Environment) validate() error {
	switch e.Idempotency {
	case IdempotencyAll, IdempotencyNone, IdempotencyQueue:
	default:
		return errors.Errorf("invalid idempotency mode %q", e.Idempotency)
	}
	if e.Parallelism < 1 {
		return errors.Errorf("parallelism must be at least 1, got %d", e.Parallelism)
	}
	if (e.PauseTime == "") != (e.ResumeTime == "") {
		return errors.New("pause time and resume time must be set together")
	}
	for _, v := range []string{e.PauseTime, e.ResumeTime} {
		if v == "" {
			continue
		}
		if _, err := time.Parse(time.RFC3339, v); err != nil {
			return errors.Wrapf(err, "invalid pause window time %q", v)
		}
	}
	if e.DownloadWorkers < 1 || e.UploadWorkers < 1 || e.NotifyWorkers < 1 {
		return errors.New("worker pool sizes must be at least 1")
	}
	return nil
}

// UseQueueIdempotency checks if the supplied mode joins requests with a waiting or running
// job of the same hash instead of enqueuing them again.
func UseQueueIdempotency(idempotencyType string) bool {
	return idempotencyType == IdempotencyAll || idempotencyType == IdempotencyQueue
}

// UseCachedResponses checks if the supplied mode answers repeat requests from a previously
// successful run.
func UseCachedResponses(idempotencyType string) bool {
	return idempotencyType == IdempotencyAll
}
