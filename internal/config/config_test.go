package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_RequiredVariables(t *testing.T) {
	t.Run("missing INPAINT_URL returns error", func(t *testing.T) {
		t.Setenv("INPAINT_URL", "")

		_, err := Load()
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInpaintURLRequired)
	})

	t.Run("all required variables present succeeds", func(t *testing.T) {
		t.Setenv("INPAINT_URL", "https://inpaint.example.com")

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, "https://inpaint.example.com", cfg.InpaintURL)
	})
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("INPAINT_URL", "https://inpaint.example.com")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "", cfg.DBPath)
	assert.Equal(t, "/tmp/blanklogo", cfg.TempDir)
	assert.Equal(t, 4, cfg.WorkerCount)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 10*time.Second, cfg.RetryBackoff)
	assert.Equal(t, 5*time.Minute, cfg.LeaseDuration)
	assert.Equal(t, 2*time.Second, cfg.ClaimInterval)
	assert.Equal(t, 30*time.Second, cfg.ReapInterval)
	assert.Equal(t, 30*time.Minute, cfg.JobTimeout)
	assert.EqualValues(t, 102400, cfg.DownloadMinBytes)
	assert.Equal(t, 45*time.Second, cfg.DownloadStrategyTimeout)
	assert.Equal(t, 300, cfg.StreamCopyMaxSec)
	assert.Equal(t, 1, cfg.JobCreditCost)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoad_CustomValues(t *testing.T) {
	t.Setenv("INPAINT_URL", "https://inpaint.example.com")
	t.Setenv("PORT", "3000")
	t.Setenv("DB_PATH", "/var/lib/blanklogo/jobs.db")
	t.Setenv("WORKER_COUNT", "8")
	t.Setenv("MAX_RETRIES", "5")
	t.Setenv("JOB_TIMEOUT", "1h")
	t.Setenv("JOB_CREDIT_COST", "2")
	t.Setenv("S3_BUCKET", "my-bucket")
	t.Setenv("S3_REGION", "eu-west-1")
	t.Setenv("LOG_FORMAT", "json")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Port)
	assert.Equal(t, "/var/lib/blanklogo/jobs.db", cfg.DBPath)
	assert.Equal(t, 8, cfg.WorkerCount)
	assert.Equal(t, 5, cfg.MaxRetries)
	assert.Equal(t, time.Hour, cfg.JobTimeout)
	assert.Equal(t, 2, cfg.JobCreditCost)
	assert.True(t, cfg.S3Enabled())
}

func TestValidate(t *testing.T) {
	valid := &Config{InpaintURL: "https://inpaint.example.com", JobCreditCost: 1, WorkerCount: 4}
	assert.NoError(t, valid.Validate())

	noURL := &Config{JobCreditCost: 1, WorkerCount: 4}
	assert.ErrorIs(t, noURL.Validate(), ErrInpaintURLRequired)

	badCost := &Config{InpaintURL: "x", JobCreditCost: 0, WorkerCount: 4}
	assert.ErrorIs(t, badCost.Validate(), ErrInvalidCreditCost)

	badWorkers := &Config{InpaintURL: "x", JobCreditCost: 1, WorkerCount: 0}
	assert.ErrorIs(t, badWorkers.Validate(), ErrInvalidWorkerCount)
}

func TestS3Enabled(t *testing.T) {
	cfg := &Config{}
	assert.False(t, cfg.S3Enabled())

	cfg.S3Bucket = "bucket"
	assert.False(t, cfg.S3Enabled())

	cfg.S3Region = "eu-west-1"
	assert.True(t, cfg.S3Enabled())
}

func TestString_MasksSecrets(t *testing.T) {
	cfg := &Config{
		InpaintURL:         "https://inpaint.example.com",
		InpaintAPIKey:      "super-secret",
		AWSSecretAccessKey: "also-secret",
	}
	s := cfg.String()
	assert.NotContains(t, s, "super-secret")
	assert.NotContains(t, s, "also-secret")
}

func TestNewLogger(t *testing.T) {
	cfg := &Config{LogFormat: "json", LogLevel: "debug"}
	assert.NotNil(t, cfg.NewLogger())

	cfg = &Config{LogFormat: "text", LogLevel: "bogus"}
	assert.NotNil(t, cfg.NewLogger())
}
