package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.viam.com/test"

	"github.com/photocloud/photocloud/logging"
	"github.com/photocloud/photocloud/pointcloud"
	"github.com/photocloud/photocloud/vision/keypoints"
)

func TestFromReader(t *testing.T) {
	_, err := FromReader("somepath", strings.NewReader(""))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "EOF")

	conf, err := FromReader("somepath", strings.NewReader(`{}`))
	test.That(t, err, test.ShouldBeNil)
	expected := Default()
	expected.ConfigFilePath = "somepath"
	test.That(t, conf, test.ShouldResemble, expected)

	conf, err = FromReader("somepath", strings.NewReader(`{"web": null, "log": {"level": "debug"}}`))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, conf.Web, test.ShouldResemble, Default().Web)
	level, err := conf.LogLevel()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, level, test.ShouldEqual, logging.DEBUG)
}

func TestFromReaderMergesDefaults(t *testing.T) {
	conf, err := FromReader("somepath", strings.NewReader(`{
		"reconstruction": {
			"min_matches": 80,
			"features": {"detector": "orb"},
			"monocular": {"fov_degrees": 45}
		},
		"jobs": {"workers": 4, "retention": "24h"},
		"web": {"allowed_origins": ["http://viewer.example"]}
	}`))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, conf.Reconstruction.MinMatches, test.ShouldEqual, 80)
	test.That(t, conf.Reconstruction.MaxRadius, test.ShouldEqual, pointcloud.DefaultMaxRadius)
	test.That(t, conf.Reconstruction.Features.Detector, test.ShouldEqual, keypoints.ORBDetectorName)
	test.That(t, conf.Reconstruction.Features.Histogram, test.ShouldNotBeNil)
	test.That(t, conf.Reconstruction.Matching.Ratio, test.ShouldEqual, 0.7)
	test.That(t, conf.Reconstruction.Monocular.FieldOfView, test.ShouldEqual, 45.0)
	test.That(t, conf.Reconstruction.Monocular.MaxDepth, test.ShouldEqual, 100.0)
	test.That(t, conf.Reconstruction.Intrinsics.Fx, test.ShouldEqual, 800.0)
	test.That(t, conf.Jobs.Workers, test.ShouldEqual, 4)
	test.That(t, conf.Jobs.Store, test.ShouldEqual, "memory")
	test.That(t, conf.Web.AllowedOrigins, test.ShouldResemble, []string{"http://viewer.example"})
	test.That(t, conf.Web.MaxFileSize, test.ShouldEqual, int64(50<<20))
}

func TestFromReaderInvalid(t *testing.T) {
	tests := []struct {
		name   string
		doc    string
		errStr string
	}{
		{"unknown field", `{"robots": []}`, "unknown field"},
		{"wrong type", `{"jobs": {"workers": "two"}}`, "failed to decode"},
		{"workers", `{"jobs": {"workers": 0}}`, "jobs"},
		{"detector", `{"reconstruction": {"features": {"detector": "surf"}}}`, "surf"},
		{"min matches", `{"reconstruction": {"min_matches": 3}}`, "min_matches"},
		{"sqlite path", `{"jobs": {"store": "sqlite"}}`, "database_path"},
		{"web", `{"web": {"max_file_size": -1}}`, "max_file_size"},
		{"log level", `{"log": {"level": "loud"}}`, "loud"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := FromReader("somepath", strings.NewReader(tc.doc))
			test.That(t, err, test.ShouldNotBeNil)
			test.That(t, err.Error(), test.ShouldContainSubstring, tc.errStr)
		})
	}
}

func TestReadExpandsEnvironment(t *testing.T) {
	t.Setenv("PHOTOCLOUD_WORKERS", "3")
	t.Setenv("PHOTOCLOUD_DB", "/var/lib/photocloud/jobs.db")
	path := filepath.Join(t.TempDir(), "photocloud.json")
	doc := `{
		"jobs": {"workers": ${PHOTOCLOUD_WORKERS}, "store": "sqlite", "database_path": "${PHOTOCLOUD_DB}"},
		"web": {"listen": "${PHOTOCLOUD_LISTEN:-0.0.0.0:8080}"}
	}`
	test.That(t, os.WriteFile(path, []byte(doc), 0o600), test.ShouldBeNil)

	conf, err := Read(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, conf.ConfigFilePath, test.ShouldEqual, path)
	test.That(t, conf.Jobs.Workers, test.ShouldEqual, 3)
	test.That(t, conf.Jobs.DatabasePath, test.ShouldEqual, "/var/lib/photocloud/jobs.db")
	test.That(t, conf.Web.Listen, test.ShouldEqual, "0.0.0.0:8080")

	_, err = Read(filepath.Join(t.TempDir(), "missing.json"))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestReadOrDefault(t *testing.T) {
	conf, err := ReadOrDefault("")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, conf, test.ShouldResemble, Default())
}
