package web

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"math/rand"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/test"

	"github.com/photocloud/photocloud/jobmanager"
	"github.com/photocloud/photocloud/logging"
)

type fakeQueue struct {
	mu         sync.Mutex
	submitted  [][]string
	jobs       map[string]jobmanager.Job
	resultsDir string
	submitErr  error
}

func newFakeQueue(t *testing.T) *fakeQueue {
	t.Helper()
	return &fakeQueue{jobs: map[string]jobmanager.Job{}, resultsDir: t.TempDir()}
}

func (q *fakeQueue) Submit(_ context.Context, inputs []string) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.submitErr != nil {
		return "", q.submitErr
	}
	q.submitted = append(q.submitted, inputs)
	id := "job-" + string(rune('a'+len(q.submitted)-1))
	q.jobs[id] = jobmanager.Job{ID: id, Status: jobmanager.StatusQueued, InputCount: len(inputs)}
	return id, nil
}

func (q *fakeQueue) Status(_ context.Context, id string) (jobmanager.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[id]
	if !ok {
		return jobmanager.Job{}, errors.Wrap(jobmanager.ErrJobNotFound, id)
	}
	return job, nil
}

func (q *fakeQueue) List(_ context.Context) ([]jobmanager.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	jobs := []jobmanager.Job{}
	for _, job := range q.jobs {
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func (q *fakeQueue) ResultsDir() string {
	return q.resultsDir
}

func newTestServer(t *testing.T, cfg *Config, queue JobQueue) *Server {
	t.Helper()
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg.UploadDir = t.TempDir()
	s, err := NewServer(cfg, queue, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	return s
}

func noiseImage(seed int64, w, h int) *image.NRGBA {
	rng := rand.New(rand.NewSource(seed))
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{uint8(rng.Intn(256)), uint8(rng.Intn(256)), uint8(rng.Intn(256)), 255})
		}
	}
	return img
}

func pngBytes(t *testing.T, size int) []byte {
	t.Helper()
	var buf bytes.Buffer
	test.That(t, png.Encode(&buf, noiseImage(1, size, size)), test.ShouldBeNil)
	return buf.Bytes()
}

func jpegBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	test.That(t, jpeg.Encode(&buf, noiseImage(2, 16, 16), nil), test.ShouldBeNil)
	return buf.Bytes()
}

var plyBytes = []byte("ply\nformat ascii 1.0\nelement vertex 1\nproperty float x\nproperty float y\n" +
	"property float z\nend_header\n1 2 3\n")

type uploadFile struct {
	name string
	data []byte
}

func uploadRequest(t *testing.T, files ...uploadFile) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, f := range files {
		part, err := mw.CreateFormFile(uploadField, f.name)
		test.That(t, err, test.ShouldBeNil)
		_, err = part.Write(f.data)
		test.That(t, err, test.ShouldBeNil)
	}
	test.That(t, mw.Close(), test.ShouldBeNil)
	req := httptest.NewRequest(http.MethodPost, "/api/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func serve(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	test.That(t, json.Unmarshal(rec.Body.Bytes(), &out), test.ShouldBeNil)
	return out
}

func TestUploadMixedFiles(t *testing.T) {
	queue := newFakeQueue(t)
	s := newTestServer(t, nil, queue)

	rec := serve(s, uploadRequest(t,
		uploadFile{"left.png", pngBytes(t, 16)},
		uploadFile{"right.JPG", jpegBytes(t)},
		uploadFile{"scan.ply", plyBytes},
		uploadFile{"anim.gif", []byte("GIF89a")},
		uploadFile{"fake.png", []byte("definitely not a png")},
		uploadFile{"broken.ply", []byte("solid cube")},
	))
	test.That(t, rec.Code, test.ShouldEqual, http.StatusAccepted)
	resp := decode[UploadResponse](t, rec)
	test.That(t, resp.TaskID, test.ShouldEqual, "job-a")
	test.That(t, resp.FilesCount, test.ShouldEqual, 3)
	test.That(t, resp.Message, test.ShouldNotBeEmpty)
	test.That(t, resp.Warnings, test.ShouldHaveLength, 3)
	test.That(t, resp.Warnings[0], test.ShouldContainSubstring, "anim.gif")
	test.That(t, resp.Warnings[0], test.ShouldContainSubstring, "unsupported file type")
	test.That(t, resp.Warnings[1], test.ShouldContainSubstring, "fake.png")
	test.That(t, resp.Warnings[2], test.ShouldContainSubstring, "invalid ply header")

	test.That(t, queue.submitted, test.ShouldHaveLength, 1)
	inputs := queue.submitted[0]
	test.That(t, inputs, test.ShouldHaveLength, 3)
	test.That(t, filepath.Base(inputs[0]), test.ShouldEqual, "left.png")
	test.That(t, filepath.Base(inputs[1]), test.ShouldEqual, "right.jpg")
	test.That(t, filepath.Base(inputs[2]), test.ShouldEqual, "scan.ply")
	saved, err := os.ReadFile(inputs[2])
	test.That(t, err, test.ShouldBeNil)
	test.That(t, saved, test.ShouldResemble, plyBytes)
}

func TestUploadRejected(t *testing.T) {
	queue := newFakeQueue(t)
	s := newTestServer(t, nil, queue)

	t.Run("no valid file", func(t *testing.T) {
		rec := serve(s, uploadRequest(t, uploadFile{"notes.txt", []byte("hello")}))
		test.That(t, rec.Code, test.ShouldEqual, http.StatusBadRequest)
		resp := decode[errorResponse](t, rec)
		test.That(t, resp.Details, test.ShouldHaveLength, 1)
		test.That(t, resp.Details[0], test.ShouldContainSubstring, "notes.txt")
		entries, err := os.ReadDir(s.cfg.UploadDir)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, entries, test.ShouldBeEmpty)
	})

	t.Run("no file field", func(t *testing.T) {
		var body bytes.Buffer
		mw := multipart.NewWriter(&body)
		test.That(t, mw.WriteField("name", "value"), test.ShouldBeNil)
		test.That(t, mw.Close(), test.ShouldBeNil)
		req := httptest.NewRequest(http.MethodPost, "/api/upload", &body)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		rec := serve(s, req)
		test.That(t, rec.Code, test.ShouldEqual, http.StatusBadRequest)
		test.That(t, decode[errorResponse](t, rec).Error, test.ShouldContainSubstring, "no file part")
	})

	t.Run("not multipart", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/upload", bytes.NewBufferString("{}"))
		req.Header.Set("Content-Type", "application/json")
		test.That(t, serve(s, req).Code, test.ShouldEqual, http.StatusBadRequest)
	})

	test.That(t, queue.submitted, test.ShouldBeEmpty)
}

func TestUploadSizeLimits(t *testing.T) {
	t.Run("file", func(t *testing.T) {
		queue := newFakeQueue(t)
		cfg := DefaultConfig()
		cfg.MaxFileSize = 300
		s := newTestServer(t, cfg, queue)
		big := pngBytes(t, 64)
		test.That(t, len(big), test.ShouldBeGreaterThan, 300)

		rec := serve(s, uploadRequest(t, uploadFile{"big.png", big}, uploadFile{"small.ply", plyBytes}))
		test.That(t, rec.Code, test.ShouldEqual, http.StatusAccepted)
		resp := decode[UploadResponse](t, rec)
		test.That(t, resp.FilesCount, test.ShouldEqual, 1)
		test.That(t, resp.Warnings, test.ShouldHaveLength, 1)
		test.That(t, resp.Warnings[0], test.ShouldContainSubstring, "file too large")
	})

	t.Run("request", func(t *testing.T) {
		queue := newFakeQueue(t)
		cfg := DefaultConfig()
		cfg.MaxFileSize = 512
		cfg.MaxRequestSize = 1024
		s := newTestServer(t, cfg, queue)
		rec := serve(s, uploadRequest(t, uploadFile{"big.png", pngBytes(t, 64)}))
		test.That(t, rec.Code, test.ShouldEqual, http.StatusRequestEntityTooLarge)
		test.That(t, queue.submitted, test.ShouldBeEmpty)
	})
}

func TestUploadSubmitFailure(t *testing.T) {
	queue := newFakeQueue(t)
	queue.submitErr = jobmanager.ErrClosed
	s := newTestServer(t, nil, queue)
	rec := serve(s, uploadRequest(t, uploadFile{"scan.ply", plyBytes}))
	test.That(t, rec.Code, test.ShouldEqual, http.StatusServiceUnavailable)
}

func TestStatusAndJobs(t *testing.T) {
	queue := newFakeQueue(t)
	queue.jobs["done"] = jobmanager.Job{
		ID: "done", Status: jobmanager.StatusCompleted, InputCount: 2, Result: "done.ply", Method: "sfm", NumPoints: 7,
	}
	s := newTestServer(t, nil, queue)

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/api/status/done", nil))
	test.That(t, rec.Code, test.ShouldEqual, http.StatusOK)
	test.That(t, rec.Header().Get("Content-Type"), test.ShouldEqual, "application/json")
	body := decode[map[string]interface{}](t, rec)
	test.That(t, body["id"], test.ShouldEqual, "done")
	test.That(t, body["status"], test.ShouldEqual, "completed")
	test.That(t, body["result"], test.ShouldEqual, "done.ply")
	test.That(t, body["method"], test.ShouldEqual, "sfm")
	test.That(t, body["input_count"], test.ShouldEqual, 2.0)
	_, hasError := body["error"]
	test.That(t, hasError, test.ShouldBeFalse)

	rec = serve(s, httptest.NewRequest(http.MethodGet, "/api/status/missing", nil))
	test.That(t, rec.Code, test.ShouldEqual, http.StatusNotFound)
	test.That(t, decode[errorResponse](t, rec).Error, test.ShouldEqual, "job not found")

	rec = serve(s, httptest.NewRequest(http.MethodGet, "/api/jobs", nil))
	test.That(t, rec.Code, test.ShouldEqual, http.StatusOK)
	jobs := decode[map[string][]jobmanager.Job](t, rec)
	test.That(t, jobs["jobs"], test.ShouldHaveLength, 1)

	rec = serve(s, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	test.That(t, rec.Code, test.ShouldEqual, http.StatusOK)
	test.That(t, decode[map[string]string](t, rec)["status"], test.ShouldEqual, "ok")

	rec = serve(s, httptest.NewRequest(http.MethodDelete, "/api/jobs", nil))
	test.That(t, rec.Code, test.ShouldEqual, http.StatusNotFound)
}

func TestDownload(t *testing.T) {
	queue := newFakeQueue(t)
	test.That(t, os.WriteFile(filepath.Join(queue.resultsDir, "abc.ply"), plyBytes, 0o600), test.ShouldBeNil)
	test.That(t, os.Mkdir(filepath.Join(queue.resultsDir, "dir"), 0o750), test.ShouldBeNil)
	s := newTestServer(t, nil, queue)

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/api/download/abc.ply", nil))
	test.That(t, rec.Code, test.ShouldEqual, http.StatusOK)
	test.That(t, rec.Body.Bytes(), test.ShouldResemble, plyBytes)
	test.That(t, rec.Header().Get("Content-Disposition"), test.ShouldEqual, `attachment; filename="abc.ply"`)

	for _, name := range []string{"missing.ply", "dir", ".."} {
		rec := serve(s, httptest.NewRequest(http.MethodGet, "/api/download/"+name, nil))
		test.That(t, rec.Code, test.ShouldEqual, http.StatusNotFound)
	}
}

func TestCORS(t *testing.T) {
	queue := newFakeQueue(t)
	s := newTestServer(t, nil, queue)
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("Origin", "http://viewer.example")
	rec := serve(s, req)
	test.That(t, rec.Header().Get("Access-Control-Allow-Origin"), test.ShouldEqual, "*")

	cfg := DefaultConfig()
	cfg.AllowedOrigins = []string{"http://viewer.example"}
	s = newTestServer(t, cfg, queue)
	rec = serve(s, req)
	test.That(t, rec.Header().Get("Access-Control-Allow-Origin"), test.ShouldEqual, "http://viewer.example")
	req.Header.Set("Origin", "http://other.example")
	rec = serve(s, req)
	test.That(t, rec.Header().Get("Access-Control-Allow-Origin"), test.ShouldBeEmpty)
}

func TestServeStopsOnCancel(t *testing.T) {
	s := newTestServer(t, nil, newFakeQueue(t))
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	test.That(t, err, test.ShouldBeNil)
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Serve(ctx, listener)
	}()

	resp, err := http.Get("http://" + listener.Addr().String() + "/api/health")
	test.That(t, err, test.ShouldBeNil)
	body, err := io.ReadAll(resp.Body)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, resp.Body.Close(), test.ShouldBeNil)
	test.That(t, resp.StatusCode, test.ShouldEqual, http.StatusOK)
	test.That(t, string(body), test.ShouldContainSubstring, "ok")

	cancel()
	select {
	case err := <-errCh:
		test.That(t, err, test.ShouldBeNil)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestUploadThroughJobmanager(t *testing.T) {
	resultsDir := t.TempDir()
	jobsCfg := jobmanager.DefaultConfig()
	jobsCfg.ResultsDir = resultsDir
	runner := jobmanager.RunnerFunc(func(_ context.Context, job jobmanager.Job) (*jobmanager.Result, error) {
		data, err := os.ReadFile(job.Inputs[0])
		if err != nil {
			return nil, err
		}
		name := job.ID + ".ply"
		if err := os.WriteFile(filepath.Join(resultsDir, name), data, 0o600); err != nil {
			return nil, err
		}
		return &jobmanager.Result{File: name, Method: "upload", NumPoints: 1}, nil
	})
	jm, err := jobmanager.New(jobsCfg, jobmanager.NewMemoryStore(), runner, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	jm.Start()
	defer func() {
		test.That(t, jm.Close(), test.ShouldBeNil)
	}()
	s := newTestServer(t, nil, jm)

	rec := serve(s, uploadRequest(t, uploadFile{"scan.ply", plyBytes}))
	test.That(t, rec.Code, test.ShouldEqual, http.StatusAccepted)
	id := decode[UploadResponse](t, rec).TaskID

	var job jobmanager.Job
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		rec = serve(s, httptest.NewRequest(http.MethodGet, "/api/status/"+id, nil))
		test.That(t, rec.Code, test.ShouldEqual, http.StatusOK)
		job = decode[jobmanager.Job](t, rec)
		if job.Status.Terminal() {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	test.That(t, job.Status, test.ShouldEqual, jobmanager.StatusCompleted)
	test.That(t, job.Method, test.ShouldEqual, "upload")

	rec = serve(s, httptest.NewRequest(http.MethodGet, "/api/download/"+job.Result, nil))
	test.That(t, rec.Code, test.ShouldEqual, http.StatusOK)
	test.That(t, rec.Body.Bytes(), test.ShouldResemble, plyBytes)
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in, out string
	}{
		{"photo.png", "photo.png"},
		{"My Photo.JPG", "My_Photo.jpg"},
		{"../../etc/passwd", "passwd"},
		{`C:\Users\me\scan.ply`, "scan.ply"},
		{"a.b.png", "a_b.png"},
		{"..png", "upload.png"},
		{"", "upload"},
	}
	for _, tc := range tests {
		test.That(t, sanitizeFilename(tc.in), test.ShouldEqual, tc.out)
	}
	used := map[string]bool{}
	test.That(t, uniqueName("a.png", used), test.ShouldEqual, "a.png")
	test.That(t, uniqueName("a.png", used), test.ShouldEqual, "1_a.png")
	test.That(t, uniqueName("A.png", used), test.ShouldEqual, "2_A.png")
}

func TestConfigValidate(t *testing.T) {
	test.That(t, DefaultConfig().Validate("web"), test.ShouldBeNil)
	tests := []struct {
		name   string
		mutate func(cfg *Config)
	}{
		{"listen", func(cfg *Config) { cfg.Listen = "" }},
		{"upload dir", func(cfg *Config) { cfg.UploadDir = "" }},
		{"file size", func(cfg *Config) { cfg.MaxFileSize = 0 }},
		{"request size", func(cfg *Config) { cfg.MaxRequestSize = cfg.MaxFileSize - 1 }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			test.That(t, cfg.Validate("web"), test.ShouldNotBeNil)
		})
	}
}
