package web

import (
	"fmt"
	"image"
	// register jpeg decoder.
	_ "image/jpeg"
	// register png decoder.
	_ "image/png"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"

	"github.com/photocloud/photocloud/pointcloud"
)

// uploadField is the multipart field carrying the files.
const uploadField = "files"

// maxUploadMemory is how much of a multipart request is kept in memory before spilling to disk.
const maxUploadMemory = 32 << 20

var allowedExtensions = map[string]bool{".png": true, ".jpg": true, ".jpeg": true, ".ply": true}

var allowedImageTypes = []string{"image/png", "image/jpeg"}

// UploadResponse is the body of an accepted upload.
type UploadResponse struct {
	Message    string   `json:"message"`
	TaskID     string   `json:"task_id"`
	FilesCount int      `json:"files_count"`
	Warnings   []string `json:"warnings,omitempty"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength > s.cfg.MaxRequestSize {
		s.writeJSONError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("request too large (max %d bytes)", s.cfg.MaxRequestSize))
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxRequestSize)
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeJSONError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("request too large (max %d bytes)", s.cfg.MaxRequestSize))
			return
		}
		s.badRequest(w, "malformed multipart request")
		return
	}
	defer func() {
		if err := r.MultipartForm.RemoveAll(); err != nil {
			s.logger.Debugw("cannot remove multipart temp files", "error", err)
		}
	}()

	headers, ok := r.MultipartForm.File[uploadField]
	if !ok {
		s.badRequest(w, "no file part in the request")
		return
	}
	if len(headers) == 0 || headers[0].Filename == "" {
		s.badRequest(w, "no file selected")
		return
	}

	batchDir := filepath.Join(s.cfg.UploadDir, uuid.NewString())
	if err := os.MkdirAll(batchDir, 0o750); err != nil {
		s.logger.Errorw("cannot create upload directory", "error", err)
		s.internalError(w, "cannot store upload")
		return
	}

	var saved, warnings []string
	used := map[string]bool{}
	for _, header := range headers {
		name := uniqueName(sanitizeFilename(header.Filename), used)
		if err := s.checkUpload(header); err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: %s", name, err))
			continue
		}
		target := filepath.Join(batchDir, name)
		if err := saveUpload(header, target); err != nil {
			s.logger.Warnw("cannot save upload", "file", name, "error", err)
			warnings = append(warnings, fmt.Sprintf("%s: cannot be saved", name))
			continue
		}
		saved = append(saved, target)
	}

	if len(saved) == 0 {
		if err := os.RemoveAll(batchDir); err != nil {
			s.logger.Debugw("cannot remove empty upload directory", "error", err)
		}
		s.badRequest(w, "no file could be accepted", warnings...)
		return
	}

	id, err := s.jobs.Submit(r.Context(), saved)
	if err != nil {
		s.logger.Errorw("cannot submit job", "error", err)
		s.writeJSONError(w, http.StatusServiceUnavailable, "cannot queue the reconstruction")
		return
	}
	s.logger.Infow("upload accepted", "id", id, "files", len(saved), "rejected", len(warnings))
	s.writeJSON(w, http.StatusAccepted, UploadResponse{
		Message:    "upload accepted, processing started",
		TaskID:     id,
		FilesCount: len(saved),
		Warnings:   warnings,
	})
}

// checkUpload validates the extension, size and content of one uploaded file.
func (s *Server) checkUpload(header *multipart.FileHeader) error {
	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !allowedExtensions[ext] {
		return errors.New("unsupported file type")
	}
	if header.Size > s.cfg.MaxFileSize {
		return errors.Errorf("file too large (max %d bytes)", s.cfg.MaxFileSize)
	}
	f, err := header.Open()
	if err != nil {
		return errors.New("cannot be read")
	}
	defer utils.UncheckedErrorFunc(f.Close)

	if ext == ".ply" {
		if !pointcloud.IsPLY(f) {
			return errors.New("invalid ply header")
		}
		return nil
	}
	mtype, err := mimetype.DetectReader(f)
	if err != nil {
		return errors.New("cannot be read")
	}
	if !mimetype.EqualsAny(mtype.String(), allowedImageTypes...) {
		return errors.Errorf("invalid image format %s", mtype.String())
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return errors.New("cannot be read")
	}
	if _, _, err := image.DecodeConfig(f); err != nil {
		return errors.Errorf("corrupted image: %s", err)
	}
	return nil
}

func saveUpload(header *multipart.FileHeader, target string) (err error) {
	src, err := header.Open()
	if err != nil {
		return err
	}
	defer utils.UncheckedErrorFunc(src.Close)
	//nolint:gosec
	dst, err := os.Create(target)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, dst.Close())
	}()
	_, err = io.Copy(dst, src)
	return err
}

// sanitizeFilename keeps the base name of a client supplied file name and replaces every rune
// outside [A-Za-z0-9._-]. The extension is kept lowercased.
func sanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	ext := filepath.Ext(name)
	clean := func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}
	stem := strings.Trim(strings.Map(clean, strings.TrimSuffix(name, ext)), "_")
	if stem == "" {
		stem = "upload"
	}
	if len(ext) > 1 {
		ext = "." + strings.Map(clean, strings.ToLower(ext[1:]))
	} else {
		ext = ""
	}
	return stem + ext
}

func uniqueName(name string, used map[string]bool) string {
	candidate := name
	for i := 1; used[strings.ToLower(candidate)]; i++ {
		candidate = fmt.Sprintf("%d_%s", i, name)
	}
	used[strings.ToLower(candidate)] = true
	return candidate
}
