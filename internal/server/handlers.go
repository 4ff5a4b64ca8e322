package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/imgembed/internal/models"
	"github.com/hyperjump/imgembed/internal/service"
)

const (
	// multipartOverhead is allowed on top of the image limit for form
	// boundaries and part headers.
	multipartOverhead = 64 << 10
	// maxMemory is how much of a multipart form is held in memory.
	maxMemory = 10 << 20

	kindBadRequest = "bad_request"
)

// uploadFields are the accepted multipart field names, in order.
var uploadFields = []string{"file", "image"}

func (s *Server) handleClipEncode(w http.ResponseWriter, r *http.Request) {
	if s.maxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxBytes+multipartOverhead)
	}
	if err := r.ParseMultipartForm(maxMemory); err != nil {
		s.respondReadError(w, r, fmt.Errorf("invalid multipart form: %w", err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	var file multipart.File
	for _, field := range uploadFields {
		f, _, err := r.FormFile(field)
		if err == nil {
			file = f
			break
		}
	}
	if file == nil {
		s.respondError(w, r, http.StatusBadRequest, kindBadRequest, `missing "file" field`)
		return
	}
	defer file.Close()

	data, err := s.readLimited(file)
	if err != nil {
		s.respondReadError(w, r, err)
		return
	}
	s.encode(w, r, data)
}

func (s *Server) handleEmbedRaw(w http.ResponseWriter, r *http.Request) {
	var body io.Reader = r.Body
	if s.maxBytes > 0 {
		body = http.MaxBytesReader(w, r.Body, s.maxBytes)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		s.respondReadError(w, r, err)
		return
	}
	s.encode(w, r, data)
}

// readLimited reads one uploaded part, failing once it exceeds maxBytes.
func (s *Server) readLimited(rd io.Reader) ([]byte, error) {
	if s.maxBytes <= 0 {
		return io.ReadAll(rd)
	}
	data, err := io.ReadAll(io.LimitReader(rd, s.maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > s.maxBytes {
		return nil, &http.MaxBytesError{Limit: s.maxBytes}
	}
	return data, nil
}

func (s *Server) encode(w http.ResponseWriter, r *http.Request, data []byte) {
	res, err := s.svc.EncodeImage(r.Context(), data)
	if err != nil {
		s.respondEncodeError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, res.Response(middleware.GetReqID(r.Context())))
}

func (s *Server) handleModel(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.svc.Info())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// statusFor maps an encode outcome to an HTTP status.
func statusFor(kind service.ErrorKind) int {
	switch kind {
	case service.KindUnsupported:
		return http.StatusUnsupportedMediaType
	case service.KindTooLarge:
		return http.StatusRequestEntityTooLarge
	case service.KindMalformed, service.KindPreprocessFailed:
		return http.StatusBadRequest
	case service.KindDeviceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondEncodeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := service.Classify(err)
	if kind == service.KindCanceled {
		// The client is gone or the timeout middleware answers.
		return
	}
	status := statusFor(kind)
	if status >= http.StatusInternalServerError {
		s.logger.Error("encode request failed",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("kind", string(kind)),
			zap.Error(err))
	}
	s.respondError(w, r, status, string(kind), err.Error())
}

func (s *Server) respondReadError(w http.ResponseWriter, r *http.Request, err error) {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		s.respondError(w, r, http.StatusRequestEntityTooLarge, string(service.KindTooLarge),
			fmt.Sprintf("upload exceeds %d bytes", s.maxBytes))
		return
	}
	s.respondError(w, r, http.StatusBadRequest, kindBadRequest, err.Error())
}

// respondJSON marshals data before writing the status. A marshal failure is
// answered with 500.
func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	body, err := json.Marshal(data)
	if err != nil {
		s.logger.Error("failed to encode response", zap.Int("status", status), zap.Error(err))
		status = http.StatusInternalServerError
		body, _ = json.Marshal(models.ErrorResponse{
			Error: models.ErrorBody{Kind: string(service.KindInternal), Message: "failed to encode response"},
		})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(append(body, '\n')); err != nil {
		s.logger.Debug("failed to write response", zap.Error(err))
	}
}

func (s *Server) respondError(w http.ResponseWriter, r *http.Request, status int, kind, message string) {
	s.respondJSON(w, status, models.ErrorResponse{
		Error:     models.ErrorBody{Kind: kind, Message: message},
		RequestID: middleware.GetReqID(r.Context()),
	})
}
