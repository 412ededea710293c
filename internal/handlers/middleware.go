package handlers

import (
	"errors"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/deepfake-detector/internal/apperror"
	"github.com/example/deepfake-detector/internal/logging"
	"github.com/example/deepfake-detector/internal/metrics"
	"github.com/example/deepfake-detector/internal/service"
)

// multipartOverhead is the slack allowed on top of the file limit for
// multipart boundaries and headers.
const multipartOverhead = 1 << 20

const uploadKey = "upload.file"

// TranslateErrors renders the last error attached to the context as
// {"error": message} with the status of its kind. Server-side failures carry
// a generic error plus the public message only.
func TranslateErrors(logger *zap.Logger) gin.HandlerFunc {
	logger = logger.Named("errors")
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		err := c.Errors.Last().Err
		status := apperror.HTTPStatus(err)
		message := apperror.Message(err)

		if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
			logging.WithOperation(logger, c.FullPath(), logging.RequestID(c)).Error("request failed", zap.Error(err))
			c.JSON(status, gin.H{"error": "Internal server error", "message": message})
			return
		}
		body := gin.H{"error": message}
		var appErr *apperror.Error
		if errors.As(err, &appErr) && appErr.Field != "" {
			body["field"] = appErr.Field
		}
		c.JSON(status, body)
	}
}

// Instrument records request counts and latency per route.
func Instrument(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := c.Writer.Status()
		if !c.Writer.Written() && len(c.Errors) > 0 {
			status = apperror.HTTPStatus(c.Errors.Last().Err)
		}
		m.RecordHTTP(c.Request.Method, c.FullPath(), status, time.Since(start))
	}
}

// RequireUpload bounds the request body, extracts the "file" part and checks
// it against policy before the handler runs.
func RequireUpload(policy service.UploadPolicy) gin.HandlerFunc {
	const op = "handlers.require_upload"
	return func(c *gin.Context) {
		if policy.MaxBytes > 0 {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, policy.MaxBytes+multipartOverhead)
		}

		fh, err := c.FormFile("file")
		if err != nil {
			var tooLarge *http.MaxBytesError
			switch {
			case errors.As(err, &tooLarge), strings.Contains(err.Error(), "request body too large"):
				err = policy.TooLarge()
			case errors.Is(err, http.ErrMissingFile):
				err = apperror.ValidationField(op, "file", "No file part in request")
			default:
				err = apperror.Validation(op, "Invalid multipart request")
			}
			abortWith(c, err)
			return
		}

		if _, err := policy.Validate(fh.Filename, fh.Size); err != nil {
			abortWith(c, err)
			return
		}
		c.Set(uploadKey, fh)
		c.Next()
	}
}

func uploadedFile(c *gin.Context) (*multipart.FileHeader, bool) {
	value, ok := c.Get(uploadKey)
	if !ok {
		return nil, false
	}
	fh, ok := value.(*multipart.FileHeader)
	return fh, ok
}
