package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/example/deepfake-detector/internal/apperror"
	"github.com/example/deepfake-detector/internal/model"
	"github.com/example/deepfake-detector/internal/service"
)

func (h *handler) upload(c *gin.Context) {
	const op = "handlers.upload"
	user, ok := userID(c)
	if !ok {
		return
	}
	fh, ok := uploadedFile(c)
	if !ok {
		abortWith(c, apperror.ValidationField(op, "file", "No file part in request"))
		return
	}

	src, err := fh.Open()
	if err != nil {
		abortWith(c, apperror.IO(op, err))
		return
	}
	defer src.Close()

	res, err := h.recorder.Record(c.Request.Context(), user, service.Upload{
		Filename: fh.Filename,
		Size:     fh.Size,
		Body:     src,
	})
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, presentUpload(res))
}

func (h *handler) history(c *gin.Context) {
	user, ok := userID(c)
	if !ok {
		return
	}
	page, errPage := queryInt(c, "page", model.DefaultPage)
	limit, errLimit := queryInt(c, "limit", model.DefaultLimit)
	if errPage != nil || errLimit != nil {
		abortWith(c, apperror.Validation("handlers.history", "Invalid pagination parameters"))
		return
	}

	result, err := h.queries.History(c.Request.Context(), user, page, limit)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, presentPage(result))
}

func (h *handler) detail(c *gin.Context) {
	user, ok := userID(c)
	if !ok {
		return
	}
	d, err := h.queries.Detail(c.Request.Context(), user, c.Param("id"))
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, presentDetection(*d))
}

func (h *handler) deleteDetection(c *gin.Context) {
	user, ok := userID(c)
	if !ok {
		return
	}
	if err := h.queries.Delete(c.Request.Context(), user, c.Param("id")); err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Detection deleted successfully"})
}

func (h *handler) stats(c *gin.Context) {
	user, ok := userID(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, presentStats(h.queries.Stats(c.Request.Context(), user)))
}

func queryInt(c *gin.Context, key string, fallback int) (int, error) {
	raw, ok := c.GetQuery(key)
	if !ok || raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}
