package handlers

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/example/deepfake-detector/internal/model"
	"github.com/example/deepfake-detector/internal/service"
)

const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

type detectionRecord struct {
	ID             string   `json:"id"`
	Filename       string   `json:"filename"`
	Prediction     string   `json:"prediction"`
	Confidence     float64  `json:"confidence"`
	ProcessingTime *float64 `json:"processing_time"`
	CreatedAt      string   `json:"created_at"`
}

func presentDetection(d model.Detection) detectionRecord {
	rec := detectionRecord{
		ID:         d.ID,
		Filename:   d.OriginalFilename,
		Prediction: string(d.Prediction),
		Confidence: model.Round(d.Confidence, 2),
		CreatedAt:  formatTime(d.CreatedAt),
	}
	if d.ProcessingTime != nil {
		pt := model.Round(*d.ProcessingTime, 2)
		rec.ProcessingTime = &pt
	}
	return rec
}

func presentUpload(res *service.UploadResult) gin.H {
	d := res.Detection
	var elapsed float64
	if d.ProcessingTime != nil {
		elapsed = model.Round(*d.ProcessingTime, 2)
	}
	return gin.H{
		"detection_id":    d.ID,
		"prediction":      string(d.Prediction),
		"confidence":      model.Round(d.Confidence, 4),
		"processing_time": elapsed,
		"filename":        res.ClientFilename,
		"message":         "Image classified as " + string(d.Prediction),
	}
}

func presentPage(page *model.DetectionPage) gin.H {
	records := make([]detectionRecord, 0, len(page.Items))
	for _, d := range page.Items {
		records = append(records, presentDetection(d))
	}
	return gin.H{
		"detections":   records,
		"total":        page.Total,
		"pages":        page.Pages,
		"current_page": page.CurrentPage,
	}
}

func presentStats(stats *model.DetectionStats) gin.H {
	return gin.H{
		"total_detections":   stats.Total,
		"real_images":        stats.RealCount,
		"deepfake_images":    stats.DeepfakeCount,
		"average_confidence": model.Round(stats.AverageConfidence, 4),
	}
}

func presentUser(u *model.User) gin.H {
	return gin.H{
		"user_id":    u.ID,
		"username":   u.Username,
		"email":      u.Email,
		"created_at": formatTime(u.CreatedAt),
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}
