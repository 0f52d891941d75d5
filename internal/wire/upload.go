package wire

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// uploadResponse is the media upload reply shape.
type uploadResponse struct {
	OK            bool      `json:"ok"`
	Error         string    `json:"error,omitempty"`
	Message       string    `json:"message,omitempty"`
	Path          string    `json:"path,omitempty"`
	Size          int64     `json:"size,omitempty"`
	DurationSec   float64   `json:"duration_sec,omitempty"`
	WaveformPeaks []float64 `json:"waveform_peaks,omitempty"`
}

// handleUpload implements POST /media/upload?filename=<name>: the body is
// streamed to the managed media directory and analysed; the resulting path
// feeds a subsequent clip.import_file.
func (g *Gateway) handleUpload(c echo.Context) error {
	filename := c.QueryParam("filename")
	if filename == "" {
		if g.m != nil {
			g.m.UploadsRejected.Inc()
		}
		return c.JSON(http.StatusBadRequest, uploadResponse{
			OK: false, Error: "invalid_request", Message: "filename query parameter is required",
		})
	}

	reply := g.session.Upload(filename, c.Request().Body, g.maxUploadBytes)
	if !reply.OK {
		if g.m != nil {
			g.m.UploadsRejected.Inc()
		}
		status := http.StatusBadRequest
		if reply.Error == "io_error" {
			status = http.StatusInternalServerError
		}
		return c.JSON(status, uploadResponse{
			OK: false, Error: reply.Error, Message: reply.Message,
		})
	}

	if g.m != nil {
		g.m.UploadsAccepted.Inc()
	}
	resp := uploadResponse{OK: true}
	if v, ok := reply.Data["path"].(string); ok {
		resp.Path = v
	}
	if v, ok := reply.Data["size"].(int64); ok {
		resp.Size = v
	}
	if v, ok := reply.Data["duration_sec"].(float64); ok {
		resp.DurationSec = v
	}
	if v, ok := reply.Data["waveform_peaks"].([]float64); ok {
		resp.WaveformPeaks = v
	}
	return c.JSON(http.StatusOK, resp)
}
