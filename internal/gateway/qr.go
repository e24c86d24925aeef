package gateway

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/doodledash/doodledash/internal/roomcode"
)

const (
	defaultQRSize = 256
	maxQRSize     = 1024
)

// handleJoinQR renders the room's join link as a QR code PNG so a host
// can put it on a shared screen.
func (a *API) handleJoinQR(w http.ResponseWriter, r *http.Request) {
	code := roomcode.Normalize(r.PathValue("code"))
	if !roomcode.Valid(code) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid room code"})
		return
	}
	if _, err := a.provider.FetchState(r.Context(), code); err != nil {
		writeError(w, err)
		return
	}

	size := defaultQRSize
	if raw := r.URL.Query().Get("size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 64 || n > maxQRSize {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "size must be between 64 and 1024"})
			return
		}
		size = n
	}

	joinURL := fmt.Sprintf("%s/join/%s", a.joinBaseURL, code)
	png, err := qrcode.Encode(joinURL, qrcode.Medium, size)
	if err != nil {
		log.Error().Err(err).Str("room_code", code).Msg("failed to encode join QR code")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to render QR code"})
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}
