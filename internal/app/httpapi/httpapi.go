package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gorilla/mux"

	"webrtc101/internal/app/rooms"
	"webrtc101/pkg/webrtc/protocol"
)

type Settings struct {
	ICEMode     string
	ICEServers  []protocol.ICEServer
	PublicWSURL string
	StaticDir   string
}

// RoomService is the slice of the signaling hub the HTTP API needs.
type RoomService interface {
	CreateRoom() string
	Snapshot(roomID string) (rooms.Snapshot, error)
	Rooms() []rooms.Snapshot
}

// NewRouter wires every HTTP endpoint. ws is the WebSocket upgrade handler.
func NewRouter(settings Settings, svc RoomService, ws http.Handler, logger *slog.Logger) *mux.Router {
	if logger == nil {
		logger = slog.Default()
	}

	r := mux.NewRouter()
	r.Handle("/ws", ws).Methods(http.MethodGet)
	r.HandleFunc("/health", healthHandler).Methods(http.MethodGet)
	r.Handle("/api/settings", SettingsHandler(settings, logger)).Methods(http.MethodGet)
	r.Handle("/api/rooms", CreateRoomHandler(svc, logger)).Methods(http.MethodPost)
	r.Handle("/api/rooms", ListRoomsHandler(svc, logger)).Methods(http.MethodGet)
	r.Handle("/api/rooms/{roomId}", RoomLookupHandler(svc, logger)).Methods(http.MethodGet)
	r.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowedHandler)

	if settings.StaticDir != "" {
		r.PathPrefix("/").Handler(SPAHandler(settings.StaticDir)).Methods(http.MethodGet, http.MethodHead)
	}
	return r
}

func SPAHandler(staticDir string) http.Handler {
	fs := http.FileServer(http.Dir(staticDir))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := filepath.Join(staticDir, filepath.Clean(r.URL.Path))
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			fs.ServeHTTP(w, r)
			return
		}

		index := filepath.Join(staticDir, "index.html")
		http.ServeFile(w, r, index)
	})
}

func SettingsHandler(settings Settings, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		payload := map[string]interface{}{
			"wsURL":      resolveWSURL(settings, r),
			"iceMode":    settings.ICEMode,
			"iceServers": settings.ICEServers,
		}
		writeJSON(w, http.StatusOK, payload, logger)
	})
}

func CreateRoomHandler(svc RoomService, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := svc.CreateRoom()
		payload := map[string]interface{}{
			"roomId": id,
			"url":    roomURL(r, id),
		}
		writeJSON(w, http.StatusCreated, payload, logger)
	})
}

func ListRoomsHandler(svc RoomService, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"rooms": svc.Rooms()}, logger)
	})
}

func RoomLookupHandler(svc RoomService, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(mux.Vars(r)["roomId"])
		snap, err := svc.Snapshot(id)
		if err != nil {
			if errors.Is(err, rooms.ErrNotFound) {
				http.NotFound(w, r)
				return
			}
			logger.Error("room lookup failed", "room", id, "err", err)
			http.Error(w, "failed to lookup room", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, snap, logger)
	})
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("OK"))
}

func methodNotAllowedHandler(w http.ResponseWriter, _ *http.Request) {
	http.Error(w, "405 Method Not Allowed", http.StatusMethodNotAllowed)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("response encode failed", "err", err)
	}
}

func resolveWSURL(settings Settings, r *http.Request) string {
	if settings.PublicWSURL != "" {
		return settings.PublicWSURL
	}

	proto := "ws"
	if r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		proto = "wss"
	}

	host := r.Host
	if host == "" {
		host = "localhost:8080"
	}

	return fmt.Sprintf("%s://%s/ws", proto, host)
}

func roomURL(r *http.Request, id string) string {
	proto := "http"
	if r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		proto = "https"
	}
	host := r.Host
	if host == "" {
		host = "localhost:8080"
	}
	return fmt.Sprintf("%s://%s/room/%s", proto, host, id)
}
