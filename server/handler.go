package server

import (
	"bytes"
	"errors"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alimasry/go-doc-viewer/fetch"
	"github.com/alimasry/go-doc-viewer/render"
	"github.com/alimasry/go-doc-viewer/viewer"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// NewHandler creates the HTTP handler with all routes. staticDir may be
// empty, in which case no static files are served.
func NewHandler(hub *Hub, staticDir string) http.Handler {
	mux := http.NewServeMux()

	if staticDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(staticDir)))
	}

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	// WebSocket endpoint.
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			hub.logger.Warn("websocket upgrade failed", "error", err)
			return
		}
		client := newClient(hub, conn)
		hub.join(client)
		go client.WritePump()
		go client.ReadPump()
	})

	mux.HandleFunc("GET /blob/{handle}", func(w http.ResponseWriter, r *http.Request) {
		blob, ok := hub.handles.Lookup(r.PathValue("handle"))
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", fetch.MediaTypePDF)
		http.ServeContent(w, r, "", time.Time{}, bytes.NewReader(blob.Data))
	})

	mux.HandleFunc("GET /pages/{handle}/{page}", func(w http.ResponseWriter, r *http.Request) {
		blob, ok := hub.handles.Lookup(r.PathValue("handle"))
		if !ok {
			http.NotFound(w, r)
			return
		}
		n, err := strconv.Atoi(r.PathValue("page"))
		if err != nil || n < 1 || n > blob.Doc.PageCount() {
			http.Error(w, "page out of range", http.StatusNotFound)
			return
		}
		page, err := blob.Doc.Page(r.Context(), n)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, render.ErrPageRender) {
				status = http.StatusUnprocessableEntity
			}
			hub.logger.Warn("page render failed", "documentId", blob.DocumentID, "page", n, "error", err)
			http.Error(w, "page could not be rendered", status)
			return
		}
		w.Header().Set("Content-Type", fetch.MediaTypePDF)
		w.Header().Set("Content-Length", strconv.Itoa(len(page)))
		w.Write(page)
	})

	mux.HandleFunc("GET /download/{handle}", func(w http.ResponseWriter, r *http.Request) {
		blob, ok := hub.handles.Lookup(r.PathValue("handle"))
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", fetch.MediaTypePDF)
		w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{
			"filename": viewer.DownloadName(blob.DocumentID),
		}))
		http.ServeContent(w, r, "", time.Time{}, bytes.NewReader(blob.Data))
	})

	return mux
}
