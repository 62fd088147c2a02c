package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alimasry/go-doc-viewer/fetch"
	"github.com/alimasry/go-doc-viewer/internal/pdftest"
	"github.com/alimasry/go-doc-viewer/render"
	"github.com/alimasry/go-doc-viewer/store"
)

// setupTestServer wires a real fetcher, cache and PDF engine behind the
// handler, with a document source serving a three-page PDF as "report" to
// callers presenting token "t".
func setupTestServer(t *testing.T) (*httptest.Server, *Hub, []byte) {
	t.Helper()
	pdf := pdftest.Build(3)
	source := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/docs/report" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer t" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/pdf")
		w.Write(pdf)
	}))
	t.Cleanup(source.Close)

	loader := fetch.NewLoader(fetch.NewHTTPFetcher(fetch.HTTPConfig{Client: source.Client()}), store.NewMemoryStore(), nil)
	hub := NewHub(HubConfig{
		Loader:        loader,
		Engine:        render.NewPDFEngine(),
		SourceBaseURL: source.URL + "/docs/",
	})
	go hub.Run()
	server := httptest.NewServer(NewHandler(hub, ""))
	t.Cleanup(server.Close)
	return server, hub, pdf
}

func wsConnect(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("status: %d", resp.StatusCode)
	}
	return conn
}

func readWsMsg(t *testing.T, conn *websocket.Conn) ServerMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg ServerMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return msg
}

func openOverWs(t *testing.T, conn *websocket.Conn, docID string) ServerMessage {
	t.Helper()
	return sendOpen(t, conn, ClientMessage{Type: MsgOpen, DocID: docID, Token: "t"})
}

func sendOpen(t *testing.T, conn *websocket.Conn, open ClientMessage) ServerMessage {
	t.Helper()
	if err := conn.WriteJSON(open); err != nil {
		t.Fatal(err)
	}
	if msg := readWsMsg(t, conn); msg.Type != MsgState || msg.State.LoadState.String() != "loading" {
		t.Fatalf("expected loading, got %+v", msg)
	}
	return readWsMsg(t, conn)
}

func get(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp, body
}

func TestHandler_OpenAndServeBlob(t *testing.T) {
	server, _, pdf := setupTestServer(t)
	conn := wsConnect(t, server)
	defer conn.Close()

	ready := openOverWs(t, conn, "report")
	if ready.State.LoadState.String() != "ready" || ready.State.TotalPages != 3 {
		t.Fatalf("ready = %+v", ready.State)
	}

	resp, body := get(t, server.URL+"/blob/"+ready.State.Handle)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("blob status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/pdf" {
		t.Errorf("content type = %q", ct)
	}
	if len(body) != len(pdf) {
		t.Errorf("blob size = %d, want %d", len(body), len(pdf))
	}
}

func TestHandler_PagesAndDownload(t *testing.T) {
	server, _, _ := setupTestServer(t)
	conn := wsConnect(t, server)
	defer conn.Close()
	handle := openOverWs(t, conn, "report").State.Handle

	resp, body := get(t, server.URL+"/pages/"+handle+"/2")
	if resp.StatusCode != http.StatusOK || !strings.HasPrefix(string(body), "%PDF") {
		t.Fatalf("page status = %d", resp.StatusCode)
	}
	if resp, _ := get(t, server.URL+"/pages/"+handle+"/4"); resp.StatusCode != http.StatusNotFound {
		t.Errorf("out of range page status = %d", resp.StatusCode)
	}

	resp, _ = get(t, server.URL+"/download/"+handle)
	if cd := resp.Header.Get("Content-Disposition"); cd != `attachment; filename=report.pdf` {
		t.Errorf("content disposition = %q", cd)
	}
}

func TestHandler_UnknownHandle(t *testing.T) {
	server, _, _ := setupTestServer(t)
	for _, path := range []string{"/blob/nope", "/pages/nope/1", "/download/nope"} {
		if resp, _ := get(t, server.URL+path); resp.StatusCode != http.StatusNotFound {
			t.Errorf("%s status = %d", path, resp.StatusCode)
		}
	}
}

func TestHandler_MissingDocumentFails(t *testing.T) {
	server, _, _ := setupTestServer(t)
	conn := wsConnect(t, server)
	defer conn.Close()

	msg := openOverWs(t, conn, "absent")
	if msg.State.LoadState.String() != "failed" || !msg.State.Retryable {
		t.Fatalf("state = %+v", msg.State)
	}
}

func TestHandler_DisconnectReleasesHandle(t *testing.T) {
	server, hub, _ := setupTestServer(t)
	conn := wsConnect(t, server)
	handle := openOverWs(t, conn, "report").State.Handle
	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, ok := hub.Handles().Lookup(handle); !ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("handle still live after disconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if resp, _ := get(t, server.URL+"/blob/"+handle); resp.StatusCode != http.StatusNotFound {
		t.Errorf("blob status after disconnect = %d", resp.StatusCode)
	}
}

func TestHandler_CachedDocumentNeedsSameCredential(t *testing.T) {
	server, hub, _ := setupTestServer(t)

	owner := wsConnect(t, server)
	defer owner.Close()
	if msg := openOverWs(t, owner, "report"); msg.State.LoadState.String() != "ready" {
		t.Fatalf("owner state = %+v", msg.State)
	}
	hub.cfg.Loader.(*fetch.Loader).Wait()

	other := wsConnect(t, server)
	defer other.Close()
	useCache := true
	msg := sendOpen(t, other, ClientMessage{Type: MsgOpen, DocID: "report", UseCache: &useCache})
	if msg.State.LoadState.String() != "failed" || msg.State.Handle != "" {
		t.Fatalf("tokenless open was served: %+v", msg.State)
	}
	if !strings.Contains(msg.State.Error, "401") {
		t.Errorf("error = %q, want the upstream 401", msg.State.Error)
	}
}

func TestHandler_RejectsForeignSourceURL(t *testing.T) {
	server, hub, _ := setupTestServer(t)
	foreign := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("foreign source was fetched: %s", r.URL)
	}))
	defer foreign.Close()

	conn := wsConnect(t, server)
	defer conn.Close()
	if err := conn.WriteJSON(ClientMessage{Type: MsgOpen, DocID: "report", URL: foreign.URL + "/x.pdf", Token: "t"}); err != nil {
		t.Fatal(err)
	}
	if msg := readWsMsg(t, conn); msg.Type != MsgError {
		t.Fatalf("expected error, got %+v", msg)
	}

	// The genuine document is unaffected.
	if msg := openOverWs(t, conn, "report"); msg.State.LoadState.String() != "ready" || msg.State.Origin != "network" {
		t.Fatalf("state = %+v", msg.State)
	}
	if hub.SessionCount() != 1 {
		t.Fatalf("sessions = %d, want 1", hub.SessionCount())
	}
}
