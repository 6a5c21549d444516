package server

import (
	"bytes"
	"chat-app/auth"
	"chat-app/domain"
	"chat-app/errors"
	"chat-app/observability"
	"chat-app/repositories"
	"chat-app/search"
	"chat-app/services"
	"chat-app/storage"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/blugelabs/bluge"
	"github.com/dgraph-io/badger/v4"
	"github.com/gorilla/websocket"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

const allowedOrigin = "http://localhost:3000"

var testLog = logs.GetLoggerFromLevel(slog.LevelDebug)

// 1x1 transparent PNG
var pngPixel = []byte{
	0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0x00, 0x00, 0x0d,
	0x49, 0x48, 0x44, 0x52, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
	0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0x15, 0xc4, 0x89, 0x00, 0x00, 0x00,
	0x0a, 0x49, 0x44, 0x41, 0x54, 0x78, 0x9c, 0x63, 0x00, 0x01, 0x00, 0x00,
	0x05, 0x00, 0x01, 0x0d, 0x0a, 0x2d, 0xb4, 0x00, 0x00, 0x00, 0x00, 0x49,
	0x45, 0x4e, 0x44, 0xae, 0x42, 0x60, 0x82,
}

type testGateway struct {
	server *httptest.Server
	store  *repositories.MessageStore
	index  *search.Index
}

func newTestGateway(t *testing.T) testGateway {
	t.Helper()
	req := require.New(t)

	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	req.NoError(err)
	t.Cleanup(func() { _ = db.Close() })
	store, err := repositories.NewMessageStore(db, testLog)
	req.NoError(err)
	t.Cleanup(store.Close)

	writer, err := bluge.OpenWriter(bluge.DefaultConfig(t.TempDir()))
	req.NoError(err)
	t.Cleanup(func() { _ = writer.Close() })
	index := search.NewIndex(writer, testLog, 10)

	filesDir := t.TempDir()
	blobs, err := storage.NewDiskBlobStore(filesDir, "http://files.test/files", testLog)
	req.NoError(err)

	gateway := NewGateway(testLog, Dependencies{
		Store:      store,
		Users:      repositories.NewUserRepository(db),
		Issuer:     auth.NewTokenIssuer("gateway-secret", time.Hour),
		Images:     services.NewImageService(testLog, blobs),
		Index:      index,
		Presence:   services.NewPresenceHub(testLog),
		Monitoring: observability.NewMonitoringManager(testLog),
	}, Options{
		AllowedOrigins: []string{allowedOrigin},
		MaxUploadBytes: 1 << 20,
		FilesDir:       filesDir,
	})
	server := httptest.NewServer(gateway.Handler())
	t.Cleanup(server.Close)
	return testGateway{server: server, store: store, index: index}
}

func (g testGateway) do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	request, err := http.NewRequest(method, g.server.URL+path, reader)
	require.NoError(t, err)
	request.Header.Set("Content-Type", "application/json")
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	response, err := http.DefaultClient.Do(request)
	require.NoError(t, err)
	t.Cleanup(func() { _ = response.Body.Close() })
	return response
}

func decode[T any](t *testing.T, response *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(response.Body).Decode(&v))
	return v
}

func (g testGateway) register(t *testing.T, email, name string) string {
	t.Helper()
	response := g.do(t, http.MethodPost, "/auth/register", "", credentialsRequest{
		Email: email, Password: "ComplexPass123!", DisplayName: name,
	})
	require.Equal(t, http.StatusCreated, response.StatusCode)
	return decode[authResponse](t, response).Token
}

func (g testGateway) dial(t *testing.T, channel, token string) *websocket.Conn {
	t.Helper()
	url := strings.Replace(g.server.URL, "http://", "ws://", 1) + "/channels/" + channel + "/ws?token=" + token
	header := http.Header{}
	header.Set("Origin", allowedOrigin)
	ws, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func readEvent(t *testing.T, ws *websocket.Conn) socketEvent {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(3*time.Second)))
	var evt socketEvent
	require.NoError(t, ws.ReadJSON(&evt))
	return evt
}

// readUntil skips presence noise until an event of the wanted type arrives.
func readUntil(t *testing.T, ws *websocket.Conn, eventType string) socketEvent {
	t.Helper()
	for {
		if evt := readEvent(t, ws); evt.Type == eventType {
			return evt
		}
	}
}

// readPresence waits for the presence event of userName, the own enter included.
func readPresence(t *testing.T, ws *websocket.Conn, eventType, userName string) socketEvent {
	t.Helper()
	for {
		if evt := readUntil(t, ws, eventType); evt.UserName == userName {
			return evt
		}
	}
}

func TestGateway_Auth(t *testing.T) {
	g := newTestGateway(t)

	t.Run("register then login", func(t *testing.T) {
		req := require.New(t)
		req.NotEmpty(g.register(t, "aiko@example.com", "Aiko"))

		response := g.do(t, http.MethodPost, "/auth/login", "", credentialsRequest{
			Email: "aiko@example.com", Password: "ComplexPass123!",
		})

		req.Equal(http.StatusOK, response.StatusCode)
		body := decode[authResponse](t, response)
		req.NotEmpty(body.Token)
		req.NotEmpty(body.UserID)
		req.Equal("Aiko", body.Name)
	})

	t.Run("duplicate registration conflicts", func(t *testing.T) {
		req := require.New(t)
		g.register(t, "dup@example.com", "")

		response := g.do(t, http.MethodPost, "/auth/register", "", credentialsRequest{
			Email: "dup@example.com", Password: "ComplexPass123!",
		})

		req.Equal(http.StatusConflict, response.StatusCode)
	})

	t.Run("weak password is a bad request", func(t *testing.T) {
		response := g.do(t, http.MethodPost, "/auth/register", "", credentialsRequest{
			Email: "weak@example.com", Password: "password",
		})
		require.Equal(t, http.StatusBadRequest, response.StatusCode)
	})

	t.Run("wrong password is unauthorized", func(t *testing.T) {
		response := g.do(t, http.MethodPost, "/auth/login", "", credentialsRequest{
			Email: "aiko@example.com", Password: "WrongPass123!",
		})
		require.Equal(t, http.StatusUnauthorized, response.StatusCode)
	})

	t.Run("guarded routes need a valid token", func(t *testing.T) {
		req := require.New(t)
		req.Equal(http.StatusUnauthorized, g.do(t, http.MethodGet, "/channels/0/messages", "", nil).StatusCode)
		req.Equal(http.StatusUnauthorized, g.do(t, http.MethodGet, "/channels/0/messages", "forged", nil).StatusCode)
	})
}

func TestGateway_Publish_And_Read(t *testing.T) {
	req := require.New(t)
	g := newTestGateway(t)
	token := g.register(t, "ken@example.com", "Ken")

	// Given two messages on channel 1 and one on channel 2
	for _, body := range []publishRequest{
		{Text: "handover at 9", Tags: []string{"shift", "shift"}},
		{Text: "printer is broken", Tags: []string{"ops"}},
	} {
		req.Equal(http.StatusAccepted, g.do(t, http.MethodPost, "/channels/1/messages", token, body).StatusCode)
	}
	req.Equal(http.StatusAccepted,
		g.do(t, http.MethodPost, "/channels/2/messages", token, publishRequest{Text: "elsewhere"}).StatusCode)

	// When reading channel 1
	response := g.do(t, http.MethodGet, "/channels/1/messages", token, nil)

	// Then only its messages come back, oldest first, published under the session user
	req.Equal(http.StatusOK, response.StatusCode)
	messages := decode[[]messageJSON](t, response)
	req.Len(messages, 2)
	req.Equal("handover at 9", messages[0].Text)
	req.Equal([]string{"shift"}, messages[0].Tags)
	req.Equal("Ken", messages[0].Name)
	req.NotNil(messages[0].UserID)
	req.Equal(1, messages[1].ChannelID)

	// And an empty body is refused
	req.Equal(http.StatusBadRequest,
		g.do(t, http.MethodPost, "/channels/1/messages", token, publishRequest{Text: ""}).StatusCode)
}

func TestGateway_SearchByTags(t *testing.T) {
	req := require.New(t)
	g := newTestGateway(t)
	token := g.register(t, "mei@example.com", "Mei")
	for _, body := range []publishRequest{
		{Text: "M1", Tags: []string{"a", "b"}},
		{Text: "M2", Tags: []string{"a"}},
		{Text: "M3", Tags: []string{"c"}},
	} {
		g.do(t, http.MethodPost, "/channels/0/messages", token, body)
	}

	texts := func(path string) []string {
		response := g.do(t, http.MethodGet, path, token, nil)
		req.Equal(http.StatusOK, response.StatusCode)
		var out []string
		for _, m := range decode[[]messageJSON](t, response) {
			out = append(out, m.Text)
		}
		return out
	}

	req.Equal([]string{"M1"}, texts("/channels/0/search?condition=and&tag=a&tag=b"))
	req.Equal([]string{"M3", "M2", "M1"}, texts("/channels/0/search?condition=OR&tag=a&tag=c"))
	req.Empty(texts("/channels/0/search?condition=xor"))

	response := g.do(t, http.MethodGet, "/channels/0/search?condition=xor&tag=a", token, nil)
	req.Equal(http.StatusBadRequest, response.StatusCode)
}

func TestGateway_WebSocket_Initial_Then_Live(t *testing.T) {
	req := require.New(t)
	g := newTestGateway(t)
	token := g.register(t, "sora@example.com", "Sora")
	g.do(t, http.MethodPost, "/channels/3/messages", token, publishRequest{Text: "before"})

	// Given a connected client
	ws := g.dial(t, "3", token)
	initial := readUntil(t, ws, eventInitial)
	req.Len(initial.Messages, 1)
	req.Equal("before", initial.Messages[0].Text)

	// When a message is published over HTTP and another over the socket
	g.do(t, http.MethodPost, "/channels/3/messages", token, publishRequest{Text: "after", Tags: []string{"x"}})
	req.NoError(ws.WriteJSON(map[string]any{"type": "publish", "text": "from socket"}))

	// Then both arrive live, once and in order
	first := readUntil(t, ws, eventMessage)
	req.Equal("after", first.Message.Text)
	second := readUntil(t, ws, eventMessage)
	req.Equal("from socket", second.Message.Text)
	req.Equal("Sora", second.Message.Name)
}

func TestGateway_WebSocket_Presence(t *testing.T) {
	req := require.New(t)
	g := newTestGateway(t)
	watcher := g.dial(t, "4", g.register(t, "watch@example.com", "Watcher"))
	readUntil(t, watcher, eventInitial)

	// When another user joins then leaves the channel
	visitor := g.dial(t, "4", g.register(t, "visit@example.com", "Visitor"))
	readUntil(t, visitor, eventInitial)
	entered := readPresence(t, watcher, eventEnter, "Visitor")
	req.NoError(visitor.Close())

	// Then the watcher saw both
	req.Equal(eventEnter, entered.Type)
	req.Equal(eventExit, readPresence(t, watcher, eventExit, "Visitor").Type)
}

func TestGateway_WebSocket_Forbidden_Origin(t *testing.T) {
	g := newTestGateway(t)
	token := g.register(t, "eve@example.com", "")
	url := strings.Replace(g.server.URL, "http://", "ws://", 1) + "/channels/0/ws?token=" + token

	header := http.Header{}
	header.Set("Origin", "http://evil.example")
	_, _, err := websocket.DefaultDialer.Dial(url, header)

	require.Error(t, err)
}

func upload(t *testing.T, g testGateway, token, fileName string, data []byte) *http.Response {
	t.Helper()
	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	part, err := form.CreateFormFile("file", fileName)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, form.Close())

	request, err := http.NewRequest(http.MethodPost, g.server.URL+"/images", &body)
	require.NoError(t, err)
	request.Header.Set("Content-Type", form.FormDataContentType())
	request.Header.Set("Authorization", "Bearer "+token)
	response, err := http.DefaultClient.Do(request)
	require.NoError(t, err)
	t.Cleanup(func() { _ = response.Body.Close() })
	return response
}

func TestGateway_UploadImage(t *testing.T) {
	req := require.New(t)
	g := newTestGateway(t)
	token := g.register(t, "hana@example.com", "Hana")

	// When uploading a PNG
	response := upload(t, g, token, "../pixel.png", pngPixel)

	// Then it is stored under the user name and served from /files
	req.Equal(http.StatusCreated, response.StatusCode)
	url := decode[map[string]string](t, response)["url"]
	req.True(strings.HasPrefix(url, "http://files.test/files/chat-images/Hana_"))
	req.True(strings.HasSuffix(url, "_pixel.png"))

	served, err := http.Get(g.server.URL + strings.TrimPrefix(url, "http://files.test"))
	req.NoError(err)
	defer served.Body.Close()
	req.Equal(http.StatusOK, served.StatusCode)

	// And text is not an image
	req.Equal(http.StatusUnsupportedMediaType, upload(t, g, token, "notes.txt", []byte("hello")).StatusCode)
}

func TestGateway_SearchText(t *testing.T) {
	req := require.New(t)
	g := newTestGateway(t)
	token := g.register(t, "yui@example.com", "")
	req.NoError(g.index.Index(
		domain.Message{ID: "m1", Body: "the boiler needs a check", ChannelID: 1, Timestamp: time.Now()},
		domain.Message{ID: "m2", Body: "lunch at noon", ChannelID: 1, Timestamp: time.Now()},
	))

	response := g.do(t, http.MethodGet, "/search/text?q=boiler&channel=1", token, nil)

	req.Equal(http.StatusOK, response.StatusCode)
	var body struct {
		Hits  []textHitJSON `json:"hits"`
		Total uint64        `json:"total"`
	}
	req.NoError(json.NewDecoder(response.Body).Decode(&body))
	req.Equal(uint64(1), body.Total)
	req.Equal("m1", body.Hits[0].ID)

	req.Equal(http.StatusBadRequest, g.do(t, http.MethodGet, "/search/text?q=x&offset=-1", token, nil).StatusCode)
}

func TestGateway_Health(t *testing.T) {
	req := require.New(t)
	g := newTestGateway(t)

	response := g.do(t, http.MethodGet, "/healthz", "", nil)

	req.Equal(http.StatusOK, response.StatusCode)
	req.Equal("ok", decode[observability.MonitoringStats](t, response).Status)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"invalid condition", fmt.Errorf("%w: %q", errors.ErrInvalidCondition, "xor"), http.StatusBadRequest},
		{"expired token", errors.ErrInvalidToken, http.StatusUnauthorized},
		{"duplicate user", errors.ErrUserAlreadyExists, http.StatusConflict},
		{"not an image", fmt.Errorf("%w: text/plain", errors.ErrUnsupportedImage), http.StatusUnsupportedMediaType},
		{"blob store down", errors.ErrImageUpload, http.StatusBadGateway},
		{"invalid upload", fmt.Errorf("%w: FileName required", errors.ErrImageUpload), http.StatusBadRequest},
		{"anything else", context.Canceled, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}
