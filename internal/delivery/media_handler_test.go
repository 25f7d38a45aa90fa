package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Vovarama1992/clipvault/internal/delivery/ws"
	"github.com/Vovarama1992/clipvault/internal/domain"
	"github.com/Vovarama1992/clipvault/internal/infra"
	"github.com/Vovarama1992/clipvault/internal/models"
	"github.com/Vovarama1992/clipvault/internal/ports"
	"github.com/Vovarama1992/go-utils/logger"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/sync/errgroup"
)

type testServer struct {
	*httptest.Server
	repo *infra.MemoryMediaRepo
	hub  *ws.Hub
	dir  string
}

type serverOptions struct {
	cfg      MediaHandlerConfig
	log      *logger.ZapLogger
	ingest   func(*domain.MediaService) ports.MediaIngester
	delivery func(*domain.DeliveryService) ports.MediaDelivery
}

func newTestServer(t *testing.T, cfg MediaHandlerConfig) *testServer {
	return newTestServerWith(t, serverOptions{cfg: cfg})
}

func newTestServerWith(t *testing.T, opts serverOptions) *testServer {
	t.Helper()
	log := opts.log
	if log == nil {
		log = logger.NewZapLogger(zap.NewNop().Sugar())
	}

	dir := t.TempDir()
	files, err := infra.NewLocalFileStore(dir, "")
	require.NoError(t, err)
	repo := infra.NewMemoryMediaRepo()

	mediaService := domain.NewMediaService(repo, files, domain.NewAllocator(repo, 0), domain.NewProgressReporter(256), log)
	deliveryService := domain.NewDeliveryService(repo, nil, files, log)
	var (
		ingest  ports.MediaIngester = mediaService
		deliver ports.MediaDelivery = deliveryService
	)
	if opts.ingest != nil {
		ingest = opts.ingest(mediaService)
	}
	if opts.delivery != nil {
		deliver = opts.delivery(deliveryService)
	}
	hub := ws.NewHub(log)

	r := NewRouter("*", log)
	RegisterRoutes(r, NewMediaHandler(ingest, deliver, hub, log, opts.cfg), NewHealthHandler(repo, log), hub, log)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, repo: repo, hub: hub, dir: dir}
}

type uploadForm struct {
	fields    map[string]string
	filename  string
	content   []byte
	fileFirst bool
}

func validForm(content []byte) uploadForm {
	return uploadForm{
		fields: map[string]string{
			"title":         "Morning ferry",
			"startDateTime": "2024-06-01T08:15",
			"location":      "North quay",
			"termsChecked":  "true",
		},
		filename: "ferry.mp4",
		content:  content,
	}
}

func (f uploadForm) encode(t *testing.T) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	writeFile := func() {
		if f.filename == "" {
			return
		}
		fw, err := mw.CreateFormFile("video", f.filename)
		require.NoError(t, err)
		_, err = fw.Write(f.content)
		require.NoError(t, err)
	}

	if f.fileFirst {
		writeFile()
	}
	keys := make([]string, 0, len(f.fields))
	for k := range f.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		require.NoError(t, mw.WriteField(k, f.fields[k]))
	}
	if !f.fileFirst {
		writeFile()
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

type uploadResult struct {
	status   int
	progress []string
	body     apiResponse
}

func (s *testServer) upload(t *testing.T, form uploadForm) uploadResult {
	t.Helper()
	body, contentType := form.encode(t)
	resp, err := http.Post(s.URL+"/upload", contentType, body)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return parseUpload(t, resp.StatusCode, resp.Header.Get("Content-Type"), raw)
}

// parseUpload splits an upload response into its progress events and the
// trailing JSON result.
func parseUpload(t *testing.T, status int, contentType string, raw []byte) uploadResult {
	t.Helper()
	res := uploadResult{status: status}

	jsonPart := raw
	if strings.HasPrefix(contentType, "text/event-stream") {
		lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
		for _, l := range lines[:len(lines)-1] {
			if v, ok := strings.CutPrefix(l, "data: "); ok {
				res.progress = append(res.progress, v)
			}
		}
		jsonPart = []byte(lines[len(lines)-1])
	}
	require.NoError(t, json.Unmarshal(jsonPart, &res.body), string(raw))
	return res
}

func (s *testServer) get(t *testing.T, method, path string, header map[string]string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, s.URL+path, nil)
	require.NoError(t, err)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, body
}

func videoBytes(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i * 7)
	}
	return b
}

func TestUploadThenWatch(t *testing.T) {
	s := newTestServer(t, MediaHandlerConfig{})
	content := videoBytes(1000)

	res := s.upload(t, validForm(content))
	require.Equal(t, http.StatusOK, res.status)
	require.True(t, res.body.Success)
	token := res.body.VideoID
	assert.Regexp(t, `^[0-9a-f]{8}$`, token)
	assert.Equal(t, "Video uploaded with ID "+token, res.body.Message)

	require.NotEmpty(t, res.progress)
	assert.Equal(t, "25.60", res.progress[0])
	assert.Equal(t, "100", res.progress[len(res.progress)-1])

	t.Run("full file", func(t *testing.T) {
		resp, body := s.get(t, http.MethodGet, "/watch/"+token, nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "video/mp4", resp.Header.Get("Content-Type"))
		assert.Equal(t, "bytes", resp.Header.Get("Accept-Ranges"))
		assert.Equal(t, "1000", resp.Header.Get("Content-Length"))
		assert.Equal(t, content, body)
	})

	t.Run("range", func(t *testing.T) {
		resp, body := s.get(t, http.MethodGet, "/watch/"+token, map[string]string{"Range": "bytes=0-9"})
		assert.Equal(t, http.StatusPartialContent, resp.StatusCode)
		assert.Equal(t, "bytes 0-9/1000", resp.Header.Get("Content-Range"))
		assert.Equal(t, "10", resp.Header.Get("Content-Length"))
		assert.Equal(t, content[:10], body)
	})

	t.Run("open ended range", func(t *testing.T) {
		resp, body := s.get(t, http.MethodGet, "/watch/"+token, map[string]string{"Range": "bytes=990-"})
		assert.Equal(t, http.StatusPartialContent, resp.StatusCode)
		assert.Equal(t, "bytes 990-999/1000", resp.Header.Get("Content-Range"))
		assert.Equal(t, content[990:], body)
	})

	t.Run("unsatisfiable range", func(t *testing.T) {
		resp, _ := s.get(t, http.MethodGet, "/watch/"+token, map[string]string{"Range": "bytes=5000-"})
		assert.Equal(t, http.StatusRequestedRangeNotSatisfiable, resp.StatusCode)
		assert.Equal(t, "bytes */1000", resp.Header.Get("Content-Range"))
	})

	t.Run("malformed range serves whole file", func(t *testing.T) {
		resp, body := s.get(t, http.MethodGet, "/watch/"+token, map[string]string{"Range": "bytes=-100"})
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, content, body)
	})

	t.Run("head", func(t *testing.T) {
		resp, body := s.get(t, http.MethodHead, "/watch/"+token, nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, int64(1000), resp.ContentLength)
		assert.Empty(t, body)
	})
}

func TestWatch_NotFound(t *testing.T) {
	s := newTestServer(t, MediaHandlerConfig{})

	_, err := s.repo.Insert(context.Background(), &models.MediaRecord{
		PublicToken:      "deadbeef",
		Title:            "still uploading",
		OriginalFilename: "x.mp4",
		Status:           models.StatusPending,
	})
	require.NoError(t, err)

	for _, token := range []string{"00000000", "deadbeef", "not-a-token"} {
		t.Run(token, func(t *testing.T) {
			resp, body := s.get(t, http.MethodGet, "/watch/"+token, nil)
			assert.Equal(t, http.StatusNotFound, resp.StatusCode)
			assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
			assert.JSONEq(t, `{"success":false,"message":"Video not found"}`, string(body))
		})
	}
}

func TestUpload_Rejected(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*uploadForm)
		status int
		msg    string
	}{
		{"terms unchecked", func(f *uploadForm) { f.fields["termsChecked"] = "false" }, http.StatusBadRequest, "Terms must be checked"},
		{"missing title", func(f *uploadForm) { delete(f.fields, "title") }, http.StatusBadRequest, "Missing required fields"},
		{"missing file", func(f *uploadForm) { f.filename = "" }, http.StatusBadRequest, "Missing required fields"},
		{"text file", func(f *uploadForm) { f.filename = "notes.txt" }, http.StatusBadRequest, "Unsupported file type"},
		{"bad start time", func(f *uploadForm) { f.fields["startDateTime"] = "soon" }, http.StatusBadRequest, "Invalid startDateTime"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, MediaHandlerConfig{})
			form := validForm(videoBytes(64))
			tt.mutate(&form)

			res := s.upload(t, form)
			assert.Equal(t, tt.status, res.status)
			assert.False(t, res.body.Success)
			assert.Equal(t, tt.msg, res.body.Message)
			assert.Empty(t, res.progress)

			orphans, err := s.repo.ListOrphans(context.Background(), time.Now().Add(time.Hour))
			require.NoError(t, err)
			assert.Empty(t, orphans)
		})
	}
}

func TestUpload_NotMultipart(t *testing.T) {
	s := newTestServer(t, MediaHandlerConfig{})

	resp, err := http.Post(s.URL+"/upload", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUpload_TooLarge(t *testing.T) {
	s := newTestServer(t, MediaHandlerConfig{MaxUploadBytes: 1024})

	res := s.upload(t, validForm(videoBytes(8192)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, res.status)
	assert.False(t, res.body.Success)
}

func TestUpload_ConcurrentTokensAreDistinct(t *testing.T) {
	s := newTestServer(t, MediaHandlerConfig{})
	const n = 20

	var (
		mu     sync.Mutex
		tokens = map[string][]byte{}
	)
	var g errgroup.Group
	for i := 0; i < n; i++ {
		content := []byte(fmt.Sprintf("video payload %02d", i))
		body, contentType := validForm(content).encode(t)
		g.Go(func() error {
			resp, err := http.Post(s.URL+"/upload", contentType, body)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			raw, err := io.ReadAll(resp.Body)
			if err != nil {
				return err
			}
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("status %d: %s", resp.StatusCode, raw)
			}
			lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
			var out apiResponse
			if err := json.Unmarshal([]byte(lines[len(lines)-1]), &out); err != nil {
				return err
			}

			mu.Lock()
			defer mu.Unlock()
			if _, dup := tokens[out.VideoID]; dup {
				return fmt.Errorf("duplicate token %s", out.VideoID)
			}
			tokens[out.VideoID] = content
			return nil
		})
	}
	require.NoError(t, g.Wait())
	require.Len(t, tokens, n)

	for token, content := range tokens {
		_, body := s.get(t, http.MethodGet, "/watch/"+token, nil)
		assert.Equal(t, content, body, token)
	}
}

func TestUpload_MirrorsProgressToRoom(t *testing.T) {
	s := newTestServer(t, MediaHandlerConfig{})

	wsURL := "ws" + strings.TrimPrefix(s.URL, "http") + "/ws?roomID=room-1"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return s.hub.Subscribers("room-1") == 1 }, time.Second, 10*time.Millisecond)

	form := validForm(videoBytes(600))
	form.fields["roomID"] = "room-1"
	res := s.upload(t, form)
	require.Equal(t, http.StatusOK, res.status)

	var last progressEvent
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for !last.Done {
		_, msg, err := conn.ReadMessage()
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(msg, &last))
	}
	assert.Equal(t, 100.0, last.Progress)
}

type progressEvent struct {
	Progress float64 `json:"progress"`
	Done     bool    `json:"done"`
}

func TestWS_RequiresRoom(t *testing.T) {
	s := newTestServer(t, MediaHandlerConfig{})

	resp, _ := s.get(t, http.MethodGet, "/ws", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUnknownRoute(t *testing.T) {
	s := newTestServer(t, MediaHandlerConfig{})

	resp, body := s.get(t, http.MethodGet, "/nope", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.JSONEq(t, `{"success":false,"message":"Not found"}`, string(body))
}

func tempDirEntries(t *testing.T, dir string) []os.DirEntry {
	t.Helper()
	entries, err := os.ReadDir(filepath.Join(dir, ".tmp"))
	require.NoError(t, err)
	return entries
}

func TestUpload_FileBeforeFields(t *testing.T) {
	s := newTestServer(t, MediaHandlerConfig{})
	content := videoBytes(2048)

	form := validForm(content)
	form.fileFirst = true
	res := s.upload(t, form)
	require.Equal(t, http.StatusOK, res.status)

	_, body := s.get(t, http.MethodGet, "/watch/"+res.body.VideoID, nil)
	assert.Equal(t, content, body)
	assert.Empty(t, tempDirEntries(t, s.dir))

	rec, err := s.repo.FindByToken(context.Background(), res.body.VideoID)
	require.NoError(t, err)
	require.NotNil(t, rec.Location)
	assert.Equal(t, "North quay", *rec.Location)
}

func TestUpload_RejectedAfterStagingLeavesNoTemp(t *testing.T) {
	s := newTestServer(t, MediaHandlerConfig{})

	form := validForm(videoBytes(2048))
	form.fileFirst = true
	form.fields["termsChecked"] = "false"
	res := s.upload(t, form)

	assert.Equal(t, http.StatusBadRequest, res.status)
	assert.Equal(t, "Terms must be checked", res.body.Message)
	assert.Empty(t, tempDirEntries(t, s.dir))
}

// trackedFile reports when the handler closes the content it streams.
type trackedFile struct {
	io.ReadSeekCloser
	once   sync.Once
	closed chan struct{}
}

func (f *trackedFile) Close() error {
	f.once.Do(func() { close(f.closed) })
	return f.ReadSeekCloser.Close()
}

type trackingDelivery struct {
	ports.MediaDelivery
	opened chan *trackedFile
}

func (d trackingDelivery) Open(ctx context.Context, token string) (*ports.MediaContent, error) {
	mc, err := d.MediaDelivery.Open(ctx, token)
	if err != nil {
		return nil, err
	}
	tf := &trackedFile{ReadSeekCloser: mc.Content, closed: make(chan struct{})}
	mc.Content = tf
	d.opened <- tf
	return mc, nil
}

func TestWatch_ClientDisconnectMidStream(t *testing.T) {
	opened := make(chan *trackedFile, 1)
	s := newTestServerWith(t, serverOptions{
		delivery: func(d *domain.DeliveryService) ports.MediaDelivery {
			return trackingDelivery{MediaDelivery: d, opened: opened}
		},
	})
	ctx := context.Background()

	id, err := s.repo.Insert(ctx, &models.MediaRecord{
		PublicToken:      "abcdef01",
		Title:            "long take",
		OriginalFilename: "long.mp4",
		Status:           models.StatusPending,
	})
	require.NoError(t, err)
	name := domain.StorageName(id, "mp4")
	require.NoError(t, os.WriteFile(filepath.Join(s.dir, name), videoBytes(32<<20), 0o644))
	require.NoError(t, s.repo.SetStoragePath(ctx, id, name))

	req, err := http.NewRequest(http.MethodGet, s.URL+"/watch/abcdef01", nil)
	require.NoError(t, err)
	req.Header.Set("Range", "bytes=0-")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusPartialContent, resp.StatusCode)

	buf := make([]byte, 1024)
	_, err = io.ReadFull(resp.Body, buf)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())

	var tf *trackedFile
	select {
	case tf = <-opened:
	case <-time.After(time.Second):
		t.Fatal("content was never opened")
	}
	select {
	case <-tf.closed:
	case <-time.After(5 * time.Second):
		t.Fatal("handler kept the file open after the client left")
	}
}

// abortingIngester replaces the response's progress sink with one whose
// client has gone away.
type abortingIngester struct {
	*domain.MediaService
}

func (a abortingIngester) Ingest(ctx context.Context, req ports.IngestRequest, _ ports.ProgressSink) (*ports.IngestResult, error) {
	return a.MediaService.Ingest(ctx, req, goneSink{})
}

type goneSink struct{}

func (goneSink) Progress(float64) error { return io.ErrClosedPipe }
func (goneSink) Complete() error        { return io.ErrClosedPipe }

func TestUpload_DisconnectAfterCommit(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	s := newTestServerWith(t, serverOptions{
		log: logger.NewZapLogger(zap.New(core).Sugar()),
		ingest: func(m *domain.MediaService) ports.MediaIngester {
			return abortingIngester{MediaService: m}
		},
	})

	res := s.upload(t, validForm(videoBytes(512)))
	assert.Equal(t, http.StatusInternalServerError, res.status)
	require.NotEmpty(t, res.body.VideoID)

	rec, err := s.repo.FindByToken(context.Background(), res.body.VideoID)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.True(t, rec.Placed())

	assert.Equal(t, 1, logs.FilterMessageSnippet("client disconnected after commit").Len())
	assert.Zero(t, logs.FilterMessageSnippet("upload rejected").Len())
}
