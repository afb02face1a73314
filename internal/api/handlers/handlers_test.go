package handlers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/visage/internal/identity"
	"github.com/your-org/visage/internal/models"
	"github.com/your-org/visage/internal/storage"
	"github.com/your-org/visage/internal/transcript"
	"github.com/your-org/visage/pkg/dto"
)

// widthExtractor derives the embedding from the image width so tests can
// pick faces by drawing differently sized PNGs.
type widthExtractor struct{}

func (widthExtractor) Extract(ctx context.Context, data []byte) (*models.Detection, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	var vec []float32
	switch cfg.Width {
	case 10:
		vec = []float32{0, 0}
	case 20:
		vec = []float32{5, 5}
	default:
		return nil, identity.ErrNoFaceDetected
	}
	return &models.Detection{Vector: vec, BBox: models.BBox{Width: 4, Height: 4}, Confidence: 0.99}, nil
}

func pngOfWidth(t *testing.T, w int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, w, 4))); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func newTestRouter(t *testing.T) (*gin.Engine, *PhotoHandler) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := storage.NewMemoryStore(2)
	engine := identity.NewEngine(store, store, widthExtractor{}, identity.Options{
		Threshold: 1, ModelName: "test", Dimension: 2,
	})

	r := gin.New()
	faceH := NewFaceHandler(engine, 1<<20)
	r.POST("/v1/meetings", faceH.Meeting)
	r.POST("/v1/recognitions", faceH.Recognition)
	r.POST("/v1/encounters", faceH.Encounter)

	identH := NewIdentityHandler(engine)
	r.GET("/v1/identities/search", identH.Search)
	r.GET("/v1/identities/:id", identH.Get)
	r.PATCH("/v1/identities/:id", identH.Update)

	photoH := NewPhotoHandler(engine)
	r.POST("/v1/photos/:id/transcript", photoH.Transcript)
	r.DELETE("/v1/photos/:id", photoH.Delete)

	sysH := NewSystemHandler(engine, map[string]Check{"store": store.Ping})
	r.GET("/readyz", sysH.Readyz)
	r.GET("/v1/stats", sysH.Stats)
	return r, photoH
}

func multipartBody(t *testing.T, img []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		_ = mw.WriteField(k, v)
	}
	if img != nil {
		fw, err := mw.CreateFormFile("image", "face.png")
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		_, _ = fw.Write(img)
	}
	_ = mw.Close()
	return &buf, mw.FormDataContentType()
}

func do(t *testing.T, r http.Handler, method, path string, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	if body == nil {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func jsonBody(t *testing.T, v any) *bytes.Buffer {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return bytes.NewBuffer(data)
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %s: %v", w.Body.String(), err)
	}
	return v
}

func TestFaceHandlers_MeetThenRecognize(t *testing.T) {
	r, _ := newTestRouter(t)

	body, ct := multipartBody(t, pngOfWidth(t, 10), map[string]string{"name": " Alice ", "context": "conference"})
	w := do(t, r, http.MethodPost, "/v1/meetings", body, ct)
	if w.Code != http.StatusCreated {
		t.Fatalf("meeting: status %d: %s", w.Code, w.Body.String())
	}
	reg := decode[dto.RegistrationResponse](t, w)
	if reg.Identity == nil || reg.Identity.Name != "Alice" || reg.Identity.TimesMet != 1 {
		t.Fatalf("registration = %+v", reg)
	}

	// base64 JSON form, as sent by the glasses client
	req := dto.CaptureRequest{ImageData: "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngOfWidth(t, 10))}
	w = do(t, r, http.MethodPost, "/v1/recognitions", jsonBody(t, req), "application/json")
	if w.Code != http.StatusOK {
		t.Fatalf("recognition: status %d: %s", w.Code, w.Body.String())
	}
	rec := decode[dto.RecognitionResponse](t, w)
	if !rec.Recognized || rec.Identity == nil || rec.Identity.ID != reg.Identity.ID || rec.Identity.TimesMet != 2 {
		t.Errorf("recognition = %+v", rec)
	}
	if rec.Distance == nil || *rec.Distance != 0 {
		t.Errorf("distance = %v, want 0", rec.Distance)
	}

	body, ct = multipartBody(t, pngOfWidth(t, 20), map[string]string{"name": "Bob"})
	w = do(t, r, http.MethodPost, "/v1/encounters", body, ct)
	if w.Code != http.StatusCreated {
		t.Fatalf("first encounter: status %d: %s", w.Code, w.Body.String())
	}
	enc := decode[dto.EncounterResponse](t, w)
	if !enc.Registered || enc.Recognized || enc.Identity == nil || enc.Identity.Name != "Bob" {
		t.Errorf("first encounter = %+v", enc)
	}

	body, ct = multipartBody(t, pngOfWidth(t, 20), nil)
	w = do(t, r, http.MethodPost, "/v1/encounters", body, ct)
	if w.Code != http.StatusOK {
		t.Fatalf("second encounter: status %d: %s", w.Code, w.Body.String())
	}
	enc = decode[dto.EncounterResponse](t, w)
	if enc.Registered || !enc.Recognized || enc.Identity.Name != "Bob" || enc.Identity.TimesMet != 2 {
		t.Errorf("second encounter = %+v", enc)
	}

	w = do(t, r, http.MethodGet, "/v1/stats", nil, "")
	if stats := decode[dto.StatsResponse](t, w); stats.Identities != 2 || stats.Photos != 2 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestFaceHandlers_Errors(t *testing.T) {
	r, _ := newTestRouter(t)

	tests := []struct {
		name   string
		path   string
		img    []byte
		fields map[string]string
		want   int
	}{
		{"meeting without face", "/v1/meetings", pngOfWidth(t, 30), nil, http.StatusUnprocessableEntity},
		{"recognition without face", "/v1/recognitions", pngOfWidth(t, 30), nil, http.StatusOK},
		{"missing image", "/v1/meetings", nil, map[string]string{"name": "x"}, http.StatusBadRequest},
		{"not an image", "/v1/recognitions", []byte("plain text"), nil, http.StatusBadRequest},
		{"bad base64", "/v1/encounters", nil, map[string]string{"image_data": "%%%"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, ct := multipartBody(t, tt.img, tt.fields)
			w := do(t, r, http.MethodPost, tt.path, body, ct)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d: %s", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestIdentityHandlers(t *testing.T) {
	r, _ := newTestRouter(t)
	body, ct := multipartBody(t, pngOfWidth(t, 10), map[string]string{"name": "Olivia"})
	reg := decode[dto.RegistrationResponse](t, do(t, r, http.MethodPost, "/v1/meetings", body, ct))
	path := "/v1/identities/" + itoa(reg.Identity.ID)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"search hit", http.MethodGet, "/v1/identities/search?name=oliv", nil, http.StatusOK},
		{"search miss", http.MethodGet, "/v1/identities/search?name=zed", nil, http.StatusNotFound},
		{"search blank", http.MethodGet, "/v1/identities/search?name=%20", nil, http.StatusBadRequest},
		{"get", http.MethodGet, path, nil, http.StatusOK},
		{"get missing", http.MethodGet, "/v1/identities/999", nil, http.StatusNotFound},
		{"get bad id", http.MethodGet, "/v1/identities/abc", nil, http.StatusBadRequest},
		{"patch empty name", http.MethodPatch, path, map[string]string{"name": "  "}, http.StatusBadRequest},
		{"patch nothing", http.MethodPatch, path, map[string]string{}, http.StatusBadRequest},
		{"patch missing", http.MethodPatch, "/v1/identities/999", map[string]string{"name": "X"}, http.StatusNotFound},
		{"patch", http.MethodPatch, path, map[string]string{"name": "Liv", "context": "book club"}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body *bytes.Buffer
			if tt.body != nil {
				body = jsonBody(t, tt.body)
			}
			w := do(t, r, tt.method, tt.path, body, "application/json")
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d: %s", w.Code, tt.want, w.Body.String())
			}
		})
	}

	got := decode[dto.IdentityResponse](t, do(t, r, http.MethodGet, path, nil, ""))
	if got.Name != "Liv" || got.Context != "book club" {
		t.Errorf("after patch = %+v", got)
	}
}

type fakeTranscripts struct {
	info *transcript.PersonInfo
	err  error
}

func (f fakeTranscripts) Extract(ctx context.Context, raw string) (*transcript.PersonInfo, error) {
	return f.info, f.err
}

func TestPhotoHandlers(t *testing.T) {
	r, photoH := newTestRouter(t)
	body, ct := multipartBody(t, pngOfWidth(t, 10), nil)
	reg := decode[dto.RegistrationResponse](t, do(t, r, http.MethodPost, "/v1/meetings", body, ct))
	path := "/v1/photos/" + itoa(reg.PhotoID)

	w := do(t, r, http.MethodPost, "/v1/photos/999/transcript", jsonBody(t, map[string]string{"raw_text": "hi"}), "application/json")
	if w.Code != http.StatusNotFound {
		t.Errorf("transcript on missing photo: status %d", w.Code)
	}

	photoH.Extractor = fakeTranscripts{info: &transcript.PersonInfo{Name: "Dana", Workplace: "Initech", Context: "at the gym"}}
	w = do(t, r, http.MethodPost, path+"/transcript", jsonBody(t, map[string]string{"raw_text": "I'm Dana from Initech"}), "application/json")
	if w.Code != http.StatusOK {
		t.Fatalf("transcript: status %d: %s", w.Code, w.Body.String())
	}
	resp := decode[dto.TranscriptResponse](t, w)
	if len(resp.Identities) != 1 || resp.Identities[0].Name != "Dana" || resp.Identities[0].Context != "Initech at the gym" {
		t.Errorf("transcript identities = %+v", resp.Identities)
	}

	// explicit fields win and a failing extractor is not consulted
	photoH.Extractor = fakeTranscripts{err: errors.New("quota")}
	w = do(t, r, http.MethodPost, path+"/transcript", jsonBody(t, map[string]string{
		"raw_text": "hello", "extracted_name": "Dee", "context": "",
	}), "application/json")
	resp = decode[dto.TranscriptResponse](t, w)
	if resp.Identities[0].Name != "Dee" || resp.Identities[0].Context != "Initech at the gym" {
		t.Errorf("explicit transcript identities = %+v", resp.Identities)
	}

	if w := do(t, r, http.MethodDelete, path, nil, ""); w.Code != http.StatusOK {
		t.Errorf("delete: status %d", w.Code)
	}
	if w := do(t, r, http.MethodDelete, path, nil, ""); w.Code != http.StatusNotFound {
		t.Errorf("second delete: status %d", w.Code)
	}
	if w := do(t, r, http.MethodGet, "/v1/identities/"+itoa(reg.Identity.ID), nil, ""); w.Code != http.StatusNotFound {
		t.Errorf("identity after photo delete: status %d", w.Code)
	}
}

type fakeStager struct {
	staged  map[string][]byte
	deleted []string
}

func (f *fakeStager) StageCapture(ctx context.Context, id uuid.UUID, data []byte, contentType string) (string, error) {
	key := storage.CaptureKey(id)
	f.staged[key] = data
	return key, nil
}

func (f *fakeStager) DeleteCapture(ctx context.Context, key string) error {
	f.deleted = append(f.deleted, key)
	return nil
}

type fakePublisher struct {
	tasks []models.CaptureTask
	err   error
}

func (f *fakePublisher) PublishCapture(ctx context.Context, task models.CaptureTask) error {
	if f.err != nil {
		return f.err
	}
	f.tasks = append(f.tasks, task)
	return nil
}

func TestCaptureHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	img := pngOfWidth(t, 10)

	tests := []struct {
		name        string
		fields      map[string]string
		publishErr  error
		want        int
		wantTasks   int
		wantDeleted int
	}{
		{"queued", map[string]string{"kind": "recognize", "device_id": "glasses-1"}, nil, http.StatusAccepted, 1, 0},
		{"default kind", nil, nil, http.StatusAccepted, 1, 0},
		{"unknown kind", map[string]string{"kind": "wave"}, nil, http.StatusBadRequest, 0, 0},
		{"queue down", nil, errors.New("nats down"), http.StatusServiceUnavailable, 0, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stager := &fakeStager{staged: map[string][]byte{}}
			pub := &fakePublisher{err: tt.publishErr}
			r := gin.New()
			r.POST("/v1/captures", NewCaptureHandler(stager, pub, 1<<20).Create)

			body, ct := multipartBody(t, img, tt.fields)
			w := do(t, r, http.MethodPost, "/v1/captures", body, ct)
			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d: %s", w.Code, tt.want, w.Body.String())
			}
			if len(pub.tasks) != tt.wantTasks || len(stager.deleted) != tt.wantDeleted {
				t.Errorf("tasks = %d, deleted = %d", len(pub.tasks), len(stager.deleted))
			}
			if tt.wantTasks == 1 {
				task := pub.tasks[0]
				if !task.Kind.Valid() || task.ObjectKey != storage.CaptureKey(task.CaptureID) {
					t.Errorf("task = %+v", task)
				}
				if !bytes.Equal(stager.staged[task.ObjectKey], img) {
					t.Error("staged image differs from upload")
				}
			}
		})
	}
}

func TestSystemHandler_Readyz(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewSystemHandler(nil, map[string]Check{
		"ok":   func(context.Context) error { return nil },
		"nats": func(context.Context) error { return errors.New("nats not connected") },
	})
	r := gin.New()
	r.GET("/readyz", h.Readyz)

	w := do(t, r, http.MethodGet, "/readyz", nil, "")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
	body := decode[struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}](t, w)
	if body.Status != "not ready" || body.Checks["ok"] != "ok" || body.Checks["nats"] != "nats not connected" {
		t.Errorf("body = %+v", body)
	}
}

func TestWriteError(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tests := []struct {
		err  error
		want int
	}{
		{identity.ErrNoFaceDetected, http.StatusUnprocessableEntity},
		{identity.ErrDimensionMismatch, http.StatusUnprocessableEntity},
		{identity.ErrNotFound, http.StatusNotFound},
		{identity.ErrEmptyName, http.StatusBadRequest},
		{identity.Storage("insert", errors.New("conn reset")), http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			writeError(c, tt.err)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func itoa(n int64) string { return strconv.FormatInt(n, 10) }

func TestFaceHandlers_MeetingFromGlassesClient(t *testing.T) {
	img := base64.StdEncoding.EncodeToString(pngOfWidth(t, 10))

	tests := []struct {
		name string
		body func() (*bytes.Buffer, string)
	}{
		{"urlencoded form", func() (*bytes.Buffer, string) {
			form := url.Values{
				"image_data":           {"data:image/png;base64," + img},
				"name":                 {"Alice"},
				"conversation_context": {"met at the pier"},
			}
			return bytes.NewBufferString(form.Encode()), "application/x-www-form-urlencoded"
		}},
		{"json", func() (*bytes.Buffer, string) {
			return jsonBody(t, map[string]string{
				"image_data":           img,
				"name":                 "Alice",
				"conversation_context": "met at the pier",
			}), "application/json"
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := newTestRouter(t)
			body, ct := tt.body()

			w := do(t, r, http.MethodPost, "/v1/meetings", body, ct)
			if w.Code != http.StatusCreated {
				t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
			}
			reg := decode[dto.RegistrationResponse](t, w)
			if reg.PhotoID == 0 || reg.FaceID == 0 || reg.IdentityID == 0 || reg.Name != "Alice" {
				t.Errorf("registration = %+v", reg)
			}
			if reg.Identity == nil || reg.Identity.ID != reg.IdentityID || reg.Identity.Context != "met at the pier" {
				t.Errorf("identity = %+v", reg.Identity)
			}
		})
	}
}
