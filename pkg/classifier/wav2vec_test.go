package classifier

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWav2VecClassify(t *testing.T) {
	t.Parallel()

	var gotPath, gotFilename string
	var gotBytes int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("FormFile: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer file.Close()
		gotFilename = header.Filename
		data, _ := io.ReadAll(file)
		gotBytes = len(data)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"label":"voicemail","confidence":0.93,"transcription":"please leave a message"}`))
	}))
	defer srv.Close()

	c := NewWav2Vec(srv.URL)
	pred, err := c.Classify(t.Context(), make([]byte, 1024), "wav")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}

	if gotPath != "/api/predict" {
		t.Fatalf("path = %q, want /api/predict", gotPath)
	}
	if gotFilename != "chunk.wav" {
		t.Fatalf("filename = %q, want chunk.wav", gotFilename)
	}
	if gotBytes != 1024 {
		t.Fatalf("uploaded %d bytes, want 1024", gotBytes)
	}
	if pred.Label != LabelVoicemail || pred.Confidence != 0.93 {
		t.Fatalf("prediction = (%s, %.2f), want (voicemail, 0.93)", pred.Label, pred.Confidence)
	}
	if len(pred.Raw) == 0 {
		t.Fatal("raw response not captured")
	}
}

func TestWav2VecClassify_UnknownFormatDefaultsToWav(t *testing.T) {
	t.Parallel()

	var gotFilename string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, header, err := r.FormFile("file")
		if err == nil {
			gotFilename = header.Filename
		}
		_, _ = w.Write([]byte(`{"label":"human","confidence":0.8}`))
	}))
	defer srv.Close()

	c := NewWav2Vec(srv.URL)
	if _, err := c.Classify(t.Context(), []byte{1}, "mp3"); err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if gotFilename != "chunk.wav" {
		t.Fatalf("filename = %q, want chunk.wav", gotFilename)
	}
}

func TestWav2VecClassify_ServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewWav2Vec(srv.URL)
	if _, err := c.Classify(t.Context(), []byte{1}, "wav"); err == nil {
		t.Fatal("Classify returned nil error on 500")
	}
}

func TestWav2VecClassify_MissingLabel(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"confidence":0.9}`))
	}))
	defer srv.Close()

	c := NewWav2Vec(srv.URL)
	if _, err := c.Classify(t.Context(), []byte{1}, "wav"); err == nil {
		t.Fatal("Classify returned nil error on response without label")
	}
}
