package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/maraichr/cellforge/internal/config"
)

func TestOllama_StreamAccumulates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var req generateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatal(err)
		}
		if !req.Stream || req.Model != "llama3" || req.System != "sys" {
			t.Errorf("request = %+v", req)
		}
		if req.Options.NumPredict != 150 || req.Options.Temperature != 0.3 {
			t.Errorf("options = %+v", req.Options)
		}
		flusher := w.(http.Flusher)
		for _, line := range []string{
			`{"response":"HEL","done":false}`,
			`not json at all`,
			``,
			`{"response":"LO","done":false}`,
			`{"response":"","done":true}`,
			`{"response":" ignored","done":false}`,
		} {
			fmt.Fprintln(w, line)
			flusher.Flush()
		}
	}))
	defer srv.Close()

	o := NewOllama(config.OllamaConfig{BaseURL: srv.URL + "/"}, nil)
	got, err := o.Complete(context.Background(), Completion{
		Model: "llama3", System: "sys", Prompt: "hello", Temperature: 0.3, MaxTokens: 150,
	})
	if err != nil {
		t.Fatal(err)
	}
	if got != "HELLO" {
		t.Errorf("got %q, want HELLO", got)
	}
}

func TestOllama_StreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"error":"model 'nope' not found"}`)
	}))
	defer srv.Close()

	o := NewOllama(config.OllamaConfig{BaseURL: srv.URL}, nil)
	_, err := o.Complete(context.Background(), Completion{Model: "nope", Prompt: "x"})
	if Classify(err) != FailureBackend {
		t.Fatalf("err = %v", err)
	}
}

func TestOllama_HTTPStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	o := NewOllama(config.OllamaConfig{BaseURL: srv.URL}, nil)
	_, err := o.Complete(context.Background(), Completion{Prompt: "x"})
	var be *BackendError
	if !errors.As(err, &be) || be.Status != http.StatusInternalServerError {
		t.Fatalf("err = %v", err)
	}
}

func TestOllama_ListModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Write([]byte(`{"models":[{"name":"llama3:latest"},{"name":"mistral:7b"}]}`))
	}))
	defer srv.Close()

	o := NewOllama(config.OllamaConfig{BaseURL: srv.URL}, nil)
	models, err := o.ListModels(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(models) != 2 || models[0].ID != "llama3:latest" || models[1].API != "ollama" {
		t.Errorf("models = %+v", models)
	}
}

func TestOllama_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	o := NewOllama(config.OllamaConfig{BaseURL: url}, nil)
	err := o.Ping(context.Background(), "llama3")
	if !errors.Is(err, ErrOllamaUnreachable) {
		t.Fatalf("err = %v", err)
	}
	if Classify(err) != FailureConnection {
		t.Errorf("kind = %q", Classify(err))
	}
}

func TestOllama_Ping(t *testing.T) {
	var generated bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			w.Write([]byte(`{"models":[]}`))
		case "/api/generate":
			var req generateRequest
			json.NewDecoder(r.Body).Decode(&req)
			if req.Stream || req.Prompt != "Say hello in one word:" || req.Options.NumPredict != 10 {
				t.Errorf("ping request = %+v", req)
			}
			generated = true
			w.Write([]byte(`{"response":"Hello","done":true}`))
		}
	}))
	defer srv.Close()

	o := NewOllama(config.OllamaConfig{BaseURL: srv.URL}, nil)
	if err := o.Ping(context.Background(), "llama3"); err != nil {
		t.Fatal(err)
	}
	if !generated {
		t.Error("ping did not generate")
	}
}
