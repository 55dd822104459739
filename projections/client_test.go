package projections

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/riverlog/riverlog-go/types"
)

func TestCreateReturnsCreatedOn201(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/projections/continuous" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil, 0)
	outcome, err := c.Create(context.Background(), ModeContinuous, "by-category", "fromAll()", true)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if outcome != OutcomeCreated {
		t.Fatalf("expected OutcomeCreated, got %v", outcome)
	}
}

func TestCreateReturnsAlreadyExistsOn409(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil, 0)
	outcome, err := c.Create(context.Background(), ModeOneTime, "dup", "fromAll()", false)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if outcome != OutcomeAlreadyExists {
		t.Fatalf("expected OutcomeAlreadyExists, got %v", outcome)
	}
}

func TestDeleteReturnsUnableToDeleteOn500(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil, 0)
	outcome, err := c.Delete(context.Background(), "stuck")
	if err == nil {
		t.Fatal("expected an error for 500")
	}
	if outcome != OutcomeUnableToDelete {
		t.Fatalf("expected OutcomeUnableToDelete, got %v", outcome)
	}
}

func TestAnyCallReturnsAccessDeniedOn401(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, &BasicAuth{Username: "admin", Password: "wrong"}, 0)
	_, err := c.Enable(context.Background(), "by-category")
	var denied *types.AccessDeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("expected *types.AccessDeniedError, got %v", err)
	}
}

func TestStateReturnsBodyOn200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/projection/by-category/state" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		w.Write([]byte(`{"count":3}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil, 0)
	body, outcome, err := c.State(context.Background(), "by-category")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if outcome != OutcomeOK {
		t.Fatalf("expected OutcomeOK, got %v", outcome)
	}
	if string(body) != `{"count":3}` {
		t.Fatalf("unexpected body: %s", body)
	}
}
