package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSseTransportReceivesFramedEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher, _ := w.(http.Flusher)

		w.Write([]byte("data: {\"v\":1}\n\n"))
		if flusher != nil {
			flusher.Flush()
		}
		<-r.Context().Done()
	}))
	defer srv.Close()

	tr := NewSseTransport(srv.URL)
	received := make(chan []byte, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := tr.Connect(ctx, srv.URL, Handler{
		OnMessage: func(data []byte) { received <- data },
	})
	require.NoError(t, err)
	defer tr.Close()

	select {
	case data := <-received:
		assert.Equal(t, `{"v":1}`, string(data))
	case <-time.After(2 * time.Second):
		t.Fatal("expected a message")
	}
}

func TestSseTransportSendPostsToSendURL(t *testing.T) {
	var gotBody string
	sendSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, 1024)
		n, _ := r.Body.Read(buf)
		gotBody = string(buf[:n])
		w.WriteHeader(http.StatusAccepted)
	}))
	defer sendSrv.Close()

	tr := NewSseTransport(sendSrv.URL)
	err := tr.Send(context.Background(), []byte(`{"type":"ping"}`))
	require.NoError(t, err)
	assert.Equal(t, `{"type":"ping"}`, gotBody)
}

func TestSseTransportConnectFailsOnNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	tr := NewSseTransport(srv.URL)
	err := tr.Connect(context.Background(), srv.URL, Handler{})
	assert.Error(t, err)
}
