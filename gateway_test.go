package canmon

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGatewayMessagesEndpoint(t *testing.T) {
	driver := &fakeDriver{}
	mux, err := NewMuxWithInterfaces([]*Interface{NewInterfaceWithDriver("fake0", driver)})
	assert.Nil(t, err)

	table := NewMessageTable(0)
	msg := newTestMessage(time.Now())
	msg.Interface = "fake0"
	table.Add(msg)

	gateway := NewGateway(mux, table)

	recorder := httptest.NewRecorder()
	gateway.server.Handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/api/messages", nil))
	assert.Equal(t, http.StatusOK, recorder.Code)

	var body struct {
		Messages []struct {
			CobId       uint32 `json:"cob_id"`
			Interface   string `json:"interface"`
			Type        string `json:"type"`
			Description string `json:"description"`
			Status      string `json:"status"`
		} `json:"messages"`
	}
	assert.Nil(t, json.Unmarshal(recorder.Body.Bytes(), &body))
	assert.Len(t, body.Messages, 1)
	assert.Equal(t, uint32(0x721), body.Messages[0].CobId)
	assert.Equal(t, "fake0", body.Messages[0].Interface)
	assert.Equal(t, "HEARTBEAT", body.Messages[0].Type)
	assert.Equal(t, "ALIVE", body.Messages[0].Status)
}

func TestGatewayInterfacesEndpoint(t *testing.T) {
	driver := &fakeDriver{}
	mux, err := NewMuxWithInterfaces([]*Interface{NewInterfaceWithDriver("fake0", driver)})
	assert.Nil(t, err)
	assert.Nil(t, mux.Start())
	defer mux.Shutdown()
	waitFor(t, func() bool { return len(mux.ActiveInterfaces()) == 1 })

	gateway := NewGateway(mux, NewMessageTable(0))

	recorder := httptest.NewRecorder()
	gateway.server.Handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/api/interfaces", nil))
	assert.Equal(t, http.StatusOK, recorder.Code)

	var body struct {
		Interfaces []string `json:"interfaces"`
		Queued     int      `json:"queued"`
	}
	assert.Nil(t, json.Unmarshal(recorder.Body.Bytes(), &body))
	assert.Equal(t, []string{"fake0"}, body.Interfaces)
}

func TestGatewayMetricsEndpoint(t *testing.T) {
	driver := &fakeDriver{}
	mux, err := NewMuxWithInterfaces([]*Interface{NewInterfaceWithDriver("fake0", driver)})
	assert.Nil(t, err)
	gateway := NewGateway(mux, NewMessageTable(0))

	recorder := httptest.NewRecorder()
	gateway.server.Handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Contains(t, recorder.Body.String(), "canmon_queue_depth")
}
