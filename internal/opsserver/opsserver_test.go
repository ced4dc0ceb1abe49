package opsserver

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/harmony-bft/node/internal/metadata"
	"github.com/harmony-bft/node/internal/peerid"
	"github.com/harmony-bft/node/internal/subscription"
)

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

type fakeStreams struct{ progress []StreamProgress }

func (f *fakeStreams) StreamProgress() []StreamProgress { return f.progress }

func TestHandlePeersRendersConnectedSnapshot(t *testing.T) {
	pm := metadata.NewPeersAndMetadata()
	var id peerid.PeerID
	copy(id[:], "peer-a")
	key := peerid.PeerKey{Network: peerid.Validator, ID: id}
	pm.Upsert(key, metadata.PeerEntry{Connection: metadata.ConnectionMetadata{
		Peer: key, Origin: metadata.Inbound, Role: metadata.RoleValidator,
	}})

	s := New(testLogger(), pm, subscription.New(subscription.DefaultConfig(), testLogger(), pm, nil, nil, nil), &fakeStreams{})

	req := httptest.NewRequest(http.MethodGet, "/peers", nil)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "validator")
}

func TestHandleStatusRendersInstanceIdentity(t *testing.T) {
	pm := metadata.NewPeersAndMetadata()
	s := New(testLogger(), pm, subscription.New(subscription.DefaultConfig(), testLogger(), pm, nil, nil, nil), &fakeStreams{})

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "instance_id")
}

func TestHandleStreamsRendersRegisteredProgress(t *testing.T) {
	pm := metadata.NewPeersAndMetadata()
	s := New(testLogger(), pm, subscription.New(subscription.DefaultConfig(), testLogger(), pm, nil, nil, nil), &fakeStreams{
		progress: []StreamProgress{{Kind: "transactions", NextStreamIndex: 5, NextRequestIndex: 9}},
	})

	req := httptest.NewRequest(http.MethodGet, "/streams", nil)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "transactions")
}
