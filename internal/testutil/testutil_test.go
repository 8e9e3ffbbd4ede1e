package testutil

import (
	"context"
	"net"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/wrc.report/internal/wrc/network"
	"github.com/banshee-data/wrc.report/internal/wrc/packet"
)

func TestAssertStatusCode_FailurePath(t *testing.T) {
	t.Parallel()

	ok := t.Run("status mismatch", func(t *testing.T) {
		AssertStatusCode(t, http.StatusOK, http.StatusBadRequest)
	})
	if ok {
		t.Fatal("expected subtest to fail on mismatched status code")
	}
}

func TestServe(t *testing.T) {
	t.Parallel()

	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/x", r.URL.Path)
		w.WriteHeader(http.StatusTeapot)
	})
	w := Serve(h, http.MethodPut, "/x")
	AssertStatusCode(t, w.Code, http.StatusTeapot)
}

func TestRecords(t *testing.T) {
	t.Parallel()

	recs := Records(3, 100)
	require.Len(t, recs, 3)
	for i, rec := range recs {
		assert.Equal(t, uint64(100+i), rec.PacketUID)
	}
	for _, d := range Datagrams(recs...) {
		assert.Len(t, d, packet.Size)
	}
}

type collect struct{ payloads [][]byte }

func (c *collect) HandleDatagram(b []byte, from *net.UDPAddr) {
	c.payloads = append(c.payloads, append([]byte(nil), b...))
}

func TestWriteCaptureReplays(t *testing.T) {
	t.Parallel()

	want := Datagrams(Records(4, 1)...)
	path := WriteCapture(t, 6969, want...)

	var c collect
	res, err := network.ReadPCAPFile(context.Background(), path, network.ReplayOptions{Port: 6969}, &c, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Datagrams)
	assert.Equal(t, want, c.payloads)
}
