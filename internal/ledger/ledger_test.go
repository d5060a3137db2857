package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"degree-ledger/backend/config"
)

// fakeLedger 内存账本：提交后经过 confirmAfter 次查询才确认
type fakeLedger struct {
	mu           sync.Mutex
	confirmAfter int
	failTx       bool
	txs          map[string]*Receipt
	polls        map[string]int
	records      map[string]*Record
}

func newFakeLedger(confirmAfter int) *fakeLedger {
	return &fakeLedger{
		confirmAfter: confirmAfter,
		txs:          map[string]*Receipt{},
		polls:        map[string]int{},
		records:      map[string]*Record{},
	}
}

func (l *fakeLedger) handler() http.Handler {
	writeJSON := func(w http.ResponseWriter, status int, v interface{}) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(v)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/anchors", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer ledger-token" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["subject_key"] == "" || body["content_address"] == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing fields"})
			return
		}
		l.mu.Lock()
		txRef := "tx-" + body["subject_key"][2:10]
		l.txs[txRef] = &Receipt{TxRef: txRef, Status: TxStatusPending, SubjectKey: body["subject_key"], ContentAddress: body["content_address"]}
		l.mu.Unlock()
		writeJSON(w, http.StatusAccepted, map[string]string{"tx_ref": txRef})
	})
	mux.HandleFunc("/anchors/tx/", func(w http.ResponseWriter, r *http.Request) {
		txRef := strings.TrimPrefix(r.URL.Path, "/anchors/tx/")
		l.mu.Lock()
		defer l.mu.Unlock()
		rc, ok := l.txs[txRef]
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown tx"})
			return
		}
		l.polls[txRef]++
		if rc.Status == TxStatusPending && l.polls[txRef] >= l.confirmAfter {
			if l.failTx {
				rc.Status = TxStatusFailed
				rc.Error = "reverted"
			} else {
				rc.Status = TxStatusConfirmed
				rc.Fingerprint = "0xfp" + txRef
				l.records[rc.SubjectKey] = &Record{
					SubjectKey:     rc.SubjectKey,
					ContentAddress: rc.ContentAddress,
					Fingerprint:    rc.Fingerprint,
					TxRef:          txRef,
					AnchoredAt:     time.Date(2026, 6, 30, 0, 0, 0, 0, time.UTC),
				}
			}
		}
		writeJSON(w, http.StatusOK, rc)
	})
	mux.HandleFunc("/anchors/subjects/", func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimPrefix(r.URL.Path, "/anchors/subjects/")
		l.mu.Lock()
		defer l.mu.Unlock()
		rec, ok := l.records[key]
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
			return
		}
		writeJSON(w, http.StatusOK, rec)
	})
	return mux
}

func newTestGateway(t *testing.T, l *fakeLedger) (*Gateway, func()) {
	t.Helper()
	srv := httptest.NewServer(l.handler())
	g := NewGateway(&config.LedgerConfig{
		GatewayURL:     srv.URL,
		APIToken:       "ledger-token",
		RequestTimeout: 2 * time.Second,
	}, zap.NewNop())
	return g, srv.Close
}

func TestSubjectKey(t *testing.T) {
	k1 := SubjectKey("BSCS-2020-001", "BS Computer Science")
	k2 := SubjectKey("BSCS-2020-001", "BS Computer Science")
	k3 := SubjectKey("BSCS-2020-002", "BS Computer Science")

	assert.Equal(t, k1, k2)
	assert.NotEqual(t, k1, k3)
	assert.True(t, strings.HasPrefix(k1, "0x"))
	assert.Len(t, k1, 66)
	// 分隔符避免 ("ab","c") 与 ("a","bc") 碰撞
	assert.NotEqual(t, SubjectKey("ab", "c"), SubjectKey("a", "bc"))
}

func TestGateway_AnchorConfirmAndRead(t *testing.T) {
	l := newFakeLedger(2)
	g, closeFn := newTestGateway(t, l)
	defer closeFn()
	ctx := context.Background()
	key := SubjectKey("S1", "BS Physics")

	_, err := g.ReadFingerprint(ctx, key)
	assert.ErrorIs(t, err, ErrNotFound)

	txRef, err := g.Anchor(ctx, key, "sha256:abc")
	require.NoError(t, err)

	receipt, err := WaitConfirmed(ctx, g, txRef, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, TxStatusConfirmed, receipt.Status)
	assert.NotEmpty(t, receipt.Fingerprint)

	rec, err := g.ReadFingerprint(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, receipt.Fingerprint, rec.Fingerprint)
	assert.Equal(t, "sha256:abc", rec.ContentAddress)
	assert.Equal(t, txRef, rec.TxRef)
}

func TestGateway_AnchorRejected(t *testing.T) {
	l := newFakeLedger(1)
	g, closeFn := newTestGateway(t, l)
	defer closeFn()

	_, err := g.Anchor(context.Background(), SubjectKey("S1", "BS"), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing fields")
}

func TestWaitConfirmed_TxFailed(t *testing.T) {
	l := newFakeLedger(1)
	l.failTx = true
	g, closeFn := newTestGateway(t, l)
	defer closeFn()
	ctx := context.Background()

	txRef, err := g.Anchor(ctx, SubjectKey("S2", "BS"), "sha256:def")
	require.NoError(t, err)

	_, err = WaitConfirmed(ctx, g, txRef, 10*time.Millisecond)
	assert.True(t, errors.Is(err, ErrTxFailed))
}

func TestWaitConfirmed_Timeout(t *testing.T) {
	l := newFakeLedger(1000)
	g, closeFn := newTestGateway(t, l)
	defer closeFn()

	txRef, err := g.Anchor(context.Background(), SubjectKey("S3", "BS"), "sha256:123")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	_, err = WaitConfirmed(ctx, g, txRef, 10*time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
