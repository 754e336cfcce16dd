package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"jctledger/core/events"
	"jctledger/core/types"
	"jctledger/ledger/ledgertest"
	"jctledger/native/schedule"
	"jctledger/rpc/middleware"
)

const testSecret = "rpc-test-secret"

type rpcEnvelope struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int             `json:"code"`
		Message string          `json:"message"`
		Data    json.RawMessage `json:"data"`
	} `json:"error"`
}

type fixture struct {
	h      *ledgertest.Harness
	server *httptest.Server
	token  string
}

func newFixture(t *testing.T, auth bool) *fixture {
	t.Helper()
	h := ledgertest.New(t)
	cfg := ServerConfig{RateLimit: middleware.RateLimit{RequestsPerSecond: 1000, Burst: 1000}}
	if auth {
		cfg.Auth = middleware.AuthConfig{Enabled: true, HMACSecret: testSecret, Issuer: "jct"}
		cfg.WriteScope = "schedule:write"
	}
	srv, err := NewServer(h.Ledger, h.Hub, cfg)
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss":   "jct",
		"sub":   "ops",
		"scope": "schedule:write",
		"exp":   time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return &fixture{h: h, server: ts, token: token}
}

func (f *fixture) call(t *testing.T, token, method string, params interface{}) (int, rpcEnvelope) {
	t.Helper()
	body := map[string]interface{}{"jsonrpc": "2.0", "id": 1, "method": method}
	if params != nil {
		body["params"] = []interface{}{params}
	}
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, f.server.URL+"/rpc", bytes.NewReader(payload))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := f.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var env rpcEnvelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp.StatusCode, env
}

func encodeState(t *testing.T, state *schedule.ScheduleEscrowState) json.RawMessage {
	t.Helper()
	data, err := schedule.EncodeState(state)
	require.NoError(t, err)
	return data
}

func (f *fixture) issueParams(t *testing.T, state *schedule.ScheduleEscrowState) map[string]interface{} {
	sigs := f.h.Sign([32]byte{}, state, schedule.Command{Type: schedule.CommandIssue}, f.h.Signers()...)
	return map[string]interface{}{"state": encodeState(t, state), "signatures": EncodeSignatures(sigs)}
}

func progressed(t *testing.T, state *schedule.ScheduleEscrowState, pct string) *schedule.ScheduleEscrowState {
	t.Helper()
	next, err := state.Copy().
		UpdateJob("job-1", func(b schedule.JobBuilder) schedule.JobBuilder {
			return b.WithStatus(schedule.JobStatusInProgress).WithPercentageComplete(schedule.MustRat(pct))
		}).
		Revalued().
		Build()
	require.NoError(t, err)
	return next
}

func TestIssueGetAndHistory(t *testing.T) {
	f := newFixture(t, false)
	origin := f.h.Origin("1000", "5")

	status, env := f.call(t, "", "schedule_issue", f.issueParams(t, origin))
	require.Equal(t, http.StatusOK, status)
	require.Nil(t, env.Error)
	var issued VersionResult
	require.NoError(t, json.Unmarshal(env.Result, &issued))
	require.Equal(t, origin.LinearID().String(), issued.LinearID)
	require.Equal(t, uint64(0), issued.Sequence)
	require.Len(t, issued.Authorizers, 2)

	status, env = f.call(t, "", "schedule_get", map[string]string{"linearId": issued.LinearID})
	require.Equal(t, http.StatusOK, status)
	var head VersionResult
	require.NoError(t, json.Unmarshal(env.Result, &head))
	require.Equal(t, issued.Hash, head.Hash)

	decoded, err := schedule.DecodeState(head.State)
	require.NoError(t, err)
	require.True(t, decoded.Equal(origin))

	status, env = f.call(t, "", "schedule_history", map[string]string{"linearId": issued.LinearID})
	require.Equal(t, http.StatusOK, status)
	var history []VersionResult
	require.NoError(t, json.Unmarshal(env.Result, &history))
	require.Len(t, history, 1)

	status, env = f.call(t, "", "schedule_list", map[string]string{"party": f.h.Employers[0].Party.String()})
	require.Equal(t, http.StatusOK, status)
	var listed []VersionResult
	require.NoError(t, json.Unmarshal(env.Result, &listed))
	require.Len(t, listed, 1)
}

func TestProposeAndReject(t *testing.T) {
	f := newFixture(t, false)
	origin := f.h.Origin("1000", "10")
	issued := f.h.Issue(origin)

	next := progressed(t, origin, "40")
	cmd := schedule.Command{Type: schedule.CommandStartJob}
	sigs := f.h.Sign(issued.Hash, next, cmd, f.h.Signers()...)
	status, env := f.call(t, "", "schedule_propose", map[string]interface{}{
		"command":      cmd,
		"state":        encodeState(t, next),
		"expectedPrev": hexHash(issued.Hash),
		"signatures":   EncodeSignatures(sigs),
	})
	require.Equal(t, http.StatusOK, status)
	require.Nil(t, env.Error)
	var v1 VersionResult
	require.NoError(t, json.Unmarshal(env.Result, &v1))
	require.Equal(t, uint64(1), v1.Sequence)
	require.Equal(t, hexHash(issued.Hash), v1.PrevHash)

	// Only the employer signs the next step.
	further := progressed(t, next, "60")
	head, err := f.h.Ledger.Head(context.Background(), origin.LinearID().String())
	require.NoError(t, err)
	valuation := schedule.Command{Type: schedule.CommandRecordValuation}
	partial := f.h.Sign(head.Hash, further, valuation, f.h.Employers...)
	status, env = f.call(t, "", "schedule_propose", map[string]interface{}{
		"command":    valuation,
		"state":      encodeState(t, further),
		"signatures": EncodeSignatures(partial),
	})
	require.Equal(t, http.StatusUnprocessableEntity, status)
	require.NotNil(t, env.Error)
	require.Equal(t, codeRejected, env.Error.Code)

	status, env = f.call(t, "", "schedule_propose", map[string]interface{}{
		"command":      valuation,
		"state":        encodeState(t, further),
		"expectedPrev": hexHash(issued.Hash),
		"signatures":   EncodeSignatures(partial),
	})
	require.Equal(t, http.StatusConflict, status)
	require.Equal(t, codeConflict, env.Error.Code)
}

func TestValidateIsStateless(t *testing.T) {
	f := newFixture(t, false)
	origin := f.h.Origin("1000", "10")
	next := progressed(t, origin, "50")

	parties := []string{f.h.Employers[0].Party.String(), f.h.Contractors[0].Party.String()}
	status, env := f.call(t, "", "schedule_validate", map[string]interface{}{
		"oldState":    encodeState(t, origin),
		"newState":    encodeState(t, next),
		"authorizers": parties,
	})
	require.Equal(t, http.StatusOK, status)
	var decision DecisionResult
	require.NoError(t, json.Unmarshal(env.Result, &decision))
	require.True(t, decision.Accepted)

	status, env = f.call(t, "", "schedule_validate", map[string]interface{}{
		"oldState":    encodeState(t, origin),
		"newState":    encodeState(t, next),
		"authorizers": parties[:1],
	})
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(env.Result, &decision))
	require.False(t, decision.Accepted)
	require.Equal(t, string(schedule.ReasonMissingAuthorization), decision.Reason)

	_, env = f.call(t, "", "schedule_get", map[string]string{"linearId": origin.LinearID().String()})
	require.NotNil(t, env.Error)
	require.Equal(t, codeNotFound, env.Error.Code)
}

func TestDryRunAndSigningDigest(t *testing.T) {
	f := newFixture(t, false)
	origin := f.h.Origin("1000", "10")
	issued := f.h.Issue(origin)
	next := progressed(t, origin, "25")
	cmd := schedule.Command{Type: schedule.CommandStartJob}

	_, env := f.call(t, "", "schedule_signingDigest", map[string]interface{}{"command": cmd, "state": encodeState(t, next)})
	require.Nil(t, env.Error)
	var digest DigestResult
	require.NoError(t, json.Unmarshal(env.Result, &digest))
	require.Equal(t, hexHash(issued.Hash), digest.PrevHash)

	sigs := f.h.Sign(issued.Hash, next, cmd, f.h.Signers()...)
	_, env = f.call(t, "", "schedule_dryRun", map[string]interface{}{
		"command":    cmd,
		"state":      encodeState(t, next),
		"signatures": EncodeSignatures(sigs),
	})
	require.Nil(t, env.Error)
	var decision DecisionResult
	require.NoError(t, json.Unmarshal(env.Result, &decision))
	require.True(t, decision.Accepted)

	history, err := f.h.Ledger.History(context.Background(), origin.LinearID().String())
	require.NoError(t, err)
	require.Len(t, history, 1)
}

func TestExportFormats(t *testing.T) {
	f := newFixture(t, false)
	origin := f.h.Origin("1000", "10")
	f.h.Issue(origin)

	for _, format := range []string{"csv", "jsonl", "parquet"} {
		status, env := f.call(t, "", "schedule_export", map[string]string{"linearId": origin.LinearID().String(), "format": format})
		require.Equal(t, http.StatusOK, status, format)
		var res ExportResult
		require.NoError(t, json.Unmarshal(env.Result, &res))
		require.Equal(t, format, res.Format)
		require.NotEmpty(t, res.Data)
		require.Len(t, res.Checksum, 64)
	}

	status, env := f.call(t, "", "schedule_export", map[string]string{"linearId": origin.LinearID().String(), "format": "xml"})
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, codeInvalidParams, env.Error.Code)
}

func TestWriteMethodsRequireToken(t *testing.T) {
	f := newFixture(t, true)
	origin := f.h.Origin("1000", "10")

	status, env := f.call(t, "", "schedule_issue", f.issueParams(t, origin))
	require.Equal(t, http.StatusUnauthorized, status)
	require.Equal(t, codeUnauthorized, env.Error.Code)

	status, _ = f.call(t, f.token, "schedule_issue", f.issueParams(t, origin))
	require.Equal(t, http.StatusOK, status)

	// Reads stay open.
	status, _ = f.call(t, "", "schedule_get", map[string]string{"linearId": origin.LinearID().String()})
	require.Equal(t, http.StatusOK, status)
}

func TestMalformedRequests(t *testing.T) {
	f := newFixture(t, false)

	status, env := f.call(t, "", "schedule_unknown", nil)
	require.Equal(t, http.StatusNotFound, status)
	require.Equal(t, codeMethodNotFound, env.Error.Code)

	status, env = f.call(t, "", "schedule_get", map[string]string{"linearId": "not-a-uuid"})
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, codeInvalidParams, env.Error.Code)

	resp, err := f.server.Client().Post(f.server.URL+"/rpc", "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRequestBodyLimit(t *testing.T) {
	h := ledgertest.New(t)
	srv, err := NewServer(h.Ledger, nil, ServerConfig{MaxBodyBytes: 64})
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	body := `{"jsonrpc":"2.0","id":1,"method":"schedule_list","params":[{"party":"` + strings.Repeat("a", 128) + `"}]}`
	resp, err := ts.Client().Post(ts.URL+"/rpc", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestNewServerValidatesConfig(t *testing.T) {
	_, err := NewServer(nil, nil, ServerConfig{})
	require.Error(t, err)

	h := ledgertest.New(t)
	_, err = NewServer(h.Ledger, nil, ServerConfig{Auth: middleware.AuthConfig{Enabled: true}})
	require.Error(t, err)
}

func TestHealthz(t *testing.T) {
	f := newFixture(t, false)
	resp, err := f.server.Client().Get(f.server.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestEventsWebsocketStreamsIssuance(t *testing.T) {
	f := newFixture(t, false)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws/events?types=" + events.TypeScheduleIssued
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	// The subscription is registered asynchronously after the upgrade.
	origin := f.h.Origin("1000", "10")
	require.Eventually(t, func() bool {
		return subscribed(f)
	}, time.Second, 10*time.Millisecond)
	f.h.Issue(origin)

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var evt types.ScheduleEvent
	require.NoError(t, json.Unmarshal(data, &evt))
	require.Equal(t, events.TypeScheduleIssued, evt.Type)
	require.Equal(t, origin.LinearID().String(), evt.LinearID)
	require.NotNil(t, evt.Sequence)
	require.Equal(t, uint64(0), *evt.Sequence)
}

func TestEventsWebsocketFiltersBySchedule(t *testing.T) {
	f := newFixture(t, false)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	other := f.h.Origin("2000", "5")
	watched := f.h.Origin("1000", "10")
	wsURL := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws/events?linearId=" + watched.LinearID().String()
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	require.Eventually(t, func() bool {
		return subscribed(f)
	}, time.Second, 10*time.Millisecond)
	f.h.Issue(other)
	f.h.Issue(watched)

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var evt types.ScheduleEvent
	require.NoError(t, json.Unmarshal(data, &evt))
	require.Equal(t, watched.LinearID().String(), evt.LinearID)
}

func subscribed(f *fixture) bool {
	return f.h.Hub.Subscribers() > 0
}
