package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gopcua/opcua/ua"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plcreg/bitfield"
)

// memStore is an in-memory wordStore.
type memStore struct {
	mu      sync.Mutex
	words   map[string]uint64
	readErr error
	writes  int
}

func (m *memStore) ReadWord(_ context.Context, node string, _ bitfield.Width) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readErr != nil {
		return 0, m.readErr
	}
	w, ok := m.words[node]
	if !ok {
		return 0, errors.Errorf("no value for %s", node)
	}
	return w, nil
}

func (m *memStore) WriteWord(_ context.Context, node string, _ bitfield.Width, word uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.words[node] = word
	m.writes++
	return nil
}

const (
	controlNode = "ns=3;s=Drive.Control"
	rackNode    = `ns=5;s="Root"."Objects"."event_rack"`
)

func newTestRouter(t *testing.T, store *memStore) http.Handler {
	t.Helper()
	regs := &registerHandler{file: testRegisters(t), store: store, timeout: time.Second}
	return newRouter(serviceConfig{Connection: "plc1", Endpoint: "opc.tcp://localhost:4840", Port: 8765}, regs)
}

func doJSON(t *testing.T, h http.Handler, method, target, body string, out interface{}) int {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if out != nil && rec.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out), rec.Body.String())
	}
	return rec.Code
}

func TestRegisterRead(t *testing.T) {
	store := &memStore{words: map[string]uint64{controlNode: 29, rackNode: 0x0030}}
	h := newTestRouter(t, store)

	var resp RegisterResponse
	require.Equal(t, http.StatusOK, doJSON(t, h, http.MethodGet, "/api/register?name=control", "", &resp))
	assert.Empty(t, resp.Error)
	assert.Equal(t, "control", resp.Register)
	assert.Equal(t, controlNode, resp.Node)
	assert.Equal(t, uint64(29), resp.Word)
	require.Len(t, resp.Fields, 3)
	assert.Equal(t, true, resp.Fields[0].Value)
	assert.Equal(t, "LowPower", resp.Fields[1].Value)
	assert.Equal(t, float64(3), resp.Fields[2].Value)

	tests := []struct {
		name     string
		target   string
		wantCode int
		wantErr  string
	}{
		{name: "missing name", target: "/api/register", wantCode: http.StatusBadRequest},
		{name: "unknown register", target: "/api/register?name=nope", wantCode: http.StatusOK, wantErr: `unknown register "nope"`},
		{name: "invalid discriminant", target: "/api/register?name=event_rack", wantCode: http.StatusOK, wantErr: "field 'alarm'"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp RegisterResponse
			code := doJSON(t, h, http.MethodGet, tt.target, "", &resp)
			require.Equal(t, tt.wantCode, code)
			if tt.wantErr != "" {
				assert.Contains(t, resp.Error, tt.wantErr)
			}
		})
	}

	store.readErr = errors.New("BadNodeIdUnknown")
	resp = RegisterResponse{}
	doJSON(t, h, http.MethodGet, "/api/register?name=control", "", &resp)
	assert.Equal(t, "BadNodeIdUnknown", resp.Error)
}

func TestRegisterWrite(t *testing.T) {
	store := &memStore{words: map[string]uint64{controlNode: 0xFF00, rackNode: 0x2A51}}
	h := newTestRouter(t, store)

	var resp RegisterResponse
	body := `{"name": "control", "values": {"enabled": "true", "mode": "LowPower", "priority": "3"}}`
	require.Equal(t, http.StatusOK, doJSON(t, h, http.MethodPost, "/api/register", body, &resp))
	assert.Empty(t, resp.Error)
	assert.Equal(t, uint64(29), resp.Word)
	assert.Equal(t, uint64(29), store.words[controlNode])

	// merge keeps the counter and alarm bits of the current word
	resp = RegisterResponse{}
	body = `{"name": "event_rack", "values": {"motor_fault": "false", "temp_high": "1"}, "merge": true}`
	doJSON(t, h, http.MethodPost, "/api/register", body, &resp)
	assert.Empty(t, resp.Error)
	assert.Equal(t, uint64(0x2A52), resp.Word)
	assert.Equal(t, uint64(0x2A52), store.words[rackNode])

	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{name: "bad json", body: `{`, wantErr: "Failed to parse request"},
		{name: "no values", body: `{"name": "control"}`, wantErr: "Missing required fields"},
		{name: "missing field without merge", body: `{"name": "control", "values": {"enabled": "true"}}`, wantErr: "field 'mode'"},
		{name: "value too wide", body: `{"name": "control", "values": {"enabled": "1", "mode": "Idle", "priority": "8"}}`, wantErr: "field 'priority': value exceeds maximum"},
		{name: "unknown field", body: `{"name": "control", "values": {"speed": "1"}}`, wantErr: "field speed"},
		{name: "unknown variant", body: `{"name": "event_rack", "values": {"alarm": "Panic"}, "merge": true}`, wantErr: "AlarmClass has no variant"},
		{name: "unknown register", body: `{"name": "nope", "values": {"a": "1"}}`, wantErr: `unknown register "nope"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			writes := store.writes
			var resp RegisterResponse
			require.Equal(t, http.StatusOK, doJSON(t, h, http.MethodPost, "/api/register", tt.body, &resp))
			assert.Contains(t, resp.Error, tt.wantErr)
			assert.Equal(t, writes, store.writes, "failed requests must not write")
		})
	}

	assert.Equal(t, http.StatusMethodNotAllowed, doJSON(t, h, http.MethodDelete, "/api/register", "", nil))
}

func TestRouterInfoAndMetrics(t *testing.T) {
	h := newTestRouter(t, &memStore{words: map[string]uint64{controlNode: 29}})

	var info map[string]interface{}
	require.Equal(t, http.StatusOK, doJSON(t, h, http.MethodGet, "/api/info", "", &info))
	assert.Equal(t, "plc1", info["connection"])
	assert.Equal(t, "opc.tcp://localhost:4840", info["endpoint"])
	assert.Equal(t, "disconnected", info["status"])

	doJSON(t, h, http.MethodGet, "/api/register?name=control", "", &RegisterResponse{})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `plcreg_register_decode_total{register="control",result="ok"}`)

	assert.Equal(t, http.StatusServiceUnavailable, doJSON(t, h, http.MethodGet, "/api/node?namespace=0&type=i&identifier=2258", "", nil))
	assert.Equal(t, http.StatusBadRequest, doJSON(t, h, http.MethodGet, "/api/node?namespace=0", "", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, doJSON(t, h, http.MethodGet, "/api/nodes", "", nil))
}

func TestNodeVariant(t *testing.T) {
	tests := []struct {
		value    string
		dataType string
		want     interface{}
		wantErr  bool
	}{
		{value: "true", dataType: "boolean", want: true},
		{value: "FALSE", dataType: "Boolean", want: false},
		{value: "1", dataType: "boolean", want: true},
		{value: "2", dataType: "boolean", wantErr: true},
		{value: "", dataType: "boolean", wantErr: true},
		{value: "-128", dataType: "sbyte", want: int8(-128)},
		{value: "128", dataType: "sbyte", wantErr: true},
		{value: "255", dataType: "byte", want: uint8(255)},
		{value: "-1", dataType: "int16", want: int16(-1)},
		{value: "65535", dataType: "uint16", want: uint16(65535)},
		{value: "-5", dataType: "int32", want: int32(-5)},
		{value: "134217856", dataType: "uint32", want: uint32(134217856)},
		{value: "-9", dataType: "int64", want: int64(-9)},
		{value: "18446744073709551615", dataType: "uint64", want: uint64(18446744073709551615)},
		{value: "-1", dataType: "uint64", wantErr: true},
		{value: "2.5", dataType: "float", want: float32(2.5)},
		{value: "2.5", dataType: "double", want: 2.5},
		{value: "hello", dataType: "string", want: "hello"},
		{value: "1", dataType: "decimal", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.dataType+" "+tt.value, func(t *testing.T) {
			v, err := nodeVariant(tt.value, tt.dataType)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, v.Value())
			assert.IsType(t, tt.want, v.Value())
		})
	}
}

func TestWriteValueStructure(t *testing.T) {
	variant, err := nodeVariant("true", "boolean")
	require.NoError(t, err)

	writeValue := &ua.WriteValue{
		NodeID:      ua.NewNumericNodeID(3, 1000),
		AttributeID: ua.AttributeIDValue,
		Value: &ua.DataValue{
			EncodingMask: ua.DataValueValue,
			Value:        variant,
		},
	}
	assert.Equal(t, true, writeValue.Value.Value.Value())
	assert.Equal(t, ua.AttributeIDValue, writeValue.AttributeID)
}

func TestWordVariant(t *testing.T) {
	tests := []struct {
		width bitfield.Width
		word  uint64
		want  interface{}
	}{
		{width: bitfield.Width8, word: 0xA5, want: uint8(0xA5)},
		{width: bitfield.Width16, word: 0x2A51, want: uint16(0x2A51)},
		{width: bitfield.Width32, word: 134217856, want: uint32(134217856)},
		{width: bitfield.Width64, word: 1 << 63, want: uint64(1 << 63)},
	}
	for _, tt := range tests {
		t.Run(tt.width.String(), func(t *testing.T) {
			v, err := wordVariant(tt.word, tt.width)
			require.NoError(t, err)
			assert.Equal(t, tt.want, v.Value())

			back, err := wordFromValue(v.Value(), tt.width)
			require.NoError(t, err)
			assert.Equal(t, tt.word, back)
		})
	}

	_, err := wordVariant(0x100, bitfield.Width8)
	assert.ErrorIs(t, err, bitfield.ErrWordExceedsWidth)
}

func TestSelectEndpoint(t *testing.T) {
	anonymousOnly := &ua.EndpointDescription{
		EndpointURL:        "opc.tcp://plc:4840",
		SecurityPolicyURI:  ua.SecurityPolicyURINone,
		SecurityMode:       ua.MessageSecurityModeNone,
		UserIdentityTokens: []*ua.UserTokenPolicy{{TokenType: ua.UserTokenTypeAnonymous}},
	}
	signedUser := &ua.EndpointDescription{
		EndpointURL:       "opc.tcp://plc:4840",
		SecurityPolicyURI: ua.SecurityPolicyURIBasic256,
		SecurityMode:      ua.MessageSecurityModeSignAndEncrypt,
		UserIdentityTokens: []*ua.UserTokenPolicy{
			{TokenType: ua.UserTokenTypeAnonymous},
			{TokenType: ua.UserTokenTypeUserName},
		},
	}
	endpoints := []*ua.EndpointDescription{anonymousOnly, signedUser}

	tests := []struct {
		name    string
		policy  string
		mode    string
		token   ua.UserTokenType
		want    *ua.EndpointDescription
		wantErr string
	}{
		{name: "basic256 with username", policy: "Basic256", mode: "SignAndEncrypt", token: ua.UserTokenTypeUserName, want: signedUser},
		{name: "case insensitive", policy: "basic256", mode: "signandencrypt", token: ua.UserTokenTypeAnonymous, want: signedUser},
		{name: "no security", policy: "None", mode: "None", token: ua.UserTokenTypeAnonymous, want: anonymousOnly},
		{name: "token not offered", policy: "None", mode: "None", token: ua.UserTokenTypeUserName, wantErr: "no endpoint offers"},
		{name: "mode not offered", policy: "Basic256", mode: "Sign", token: ua.UserTokenTypeUserName, wantErr: "no endpoint offers"},
		{name: "unknown policy", policy: "Aes512", mode: "Sign", wantErr: "unsupported security policy"},
		{name: "unknown mode", policy: "Basic256", mode: "Encrypt", wantErr: "unsupported security mode"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := selectEndpoint(endpoints, tt.policy, tt.mode, tt.token)
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Same(t, tt.want, got)
		})
	}
}

func TestUserTokenType(t *testing.T) {
	token, err := userTokenType("UserName")
	require.NoError(t, err)
	assert.Equal(t, ua.UserTokenTypeUserName, token)

	token, err = userTokenType("anonymous")
	require.NoError(t, err)
	assert.Equal(t, ua.UserTokenTypeAnonymous, token)

	_, err = userTokenType("certificate")
	assert.Error(t, err)
}

func TestParseUANodeID(t *testing.T) {
	for _, s := range []string{"ns=3;s=Drive.Control", "ns=3,s=Drive.Control"} {
		id, err := parseUANodeID(s)
		require.NoError(t, err, s)
		assert.Equal(t, uint16(3), id.Namespace())
		assert.Equal(t, "Drive.Control", id.StringID())
	}
	_, err := parseUANodeID("not a node")
	assert.Error(t, err)
}
