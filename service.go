package main

import (
	"context"
	"crypto/rsa"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gopcua/opcua"
	uatest "github.com/gopcua/opcua/tests/python"
	"github.com/gopcua/opcua/ua"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"plcreg/regfile"
)

var (
	// Global client for service mode
	opcuaClient *opcua.Client
	clientMutex sync.Mutex
)

var errNotConnected = errors.New("OPCUA client not connected")

// serviceConfig holds everything service mode needs to reach the server.
type serviceConfig struct {
	Connection     string
	Endpoint       string
	Username       string
	Password       string
	CertFile       string
	KeyFile        string
	GenCert        bool
	AppURI         string
	Timeout        time.Duration
	Port           int
	SecurityPolicy string
	SecurityMode   string
	AuthMethod     string
}

func (cfg serviceConfig) logger() *logrus.Entry {
	return log.WithField("connection", cfg.Connection)
}

func currentClient() *opcua.Client {
	clientMutex.Lock()
	defer clientMutex.Unlock()
	return opcuaClient
}

// startService connects to the OPC UA server and serves the HTTP API until
// SIGINT or SIGTERM. Registers from file are served on /api/register.
func startService(cfg serviceConfig, file *regfile.File) error {
	clog := cfg.logger()
	clog.WithField("port", cfg.Port).Info("Starting OPCUA service")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := connectOPCUA(ctx, cfg); err != nil {
		return errors.Wrap(err, "failed to connect to OPCUA server")
	}

	regs := &registerHandler{file: file, store: opcuaStore{}, timeout: 10 * time.Second}
	server := &http.Server{
		Addr:    fmt.Sprintf("0.0.0.0:%d", cfg.Port),
		Handler: newRouter(cfg, regs),
	}

	clog.Infof("OPCUA service running on http://%s", server.Addr)
	clog.Infof("Example usage: curl http://%s/api/node?namespace=0&type=i&identifier=2258", server.Addr)

	serveErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	// Keep connection alive with periodic reads
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			keepAlive(ctx, cfg)

		case err := <-serveErr:
			closeClient()
			return errors.Wrap(err, "HTTP server error")

		case <-ctx.Done():
			clog.Info("Shutting down service...")
			closeClient()

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				clog.WithError(err).Error("HTTP server shutdown error")
			}
			return nil
		}
	}
}

// newRouter wires the HTTP API.
func newRouter(cfg serviceConfig, regs http.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/browse", handleBrowseRequest)
	mux.HandleFunc("/api/node", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			handleNodeRequest(w, r)
		case http.MethodPost:
			handleNodeWriteRequest(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/api/nodes", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		handleBatchNodeRequest(w, r)
	})
	mux.HandleFunc("/api/info", func(w http.ResponseWriter, r *http.Request) {
		status := "connected"
		if currentClient() == nil {
			status = "disconnected"
		}
		sendJSONResponse(w, map[string]interface{}{
			"connection": cfg.Connection,
			"port":       cfg.Port,
			"endpoint":   cfg.Endpoint,
			"status":     status,
		})
	})
	mux.Handle("/api/register", regs)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// keepAlive reads the server time and reconnects when that fails.
func keepAlive(ctx context.Context, cfg serviceConfig) {
	client := currentClient()
	if client == nil {
		reconnectOPCUA(ctx, cfg)
		return
	}
	readCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	done := timeOPCUA("keepalive")
	_, err := client.Node(ua.NewNumericNodeID(0, 2258)).Value(readCtx)
	done()
	if err != nil {
		cfg.logger().WithError(err).Warn("Keep-alive failed")
		reconnectOPCUA(ctx, cfg)
		return
	}
	cfg.logger().Debug("Keep-alive successful")
}

func closeClient() {
	clientMutex.Lock()
	defer clientMutex.Unlock()
	if opcuaClient != nil {
		opcuaClient.Close(context.Background())
		opcuaClient = nil
	}
}

// certDir returns ~/.config/plccli, creating it if needed, or "." when the
// home directory is unusable.
func certDir(clog *logrus.Entry) string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		clog.WithError(err).Warn("Could not get user home directory, using current directory")
		return "."
	}
	dir := filepath.Join(homeDir, ".config", "plccli")
	if err := os.MkdirAll(dir, 0755); err != nil {
		clog.WithError(err).Warnf("Could not create %s, using current directory", dir)
		return "."
	}
	return dir
}

// loadCertificate returns the client certificate and key, generating a
// self-signed pair first when requested and missing.
func loadCertificate(cfg serviceConfig) ([]byte, *rsa.PrivateKey, error) {
	clog := cfg.logger()
	certfile, keyfile := cfg.CertFile, cfg.KeyFile
	if !filepath.IsAbs(certfile) || !filepath.IsAbs(keyfile) {
		dir := certDir(clog)
		if !filepath.IsAbs(certfile) {
			certfile = filepath.Join(dir, filepath.Base(certfile))
		}
		if !filepath.IsAbs(keyfile) {
			keyfile = filepath.Join(dir, filepath.Base(keyfile))
		}
	}
	clog.WithFields(logrus.Fields{"cert": certfile, "key": keyfile}).Debug("Using certificate")

	if cfg.GenCert {
		if _, err := os.Stat(certfile); os.IsNotExist(err) {
			clog.Info("Certificate doesn't exist, generating...")
			certPEM, keyPEM, err := uatest.GenerateCert(cfg.AppURI, 2048, 24*time.Hour)
			if err != nil {
				return nil, nil, errors.Wrap(err, "failed to generate cert")
			}
			if err := os.WriteFile(certfile, certPEM, 0644); err != nil {
				return nil, nil, errors.Wrapf(err, "failed to write %s", certfile)
			}
			if err := os.WriteFile(keyfile, keyPEM, 0600); err != nil {
				return nil, nil, errors.Wrapf(err, "failed to write %s", keyfile)
			}
			clog.Infof("Generated %s and %s", certfile, keyfile)
		}
	}

	c, err := tls.LoadX509KeyPair(certfile, keyfile)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to load certificate")
	}
	pk, ok := c.PrivateKey.(*rsa.PrivateKey)
	if !ok {
		return nil, nil, errors.New("invalid private key type")
	}
	return c.Certificate[0], pk, nil
}

var securityPolicies = map[string]string{
	"none":           ua.SecurityPolicyURINone,
	"basic128rsa15":  ua.SecurityPolicyURIBasic128Rsa15,
	"basic256":       ua.SecurityPolicyURIBasic256,
	"basic256sha256": ua.SecurityPolicyURIBasic256Sha256,
}

var securityModes = map[string]ua.MessageSecurityMode{
	"none":           ua.MessageSecurityModeNone,
	"sign":           ua.MessageSecurityModeSign,
	"signandencrypt": ua.MessageSecurityModeSignAndEncrypt,
}

// userTokenType maps the --auth-method flag to a token type.
func userTokenType(authMethod string) (ua.UserTokenType, error) {
	switch strings.ToLower(authMethod) {
	case "username", "":
		return ua.UserTokenTypeUserName, nil
	case "anonymous":
		return ua.UserTokenTypeAnonymous, nil
	default:
		return 0, errors.Errorf("unsupported auth method %q", authMethod)
	}
}

// selectEndpoint picks the first endpoint matching the security policy and
// mode that accepts the given token type.
func selectEndpoint(endpoints []*ua.EndpointDescription, policy, mode string, token ua.UserTokenType) (*ua.EndpointDescription, error) {
	policyURI, ok := securityPolicies[strings.ToLower(policy)]
	if !ok {
		return nil, errors.Errorf("unsupported security policy %q", policy)
	}
	securityMode, ok := securityModes[strings.ToLower(mode)]
	if !ok {
		return nil, errors.Errorf("unsupported security mode %q", mode)
	}
	for _, e := range endpoints {
		if e.SecurityPolicyURI != policyURI || e.SecurityMode != securityMode {
			continue
		}
		for _, t := range e.UserIdentityTokens {
			if t.TokenType == token {
				return e, nil
			}
		}
	}
	return nil, errors.Errorf("no endpoint offers %s/%s with %v authentication", policy, mode, token)
}

func connectOPCUA(ctx context.Context, cfg serviceConfig) error {
	clog := cfg.logger()
	clog.Infof("Connecting to OPCUA server at %s...", cfg.Endpoint)

	token, err := userTokenType(cfg.AuthMethod)
	if err != nil {
		return err
	}

	endpointCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	endpoints, err := opcua.GetEndpoints(endpointCtx, cfg.Endpoint)
	if err != nil {
		return errors.Wrap(err, "failed to get endpoints")
	}
	clog.Debugf("Found %d endpoints", len(endpoints))

	serverEndpoint, err := selectEndpoint(endpoints, cfg.SecurityPolicy, cfg.SecurityMode, token)
	if err != nil {
		return err
	}
	clog.WithFields(logrus.Fields{
		"url":    serverEndpoint.EndpointURL,
		"policy": serverEndpoint.SecurityPolicyURI,
		"mode":   serverEndpoint.SecurityMode,
	}).Info("Selected endpoint")

	opts := []opcua.Option{
		opcua.DialTimeout(cfg.Timeout),
		opcua.RequestTimeout(cfg.Timeout),
		opcua.SessionTimeout(cfg.Timeout * 2),
		opcua.SecurityFromEndpoint(serverEndpoint, token),
		opcua.AutoReconnect(true),
	}
	if token == ua.UserTokenTypeAnonymous {
		opts = append(opts, opcua.AuthAnonymous())
	} else {
		opts = append(opts, opcua.AuthUsername(cfg.Username, cfg.Password))
	}
	if serverEndpoint.SecurityPolicyURI != ua.SecurityPolicyURINone {
		cert, key, err := loadCertificate(cfg)
		if err != nil {
			return err
		}
		opts = append(opts, opcua.Certificate(cert), opcua.PrivateKey(key))
	}

	client, err := opcua.NewClient(cfg.Endpoint, opts...)
	if err != nil {
		return errors.Wrap(err, "failed to create client")
	}

	connectCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	if err := client.Connect(connectCtx); err != nil {
		return errors.Wrap(err, "failed to connect")
	}
	clog.Info("Successfully connected to OPCUA server")

	clientMutex.Lock()
	opcuaClient = client
	clientMutex.Unlock()
	return nil
}

func reconnectOPCUA(ctx context.Context, cfg serviceConfig) {
	clog := cfg.logger()
	clog.Info("Attempting to reconnect...")
	closeClient()

	const maxRetries = 5
	for attempt := 0; attempt < maxRetries; attempt++ {
		err := connectOPCUA(ctx, cfg)
		if err == nil {
			clog.Infof("Reconnection successful on attempt %d", attempt+1)
			return
		}
		clog.WithError(err).Warnf("Reconnection attempt %d/%d failed", attempt+1, maxRetries)
		if attempt == maxRetries-1 {
			break
		}

		backoff := time.Duration(1<<uint(attempt)) * time.Second
		if backoff > 30*time.Second {
			backoff = 30 * time.Second
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
	}
	clog.Warnf("Failed to reconnect after %d attempts, will try again on next keep-alive check", maxRetries)
}

// parseUANodeID accepts both ';' and ',' between namespace and identifier.
func parseUANodeID(nodeID string) (*ua.NodeID, error) {
	id, err := ua.ParseNodeID(nodeID)
	if err == nil {
		return id, nil
	}
	id, err2 := ua.ParseNodeID(strings.Replace(nodeID, ",", ";", 1))
	if err2 != nil {
		return nil, errors.Wrapf(err, "invalid node ID %q", nodeID)
	}
	return id, nil
}

func readNode(ctx context.Context, client *opcua.Client, id *ua.NodeID) (*ua.Variant, error) {
	defer timeOPCUA("read")()
	v, err := client.Node(id).Value(ctx)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, errors.New("node has no value")
	}
	return v, nil
}

func writeNode(ctx context.Context, client *opcua.Client, id *ua.NodeID, variant *ua.Variant) error {
	defer timeOPCUA("write")()
	resp, err := client.Write(ctx, &ua.WriteRequest{
		NodesToWrite: []*ua.WriteValue{
			{
				NodeID:      id,
				AttributeID: ua.AttributeIDValue,
				Value: &ua.DataValue{
					EncodingMask: ua.DataValueValue,
					Value:        variant,
				},
			},
		},
	})
	if err != nil {
		return errors.Wrap(err, "failed to write value")
	}
	if len(resp.Results) == 0 || resp.Results[0] != ua.StatusOK {
		var status ua.StatusCode = ua.StatusBad
		if len(resp.Results) > 0 {
			status = resp.Results[0]
		}
		return errors.Errorf("write operation failed with status: %v", status)
	}
	return nil
}

func handleNodeRequest(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	namespace, idType, identifier := q.Get("namespace"), q.Get("type"), q.Get("identifier")
	if namespace == "" || idType == "" || identifier == "" {
		http.Error(w, "Missing required parameters: namespace, type, and identifier", http.StatusBadRequest)
		return
	}

	nodeIDStr := fmt.Sprintf("ns=%s;%s=%s", namespace, idType, identifier)
	id, err := parseUANodeID(nodeIDStr)
	if err != nil {
		sendJSONResponse(w, NodeResponse{NodeID: nodeIDStr, Error: err.Error()})
		return
	}

	client := currentClient()
	if client == nil {
		http.Error(w, errNotConnected.Error(), http.StatusServiceUnavailable)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	log.WithField("node", id).Debug("Reading node")
	value, err := readNode(ctx, client, id)
	if err != nil {
		sendJSONResponse(w, NodeResponse{NodeID: nodeIDStr, Error: fmt.Sprintf("Failed to read node: %v", err)})
		return
	}
	sendJSONResponse(w, NodeResponse{NodeID: nodeIDStr, Value: value.Value()})
}

func handleBatchNodeRequest(w http.ResponseWriter, r *http.Request) {
	var batchRequest struct {
		Nodes []map[string]string `json:"nodes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&batchRequest); err != nil {
		sendJSONResponse(w, map[string]interface{}{"error": fmt.Sprintf("Failed to parse request: %v", err)})
		return
	}
	if len(batchRequest.Nodes) == 0 {
		sendJSONResponse(w, map[string]interface{}{"error": "No nodes specified in request"})
		return
	}

	client := currentClient()
	if client == nil {
		sendJSONResponse(w, map[string]interface{}{"error": errNotConnected.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	results := make([]NodeResponse, 0, len(batchRequest.Nodes))
	for _, params := range batchRequest.Nodes {
		namespace, idType, identifier := params["namespace"], params["type"], params["identifier"]
		nodeIDStr := fmt.Sprintf("ns=%s;%s=%s", namespace, idType, identifier)
		if namespace == "" || idType == "" || identifier == "" {
			results = append(results, NodeResponse{NodeID: nodeIDStr, Error: "Missing required node parameters"})
			continue
		}

		id, err := parseUANodeID(nodeIDStr)
		if err != nil {
			results = append(results, NodeResponse{NodeID: nodeIDStr, Error: err.Error()})
			continue
		}
		value, err := readNode(ctx, client, id)
		if err != nil {
			results = append(results, NodeResponse{NodeID: nodeIDStr, Error: fmt.Sprintf("Failed to read node: %v", err)})
			continue
		}
		results = append(results, NodeResponse{NodeID: nodeIDStr, Value: value.Value()})
	}

	sendJSONResponse(w, map[string]interface{}{"results": results})
}

var writableTypes = []string{"boolean", "sbyte", "byte", "int16", "uint16", "int32", "uint32", "int64", "uint64", "float", "double", "string"}

// nodeVariant parses value as the named OPC UA data type.
func nodeVariant(value, dataType string) (*ua.Variant, error) {
	var v interface{}
	switch strings.ToLower(dataType) {
	case "boolean":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return nil, errors.Wrap(err, "invalid boolean value")
		}
		v = b
	case "sbyte", "int16", "int32", "int64":
		bits := map[string]int{"sbyte": 8, "int16": 16, "int32": 32, "int64": 64}[strings.ToLower(dataType)]
		n, err := strconv.ParseInt(value, 10, bits)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid %s value", dataType)
		}
		switch bits {
		case 8:
			v = int8(n)
		case 16:
			v = int16(n)
		case 32:
			v = int32(n)
		default:
			v = n
		}
	case "byte", "uint16", "uint32", "uint64":
		bits := map[string]int{"byte": 8, "uint16": 16, "uint32": 32, "uint64": 64}[strings.ToLower(dataType)]
		n, err := strconv.ParseUint(value, 10, bits)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid %s value", dataType)
		}
		switch bits {
		case 8:
			v = uint8(n)
		case 16:
			v = uint16(n)
		case 32:
			v = uint32(n)
		default:
			v = n
		}
	case "float":
		f, err := strconv.ParseFloat(value, 32)
		if err != nil {
			return nil, errors.Wrap(err, "invalid float value")
		}
		v = float32(f)
	case "double":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, errors.Wrap(err, "invalid double value")
		}
		v = f
	case "string":
		v = value
	default:
		return nil, errors.Errorf("Unsupported data type: %s. Use one of: %s", dataType, strings.Join(writableTypes, ", "))
	}
	return ua.NewVariant(v)
}

func handleNodeWriteRequest(w http.ResponseWriter, r *http.Request) {
	var writeRequest struct {
		Namespace  string `json:"namespace"`
		Type       string `json:"type"`
		Identifier string `json:"identifier"`
		Value      string `json:"value"`
		DataType   string `json:"dataType"`
	}
	if err := json.NewDecoder(r.Body).Decode(&writeRequest); err != nil {
		sendJSONResponse(w, NodeResponse{Error: fmt.Sprintf("Failed to parse request: %v", err)})
		return
	}
	if writeRequest.Namespace == "" || writeRequest.Type == "" || writeRequest.Identifier == "" {
		sendJSONResponse(w, NodeResponse{Error: "Missing required fields: namespace, type, and identifier are required"})
		return
	}
	if writeRequest.DataType == "" {
		sendJSONResponse(w, NodeResponse{Error: "Data type is required for writing values"})
		return
	}

	nodeIDStr := fmt.Sprintf("ns=%s;%s=%s", writeRequest.Namespace, writeRequest.Type, writeRequest.Identifier)
	id, err := parseUANodeID(nodeIDStr)
	if err != nil {
		sendJSONResponse(w, NodeResponse{NodeID: nodeIDStr, Error: err.Error()})
		return
	}

	variant, err := nodeVariant(writeRequest.Value, writeRequest.DataType)
	if err != nil {
		sendJSONResponse(w, NodeResponse{NodeID: nodeIDStr, Error: err.Error()})
		return
	}

	client := currentClient()
	if client == nil {
		sendJSONResponse(w, NodeResponse{NodeID: nodeIDStr, Error: errNotConnected.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	if err := writeNode(ctx, client, id, variant); err != nil {
		sendJSONResponse(w, NodeResponse{NodeID: nodeIDStr, Error: err.Error()})
		return
	}
	log.WithFields(logrus.Fields{"node": nodeIDStr, "value": writeRequest.Value}).Info("Wrote node")
	sendJSONResponse(w, NodeResponse{NodeID: nodeIDStr, Value: writeRequest.Value})
}

func handleBrowseRequest(w http.ResponseWriter, r *http.Request) {
	nodeIDStr := r.URL.Query().Get("nodeid")
	if nodeIDStr == "" {
		nodeIDStr = "i=84" // Objects folder
	}
	nodeIDStr = strings.Replace(nodeIDStr, ",", ";", 1)

	maxDepth := 10
	if depth, err := strconv.Atoi(r.URL.Query().Get("maxdepth")); err == nil {
		maxDepth = depth
	}

	client := currentClient()
	if client == nil {
		http.Error(w, errNotConnected.Error(), http.StatusServiceUnavailable)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	nodes, err := doBrowse(ctx, client, nodeIDStr, maxDepth)
	if err != nil {
		sendJSONResponse(w, map[string]interface{}{"error": fmt.Sprintf("Browse failed: %v", err)})
		return
	}

	result := make([]browseEntry, len(nodes))
	for i, node := range nodes {
		result[i] = node.entry()
	}
	sendJSONResponse(w, map[string]interface{}{"nodes": result})
}

func sendJSONResponse(w http.ResponseWriter, response interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.WithError(err).Error("Could not write response")
	}
}
