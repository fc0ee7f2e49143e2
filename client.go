package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// serviceHost is where the CLI finds the background service.
var serviceHost = "localhost"

func serviceURL(port int, path string) string {
	return fmt.Sprintf("http://%s:%d%s", serviceHost, port, path)
}

// parseNodeID extracts namespace, type and identifier from an OPC UA node ID
func parseNodeID(nodeID string) (string, string, string, error) {
	// Expected formats: ns=X,Y=Z or ns=X;Y=Z
	var sep string
	switch {
	case strings.Contains(nodeID, ";"):
		sep = ";"
	case strings.Contains(nodeID, ","):
		sep = ","
	default:
		return "", "", "", errors.New("invalid node ID format. Expected format: ns=X,Y=Z or ns=X;Y=Z")
	}

	var namespace, idType, identifier string
	nsPart, idPart, _ := strings.Cut(nodeID, sep)
	if key, ns, ok := strings.Cut(nsPart, "="); ok && key == "ns" {
		namespace = ns
	}
	// The identifier itself may contain '=' or the separator.
	idType, identifier, _ = strings.Cut(idPart, "=")

	if namespace == "" || idType == "" || identifier == "" {
		return "", "", "", errors.New("invalid node ID format. Expected format: ns=X,Y=Z or ns=X;Y=Z where Y is 'i' or 's'")
	}
	if idType != "i" && idType != "s" {
		return "", "", "", errors.Errorf("unsupported identifier type '%s'. Only 'i' (numeric) and 's' (string) are supported", idType)
	}
	return namespace, idType, identifier, nil
}

// formatInfluxOutput converts a value to InfluxDB Line Protocol format
func formatInfluxOutput(measurementName, nodeID string, value interface{}, endpoint string) string {
	var valueStr string
	switch v := value.(type) {
	case string:
		// Timestamps are written as unix nanoseconds
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			valueStr = fmt.Sprintf("value=%d", t.UnixNano())
		} else {
			valueStr = fmt.Sprintf("value=1,string_value=\"%s\"", strings.ReplaceAll(v, "\"", "\\\""))
		}
	case bool:
		if v {
			valueStr = "value=1"
		} else {
			valueStr = "value=0"
		}
	case float64, float32, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		valueStr = fmt.Sprintf("value=%v", v)
	default:
		valueStr = fmt.Sprintf("value=1,string_value=\"%v\"", v)
	}

	return fmt.Sprintf("%s,node_id=%s,endpoint=%s %s %d",
		measurementName,
		tagEscaper.Replace(nodeID),
		tagEscaper.Replace(endpoint),
		valueStr,
		time.Now().UnixNano())
}

// callService sends a request to the service on port and decodes the JSON
// reply into out. A nil body issues a GET.
func callService(port int, path string, body interface{}, timeout time.Duration, out interface{}) error {
	client := &http.Client{Timeout: timeout}

	var (
		resp *http.Response
		err  error
	)
	if body == nil {
		resp, err = client.Get(serviceURL(port, path))
	} else {
		data, merr := json.Marshal(body)
		if merr != nil {
			return errors.Wrap(merr, "failed to create request")
		}
		resp, err = client.Post(serviceURL(port, path), "application/json", bytes.NewReader(data))
	}
	if err != nil {
		return errors.Errorf("cannot connect to OPCUA service on port %d: %v (is it running?)", port, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "error reading response")
	}
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("service error: %s", strings.TrimSpace(string(data)))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errors.Wrap(err, "error parsing response")
	}
	return nil
}

func setNodeValue(nodeID string, value string, dataType string, port int, format string) (string, error) {
	namespace, idType, identifier, err := parseNodeID(nodeID)
	if err != nil {
		return "", err
	}
	if dataType == "" {
		return "", errors.New("data type is required for writing values. Use one of: " + strings.Join(writableTypes, ", "))
	}

	req := map[string]interface{}{
		"namespace":  namespace,
		"type":       idType,
		"identifier": identifier,
		"value":      value,
		"dataType":   dataType,
	}
	var nodeResp NodeResponse
	if err := callService(port, "/api/node", req, 10*time.Second, &nodeResp); err != nil {
		return "", err
	}
	if nodeResp.Error != "" {
		return "", errors.Errorf("service reported error: %s", nodeResp.Error)
	}

	if format == "influx" {
		return formatInfluxOutput("opcua_set", nodeID, value, connectionEndpoint(port)), nil
	}
	return fmt.Sprintf("Successfully set %s to %v with type %s (via port %d)", nodeID, nodeResp.Value, dataType, port), nil
}

func getNodeValues(nodeIDs []string, port int, format string, measurement string) (string, error) {
	if len(nodeIDs) == 0 {
		return "", errors.New("no node IDs provided")
	}
	endpoint := connectionEndpoint(port)

	if len(nodeIDs) == 1 {
		return getNodeValue(nodeIDs[0], port, format, endpoint, measurement)
	}

	var nodes []map[string]string
	for _, nodeID := range nodeIDs {
		namespace, idType, identifier, err := parseNodeID(nodeID)
		if err != nil {
			return "", err
		}
		nodes = append(nodes, map[string]string{
			"namespace":  namespace,
			"type":       idType,
			"identifier": identifier,
		})
	}

	var batchResp struct {
		Results []NodeResponse `json:"results"`
		Error   string         `json:"error,omitempty"`
	}
	if err := callService(port, "/api/nodes", map[string]interface{}{"nodes": nodes}, 10*time.Second, &batchResp); err != nil {
		return "", err
	}
	if batchResp.Error != "" {
		return "", errors.Errorf("service reported error: %s", batchResp.Error)
	}

	var lines []string
	for i, result := range batchResp.Results {
		switch {
		case format == "influx" && result.Error != "":
			continue
		case format == "influx":
			lines = append(lines, formatInfluxOutput(measurement, nodeIDs[i], result.Value, endpoint))
		case result.Error != "":
			lines = append(lines, fmt.Sprintf("Error: %s", result.Error))
		default:
			lines = append(lines, fmt.Sprintf("%v", result.Value))
		}
	}
	return strings.Join(lines, "\n"), nil
}

func getNodeValue(nodeID string, port int, format string, endpoint string, measurement string) (string, error) {
	namespace, idType, identifier, err := parseNodeID(nodeID)
	if err != nil {
		return "", err
	}

	path := fmt.Sprintf("/api/node?namespace=%s&type=%s&identifier=%s",
		url.QueryEscape(namespace), url.QueryEscape(idType), url.QueryEscape(identifier))
	var nodeResp NodeResponse
	if err := callService(port, path, nil, 10*time.Second, &nodeResp); err != nil {
		return "", err
	}
	if nodeResp.Error != "" {
		return "", errors.Errorf("service reported error: %s", nodeResp.Error)
	}

	if format == "influx" {
		return formatInfluxOutput(measurement, nodeID, nodeResp.Value, endpoint), nil
	}
	return fmt.Sprintf("%v", nodeResp.Value), nil
}

// readRegister reads and decodes a register through the service.
func readRegister(name string, port int, format string) (string, error) {
	var resp RegisterResponse
	if err := callService(port, "/api/register?name="+url.QueryEscape(name), nil, 10*time.Second, &resp); err != nil {
		return "", err
	}
	if resp.Error != "" {
		return "", errors.Errorf("service reported error: %s", resp.Error)
	}
	return formatRegister(format, resp, connectionEndpoint(port))
}

// writeRegister encodes "field=value" assignments on the service and writes
// the resulting word. With merge, unnamed fields keep their current bits.
func writeRegister(name string, assignments []string, merge bool, port int, format string) (string, error) {
	req := RegisterWriteRequest{Name: name, Values: make(map[string]string, len(assignments)), Merge: merge}
	for _, a := range assignments {
		field, value, ok := strings.Cut(a, "=")
		if !ok {
			return "", errors.Errorf("expected field=value, got %q", a)
		}
		req.Values[strings.TrimSpace(field)] = value
	}

	var resp RegisterResponse
	if err := callService(port, "/api/register", req, 10*time.Second, &resp); err != nil {
		return "", err
	}
	if resp.Error != "" {
		return "", errors.Errorf("service reported error: %s", resp.Error)
	}
	return formatRegister(format, resp, connectionEndpoint(port))
}

// getConnectionInfo fetches /api/info from the service on port.
func getConnectionInfo(port int) (map[string]interface{}, error) {
	var info map[string]interface{}
	if err := callService(port, "/api/info", nil, 2*time.Second, &info); err != nil {
		return nil, err
	}
	return info, nil
}

// connectionEndpoint returns the OPC UA endpoint the service on port is
// connected to, or "unknown".
func connectionEndpoint(port int) string {
	info, err := getConnectionInfo(port)
	if err != nil {
		return "unknown"
	}
	endpoint, ok := info["endpoint"].(string)
	if !ok {
		return "unknown"
	}
	return endpoint
}
