package main

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/gopcua/opcua"
	"github.com/gopcua/opcua/id"
	"github.com/gopcua/opcua/ua"
	"github.com/pkg/errors"
)

// NodeInfo represents discovered node information
type NodeInfo struct {
	NodeID      *ua.NodeID
	NodeClass   ua.NodeClass
	BrowseName  string
	Description string
	AccessLevel ua.AccessLevelType
	Path        string
	DataType    string
	Writable    bool
}

// browseEntry is the JSON form of a NodeInfo on /api/browse.
type browseEntry struct {
	NodeID      string `json:"nodeId"`
	BrowseName  string `json:"browseName"`
	Path        string `json:"path"`
	DataType    string `json:"dataType"`
	Writable    bool   `json:"writable"`
	Description string `json:"description"`
}

func (n NodeInfo) entry() browseEntry {
	return browseEntry{
		NodeID:      n.NodeID.String(),
		BrowseName:  n.BrowseName,
		Path:        n.Path,
		DataType:    n.DataType,
		Writable:    n.Writable,
		Description: n.Description,
	}
}

// browseNode lists variables below startNodeID through the service and
// prints them as a table or as line protocol.
func browseNode(out io.Writer, startNodeID string, maxDepth int, port int, format string) error {
	path := fmt.Sprintf("/api/browse?nodeid=%s&maxdepth=%d", url.QueryEscape(startNodeID), maxDepth)
	var browseResp struct {
		Nodes []browseEntry `json:"nodes"`
		Error string        `json:"error,omitempty"`
	}
	if err := callService(port, path, nil, 120*time.Second, &browseResp); err != nil {
		return err
	}
	if browseResp.Error != "" {
		return errors.Errorf("service reported error: %s", browseResp.Error)
	}

	if format == "influx" {
		writeBrowseInflux(out, browseResp.Nodes, connectionEndpoint(port), time.Now().UnixNano())
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "Path\tNodeID\tDataType\tWritable\tDescription")
	fmt.Fprintln(w, "----\t------\t--------\t--------\t-----------")
	for _, node := range browseResp.Nodes {
		fmt.Fprintf(w, "%s\t%s\t%s\t%v\t%s\n",
			node.Path,
			node.NodeID,
			node.DataType,
			node.Writable,
			strings.ReplaceAll(node.Description, "\n", " "))
	}
	return w.Flush()
}

var (
	browsePathCleaner = strings.NewReplacer(" ", "_", ".", "_")
	browseIDCleaner   = strings.NewReplacer(";", "_", "=", "", ",", "_")
)

func writeBrowseInflux(out io.Writer, nodes []browseEntry, endpoint string, timestamp int64) {
	endpointTag := tagEscaper.Replace(endpoint)
	for _, node := range nodes {
		fmt.Fprintf(out, "opcua_node,node_id=%s,path=%s,data_type=%s,endpoint=%s writable=%v,description=\"%s\" %d\n",
			browseIDCleaner.Replace(node.NodeID),
			browsePathCleaner.Replace(node.Path),
			node.DataType,
			endpointTag,
			node.Writable,
			strings.ReplaceAll(node.Description, "\"", "\\\""),
			timestamp)
	}
}

// doBrowse walks the address space below startNodeID on the service side.
func doBrowse(ctx context.Context, client *opcua.Client, startNodeID string, maxDepth int) ([]NodeInfo, error) {
	nodeID, err := ua.ParseNodeID(startNodeID)
	if err != nil {
		return nil, errors.Wrap(err, "invalid node id")
	}
	defer timeOPCUA("browse")()
	return browseRecursive(ctx, client.Node(nodeID), "", 0, maxDepth)
}

func browseRecursive(ctx context.Context, n *opcua.Node, path string, level, maxDepth int) ([]NodeInfo, error) {
	if level > maxDepth {
		return nil, nil
	}

	attrs, err := n.Attributes(ctx,
		ua.AttributeIDNodeClass,
		ua.AttributeIDBrowseName,
		ua.AttributeIDDescription,
		ua.AttributeIDAccessLevel,
		ua.AttributeIDDataType)
	if err != nil {
		return nil, err
	}

	info := NodeInfo{NodeID: n.ID}
	if attrs[0].Status == ua.StatusOK {
		info.NodeClass = ua.NodeClass(attrs[0].Value.Int())
	}
	if attrs[1].Status == ua.StatusOK {
		info.BrowseName = attrs[1].Value.String()
	}
	if attrs[2].Status == ua.StatusOK {
		info.Description = attrs[2].Value.String()
	}
	if attrs[3].Status == ua.StatusOK {
		info.AccessLevel = ua.AccessLevelType(attrs[3].Value.Int())
		info.Writable = info.AccessLevel&ua.AccessLevelTypeCurrentWrite == ua.AccessLevelTypeCurrentWrite
	}
	if attrs[4].Status == ua.StatusOK {
		info.DataType = dataTypeName(attrs[4].Value.NodeID())
	}
	info.Path = joinPath(path, info.BrowseName)

	var nodes []NodeInfo
	if info.NodeClass == ua.NodeClassVariable {
		nodes = append(nodes, info)
	}

	for _, refType := range []uint32{id.HasComponent, id.Organizes, id.HasProperty} {
		refs, err := n.ReferencedNodes(ctx, refType, ua.BrowseDirectionForward, ua.NodeClassAll, true)
		if err != nil {
			return nil, errors.Wrap(err, "references lookup error")
		}
		for _, rn := range refs {
			children, err := browseRecursive(ctx, rn, info.Path, level+1, maxDepth)
			if err != nil {
				return nil, errors.Wrap(err, "browse children error")
			}
			nodes = append(nodes, children...)
		}
	}
	return nodes, nil
}

// dataTypeName maps well-known data type nodes to Go type names.
func dataTypeName(dt *ua.NodeID) string {
	if dt == nil {
		return ""
	}
	if dt.Namespace() != 0 {
		return dt.String()
	}
	switch dt.IntID() {
	case id.DateTime, id.UtcTime:
		return "time.Time"
	case id.Boolean:
		return "bool"
	case id.SByte:
		return "int8"
	case id.Int16:
		return "int16"
	case id.Int32:
		return "int32"
	case id.Int64:
		return "int64"
	case id.Byte:
		return "byte"
	case id.UInt16:
		return "uint16"
	case id.UInt32:
		return "uint32"
	case id.UInt64:
		return "uint64"
	case id.String:
		return "string"
	case id.Float:
		return "float32"
	case id.Double:
		return "float64"
	default:
		return dt.String()
	}
}

// Helper to join path components
func joinPath(a, b string) string {
	if a == "" {
		return b
	}
	return a + "." + b
}
