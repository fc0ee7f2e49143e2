package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gopcua/opcua/ua"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"plcreg/bitfield"
	"plcreg/regfile"
)

// wordStore reads and writes whole register words by node ID.
type wordStore interface {
	ReadWord(ctx context.Context, node string, width bitfield.Width) (uint64, error)
	WriteWord(ctx context.Context, node string, width bitfield.Width, word uint64) error
}

// opcuaStore is the wordStore backed by the service's OPC UA client.
type opcuaStore struct{}

func (opcuaStore) ReadWord(ctx context.Context, node string, width bitfield.Width) (uint64, error) {
	id, err := parseUANodeID(node)
	if err != nil {
		return 0, err
	}
	client := currentClient()
	if client == nil {
		return 0, errNotConnected
	}
	v, err := readNode(ctx, client, id)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to read %s", node)
	}
	return wordFromValue(v.Value(), width)
}

func (opcuaStore) WriteWord(ctx context.Context, node string, width bitfield.Width, word uint64) error {
	id, err := parseUANodeID(node)
	if err != nil {
		return err
	}
	variant, err := wordVariant(word, width)
	if err != nil {
		return err
	}
	client := currentClient()
	if client == nil {
		return errNotConnected
	}
	return writeNode(ctx, client, id, variant)
}

// wordVariant wraps word in the unsigned OPC UA type matching width.
func wordVariant(word uint64, width bitfield.Width) (*ua.Variant, error) {
	if word > width.Max() {
		return nil, errors.Wrapf(bitfield.ErrWordExceedsWidth, "word 0x%X for a %s register", word, width)
	}
	switch width {
	case bitfield.Width8:
		return ua.NewVariant(uint8(word))
	case bitfield.Width16:
		return ua.NewVariant(uint16(word))
	case bitfield.Width32:
		return ua.NewVariant(uint32(word))
	case bitfield.Width64:
		return ua.NewVariant(word)
	default:
		return nil, errors.Wrapf(bitfield.ErrInvalidWidth, "%d", width)
	}
}

// registerHandler serves GET and POST /api/register.
type registerHandler struct {
	file    *regfile.File
	store   wordStore
	timeout time.Duration
}

func (h *registerHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.read(w, r)
	case http.MethodPost:
		h.write(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *registerHandler) lookup(name string) (*regfile.Register, error) {
	if h.file == nil {
		return nil, errors.New("no register file loaded")
	}
	reg, ok := h.file.Lookup(name)
	if !ok {
		return nil, errors.Errorf("unknown register %q", name)
	}
	if reg.Node == "" {
		return nil, errors.Errorf("register %s has no node", name)
	}
	return reg, nil
}

func (h *registerHandler) read(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		http.Error(w, "Missing required parameter: name", http.StatusBadRequest)
		return
	}
	reg, err := h.lookup(name)
	if err != nil {
		sendJSONResponse(w, RegisterResponse{Register: name, Error: err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	word, err := h.store.ReadWord(ctx, reg.Node, reg.Schema.Width())
	if err != nil {
		sendJSONResponse(w, RegisterResponse{Register: name, Node: reg.Node, Error: err.Error()})
		return
	}
	resp, err := decodeRegister(reg, word)
	if err != nil {
		log.WithError(err).WithFields(logrus.Fields{
			"register": name,
			"word":     fmt.Sprintf("0x%X", word),
		}).Warn("Could not decode register")
		resp.Error = err.Error()
	}
	sendJSONResponse(w, resp)
}

func (h *registerHandler) write(w http.ResponseWriter, r *http.Request) {
	var req RegisterWriteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendJSONResponse(w, RegisterResponse{Error: fmt.Sprintf("Failed to parse request: %v", err)})
		return
	}
	if req.Name == "" || len(req.Values) == 0 {
		sendJSONResponse(w, RegisterResponse{Register: req.Name, Error: "Missing required fields: name and values are required"})
		return
	}
	reg, err := h.lookup(req.Name)
	if err != nil {
		sendJSONResponse(w, RegisterResponse{Register: req.Name, Error: err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	word, err := h.encode(ctx, reg, req)
	registerEncodeCount.WithLabelValues(reg.Name, resultLabel(err)).Inc()
	if err != nil {
		sendJSONResponse(w, RegisterResponse{Register: reg.Name, Node: reg.Node, Error: err.Error()})
		return
	}

	if err := h.store.WriteWord(ctx, reg.Node, reg.Schema.Width(), word); err != nil {
		sendJSONResponse(w, RegisterResponse{Register: reg.Name, Node: reg.Node, Word: word, Error: err.Error()})
		return
	}
	log.WithFields(logrus.Fields{
		"register": reg.Name,
		"word":     fmt.Sprintf("0x%X", word),
		"merge":    req.Merge,
	}).Info("Wrote register")

	resp, err := decodeRegister(reg, word)
	if err != nil {
		resp.Error = err.Error()
	}
	sendJSONResponse(w, resp)
}

// encode builds the word to write. A merge starts from the node's current
// word; otherwise every field must be given.
func (h *registerHandler) encode(ctx context.Context, reg *regfile.Register, req RegisterWriteRequest) (uint64, error) {
	values, err := regfile.ParseFields(reg.Schema, req.Values)
	if err != nil {
		return 0, err
	}
	if !req.Merge {
		return reg.Schema.Encode(values)
	}
	current, err := h.store.ReadWord(ctx, reg.Node, reg.Schema.Width())
	if err != nil {
		return 0, errors.Wrap(err, "could not read current word")
	}
	return reg.Schema.Merge(current, values)
}
