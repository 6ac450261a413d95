package hub

import (
	"encoding/json"
	"errors"
	"log"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-multierror"
	"github.com/listinvest/stash/store"
)

// Methods a requester window may invoke. Anything else is treated as a
// foreign request and dropped without a response.
const (
	MethodGet = "get"
	MethodSet = "set"
	MethodDel = "del"
)

// ReadyMessage is the literal frame sent to a newly connected window,
// regardless of its origin, so the embedding page can detect that the
// hub is live.
const ReadyMessage = "ready"

// Config represents the app configuration.
type Config struct {
	Address string `koanf:"address"`
	RootURL string `koanf:"root_url"`

	Name              string        `koanf:"name"`
	OriginPattern     string        `koanf:"origin_pattern"`
	WSTimeout         time.Duration `koanf:"websocket_timeout"`
	MaxMessageLen     int           `koanf:"-"`
	MaxMessageQueue   int           `koanf:"max_message_queue"`
	RateLimitInterval time.Duration `koanf:"rate_limit_interval"`
	RateLimitMessages int           `koanf:"rate_limit_messages"`
	Storage           string        `koanf:"storage"`
}

// Request is a single storage call from a requester window. ID is an
// opaque correlation token chosen by the requester and echoed back
// verbatim.
type Request struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// Response carries the outcome of a Request back to its window. Result
// is set for get calls (possibly the JSON literal null) and omitted for
// set and del.
type Response struct {
	ID     string          `json:"id"`
	Error  string          `json:"error,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
}

type setParams struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
	TTL   json.RawMessage `json:"ttl"`
}

type keysParams struct {
	Keys []string `json:"keys"`
}

var (
	errBadTTL    = errors.New("ttl must be a number")
	errBadParams = errors.New("invalid params")

	jsonNull = json.RawMessage("null")
)

// Hub owns the persistent store and answers storage requests from
// requester windows on other origins.
type Hub struct {
	cfg    *Config
	origin *regexp.Regexp
	store  store.Store

	log *log.Logger
	now func() time.Time
}

// NewHub returns a new instance of Hub. The origin pattern is compiled
// once here and never changes for the lifetime of the hub.
func NewHub(cfg *Config, st store.Store, l *log.Logger) (*Hub, error) {
	if cfg.OriginPattern == "" {
		return nil, errors.New("app.origin_pattern is empty")
	}
	origin, err := regexp.Compile(cfg.OriginPattern)
	if err != nil {
		return nil, err
	}
	if cfg.MaxMessageQueue < 1 {
		cfg.MaxMessageQueue = 100
	}
	return &Hub{
		cfg:    cfg,
		origin: origin,
		store:  st,
		log:    l,
		now:    time.Now,
	}, nil
}

// ConnectPeer attaches a requester window to the hub given a WS
// connection from an HTTP handler and the origin captured at the
// handshake. The ready frame goes out to any origin.
func (h *Hub) ConnectPeer(origin string, ws *websocket.Conn) *Peer {
	p := newPeer(origin, ws, h)
	p.SendData([]byte(ReadyMessage))
	go p.RunListener()
	go p.RunWriter()
	return p
}

// HandleMessage runs one inbound frame through the relay state machine:
// origin check, decode, method dispatch, response. The returned flag is
// false when the message is dropped silently (unauthorized origin or
// unknown method).
func (h *Hub) HandleMessage(origin string, data []byte) ([]byte, bool) {
	if !h.origin.MatchString(origin) {
		return nil, false
	}

	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		// The origin is already validated at this point, so a garbled
		// payload gets an error response rather than a silent drop.
		return h.encode(Response{Error: "invalid request payload"})
	}

	var (
		result json.RawMessage
		err    error
	)
	switch req.Method {
	case MethodGet:
		result, err = h.get(req.Params)
	case MethodSet:
		err = h.set(req.Params)
	case MethodDel:
		err = h.del(req.Params)
	default:
		return nil, false
	}

	res := Response{ID: req.ID, Result: result}
	if err != nil {
		res.Error = err.Error()
		res.Result = nil
	}
	return h.encode(res)
}

// set writes a value under a key, unconditionally overwriting any
// existing entry. A positive integer ttl (milliseconds) sets an expiry.
func (h *Hub) set(params json.RawMessage) error {
	var p setParams
	if err := json.Unmarshal(params, &p); err != nil {
		return errBadParams
	}

	ttl, err := parseTTL(p.TTL)
	if err != nil {
		return err
	}

	item := store.Item{Value: p.Value}
	if ttl > 0 {
		item.Expire = h.nowMs() + ttl
	}

	b, err := json.Marshal(item)
	if err != nil {
		return err
	}
	return h.store.Set(p.Key, b)
}

// get reads the listed keys in order. Missing and expired keys yield
// null; expired entries are deleted on read. A single-key request
// returns the bare element instead of a one-element list. Existing
// requester libraries depend on that shape.
func (h *Hub) get(params json.RawMessage) (json.RawMessage, error) {
	var p keysParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, errBadParams
	}

	now := h.nowMs()
	out := make([]json.RawMessage, 0, len(p.Keys))
	for _, key := range p.Keys {
		b, err := h.store.Get(key)
		if err == store.ErrKeyNotFound {
			out = append(out, jsonNull)
			continue
		}
		if err != nil {
			return nil, err
		}

		var item store.Item
		if err := json.Unmarshal(b, &item); err != nil {
			return nil, err
		}
		if item.Expired(now) {
			if err := h.store.Delete(key); err != nil {
				h.log.Printf("error deleting expired key %q: %v", key, err)
			}
			out = append(out, jsonNull)
			continue
		}

		v := item.Value
		if len(v) == 0 {
			v = jsonNull
		}
		out = append(out, v)
	}

	if len(p.Keys) == 1 {
		return out[0], nil
	}
	return json.Marshal(out)
}

// del removes the listed keys. Deletion is best effort per key: backend
// failures are logged and never reported to the requester, and deleting
// an absent key is not an error.
func (h *Hub) del(params json.RawMessage) error {
	var p keysParams
	if err := json.Unmarshal(params, &p); err != nil {
		return errBadParams
	}

	var errs *multierror.Error
	for _, key := range p.Keys {
		if err := h.store.Delete(key); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	if err := errs.ErrorOrNil(); err != nil {
		h.log.Printf("error deleting keys: %v", err)
	}
	return nil
}

// encode marshals a response frame.
func (h *Hub) encode(res Response) ([]byte, bool) {
	b, err := json.Marshal(res)
	if err != nil {
		h.log.Printf("error marshalling response: %v", err)
		return nil, false
	}
	return b, true
}

// nowMs is the hub's wall clock in epoch milliseconds.
func (h *Hub) nowMs() int64 {
	return h.now().UnixNano() / int64(time.Millisecond)
}

// parseTTL decodes the raw ttl field. Absent and null mean no expiry.
// Anything that is not a JSON integer (numeric strings and floats
// included) is rejected.
func parseTTL(raw json.RawMessage) (int64, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return 0, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, errBadTTL
	}
	return n, nil
}
