package hub

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"log"
	"testing"
	"time"

	"github.com/listinvest/stash/store"
	"github.com/listinvest/stash/store/mem"
)

const testOrigin = "https://app.example.com"

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	st, err := mem.New(mem.Config{})
	if err != nil {
		t.Fatalf("error creating store: %v", err)
	}
	h, err := NewHub(&Config{
		OriginPattern: `^https://([a-z0-9-]+\.)?example\.com$`,
	}, st, log.New(ioutil.Discard, "", 0))
	if err != nil {
		t.Fatalf("error creating hub: %v", err)
	}
	return h
}

// call runs one request through the hub and decodes the response.
func call(t *testing.T, h *Hub, origin, id, method, params string) (Response, bool) {
	t.Helper()
	msg := fmt.Sprintf(`{"id":%q,"method":%q,"params":%s}`, id, method, params)
	b, ok := h.HandleMessage(origin, []byte(msg))
	if !ok {
		return Response{}, false
	}
	var res Response
	if err := json.Unmarshal(b, &res); err != nil {
		t.Fatalf("error unmarshalling response %q: %v", b, err)
	}
	return res, true
}

func TestOriginCheck(t *testing.T) {
	h := newTestHub(t)

	tests := []struct {
		name    string
		origin  string
		respond bool
	}{
		{"exact match", "https://app.example.com", true},
		{"apex match", "https://example.com", true},
		{"scheme mismatch", "http://app.example.com", false},
		{"foreign origin", "https://evil.com", false},
		{"suffix attack", "https://example.com.evil.com", false},
		{"empty origin", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, ok := call(t, h, tt.origin, "r1", MethodGet, `{"keys":["k"]}`)
			if ok != tt.respond {
				t.Fatalf("respond = %v, want %v", ok, tt.respond)
			}
			if ok && res.ID != "r1" {
				t.Errorf("id = %q, want %q", res.ID, "r1")
			}
		})
	}
}

func TestUnknownMethodDropped(t *testing.T) {
	h := newTestHub(t)

	for _, method := range []string{"list", "GET", "Set", "delete", ""} {
		if _, ok := call(t, h, testOrigin, "r1", method, `{}`); ok {
			t.Errorf("method %q produced a response, want silent drop", method)
		}
	}
}

func TestSetGetRoundTrip(t *testing.T) {
	h := newTestHub(t)

	tests := []struct {
		name  string
		value string
	}{
		{"string", `"hello"`},
		{"int", `42`},
		{"float", `4.25`},
		{"bool", `true`},
		{"null", `null`},
		{"object", `{"a":[1,2,3],"b":{"c":"d"}}`},
		{"array", `[1,"two",null]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, ok := call(t, h, testOrigin, "w", MethodSet,
				fmt.Sprintf(`{"key":"k","value":%s}`, tt.value))
			if !ok {
				t.Fatal("set was dropped")
			}
			if res.Error != "" {
				t.Fatalf("set error = %q", res.Error)
			}
			if res.Result != nil {
				t.Fatalf("set result = %q, want none", res.Result)
			}

			res, ok = call(t, h, testOrigin, "r", MethodGet, `{"keys":["k"]}`)
			if !ok {
				t.Fatal("get was dropped")
			}
			if res.Error != "" {
				t.Fatalf("get error = %q", res.Error)
			}
			if string(res.Result) != tt.value {
				t.Errorf("get result = %s, want %s", res.Result, tt.value)
			}
		})
	}
}

func TestSetOverwrites(t *testing.T) {
	h := newTestHub(t)

	call(t, h, testOrigin, "w1", MethodSet, `{"key":"k","value":1}`)
	call(t, h, testOrigin, "w2", MethodSet, `{"key":"k","value":2}`)

	res, _ := call(t, h, testOrigin, "r", MethodGet, `{"keys":["k"]}`)
	if string(res.Result) != "2" {
		t.Errorf("result = %s, want 2", res.Result)
	}
}

func TestInvalidTTL(t *testing.T) {
	h := newTestHub(t)

	tests := []struct {
		name string
		ttl  string
	}{
		{"numeric string", `"100"`},
		{"word", `"abc"`},
		{"float", `1.5`},
		{"bool", `true`},
		{"object", `{}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, ok := call(t, h, testOrigin, "w", MethodSet,
				fmt.Sprintf(`{"key":"k","value":1,"ttl":%s}`, tt.ttl))
			if !ok {
				t.Fatal("set was dropped")
			}
			if res.Error != "ttl must be a number" {
				t.Errorf("error = %q, want %q", res.Error, "ttl must be a number")
			}
			if res.Result != nil {
				t.Errorf("result = %q, want none", res.Result)
			}
		})
	}
}

func TestNonPositiveTTLMeansNoExpiry(t *testing.T) {
	h := newTestHub(t)

	for _, ttl := range []string{"0", "-5", "null"} {
		res, _ := call(t, h, testOrigin, "w", MethodSet,
			fmt.Sprintf(`{"key":"k","value":"v","ttl":%s}`, ttl))
		if res.Error != "" {
			t.Fatalf("ttl %s: error = %q", ttl, res.Error)
		}
	}

	// Far future reads still see the value.
	h.now = func() time.Time { return time.Now().Add(1000 * time.Hour) }
	res, _ := call(t, h, testOrigin, "r", MethodGet, `{"keys":["k"]}`)
	if string(res.Result) != `"v"` {
		t.Errorf("result = %s, want %q", res.Result, `"v"`)
	}
}

func TestTTLExpiry(t *testing.T) {
	h := newTestHub(t)

	epoch := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	h.now = func() time.Time { return epoch }

	res, _ := call(t, h, testOrigin, "w", MethodSet, `{"key":"k","value":"v","ttl":100}`)
	if res.Error != "" {
		t.Fatalf("set error = %q", res.Error)
	}

	// Still alive up to and including the expiry instant.
	h.now = func() time.Time { return epoch.Add(100 * time.Millisecond) }
	res, _ = call(t, h, testOrigin, "r1", MethodGet, `{"keys":["k"]}`)
	if string(res.Result) != `"v"` {
		t.Fatalf("result before expiry = %s, want %q", res.Result, `"v"`)
	}

	// Strictly past the expiry: null, and the key is gone from the
	// backend (lazy deletion).
	h.now = func() time.Time { return epoch.Add(101 * time.Millisecond) }
	res, _ = call(t, h, testOrigin, "r2", MethodGet, `{"keys":["k"]}`)
	if string(res.Result) != "null" {
		t.Fatalf("result after expiry = %s, want null", res.Result)
	}
	if _, err := h.store.Get("k"); err != store.ErrKeyNotFound {
		t.Errorf("backend get after expiry = %v, want ErrKeyNotFound", err)
	}
}

func TestResultShaping(t *testing.T) {
	h := newTestHub(t)

	call(t, h, testOrigin, "w", MethodSet, `{"key":"a","value":"va"}`)

	tests := []struct {
		name   string
		keys   string
		result string
	}{
		{"single present", `["a"]`, `"va"`},
		{"single missing", `["nope"]`, `null`},
		{"two keys", `["a","nope"]`, `["va",null]`},
		{"order preserved", `["nope","a"]`, `[null,"va"]`},
		{"no keys", `[]`, `[]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, ok := call(t, h, testOrigin, "r", MethodGet,
				fmt.Sprintf(`{"keys":%s}`, tt.keys))
			if !ok {
				t.Fatal("get was dropped")
			}
			if res.Error != "" {
				t.Fatalf("error = %q", res.Error)
			}
			if string(res.Result) != tt.result {
				t.Errorf("result = %s, want %s", res.Result, tt.result)
			}
		})
	}
}

func TestDelIdempotent(t *testing.T) {
	h := newTestHub(t)

	call(t, h, testOrigin, "w", MethodSet, `{"key":"k","value":1}`)

	for i := 0; i < 3; i++ {
		res, ok := call(t, h, testOrigin, "d", MethodDel, `{"keys":["k","absent"]}`)
		if !ok {
			t.Fatal("del was dropped")
		}
		if res.Error != "" {
			t.Fatalf("del #%d error = %q", i, res.Error)
		}
		if res.Result != nil {
			t.Fatalf("del #%d result = %q, want none", i, res.Result)
		}
	}

	res, _ := call(t, h, testOrigin, "r", MethodGet, `{"keys":["k"]}`)
	if string(res.Result) != "null" {
		t.Errorf("get after del = %s, want null", res.Result)
	}
}

func TestCorrelationIDs(t *testing.T) {
	h := newTestHub(t)

	call(t, h, testOrigin, "w", MethodSet, `{"key":"a","value":"one"}`)
	call(t, h, testOrigin, "w", MethodSet, `{"key":"b","value":"two"}`)

	resA, _ := call(t, h, testOrigin, "id-a", MethodGet, `{"keys":["a"]}`)
	resB, _ := call(t, h, testOrigin, "id-b", MethodGet, `{"keys":["b"]}`)

	if resA.ID != "id-a" || string(resA.Result) != `"one"` {
		t.Errorf("response a = {%q %s}", resA.ID, resA.Result)
	}
	if resB.ID != "id-b" || string(resB.Result) != `"two"` {
		t.Errorf("response b = {%q %s}", resB.ID, resB.Result)
	}
}

func TestMalformedPayload(t *testing.T) {
	h := newTestHub(t)

	b, ok := h.HandleMessage(testOrigin, []byte("{not json"))
	if !ok {
		t.Fatal("malformed payload was dropped, want an error response")
	}
	var res Response
	if err := json.Unmarshal(b, &res); err != nil {
		t.Fatalf("error unmarshalling response: %v", err)
	}
	if res.Error != "invalid request payload" {
		t.Errorf("error = %q, want %q", res.Error, "invalid request payload")
	}
	if res.ID != "" || res.Result != nil {
		t.Errorf("response = %+v, want empty id and no result", res)
	}

	// From a bad origin the same payload stays silent.
	if _, ok := h.HandleMessage("https://evil.com", []byte("{not json")); ok {
		t.Error("malformed payload from a foreign origin produced a response")
	}
}

func TestMalformedParams(t *testing.T) {
	h := newTestHub(t)

	for _, method := range []string{MethodGet, MethodSet, MethodDel} {
		res, ok := call(t, h, testOrigin, "r", method, `"not an object"`)
		if !ok {
			t.Fatalf("%s with bad params was dropped", method)
		}
		if res.Error != "invalid params" {
			t.Errorf("%s error = %q, want %q", method, res.Error, "invalid params")
		}
	}
}

func TestNewHubBadPattern(t *testing.T) {
	st, _ := mem.New(mem.Config{})
	l := log.New(ioutil.Discard, "", 0)

	if _, err := NewHub(&Config{OriginPattern: "("}, st, l); err == nil {
		t.Error("expected error for unparseable pattern")
	}
	if _, err := NewHub(&Config{}, st, l); err == nil {
		t.Error("expected error for empty pattern")
	}
}

func TestParseTTL(t *testing.T) {
	tests := []struct {
		in   string
		want int64
		err  bool
	}{
		{"", 0, false},
		{"null", 0, false},
		{"100", 100, false},
		{"-5", -5, false},
		{"1.5", 0, true},
		{`"100"`, 0, true},
		{"1e3", 0, true},
	}

	for _, tt := range tests {
		got, err := parseTTL(json.RawMessage(tt.in))
		if (err != nil) != tt.err {
			t.Errorf("parseTTL(%q) err = %v, want err = %v", tt.in, err, tt.err)
			continue
		}
		if got != tt.want {
			t.Errorf("parseTTL(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
