// Package generichttp defines the payloads, route tables, and handler
// generators used to wrap devices in an HTTP interface
package generichttp

import (
	"errors"
	"fmt"
	"go/types"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/go-chi/chi"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// FloatT is a struct with a single float64 field F64 (json: f64)
type FloatT struct {
	F64 float64 `json:"f64"`
}

// IntT is a struct with a single int field Int (json: int)
type IntT struct {
	Int int `json:"int"`
}

// StrT is a struct with a single string field Str (json: str)
type StrT struct {
	Str string `json:"str"`
}

// BoolT is a struct with a single bool field Bool (json: bool)
type BoolT struct {
	Bool bool `json:"bool"`
}

// HumanPayload is a struct which holds one of several basic types and knows
// how to encode the one indicated by T as its single-field JSON object
type HumanPayload struct {
	T      types.BasicKind
	Float  float64
	Int    int
	String string
	Bool   bool
}

// EncodeAndRespond writes the payload as JSON, e.g. {"f64": 1.5}
func (hp HumanPayload) EncodeAndRespond(w http.ResponseWriter, r *http.Request) {
	var v interface{}
	switch hp.T {
	case types.Float64, types.Float32:
		v = FloatT{F64: hp.Float}
	case types.Int, types.Int64, types.Int32, types.Uint, types.Uint16:
		v = IntT{Int: hp.Int}
	case types.String:
		v = StrT{Str: hp.String}
	case types.Bool:
		v = BoolT{Bool: hp.Bool}
	default:
		http.Error(w, fmt.Sprintf("payload kind %v not encodable", hp.T), http.StatusInternalServerError)
		return
	}
	EncodeJSON(w, v)
}

// EncodeJSON writes v as JSON with status OK
func EncodeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// MethodPath is a struct containing an HTTP method and a path
type MethodPath struct {
	Method string
	Path   string
}

// RouteTable maps method-path pairs to handlers
type RouteTable map[MethodPath]http.HandlerFunc

// Endpoints returns the routes in the table as "METHOD /path", sorted
func (rt RouteTable) Endpoints() []string {
	routes := make([]string, 0, len(rt))
	for k := range rt {
		routes = append(routes, k.Method+" "+k.Path)
	}
	sort.Strings(routes)
	return routes
}

// Bind adds every route in the table to r, plus GET /endpoints listing them
func (rt RouteTable) Bind(r chi.Router) {
	for mp, hndl := range rt {
		r.MethodFunc(mp.Method, mp.Path, hndl)
	}
	r.Get("/endpoints", func(w http.ResponseWriter, req *http.Request) {
		EncodeJSON(w, rt.Endpoints())
	})
}

// HTTPer is a type which can return a RouteTable
type HTTPer interface {
	RT() RouteTable
}

// SubMuxSanitize converts an endpoint such as "omc/nkt" to "/omc/nkt",
// the form chi's Mount expects
func SubMuxSanitize(str string) string {
	str = strings.Trim(str, "/*")
	return "/" + str
}

var (
	statusMu sync.RWMutex
	statuses []statusEntry
)

type statusEntry struct {
	target error
	code   int
}

// RegisterStatus makes Error reply with code for any error which is, or
// wraps, target
func RegisterStatus(target error, code int) {
	statusMu.Lock()
	defer statusMu.Unlock()
	for i := range statuses {
		if statuses[i].target == target {
			statuses[i].code = code
			return
		}
	}
	statuses = append(statuses, statusEntry{target, code})
}

// StatusFor returns the HTTP status registered for err, or 500
func StatusFor(err error) int {
	statusMu.RLock()
	defer statusMu.RUnlock()
	for _, s := range statuses {
		if errors.Is(err, s.target) {
			return s.code
		}
	}
	return http.StatusInternalServerError
}

// Error replies with err's message and the status registered for it
func Error(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), StatusFor(err))
}

// GetFloat calls a float-getting function and returns the response
// as json {'f64': value}
func GetFloat(fcn func() (float64, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, err := fcn()
		if err != nil {
			Error(w, err)
			return
		}
		hp := HumanPayload{T: types.Float64, Float: f}
		hp.EncodeAndRespond(w, r)
	}
}

// SetFloat parses a JSON input of {'f64': value} and
// calls fcn with it
func SetFloat(fcn func(float64) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f := FloatT{}
		err := json.NewDecoder(r.Body).Decode(&f)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		err = fcn(f.F64)
		if err != nil {
			Error(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// GetInt calls an int-getting function and returns the response
// as json {'int': value}
func GetInt(fcn func() (int, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		i, err := fcn()
		if err != nil {
			Error(w, err)
			return
		}
		hp := HumanPayload{T: types.Int, Int: i}
		hp.EncodeAndRespond(w, r)
	}
}

// SetInt parses a JSON input of {'int': value} and
// calls fcn with it
func SetInt(fcn func(int) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f := IntT{}
		err := json.NewDecoder(r.Body).Decode(&f)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		err = fcn(f.Int)
		if err != nil {
			Error(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// GetString calls a string-getting function and returns the response
// as json {'str': value}
func GetString(fcn func() (string, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := fcn()
		if err != nil {
			Error(w, err)
			return
		}
		hp := HumanPayload{T: types.String, String: s}
		hp.EncodeAndRespond(w, r)
	}
}

// SetString parses a JSON input of {'str': value} and
// calls fcn with it
func SetString(fcn func(string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s := StrT{}
		err := json.NewDecoder(r.Body).Decode(&s)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		err = fcn(s.Str)
		if err != nil {
			Error(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// GetBool calls a bool-getting function and returns the response
// as json {'bool': value}
func GetBool(fcn func() (bool, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, err := fcn()
		if err != nil {
			Error(w, err)
			return
		}
		hp := HumanPayload{T: types.Bool, Bool: b}
		hp.EncodeAndRespond(w, r)
	}
}

// SetBool parses a JSON input of {'bool': value} and
// calls fcn with it
func SetBool(fcn func(bool) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b := BoolT{}
		err := json.NewDecoder(r.Body).Decode(&b)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		err = fcn(b.Bool)
		if err != nil {
			Error(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// Do calls fcn on any request, replying 200 on success
func Do(fcn func() error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := fcn(); err != nil {
			Error(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}
